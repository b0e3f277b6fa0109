package natsx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/itellico/mono-sub017/logger"
	"github.com/itellico/mono-sub017/service/realtime"
	"github.com/itellico/mono-sub017/service/storage"
)

// Subjects surrounding business services publish on. The realtime core is a
// consumer only; it never publishes back to the platform bus.
const (
	SubjectBookingStatus = "platform.booking.status"
	SubjectNotify        = "platform.notify"

	queueGroup = "realtime-core"
)

// Config for the ingest connection.
type Config struct {
	Servers       string // comma-separated
	Name          string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

func (c *Config) norm() {
	if c.Name == "" {
		c.Name = "realtime-ingest"
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
}

// BookingStatusEvent is the bus shape for booking transitions emitted by the
// bookings service.
type BookingStatusEvent struct {
	TenantID  string `json:"tenantId"`
	BookingID string `json:"bookingId"`
	ClientID  string `json:"clientId"`
	Status    string `json:"status"`
}

// NotifyEvent is the bus shape for user notifications emitted by any
// surrounding service.
type NotifyEvent struct {
	UserID  string `json:"userId"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Ingestor relays platform bus events into the realtime core.
type Ingestor struct {
	nc   *nats.Conn
	subs []*nats.Subscription
	srv  *realtime.Server
}

func NewIngestor(cfg Config, srv *realtime.Server) (*Ingestor, error) {
	cfg.norm()
	if cfg.Servers == "" {
		return nil, errors.New("nats servers missing")
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[ingest] nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("[ingest] nats reconnected: %s", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(cfg.Servers, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	return &Ingestor{nc: nc, srv: srv}, nil
}

// Start subscribes the platform subjects. Queue groups spread the load when
// several realtime instances run; fan-out to all instances happens through
// the core's own bridge, not through NATS.
func (i *Ingestor) Start() error {
	sub, err := i.nc.QueueSubscribe(SubjectBookingStatus, queueGroup, i.handleBooking)
	if err != nil {
		return errors.Wrap(err, "subscribe booking status")
	}
	i.subs = append(i.subs, sub)

	sub, err = i.nc.QueueSubscribe(SubjectNotify, queueGroup, i.handleNotify)
	if err != nil {
		return errors.Wrap(err, "subscribe notify")
	}
	i.subs = append(i.subs, sub)

	logger.Infof("[ingest] subscribed %s, %s", SubjectBookingStatus, SubjectNotify)
	return nil
}

func (i *Ingestor) handleBooking(msg *nats.Msg) {
	var evt BookingStatusEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		logger.Warnf("[ingest] drop malformed booking event: %v", err)
		return
	}
	if evt.TenantID == "" || evt.BookingID == "" || evt.ClientID == "" {
		logger.Warnf("[ingest] drop incomplete booking event")
		return
	}
	i.srv.PublishBookingStatus(context.Background(), evt.TenantID, &realtime.BookingStatusPayload{
		BookingID: evt.BookingID,
		ClientID:  evt.ClientID,
		Status:    evt.Status,
	})
}

func (i *Ingestor) handleNotify(msg *nats.Msg) {
	var evt NotifyEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		logger.Warnf("[ingest] drop malformed notify event: %v", err)
		return
	}
	if evt.UserID == "" {
		logger.Warnf("[ingest] drop notify event without userId")
		return
	}
	_ = i.srv.SendNotification(context.Background(), evt.UserID, &storage.NotificationEnvelope{
		Type:    evt.Type,
		Title:   evt.Title,
		Content: evt.Content,
	})
}

// Close drains subscriptions and the connection.
func (i *Ingestor) Close() error {
	for _, sub := range i.subs {
		_ = sub.Drain()
	}
	if i.nc != nil {
		return i.nc.Drain()
	}
	return nil
}
