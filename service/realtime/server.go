package realtime

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/itellico/mono-sub017/global"
	"github.com/itellico/mono-sub017/logger"
	"github.com/itellico/mono-sub017/service/storage"
	"github.com/itellico/mono-sub017/tools/ids"
	"github.com/itellico/mono-sub017/tools/security"
)

// SessionVerifier resolves an opaque bearer credential to a user/tenant
// identity, or an error for invalid/expired credentials. Real credential
// logic lives behind this boundary; the core only consumes the result.
type SessionVerifier interface {
	Verify(ctx context.Context, token string) (*security.Session, error)
}

// JWTVerifier is the default SessionVerifier over HMAC-signed tokens.
type JWTVerifier struct {
	Opts security.Options
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (*security.Session, error) {
	return security.Verify(v.Opts, token)
}

// Server is the realtime core's lifecycle container. It is explicitly
// constructed and dependency-injected; there is no package-level instance.
// Shutdown releases broker subscriptions and closes every connection.
type Server struct {
	cfg      *global.AppConfig
	registry *Registry
	rooms    *RoomManager
	fanout   *Fanout
	presence *PresenceService
	pipeline *storage.Pipeline
	bridge   *Bridge
	verifier SessionVerifier
	disp     *Dispatcher
}

func NewServer(cfg *global.AppConfig, pipeline *storage.Pipeline, verifier SessionVerifier) *Server {
	cfg.Norm()
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		fanout:   NewFanout(cfg.FanoutWorkers, cfg.FanoutQueue),
		pipeline: pipeline,
		verifier: verifier,
		disp:     NewDispatcher(),
	}
	s.rooms = NewRoomManager(s.fanout)
	s.presence = NewPresenceService(pipeline, cfg.PresenceGrace, cfg.PresenceTTL)
	s.presence.SetBroadcaster(func(ctx context.Context, tenantID string, p PresencePayload) {
		s.rooms.Broadcast(ctx, TenantRoom(tenantID), ScopeTenant, EventPresenceUpdate, p)
	})

	s.bridge = NewBridge(pipeline.Store(), cfg.InstanceID, s.rooms.HandleRemote)
	s.rooms.SetBridge(s.bridge)

	s.registerHandlers()
	return s
}

func (s *Server) registerHandlers() {
	s.disp.Register(&messageSendHandler{s})
	s.disp.Register(&messageReadHandler{s})
	s.disp.Register(&bookingStatusHandler{s})
	s.disp.Register(&portfolioViewHandler{s})
	s.disp.Register(&portfolioLikeHandler{s})
	s.disp.Register(&presenceUpdateHandler{s})
	s.disp.Register(&userActivityHandler{s})
}

// Start brings up the cross-instance bridge. Local serving works without it;
// bridge trouble degrades to local-only fan-out.
func (s *Server) Start(ctx context.Context) {
	s.bridge.Start(ctx)
	logger.Infof("[realtime] instance %s started", s.cfg.InstanceID)
}

// Shutdown closes broker subscriptions, closes all live connections,
// stops presence timers and drains the fanout workers. Presence timers go
// down last: each teardown arms a grace timer, and none may survive the
// call to fire against a closed store or clobber a peer instance's state.
func (s *Server) Shutdown(ctx context.Context) {
	s.bridge.Close()

	for _, c := range s.registry.All() {
		s.teardown(ctx, c, false)
	}
	s.presence.Shutdown()
	s.fanout.Close()
	logger.Infof("[realtime] instance %s shut down", s.cfg.InstanceID)
}

func (s *Server) InstanceID() string         { return s.cfg.InstanceID }
func (s *Server) Registry() *Registry        { return s.registry }
func (s *Server) Rooms() *RoomManager        { return s.rooms }
func (s *Server) Presence() *PresenceService { return s.presence }

// register wires a freshly authenticated connection into the registry and
// its derived rooms, and announces it to the tenant.
func (s *Server) register(ctx context.Context, c *Client) {
	s.registry.Register(c)
	s.rooms.Join(UserRoom(c.UserID), c)
	s.rooms.Join(TenantRoom(c.TenantID), c)
	s.presence.HandleConnect(ctx, c.UserID, c.TenantID)

	s.rooms.Broadcast(ctx, TenantRoom(c.TenantID), ScopeTenant, EventUserConnect, map[string]any{
		"userId":   c.UserID,
		"tenantId": c.TenantID,
	})
}

// teardown is the single exit path for a connection, from transport close or
// server shutdown. announce is false during shutdown: the whole instance is
// going away, peers will notice via presence TTL lapse.
func (s *Server) teardown(ctx context.Context, c *Client, announce bool) {
	c.close()
	removed, remaining := s.registry.Unregister(c.ConnID)
	if removed == nil {
		return // already torn down
	}
	s.rooms.LeaveAll(c.ConnID)
	s.presence.HandleDisconnect(ctx, c.UserID, remaining)

	if announce {
		s.rooms.Broadcast(ctx, TenantRoom(c.TenantID), ScopeTenant, EventUserDisconnect, map[string]any{
			"userId":   c.UserID,
			"tenantId": c.TenantID,
		})
	}
}

// countEngagement applies the per-actor dedupe marker and bumps the counter
// only for the first engagement inside the window. The broker is
// at-least-once; this marker is the idempotence bound. Store failure loses
// the dedupe guarantee for the affected window and is logged, not fatal.
func (s *Server) countEngagement(ctx context.Context, subject, actor, metric string, window time.Duration) {
	newly, err := s.pipeline.MarkEngaged(ctx, subject, actor, metric, window)
	if err != nil {
		logger.Warnf("[engagement] dedupe degraded subject=%s metric=%s: %v", subject, metric, err)
		return
	}
	if !newly {
		return
	}
	if _, err := s.pipeline.IncrEngagement(ctx, subject, metric); err != nil {
		logger.Warnf("[engagement] counter degraded subject=%s metric=%s: %v", subject, metric, err)
	}
}

// ---- Programmatic API for surrounding business services ----

// SendNotification stores a notification envelope and pushes a
// notification:new event to the user's devices on every instance.
func (s *Server) SendNotification(ctx context.Context, userID string, n *storage.NotificationEnvelope) error {
	if n.NotificationID == "" {
		n.NotificationID = ids.GenerateString()
	}
	n.UserID = userID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = n.CreatedAt.Add(s.cfg.NotificationTTL)
	}

	if err := s.pipeline.SaveNotification(ctx, n); err != nil {
		logger.Warnf("[notify] persist degraded user=%s: %v", userID, err)
	}
	s.rooms.Broadcast(ctx, UserRoom(userID), ScopeUser, EventNotificationNew, n)
	return nil
}

// BroadcastToTenant fans an arbitrary event out to every member of a tenant
// across all instances.
func (s *Server) BroadcastToTenant(ctx context.Context, tenantID, event string, payload any) {
	s.rooms.Broadcast(ctx, TenantRoom(tenantID), ScopeTenant, event, payload)
}

// PublishBookingStatus performs the two independent fan-outs of a booking
// transition: the direct party's user room and the tenant oversight room.
// No ordering holds between the two.
func (s *Server) PublishBookingStatus(ctx context.Context, tenantID string, p *BookingStatusPayload) {
	out := map[string]any{
		"bookingId": p.BookingID,
		"clientId":  p.ClientID,
		"status":    p.Status,
		"tenantId":  tenantID,
	}
	s.rooms.Broadcast(ctx, UserRoom(p.ClientID), ScopeUser, EventBookingStatus, out)
	s.rooms.Broadcast(ctx, TenantRoom(tenantID), ScopeTenant, EventBookingStatus, out)
}

// GetConnectedUsers lists users with at least one live local connection.
func (s *Server) GetConnectedUsers() []ConnectedUser {
	return s.registry.ConnectedUsers()
}

// GetUserPresence returns the stored presence record, or nil when the user
// has lapsed to implicit offline.
func (s *Server) GetUserPresence(ctx context.Context, userID string) (*storage.PresenceRecord, error) {
	rec, err := s.presence.Get(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// GetEngagementStats returns view/like counters for a subject.
func (s *Server) GetEngagementStats(ctx context.Context, subjectID string) (*storage.EngagementStats, error) {
	return s.pipeline.GetEngagementStats(ctx, subjectID)
}
