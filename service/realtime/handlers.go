package realtime

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/itellico/mono-sub017/logger"
	"github.com/itellico/mono-sub017/service/storage"
	"github.com/itellico/mono-sub017/tools/decode"
	"github.com/itellico/mono-sub017/tools/errs"
	"github.com/itellico/mono-sub017/tools/ids"
)

// decodePayload types a raw payload map into its event variant and
// validates it. Any failure maps to a wire-visible validation error.
func decodePayload[T interface{ Validate() error }](payload map[string]any) (*T, error) {
	p, err := decode.Map[T](payload)
	if err != nil {
		return nil, errs.ErrInvalidPayload.WithDetail(err.Error())
	}
	if err := (*p).Validate(); err != nil {
		return nil, errs.ErrInvalidPayload.WithDetail(err.Error())
	}
	return p, nil
}

// ---- message:send ----

type messageSendHandler struct{ s *Server }

func (h *messageSendHandler) Event() string { return EventMessageSend }

// MessageDelivery is the outbound shape for message:received /
// message:sent events.
type MessageDelivery struct {
	MessageID   string    `json:"messageId"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content,omitempty"`
	Type        string    `json:"type,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (h *messageSendHandler) Handle(ctx context.Context, c *Client, payload map[string]any) error {
	p, err := decodePayload[MessageSendPayload](payload)
	if err != nil {
		return err
	}

	now := time.Now()
	env := &storage.MessageEnvelope{
		MessageID:   ids.GenerateString(),
		SenderID:    c.UserID,
		RecipientID: p.RecipientID,
		Content:     p.Content,
		Type:        p.Type,
		CreatedAt:   now,
		ExpiresAt:   now.Add(h.s.cfg.MessageTTL),
	}

	// Persist first so an offline recipient can still pull the envelope.
	// Store failure degrades to live-only delivery, it never fails the send.
	if err := h.s.pipeline.SaveMessage(ctx, env); err != nil {
		logger.Warnf("[message:send] persist degraded msg=%s: %v", env.MessageID, err)
	}

	out := MessageDelivery{
		MessageID:   env.MessageID,
		SenderID:    env.SenderID,
		RecipientID: env.RecipientID,
		Content:     env.Content,
		Type:        env.Type,
		CreatedAt:   env.CreatedAt,
	}
	h.s.rooms.Broadcast(ctx, UserRoom(p.RecipientID), ScopeUser, EventMessageReceived, out)

	ack := MessageDelivery{
		MessageID:   env.MessageID,
		SenderID:    env.SenderID,
		RecipientID: env.RecipientID,
		CreatedAt:   env.CreatedAt,
	}
	c.enqueue(EncodeFrame(EventMessageSent, ack))
	return nil
}

// ---- message:read ----

type messageReadHandler struct{ s *Server }

func (h *messageReadHandler) Event() string { return EventMessageRead }

// ReadAck is emitted to the original sender when a recipient acknowledges.
type ReadAck struct {
	MessageID string    `json:"messageId"`
	ReaderID  string    `json:"readerId"`
	ReadAt    time.Time `json:"readAt"`
}

func (h *messageReadHandler) Handle(ctx context.Context, c *Client, payload map[string]any) error {
	p, err := decodePayload[MessageReadPayload](payload)
	if err != nil {
		return err
	}

	env, err := h.s.pipeline.GetMessage(ctx, p.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		return errs.ErrInvalidPayload.WithDetail("unknown messageId")
	}
	if err != nil {
		logger.Warnf("[message:read] lookup degraded msg=%s: %v", p.MessageID, err)
		return err
	}

	receipt := &storage.ReadReceipt{
		MessageID: env.MessageID,
		ReaderID:  c.UserID,
		ReadAt:    time.Now(),
	}
	if err := h.s.pipeline.SaveReceipt(ctx, receipt, env.ExpiresAt); err != nil {
		logger.Warnf("[message:read] receipt persist degraded msg=%s: %v", env.MessageID, err)
	}

	h.s.rooms.Broadcast(ctx, UserRoom(env.SenderID), ScopeUser, EventMessageRead, ReadAck{
		MessageID: receipt.MessageID,
		ReaderID:  receipt.ReaderID,
		ReadAt:    receipt.ReadAt,
	})
	return nil
}

// ---- booking:status_update ----

type bookingStatusHandler struct{ s *Server }

func (h *bookingStatusHandler) Event() string { return EventBookingStatus }

func (h *bookingStatusHandler) Handle(ctx context.Context, c *Client, payload map[string]any) error {
	p, err := decodePayload[BookingStatusPayload](payload)
	if err != nil {
		return err
	}
	h.s.PublishBookingStatus(ctx, c.TenantID, p)
	return nil
}

// ---- portfolio:view ----

type portfolioViewHandler struct{ s *Server }

func (h *portfolioViewHandler) Event() string { return EventPortfolioView }

// EngagementNotice is the outbound shape for portfolio:view / portfolio:like.
type EngagementNotice struct {
	PortfolioID string `json:"portfolioId"`
	ActorID     string `json:"actorId"`
	ModelID     string `json:"modelId"`
}

func (h *portfolioViewHandler) Handle(ctx context.Context, c *Client, payload map[string]any) error {
	p, err := decodePayload[PortfolioViewPayload](payload)
	if err != nil {
		return err
	}

	h.s.countEngagement(ctx, p.PortfolioID, c.UserID, storage.MetricView, h.s.cfg.ViewDedupeTTL)

	// The model sees every view, deduped or not.
	h.s.rooms.Broadcast(ctx, UserRoom(p.ModelID), ScopeUser, EventPortfolioView, EngagementNotice{
		PortfolioID: p.PortfolioID,
		ActorID:     c.UserID,
		ModelID:     p.ModelID,
	})
	return nil
}

// ---- portfolio:like ----

type portfolioLikeHandler struct{ s *Server }

func (h *portfolioLikeHandler) Event() string { return EventPortfolioLike }

func (h *portfolioLikeHandler) Handle(ctx context.Context, c *Client, payload map[string]any) error {
	p, err := decodePayload[PortfolioLikePayload](payload)
	if err != nil {
		return err
	}

	h.s.countEngagement(ctx, p.PortfolioID, c.UserID, storage.MetricLike, h.s.cfg.LikeDedupeTTL)

	h.s.rooms.Broadcast(ctx, UserRoom(p.ModelID), ScopeUser, EventPortfolioLike, EngagementNotice{
		PortfolioID: p.PortfolioID,
		ActorID:     c.UserID,
		ModelID:     p.ModelID,
	})
	return nil
}

// ---- presence:update ----

type presenceUpdateHandler struct{ s *Server }

func (h *presenceUpdateHandler) Event() string { return EventPresenceUpdate }

func (h *presenceUpdateHandler) Handle(ctx context.Context, c *Client, payload map[string]any) error {
	p, err := decodePayload[PresenceUpdatePayload](payload)
	if err != nil {
		return err
	}
	// Overrides only apply while the user has live connections.
	if h.s.registry.UserConns(c.UserID) == 0 {
		return nil
	}
	h.s.presence.SetStatus(ctx, c.UserID, storage.PresenceStatus(p.Status))
	return nil
}

// ---- user:activity ----

type userActivityHandler struct{ s *Server }

func (h *userActivityHandler) Event() string { return EventUserActivity }

func (h *userActivityHandler) Handle(ctx context.Context, c *Client, _ map[string]any) error {
	c.Touch()
	h.s.presence.Touch(ctx, c.UserID)
	return nil
}
