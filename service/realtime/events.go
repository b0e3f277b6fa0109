package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/itellico/mono-sub017/service/storage"
	"github.com/itellico/mono-sub017/tools/errs"
)

// Inbound event names (client -> core).
const (
	EventMessageSend    = "message:send"
	EventMessageRead    = "message:read"
	EventBookingStatus  = "booking:status_update"
	EventPortfolioView  = "portfolio:view"
	EventPortfolioLike  = "portfolio:like"
	EventPresenceUpdate = "presence:update"
	EventUserActivity   = "user:activity"
)

// Outbound event names (core -> client).
const (
	EventUserConnect     = "user:connect"
	EventUserDisconnect  = "user:disconnect"
	EventMessageReceived = "message:received"
	EventMessageSent     = "message:sent"
	EventNotificationNew = "notification:new"
	EventError           = "error"
)

// Frame is the JSON wire unit exchanged with clients.
type Frame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
	Ts      int64  `json:"ts"`
}

// EncodeFrame serializes an outbound frame once so a fanout touches each
// payload a single time.
func EncodeFrame(event string, payload any) []byte {
	b, err := json.Marshal(Frame{Event: event, Payload: payload, Ts: time.Now().UnixMilli()})
	if err != nil {
		// Payloads are our own structs and maps; a marshal failure is a bug.
		b, _ = json.Marshal(Frame{Event: EventError, Payload: errs.ErrInvalidPayload, Ts: time.Now().UnixMilli()})
	}
	return b
}

// InboundFrame is a parsed client frame before payload typing.
type InboundFrame struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

func ParseFrame(raw []byte) (*InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("frame missing event name")
	}
	return &f, nil
}

// ---- Payload variants, one per inbound event name. Each validates itself
// at the router boundary before its handler runs. ----

type MessageSendPayload struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	Type        string `json:"type"`
}

func (p MessageSendPayload) Validate() error {
	if p.RecipientID == "" {
		return fmt.Errorf("recipientId is required")
	}
	if p.Content == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

type MessageReadPayload struct {
	MessageID string `json:"messageId"`
}

func (p MessageReadPayload) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("messageId is required")
	}
	return nil
}

type BookingStatusPayload struct {
	BookingID string `json:"bookingId"`
	ClientID  string `json:"clientId"`
	Status    string `json:"status"`
}

func (p BookingStatusPayload) Validate() error {
	if p.BookingID == "" {
		return fmt.Errorf("bookingId is required")
	}
	if p.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if p.Status == "" {
		return fmt.Errorf("status is required")
	}
	return nil
}

type PortfolioViewPayload struct {
	PortfolioID string `json:"portfolioId"`
	ModelID     string `json:"modelId"`
}

func (p PortfolioViewPayload) Validate() error {
	if p.PortfolioID == "" {
		return fmt.Errorf("portfolioId is required")
	}
	if p.ModelID == "" {
		return fmt.Errorf("modelId is required")
	}
	return nil
}

type PortfolioLikePayload struct {
	PortfolioID string `json:"portfolioId"`
	ModelID     string `json:"modelId"`
}

func (p PortfolioLikePayload) Validate() error {
	if p.PortfolioID == "" {
		return fmt.Errorf("portfolioId is required")
	}
	if p.ModelID == "" {
		return fmt.Errorf("modelId is required")
	}
	return nil
}

type PresenceUpdatePayload struct {
	Status string `json:"status"`
}

func (p PresenceUpdatePayload) Validate() error {
	switch storage.PresenceStatus(p.Status) {
	case storage.StatusOnline, storage.StatusAway:
		return nil
	}
	return fmt.Errorf("status must be online or away")
}

type UserActivityPayload struct{}

func (p UserActivityPayload) Validate() error { return nil }

// Room naming. Rooms are the only fan-out groups: one per user and one per
// tenant, joined automatically when a connection registers.
func UserRoom(userID string) string     { return "user:" + userID }
func TenantRoom(tenantID string) string { return "tenant:" + tenantID }
