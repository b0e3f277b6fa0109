package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// MessageEnvelope is a stored direct message. Immutable once created:
// read acknowledgment is a separate ReadReceipt record, never a field
// update on the envelope.
type MessageEnvelope struct {
	MessageID   string    `json:"messageId"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ReadReceipt records that a reader acknowledged a message. Its TTL is
// aligned with the envelope it refers to.
type ReadReceipt struct {
	MessageID string    `json:"messageId"`
	ReaderID  string    `json:"readerId"`
	ReadAt    time.Time `json:"readAt"`
}

// NotificationEnvelope is a stored user notification (default TTL 7d).
type NotificationEnvelope struct {
	NotificationID string    `json:"notificationId"`
	UserID         string    `json:"userId"`
	Type           string    `json:"type"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Pipeline wraps the Store behind the delivery-oriented operations. All
// message, notification, receipt and counter traffic goes through here so a
// store outage stays isolated: callers log the returned error and keep
// delivering to live local connections.
type Pipeline struct {
	store Store
}

func NewPipeline(store Store) *Pipeline {
	return &Pipeline{store: store}
}

// Store exposes the underlying collaborator for bridge wiring.
func (p *Pipeline) Store() Store { return p.store }

func (p *Pipeline) SaveMessage(ctx context.Context, env *MessageEnvelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal envelope")
	}
	return p.store.Put(ctx, MessageKey(env.MessageID), b, time.Until(env.ExpiresAt))
}

func (p *Pipeline) GetMessage(ctx context.Context, messageID string) (*MessageEnvelope, error) {
	b, err := p.store.Get(ctx, MessageKey(messageID))
	if err != nil {
		return nil, err
	}
	var env MessageEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrap(err, "unmarshal envelope")
	}
	return &env, nil
}

// SaveReceipt persists a read receipt with TTL aligned to its envelope.
func (p *Pipeline) SaveReceipt(ctx context.Context, r *ReadReceipt, envelopeExpiry time.Time) error {
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal receipt")
	}
	ttl := time.Until(envelopeExpiry)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return p.store.Put(ctx, ReceiptKey(r.MessageID, r.ReaderID), b, ttl)
}

func (p *Pipeline) SaveNotification(ctx context.Context, env *NotificationEnvelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	return p.store.Put(ctx, NotificationKey(env.NotificationID), b, time.Until(env.ExpiresAt))
}
