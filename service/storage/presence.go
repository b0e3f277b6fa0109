package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// PresenceStatus values. Absence of a record reads as offline.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// PresenceRecord is the stored per-user presence state. The TTL is refreshed
// on every activity so a stale "online forever" record cannot survive a
// store restart: if nothing refreshes it, the key lapses and lookups read an
// implicit offline.
type PresenceRecord struct {
	UserID     string         `json:"userId"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt time.Time      `json:"lastSeenAt"`
	ExpiresAt  time.Time      `json:"expiresAt"`
}

// SavePresence writes the record with the given TTL.
func (p *Pipeline) SavePresence(ctx context.Context, rec *PresenceRecord, ttl time.Duration) error {
	rec.ExpiresAt = time.Now().Add(ttl)
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal presence")
	}
	return p.store.Put(ctx, PresenceKey(rec.UserID), b, ttl)
}

// GetPresence reads the record; ErrNotFound means implicit offline.
func (p *Pipeline) GetPresence(ctx context.Context, userID string) (*PresenceRecord, error) {
	b, err := p.store.Get(ctx, PresenceKey(userID))
	if err != nil {
		return nil, err
	}
	var rec PresenceRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal presence")
	}
	return &rec, nil
}
