package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("storage: not found")

// Store is the TTL-capable key/value + pub/sub collaborator contract.
// The production implementation is redis; tests use the in-memory one.
type Store interface {
	// Put stores value under key with the given TTL (0 means no expiry).
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Incr atomically increments the counter at key; window > 0 refreshes
	// the counter's TTL on each increment.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// SetNX stores value only if key is absent; reports whether it was set.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Publish sends payload to all subscribers of channel.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers every payload published to channel to fn until the
	// returned stop function is called. Delivery is at-least-once.
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) (stop func(), err error)
	// Close releases client resources.
	Close() error
}

// Key layout. All realtime state lives under the rt: prefix so it can be
// inspected or flushed independently of the rest of the platform.
func MessageKey(id string) string { return "rt:msg:" + id }

func ReceiptKey(msgID, reader string) string {
	return "rt:receipt:" + msgID + ":" + reader
}
func NotificationKey(id string) string { return "rt:notify:" + id }

func PresenceKey(user string) string { return "rt:presence:" + user }

func CounterKey(subject, metric string) string {
	return "rt:stat:" + metric + ":" + subject
}
func MarkerKey(subject, actor, metric string) string {
	return "rt:seen:" + metric + ":" + subject + ":" + actor
}
