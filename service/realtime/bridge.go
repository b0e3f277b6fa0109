package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/itellico/mono-sub017/logger"
	"github.com/itellico/mono-sub017/service/storage"
	"github.com/itellico/mono-sub017/tools/ids"
	"github.com/itellico/mono-sub017/tools/safe"
)

// Broadcast scopes. User-scoped events travel on the notify channel, tenant
// and global ones on the broadcast channel.
const (
	ScopeUser   = "user"
	ScopeTenant = "tenant"
	ScopeGlobal = "global"
)

// Bridge pub/sub channels on the ephemeral store.
const (
	channelNotify    = "rt:bridge:notify"
	channelBroadcast = "rt:bridge:broadcast"
)

// BroadcastEvent is the wire unit exchanged between instances. Delivery is
// at-least-once: consumers must tolerate duplicates (the engagement dedupe
// markers exist for exactly this reason).
type BroadcastEvent struct {
	EventID string `json:"eventId"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Scope   string `json:"scope"`          // user | tenant | global
	Room    string `json:"room,omitempty"` // empty for global scope
	Origin  string `json:"originInstanceId"`
}

// Bridge relays locally-originated events to peer instances through the
// store's pub/sub and replays remote events into the local room manager. An
// instance skips events carrying its own origin ID: it already delivered
// locally at publish time, so the skip avoids double delivery while every
// other instance still replicates.
type Bridge struct {
	store      storage.Store
	instanceID string
	onRemote   func(evt *BroadcastEvent)

	mu      sync.Mutex
	stops   []func()
	stopped bool
}

func NewBridge(store storage.Store, instanceID string, onRemote func(evt *BroadcastEvent)) *Bridge {
	return &Bridge{store: store, instanceID: instanceID, onRemote: onRemote}
}

// Start subscribes both logical channels. A failed subscription degrades to
// local-only traffic and retries in the background with backoff; it is a
// health signal, never fatal.
func (b *Bridge) Start(ctx context.Context) {
	for _, ch := range []string{channelNotify, channelBroadcast} {
		b.subscribeWithRetry(ctx, ch)
	}
}

func (b *Bridge) subscribeWithRetry(ctx context.Context, channel string) {
	stop, err := b.store.Subscribe(ctx, channel, b.handleRaw)
	if err == nil {
		b.track(stop)
		return
	}
	logger.Warnf("[bridge] subscribe %s failed, local-only until retry succeeds: %v", channel, err)

	safe.Go(func() {
		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if b.closed() {
				return
			}
			stop, err := b.store.Subscribe(ctx, channel, b.handleRaw)
			if err == nil {
				logger.Infof("[bridge] subscribe %s recovered", channel)
				b.track(stop)
				return
			}
			logger.Warnf("[bridge] subscribe %s retry failed: %v", channel, err)
			if backoff < 30*time.Second {
				backoff *= 2
			}
		}
	})
}

func (b *Bridge) handleRaw(payload []byte) {
	var evt BroadcastEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		logger.Warnf("[bridge] drop malformed broadcast event: %v", err)
		return
	}
	if evt.Origin == b.instanceID {
		return // delivered locally at publish time
	}
	b.onRemote(&evt)
}

// Publish sends a locally-originated event to peers. The caller has already
// delivered locally; a publish failure is logged degradation, not an error
// surfaced to the client.
func (b *Bridge) Publish(ctx context.Context, scope, room, event string, payload any) error {
	evt := BroadcastEvent{
		EventID: ids.GenerateString(),
		Event:   event,
		Payload: payload,
		Scope:   scope,
		Room:    room,
		Origin:  b.instanceID,
	}
	raw, err := json.Marshal(&evt)
	if err != nil {
		return errors.Wrap(err, "marshal broadcast event")
	}
	channel := channelBroadcast
	if scope == ScopeUser {
		channel = channelNotify
	}
	return b.store.Publish(ctx, channel, raw)
}

func (b *Bridge) track(stop func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		stop()
		return
	}
	b.stops = append(b.stops, stop)
}

func (b *Bridge) closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

// Close releases every broker subscription.
func (b *Bridge) Close() {
	b.mu.Lock()
	stops := b.stops
	b.stops = nil
	b.stopped = true
	b.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
}
