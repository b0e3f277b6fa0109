package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/itellico/mono-sub017/logger"
	"github.com/itellico/mono-sub017/service/storage"
)

// PresencePayload is broadcast on every presence transition.
type PresencePayload struct {
	UserID     string                 `json:"userId"`
	Status     storage.PresenceStatus `json:"status"`
	LastSeenAt time.Time              `json:"lastSeenAt"`
}

// PresenceService runs the per-user state machine {Offline, Online, Away}.
// Transitions are driven by the registry's connection counts plus explicit
// status overrides. A disconnect does not flip a user offline immediately:
// a grace timer absorbs brief reconnects (page reloads) first.
type PresenceService struct {
	mu      sync.Mutex
	entries map[string]*presenceEntry

	grace    time.Duration
	ttl      time.Duration
	pipeline *storage.Pipeline

	// broadcast announces a transition to the user's tenant room.
	broadcast func(ctx context.Context, tenantID string, p PresencePayload)
}

type presenceEntry struct {
	status   storage.PresenceStatus
	tenantID string
	timer    *time.Timer // pending offline-grace timer, nil if none
}

func NewPresenceService(pipeline *storage.Pipeline, grace, ttl time.Duration) *PresenceService {
	return &PresenceService{
		entries:  make(map[string]*presenceEntry),
		grace:    grace,
		ttl:      ttl,
		pipeline: pipeline,
	}
}

// SetBroadcaster wires the fan-out used for presence:update events.
func (p *PresenceService) SetBroadcaster(fn func(ctx context.Context, tenantID string, payload PresencePayload)) {
	p.broadcast = fn
}

// HandleConnect processes a registry 0→1 (or n→n+1) transition. A pending
// grace timer is cancelled: the user never went offline, so reconnects
// inside the grace window are silent (no broadcast).
func (p *PresenceService) HandleConnect(ctx context.Context, userID, tenantID string) {
	p.mu.Lock()
	e := p.entries[userID]
	if e == nil {
		e = &presenceEntry{status: storage.StatusOffline}
		p.entries[userID] = e
	}
	e.tenantID = tenantID

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
		// Still online from the store's point of view; just refresh.
		status := e.status
		p.mu.Unlock()
		p.persist(ctx, userID, status)
		return
	}

	wasOffline := e.status == storage.StatusOffline
	if wasOffline {
		e.status = storage.StatusOnline
	}
	status := e.status
	p.mu.Unlock()

	p.persist(ctx, userID, status)
	if wasOffline {
		p.announce(ctx, tenantID, userID, storage.StatusOnline)
	}
}

// HandleDisconnect processes a connection close. remaining is the user's
// live connection count after removal; only the last device arms the grace
// timer.
func (p *PresenceService) HandleDisconnect(ctx context.Context, userID string, remaining int) {
	p.mu.Lock()
	e := p.entries[userID]
	if e == nil || remaining > 0 {
		status := storage.StatusOffline
		if e != nil {
			status = e.status
		}
		p.mu.Unlock()
		if remaining > 0 {
			p.persist(ctx, userID, status)
		}
		return
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(p.grace, func() {
		p.graceExpired(userID)
	})
	p.mu.Unlock()
}

// graceExpired fires when no reconnect arrived inside the window. The
// entry is evicted: offline users carry no in-memory state, so the map
// stays bounded by the number of currently-tracked users.
func (p *PresenceService) graceExpired(userID string) {
	p.mu.Lock()
	e := p.entries[userID]
	if e == nil || e.timer == nil {
		p.mu.Unlock()
		return
	}
	tenantID := e.tenantID
	delete(p.entries, userID)
	p.mu.Unlock()

	ctx := context.Background()
	p.persist(ctx, userID, storage.StatusOffline)
	p.announce(ctx, tenantID, userID, storage.StatusOffline)
}

// SetStatus applies an explicit override (away, or back to online). Only
// meaningful while the user has live connections; callers gate on the
// registry count.
func (p *PresenceService) SetStatus(ctx context.Context, userID string, status storage.PresenceStatus) {
	p.mu.Lock()
	e := p.entries[userID]
	if e == nil {
		p.mu.Unlock()
		return
	}
	if e.status == status {
		p.mu.Unlock()
		p.persist(ctx, userID, status)
		return
	}
	e.status = status
	tenantID := e.tenantID
	p.mu.Unlock()

	p.persist(ctx, userID, status)
	p.announce(ctx, tenantID, userID, status)
}

// Touch refreshes the stored record's TTL without any transition.
func (p *PresenceService) Touch(ctx context.Context, userID string) {
	p.mu.Lock()
	e := p.entries[userID]
	if e == nil {
		p.mu.Unlock()
		return
	}
	status := e.status
	p.mu.Unlock()
	p.persist(ctx, userID, status)
}

// Get reads the stored presence record; storage.ErrNotFound reads as
// implicit offline for callers.
func (p *PresenceService) Get(ctx context.Context, userID string) (*storage.PresenceRecord, error) {
	return p.pipeline.GetPresence(ctx, userID)
}

// Shutdown stops all pending grace timers without firing them.
func (p *PresenceService) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
}

// persist refreshes the TTL'd presence record. Store failure is a logged
// degradation: the in-memory state machine stays authoritative for live
// connections.
func (p *PresenceService) persist(ctx context.Context, userID string, status storage.PresenceStatus) {
	rec := &storage.PresenceRecord{
		UserID:     userID,
		Status:     status,
		LastSeenAt: time.Now(),
	}
	if err := p.pipeline.SavePresence(ctx, rec, p.ttl); err != nil {
		logger.Warnf("[presence] persist degraded user=%s: %v", userID, err)
	}
}

func (p *PresenceService) announce(ctx context.Context, tenantID, userID string, status storage.PresenceStatus) {
	if p.broadcast == nil {
		return
	}
	p.broadcast(ctx, tenantID, PresencePayload{
		UserID:     userID,
		Status:     status,
		LastSeenAt: time.Now(),
	})
}
