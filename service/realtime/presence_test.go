package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/itellico/mono-sub017/service/storage"
)

type presenceRecorder struct {
	mu     sync.Mutex
	events []PresencePayload
}

func (r *presenceRecorder) record(_ context.Context, _ string, p PresencePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, p)
}

func (r *presenceRecorder) snapshot() []PresencePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PresencePayload, len(r.events))
	copy(out, r.events)
	return out
}

func (r *presenceRecorder) waitFor(t *testing.T, status storage.PresenceStatus, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, e := range r.snapshot() {
			if e.Status == status {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s transition within %v; got %v", status, timeout, r.snapshot())
}

func newTestPresence(grace time.Duration) (*PresenceService, *presenceRecorder, *storage.MemoryStore) {
	store := storage.NewMemory()
	p := NewPresenceService(storage.NewPipeline(store), grace, time.Minute)
	rec := &presenceRecorder{}
	p.SetBroadcaster(rec.record)
	return p, rec, store
}

func TestPresenceConnectAnnouncesOnline(t *testing.T) {
	p, rec, _ := newTestPresence(time.Minute)
	ctx := context.Background()

	p.HandleConnect(ctx, "alice", "t1")

	events := rec.snapshot()
	if len(events) != 1 || events[0].Status != storage.StatusOnline {
		t.Fatalf("expected single online transition, got %v", events)
	}

	// A second device produces no further transition.
	p.HandleConnect(ctx, "alice", "t1")
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("second device triggered %d transitions, want 1", got)
	}
}

func TestPresenceGraceExpiryGoesOffline(t *testing.T) {
	p, rec, _ := newTestPresence(30 * time.Millisecond)
	ctx := context.Background()

	p.HandleConnect(ctx, "alice", "t1")
	p.HandleDisconnect(ctx, "alice", 0)

	rec.waitFor(t, storage.StatusOffline, time.Second)

	got, err := p.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != storage.StatusOffline {
		t.Fatalf("stored status = %s, want offline", got.Status)
	}
}

func TestPresenceReconnectInsideGraceIsSilent(t *testing.T) {
	p, rec, _ := newTestPresence(50 * time.Millisecond)
	ctx := context.Background()

	p.HandleConnect(ctx, "alice", "t1")
	p.HandleDisconnect(ctx, "alice", 0)
	p.HandleConnect(ctx, "alice", "t1") // inside the grace window

	time.Sleep(150 * time.Millisecond)

	for _, e := range rec.snapshot() {
		if e.Status == storage.StatusOffline {
			t.Fatalf("user went offline despite reconnect: %v", rec.snapshot())
		}
	}
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("expected only the initial online transition, got %v", rec.snapshot())
	}
}

func TestPresenceOfflineEntryEvicted(t *testing.T) {
	p, rec, _ := newTestPresence(20 * time.Millisecond)
	ctx := context.Background()

	p.HandleConnect(ctx, "alice", "t1")
	p.HandleDisconnect(ctx, "alice", 0)
	rec.waitFor(t, storage.StatusOffline, time.Second)

	p.mu.Lock()
	n := len(p.entries)
	p.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d entries tracked after offline transition, want 0", n)
	}
}

func TestPresenceReconnectAfterGraceReannounces(t *testing.T) {
	p, rec, _ := newTestPresence(20 * time.Millisecond)
	ctx := context.Background()

	p.HandleConnect(ctx, "alice", "t1")
	p.HandleDisconnect(ctx, "alice", 0)
	rec.waitFor(t, storage.StatusOffline, time.Second)

	// Too late to cancel: the offline transition fired, so coming back is a
	// fresh online announcement.
	p.HandleConnect(ctx, "alice", "t1")

	events := rec.snapshot()
	if len(events) != 3 || events[2].Status != storage.StatusOnline {
		t.Fatalf("expected online, offline, online; got %v", events)
	}
}

func TestPresenceDisconnectWithRemainingDevices(t *testing.T) {
	p, rec, _ := newTestPresence(20 * time.Millisecond)
	ctx := context.Background()

	p.HandleConnect(ctx, "alice", "t1")
	p.HandleConnect(ctx, "alice", "t1")
	p.HandleDisconnect(ctx, "alice", 1) // one device left

	time.Sleep(100 * time.Millisecond)

	for _, e := range rec.snapshot() {
		if e.Status == storage.StatusOffline {
			t.Fatal("went offline while a device was still connected")
		}
	}
}

func TestPresenceExplicitAway(t *testing.T) {
	p, rec, _ := newTestPresence(time.Minute)
	ctx := context.Background()

	p.HandleConnect(ctx, "alice", "t1")
	p.SetStatus(ctx, "alice", storage.StatusAway)

	events := rec.snapshot()
	if len(events) != 2 || events[1].Status != storage.StatusAway {
		t.Fatalf("expected online then away, got %v", events)
	}

	// Setting the same status again does not re-announce.
	p.SetStatus(ctx, "alice", storage.StatusAway)
	if got := len(rec.snapshot()); got != 2 {
		t.Fatalf("duplicate status produced a transition, got %d events", got)
	}

	p.SetStatus(ctx, "alice", storage.StatusOnline)
	events = rec.snapshot()
	if events[len(events)-1].Status != storage.StatusOnline {
		t.Fatalf("expected return to online, got %v", events)
	}
}

func TestPresenceSetStatusUnknownUser(t *testing.T) {
	p, rec, _ := newTestPresence(time.Minute)

	p.SetStatus(context.Background(), "ghost", storage.StatusAway)

	if got := len(rec.snapshot()); got != 0 {
		t.Fatalf("transition for unknown user: %v", rec.snapshot())
	}
}

func TestPresenceShutdownStopsTimers(t *testing.T) {
	p, rec, _ := newTestPresence(30 * time.Millisecond)
	ctx := context.Background()

	p.HandleConnect(ctx, "alice", "t1")
	p.HandleDisconnect(ctx, "alice", 0)
	p.Shutdown()

	time.Sleep(100 * time.Millisecond)

	for _, e := range rec.snapshot() {
		if e.Status == storage.StatusOffline {
			t.Fatal("grace timer fired after shutdown")
		}
	}
}
