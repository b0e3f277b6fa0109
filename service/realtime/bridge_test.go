package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/itellico/mono-sub017/service/storage"
)

// Two servers sharing one in-memory store behave like two instances on the
// same broker.
func newTestCluster(t *testing.T) (*Server, *Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemory()
	srv1 := newTestServer(t, store, "i1")
	srv2 := newTestServer(t, store, "i2")
	ctx := context.Background()
	srv1.Start(ctx)
	srv2.Start(ctx)
	return srv1, srv2, store
}

func TestBridgeCrossInstanceDelivery(t *testing.T) {
	srv1, srv2, _ := newTestCluster(t)
	ctx := context.Background()

	alice := NewClient("ca", "alice", "t1", nil, 64)
	bob := NewClient("cb", "bob", "t1", nil, 64)
	srv1.register(ctx, alice)
	srv2.register(ctx, bob)

	srv1.disp.Dispatch(ctx, alice, &InboundFrame{
		Event:   EventMessageSend,
		Payload: map[string]any{"recipientId": "bob", "content": "over the wire"},
	})

	got := waitFrame(t, bob, EventMessageReceived)
	if got["senderId"] != "alice" || got["content"] != "over the wire" {
		t.Fatalf("unexpected cross-instance delivery: %v", got)
	}
}

func TestBridgeOriginSkipPreventsDoubleDelivery(t *testing.T) {
	srv1, srv2, _ := newTestCluster(t)
	ctx := context.Background()

	// Same user, one device per instance.
	bob1 := NewClient("cb1", "bob", "t1", nil, 64)
	bob2 := NewClient("cb2", "bob", "t1", nil, 64)
	srv1.register(ctx, bob1)
	srv2.register(ctx, bob2)

	n := &storage.NotificationEnvelope{Type: "system", Title: "hello"}
	if err := srv1.SendNotification(ctx, "bob", n); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}

	// The originating instance delivered locally at publish time and must
	// skip its own bridge echo; the peer delivers exactly once.
	if got := countFrames(t, bob1, EventNotificationNew, 300*time.Millisecond); got != 1 {
		t.Fatalf("origin instance delivered %d notifications, want 1", got)
	}
	if got := countFrames(t, bob2, EventNotificationNew, 300*time.Millisecond); got != 1 {
		t.Fatalf("peer instance delivered %d notifications, want 1", got)
	}
}

func TestBridgeTenantBroadcastAcrossInstances(t *testing.T) {
	srv1, srv2, _ := newTestCluster(t)
	ctx := context.Background()

	local := NewClient("cl", "local", "t1", nil, 64)
	remote := NewClient("cr", "remote", "t1", nil, 64)
	other := NewClient("co", "other", "t2", nil, 64)
	srv1.register(ctx, local)
	srv2.register(ctx, remote)
	srv2.register(ctx, other)

	srv1.BroadcastToTenant(ctx, "t1", "announcement", map[string]any{"text": "maintenance window"})

	p := waitFrame(t, local, "announcement")
	if p["text"] != "maintenance window" {
		t.Fatalf("local delivery payload: %v", p)
	}
	p = waitFrame(t, remote, "announcement")
	if p["text"] != "maintenance window" {
		t.Fatalf("remote delivery payload: %v", p)
	}
	if got := countFrames(t, other, "announcement", 200*time.Millisecond); got != 0 {
		t.Fatalf("tenant t2 member received %d announcements for t1", got)
	}
}

func TestBridgeBookingStatusAcrossInstances(t *testing.T) {
	srv1, srv2, _ := newTestCluster(t)
	ctx := context.Background()

	agent := NewClient("ca", "agent", "t1", nil, 64)
	watcher := NewClient("cw", "watcher", "t1", nil, 64)
	srv1.register(ctx, agent)
	srv2.register(ctx, watcher)

	srv1.disp.Dispatch(ctx, agent, &InboundFrame{
		Event:   EventBookingStatus,
		Payload: map[string]any{"bookingId": "b1", "clientId": "someone-offline", "status": "confirmed"},
	})

	p := waitFrame(t, watcher, EventBookingStatus)
	if p["bookingId"] != "b1" || p["status"] != "confirmed" {
		t.Fatalf("unexpected remote booking payload: %v", p)
	}

	// The originating instance's tenant member sees the event exactly once:
	// the local fan-out, never its own bridge echo.
	if got := countFrames(t, agent, EventBookingStatus, 300*time.Millisecond); got != 1 {
		t.Fatalf("origin tenant member saw %d booking events, want 1", got)
	}
}

func TestBridgeMalformedEventIgnored(t *testing.T) {
	srv1, srv2, store := newTestCluster(t)
	ctx := context.Background()

	alice := NewClient("ca", "alice", "t1", nil, 64)
	bob := NewClient("cb", "bob", "t1", nil, 64)
	srv1.register(ctx, alice)
	srv2.register(ctx, bob)

	// Garbage on the broker is dropped, not fatal.
	_ = store.Publish(ctx, "rt:bridge:notify", []byte("not json"))
	_ = store.Publish(ctx, "rt:bridge:broadcast", []byte("{{{{"))

	srv1.disp.Dispatch(ctx, alice, &InboundFrame{
		Event:   EventMessageSend,
		Payload: map[string]any{"recipientId": "bob", "content": "still alive"},
	})
	got := waitFrame(t, bob, EventMessageReceived)
	if got["content"] != "still alive" {
		t.Fatalf("delivery after malformed broker traffic: %v", got)
	}
}

func TestBridgeDuplicateEngagementNotCounted(t *testing.T) {
	srv1, _, store := newTestCluster(t)
	ctx := context.Background()

	viewer := NewClient("cv", "viewer", "t1", nil, 64)
	srv1.register(ctx, viewer)

	view := map[string]any{"portfolioId": "p1", "modelId": "model"}
	srv1.disp.Dispatch(ctx, viewer, &InboundFrame{Event: EventPortfolioView, Payload: view})
	// A redelivered broker event replays the same actor/subject pair.
	srv1.disp.Dispatch(ctx, viewer, &InboundFrame{Event: EventPortfolioView, Payload: view})

	time.Sleep(100 * time.Millisecond)

	stats, err := storage.NewPipeline(store).GetEngagementStats(ctx, "p1")
	if err != nil {
		t.Fatalf("GetEngagementStats: %v", err)
	}
	if stats.Views != 1 {
		t.Fatalf("views = %d after duplicate delivery, want 1", stats.Views)
	}
}
