package storage

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryPutGetExpiry(t *testing.T) {
	s := NewMemory()
	now := time.Now()
	s.Clock = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Put(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	b, err := s.Get(ctx, "k")
	if err != nil || string(b) != "v" {
		t.Fatalf("Get = %q, %v", b, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemorySetNXWindow(t *testing.T) {
	s := NewMemory()
	now := time.Now()
	s.Clock = func() time.Time { return now }
	ctx := context.Background()

	set, err := s.SetNX(ctx, "marker", []byte("1"), time.Hour)
	if err != nil || !set {
		t.Fatalf("first SetNX = %v, %v", set, err)
	}
	set, err = s.SetNX(ctx, "marker", []byte("1"), time.Hour)
	if err != nil || set {
		t.Fatalf("second SetNX inside window = %v, %v", set, err)
	}

	now = now.Add(2 * time.Hour)
	set, err = s.SetNX(ctx, "marker", []byte("1"), time.Hour)
	if err != nil || !set {
		t.Fatalf("SetNX after window lapse = %v, %v", set, err)
	}
}

func TestMemoryIncr(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := s.Incr(ctx, "counter", time.Hour)
		if err != nil || n != want {
			t.Fatalf("Incr = %d, %v, want %d", n, err, want)
		}
	}
}

func TestMemoryPubSub(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	var mu sync.Mutex
	var got [][]byte
	stop, err := s.Subscribe(ctx, "ch", func(p []byte) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := s.Publish(ctx, "ch", []byte("a")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	stop()
	_ = s.Publish(ctx, "ch", []byte("b"))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || string(got[0]) != "a" {
		t.Fatalf("received %v, want only \"a\"", got)
	}
}

func TestEngagementDedupeWindow(t *testing.T) {
	s := NewMemory()
	now := time.Now()
	s.Clock = func() time.Time { return now }
	p := NewPipeline(s)
	ctx := context.Background()

	newly, err := p.MarkEngaged(ctx, "p1", "viewer", MetricView, time.Hour)
	if err != nil || !newly {
		t.Fatalf("first MarkEngaged = %v, %v", newly, err)
	}
	if _, err := p.IncrEngagement(ctx, "p1", MetricView); err != nil {
		t.Fatalf("IncrEngagement: %v", err)
	}

	newly, err = p.MarkEngaged(ctx, "p1", "viewer", MetricView, time.Hour)
	if err != nil || newly {
		t.Fatalf("repeat MarkEngaged inside window = %v, %v", newly, err)
	}

	// After the window the same actor counts again.
	now = now.Add(2 * time.Hour)
	newly, err = p.MarkEngaged(ctx, "p1", "viewer", MetricView, time.Hour)
	if err != nil || !newly {
		t.Fatalf("MarkEngaged after window = %v, %v", newly, err)
	}
	if _, err := p.IncrEngagement(ctx, "p1", MetricView); err != nil {
		t.Fatalf("IncrEngagement: %v", err)
	}

	stats, err := p.GetEngagementStats(ctx, "p1")
	if err != nil {
		t.Fatalf("GetEngagementStats: %v", err)
	}
	if stats.Views != 2 || stats.Likes != 0 {
		t.Fatalf("stats = %+v, want 2 views", stats)
	}
}

func TestEngagementStatsRejectsCorruptCounter(t *testing.T) {
	s := NewMemory()
	p := NewPipeline(s)
	ctx := context.Background()

	if err := s.Put(ctx, CounterKey("p1", MetricView), []byte("12x"), 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := p.GetEngagementStats(ctx, "p1"); err == nil {
		t.Fatal("expected parse error for corrupt counter value")
	}
}

func TestEngagementStatsMissingCountersReadZero(t *testing.T) {
	p := NewPipeline(NewMemory())
	stats, err := p.GetEngagementStats(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("GetEngagementStats: %v", err)
	}
	if stats.Views != 0 || stats.Likes != 0 {
		t.Fatalf("stats = %+v, want zeros", stats)
	}
}

func TestPresenceRecordLapsesToNotFound(t *testing.T) {
	s := NewMemory()
	now := time.Now()
	s.Clock = func() time.Time { return now }
	p := NewPipeline(s)
	ctx := context.Background()

	rec := &PresenceRecord{UserID: "alice", Status: StatusOnline, LastSeenAt: now}
	if err := p.SavePresence(ctx, rec, time.Minute); err != nil {
		t.Fatalf("SavePresence: %v", err)
	}

	got, err := p.GetPresence(ctx, "alice")
	if err != nil {
		t.Fatalf("GetPresence: %v", err)
	}
	if got.Status != StatusOnline {
		t.Fatalf("status = %s, want online", got.Status)
	}

	now = now.Add(5 * time.Minute)
	if _, err := p.GetPresence(ctx, "alice"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after TTL lapse, got %v", err)
	}
}

func TestMessageEnvelopeRoundTrip(t *testing.T) {
	p := NewPipeline(NewMemory())
	ctx := context.Background()

	nowt := time.Now()
	env := &MessageEnvelope{
		MessageID:   "m1",
		SenderID:    "alice",
		RecipientID: "bob",
		Content:     "hello",
		CreatedAt:   nowt,
		ExpiresAt:   nowt.Add(time.Hour),
	}
	if err := p.SaveMessage(ctx, env); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	got, err := p.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if got.SenderID != "alice" || got.RecipientID != "bob" || got.Content != "hello" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := p.GetMessage(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
