package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func newTestRooms(t *testing.T) *RoomManager {
	t.Helper()
	f := NewFanout(2, 32)
	t.Cleanup(f.Close)
	return NewRoomManager(f)
}

func TestRoomJoinLeave(t *testing.T) {
	r := newTestRooms(t)
	c1 := NewClient("c1", "alice", "t1", nil, 8)
	c2 := NewClient("c2", "bob", "t1", nil, 8)

	r.Join("room-a", c1)
	r.Join("room-a", c2)
	r.Join("room-b", c1)

	if got := len(r.Members("room-a")); got != 2 {
		t.Fatalf("room-a members = %d, want 2", got)
	}

	r.Leave("room-a", "c1")
	if got := r.Members("room-a"); len(got) != 1 || got[0] != c2 {
		t.Fatalf("room-a after leave = %v", got)
	}
	if got := len(r.Members("room-b")); got != 1 {
		t.Fatalf("room-b affected by leave of room-a: %d members", got)
	}
}

func TestRoomLeaveAll(t *testing.T) {
	r := newTestRooms(t)
	c := NewClient("c1", "alice", "t1", nil, 8)
	r.Join("room-a", c)
	r.Join("room-b", c)

	r.LeaveAll("c1")

	if r.Members("room-a") != nil || r.Members("room-b") != nil {
		t.Fatal("connection still a member after LeaveAll")
	}
}

func TestBroadcastLocalOrderingPerRoom(t *testing.T) {
	r := newTestRooms(t)
	c := NewClient("c1", "alice", "t1", nil, 64)
	r.Join("room-a", c)

	for i := 0; i < 10; i++ {
		r.BroadcastLocal("room-a", "tick", map[string]any{"seq": i})
	}

	for want := 0; want < 10; want++ {
		select {
		case raw := <-c.Send:
			var f struct {
				Payload map[string]any `json:"payload"`
			}
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("malformed frame: %v", err)
			}
			if got := f.Payload["seq"]; got != float64(want) {
				t.Fatalf("out of order: got seq %v, want %d", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing frame %d", want)
		}
	}
}

func TestBroadcastLocalEmptyRoomIsNoop(t *testing.T) {
	r := newTestRooms(t)
	r.BroadcastLocal("empty", "tick", nil) // must not panic or enqueue
}
