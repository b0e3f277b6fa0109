package realtime

import (
	"context"
	"sync"

	"github.com/itellico/mono-sub017/logger"
)

// RoomManager tracks which connections belong to which fan-out room and
// delivers broadcasts. Membership is derived from connections: joined on
// register, fully dropped on unregister, never persisted anywhere.
//
// Forward and reverse indexes are kept so that a disconnect clears all of a
// connection's rooms in O(rooms of that connection).
type RoomManager struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]*Client // room -> connID -> client
	byConn map[string]map[string]bool    // connID -> set of rooms
	fanout *Fanout
	bridge *Bridge
}

func NewRoomManager(fanout *Fanout) *RoomManager {
	return &RoomManager{
		rooms:  make(map[string]map[string]*Client),
		byConn: make(map[string]map[string]bool),
		fanout: fanout,
	}
}

// SetBridge wires the cross-instance bridge; nil keeps the manager
// local-only (tests, single-node deployments).
func (r *RoomManager) SetBridge(b *Bridge) { r.bridge = b }

func (r *RoomManager) Join(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.rooms[room]
	if m == nil {
		m = make(map[string]*Client)
		r.rooms[room] = m
	}
	m[c.ConnID] = c

	set := r.byConn[c.ConnID]
	if set == nil {
		set = make(map[string]bool)
		r.byConn[c.ConnID] = set
	}
	set[room] = true
}

func (r *RoomManager) Leave(room, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.rooms[room]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(r.rooms, room)
		}
	}
	if set := r.byConn[connID]; set != nil {
		delete(set, room)
		if len(set) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// LeaveAll removes a connection from every room it joined.
func (r *RoomManager) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for room := range r.byConn[connID] {
		if m := r.rooms[room]; m != nil {
			delete(m, connID)
			if len(m) == 0 {
				delete(r.rooms, room)
			}
		}
	}
	delete(r.byConn, connID)
}

func (r *RoomManager) Members(room string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.rooms[room]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// BroadcastLocal delivers an event to the room's members on this instance
// only. Events for the same room are delivered in enqueue order.
func (r *RoomManager) BroadcastLocal(room, event string, payload any) {
	conns := r.Members(room)
	if len(conns) == 0 {
		return
	}
	r.fanout.Enqueue(room, conns, EncodeFrame(event, payload))
}

// broadcastAll delivers an event to every local connection (global scope).
func (r *RoomManager) broadcastAll(event string, payload any) {
	r.mu.RLock()
	seen := make(map[string]*Client)
	for _, m := range r.rooms {
		for id, c := range m {
			seen[id] = c
		}
	}
	r.mu.RUnlock()
	if len(seen) == 0 {
		return
	}
	conns := make([]*Client, 0, len(seen))
	for _, c := range seen {
		conns = append(conns, c)
	}
	r.fanout.Enqueue("global", conns, EncodeFrame(event, payload))
}

// Broadcast delivers locally, then hands the event to the bridge so peer
// instances replicate to their own local members. Bridge failure degrades to
// local-only delivery.
func (r *RoomManager) Broadcast(ctx context.Context, room, scope, event string, payload any) {
	if scope == ScopeGlobal {
		r.broadcastAll(event, payload)
	} else {
		r.BroadcastLocal(room, event, payload)
	}
	if r.bridge == nil {
		return
	}
	if err := r.bridge.Publish(ctx, scope, room, event, payload); err != nil {
		logger.Warnf("[rooms] bridge publish degraded room=%s event=%s: %v", room, event, err)
	}
}

// HandleRemote replays a peer instance's event into local delivery. Called
// by the bridge for events whose origin is another instance.
func (r *RoomManager) HandleRemote(evt *BroadcastEvent) {
	if evt.Scope == ScopeGlobal {
		r.broadcastAll(evt.Event, evt.Payload)
		return
	}
	r.BroadcastLocal(evt.Room, evt.Event, evt.Payload)
}
