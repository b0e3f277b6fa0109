package realtime

import (
	"hash/fnv"
	"sync"
	"time"
)

// Registry is the directory of live connections, indexed by connection ID,
// user and tenant. Locks are partitioned by key so independent users'
// connect/disconnect traffic never serializes on one global lock.
const shardCount = 32

type indexShard struct {
	mu sync.RWMutex
	m  map[string]map[string]*Client // key -> connID -> client
}

type shardedIndex struct {
	shards [shardCount]indexShard
}

func newShardedIndex() *shardedIndex {
	idx := &shardedIndex{}
	for i := range idx.shards {
		idx.shards[i].m = make(map[string]map[string]*Client)
	}
	return idx
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// add returns the number of connections under key after insertion.
func (idx *shardedIndex) add(key string, c *Client) int {
	s := &idx.shards[shardFor(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.m[key]
	if m == nil {
		m = make(map[string]*Client)
		s.m[key] = m
	}
	m[c.ConnID] = c
	return len(m)
}

// remove returns the number of connections left under key.
func (idx *shardedIndex) remove(key, connID string) int {
	s := &idx.shards[shardFor(key)]
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.m[key]
	if m == nil {
		return 0
	}
	delete(m, connID)
	n := len(m)
	if n == 0 {
		delete(s.m, key)
	}
	return n
}

func (idx *shardedIndex) list(key string) []*Client {
	s := &idx.shards[shardFor(key)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.m[key]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (idx *shardedIndex) count(key string) int {
	s := &idx.shards[shardFor(key)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m[key])
}

type connShard struct {
	mu sync.RWMutex
	m  map[string]*Client
}

type Registry struct {
	byConn   [shardCount]connShard
	byUser   *shardedIndex
	byTenant *shardedIndex
}

func NewRegistry() *Registry {
	r := &Registry{
		byUser:   newShardedIndex(),
		byTenant: newShardedIndex(),
	}
	for i := range r.byConn {
		r.byConn[i].m = make(map[string]*Client)
	}
	return r
}

// Register adds a connection and returns the user's connection count after
// the add (1 means first device came online).
func (r *Registry) Register(c *Client) int {
	s := &r.byConn[shardFor(c.ConnID)]
	s.mu.Lock()
	s.m[c.ConnID] = c
	s.mu.Unlock()

	r.byTenant.add(c.TenantID, c)
	return r.byUser.add(c.UserID, c)
}

// Unregister removes a connection and returns it together with the user's
// remaining connection count. Removing one device never touches the others.
func (r *Registry) Unregister(connID string) (*Client, int) {
	s := &r.byConn[shardFor(connID)]
	s.mu.Lock()
	c, ok := s.m[connID]
	delete(s.m, connID)
	s.mu.Unlock()
	if !ok {
		return nil, 0
	}

	r.byTenant.remove(c.TenantID, connID)
	remaining := r.byUser.remove(c.UserID, connID)
	return c, remaining
}

func (r *Registry) Get(connID string) (*Client, bool) {
	s := &r.byConn[shardFor(connID)]
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.m[connID]
	return c, ok
}

func (r *Registry) ByUser(userID string) []*Client     { return r.byUser.list(userID) }
func (r *Registry) ByTenant(tenantID string) []*Client { return r.byTenant.list(tenantID) }
func (r *Registry) UserConns(userID string) int        { return r.byUser.count(userID) }

// All snapshots every live connection.
func (r *Registry) All() []*Client {
	var out []*Client
	for i := range r.byConn {
		s := &r.byConn[i]
		s.mu.RLock()
		for _, c := range s.m {
			out = append(out, c)
		}
		s.mu.RUnlock()
	}
	return out
}

// ConnectedUser is the view exposed to surrounding services.
type ConnectedUser struct {
	UserID      string    `json:"userId"`
	TenantID    string    `json:"tenantId"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ConnectedUsers lists distinct users with at least one live connection,
// reporting the earliest connect time per user.
func (r *Registry) ConnectedUsers() []ConnectedUser {
	seen := make(map[string]*ConnectedUser)
	for _, c := range r.All() {
		if u, ok := seen[c.UserID]; ok {
			if c.EstablishedAt.Before(u.ConnectedAt) {
				u.ConnectedAt = c.EstablishedAt
			}
			continue
		}
		seen[c.UserID] = &ConnectedUser{
			UserID:      c.UserID,
			TenantID:    c.TenantID,
			ConnectedAt: c.EstablishedAt,
		}
	}
	out := make([]ConnectedUser, 0, len(seen))
	for _, u := range seen {
		out = append(out, *u)
	}
	return out
}
