package storage

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local development.
// TTL handling is lazy: expired entries are dropped on read. Pub/sub is
// synchronous, so two Server instances sharing one MemoryStore behave like
// two nodes on the same broker.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memEntry
	subs map[string][]*memSub

	// Clock is injectable for expiry tests; nil means time.Now.
	Clock func() time.Time
}

type memEntry struct {
	value    []byte
	expireAt time.Time // zero means no expiry
}

type memSub struct {
	fn     func([]byte)
	closed bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memEntry),
		subs: make(map[string][]*memSub),
	}
}

func (s *MemoryStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = memEntry{value: value, expireAt: s.expiry(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || s.expired(e) {
		delete(s.data, key)
		return nil, ErrNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	if e, ok := s.data[key]; ok && !s.expired(e) {
		n, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	n++
	s.data[key] = memEntry{value: []byte(strconv.FormatInt(n, 10)), expireAt: s.expiry(window)}
	return n, nil
}

func (s *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok && !s.expired(e) {
		return false, nil
	}
	s.data[key] = memEntry{value: value, expireAt: s.expiry(ttl)}
	return true, nil
}

func (s *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.RLock()
	subs := make([]*memSub, 0, len(s.subs[channel]))
	for _, sub := range s.subs[channel] {
		if !sub.closed {
			subs = append(subs, sub)
		}
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(payload)
	}
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, channel string, fn func([]byte)) (func(), error) {
	sub := &memSub{fn: fn}
	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.mu.Unlock()

	stop := func() {
		s.mu.Lock()
		sub.closed = true
		s.mu.Unlock()
	}
	return stop, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) expired(e memEntry) bool {
	return !e.expireAt.IsZero() && s.now().After(e.expireAt)
}
