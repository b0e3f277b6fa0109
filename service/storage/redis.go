package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/itellico/mono-sub017/logger"
)

// Config for the redis-backed store.
type Config struct {
	Addr     string
	Password string
	DB       int
}

type redisStore struct {
	rdb *redis.Client
}

// NewRedis connects to redis and verifies the link with a ping.
func NewRedis(ctx context.Context, c Config) (Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "redis ping")
	}
	return &redisStore{rdb: rdb}, nil
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.Wrap(s.rdb.Set(ctx, key, value, ttl).Err(), "redis set")
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return val, nil
}

func (s *redisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if window > 0 {
		pipe.Expire(ctx, key, window)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "redis incr")
	}
	return incr.Val(), nil
}

func (s *redisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	return ok, nil
}

func (s *redisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return errors.Wrap(s.rdb.Publish(ctx, channel, payload).Err(), "redis publish")
}

// Subscribe pumps messages from a dedicated pub/sub connection. go-redis
// reconnects the underlying connection itself; the pump survives transient
// receive errors and only exits when stopped.
func (s *redisStore) Subscribe(ctx context.Context, channel string, fn func(payload []byte)) (func(), error) {
	sub := s.rdb.Subscribe(ctx, channel)
	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Wrap(err, "redis subscribe")
	}

	done := make(chan struct{})
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					logger.Warnf("[storage] pubsub channel %s closed", channel)
					return
				}
				fn([]byte(msg.Payload))
			}
		}
	}()

	stop := func() {
		close(done)
		_ = sub.Close()
	}
	return stop, nil
}

func (s *redisStore) Close() error {
	return s.rdb.Close()
}
