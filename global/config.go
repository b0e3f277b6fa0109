package global

import (
	"os"
	"strconv"
	"time"

	"github.com/itellico/mono-sub017/tools/ids"
)

// AppConfig carries everything the realtime core needs at startup.
// Values come from the environment; zero values are normalized by Norm().
type AppConfig struct {
	InstanceID string // unique per process, participates in bridge origin tagging
	HTTPAddr   string // gin listen address

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NatsServers string // comma-separated; empty disables platform ingest

	JWTSecret []byte

	HandshakeTimeout  time.Duration // bound on credential verification at upgrade
	HeartbeatInterval time.Duration // ping cadence
	StaleTimeout      time.Duration // read deadline; unresponsive transports are closed
	PresenceGrace     time.Duration // disconnect → offline grace window
	PresenceTTL       time.Duration // presence record TTL in the store

	MessageTTL      time.Duration // message envelopes, default 24h
	NotificationTTL time.Duration // notification envelopes, default 7d
	ViewDedupeTTL   time.Duration // per-actor view marker window, default 1h
	LikeDedupeTTL   time.Duration // per-actor like marker window, default 24h

	FanoutWorkers int
	FanoutQueue   int
	SendQueueSize int // per-connection outbound buffer
}

// Load reads the environment into an AppConfig and normalizes it.
func Load() *AppConfig {
	c := &AppConfig{
		InstanceID:    os.Getenv("INSTANCE_ID"),
		HTTPAddr:      os.Getenv("HTTP_ADDR"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		NatsServers:   os.Getenv("NATS_SERVERS"),
		JWTSecret:     []byte(os.Getenv("JWT_SECRET")),
	}
	c.Norm()
	return c
}

// Norm fills defaults for anything unset.
func (c *AppConfig) Norm() {
	if c.InstanceID == "" {
		c.InstanceID = "rt-" + ids.GenerateString()
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "127.0.0.1:6379"
	}
	if len(c.JWTSecret) == 0 {
		c.JWTSecret = []byte("dev-only-secret")
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.StaleTimeout <= 0 {
		c.StaleTimeout = 60 * time.Second
	}
	if c.PresenceGrace <= 0 {
		c.PresenceGrace = 30 * time.Second
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 5 * time.Minute
	}
	if c.MessageTTL <= 0 {
		c.MessageTTL = 24 * time.Hour
	}
	if c.NotificationTTL <= 0 {
		c.NotificationTTL = 7 * 24 * time.Hour
	}
	if c.ViewDedupeTTL <= 0 {
		c.ViewDedupeTTL = time.Hour
	}
	if c.LikeDedupeTTL <= 0 {
		c.LikeDedupeTTL = 24 * time.Hour
	}
	if c.FanoutWorkers <= 0 {
		c.FanoutWorkers = 8
	}
	if c.FanoutQueue <= 0 {
		c.FanoutQueue = 1024
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = 256
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
