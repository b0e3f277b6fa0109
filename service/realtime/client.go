package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents one live connection to the gateway. A single user may
// have multiple devices, each with its own Client. The registry owns the
// Client for its lifetime: created on a successful handshake, destroyed on
// transport close.
type Client struct {
	ConnID        string
	UserID        string
	TenantID      string
	EstablishedAt time.Time
	Meta          map[string]string // client metadata captured at handshake (ua, ip)

	WS   *websocket.Conn
	Send chan []byte // outbound queue, consumed by a single writer goroutine

	lastActivity int64 // unix millis, atomic
	closeOnce    sync.Once
	closed       chan struct{}
}

// NewClient builds a client connection object. ws may be nil in tests; the
// Send queue is then inspected directly.
func NewClient(connID, userID, tenantID string, ws *websocket.Conn, sendQueueSize int) *Client {
	return &Client{
		ConnID:        connID,
		UserID:        userID,
		TenantID:      tenantID,
		EstablishedAt: time.Now(),
		Meta:          map[string]string{},
		WS:            ws,
		Send:          make(chan []byte, sendQueueSize),
		lastActivity:  time.Now().UnixMilli(),
		closed:        make(chan struct{}),
	}
}

// Touch refreshes the activity timestamp.
func (c *Client) Touch() {
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixMilli())
}

func (c *Client) LastActivityAt() time.Time {
	return time.UnixMilli(atomic.LoadInt64(&c.lastActivity))
}

// enqueue pushes a payload onto the send queue without blocking. A full
// queue means a slow client; the frame is dropped rather than stalling the
// fanout worker.
func (c *Client) enqueue(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// close marks the client dead and wakes the writer goroutine. Idempotent.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Closed reports whether close has been called.
func (c *Client) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
