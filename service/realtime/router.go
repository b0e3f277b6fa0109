package realtime

import (
	"context"

	"github.com/pkg/errors"

	"github.com/itellico/mono-sub017/logger"
	"github.com/itellico/mono-sub017/tools/errs"
)

// Handler processes one inbound event type.
type Handler interface {
	Event() string
	Handle(ctx context.Context, c *Client, payload map[string]any) error
}

// Dispatcher validates and routes inbound events to exactly one handler.
// Failures are reported to the originating connection as an `error` event;
// the connection is never closed over a bad payload.
type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Event()] = h }

func (d *Dispatcher) Dispatch(ctx context.Context, c *Client, f *InboundFrame) {
	h, ok := d.handlers[f.Event]
	if !ok {
		d.sendError(c, errs.ErrUnknownEvent.WithDetail(f.Event))
		return
	}
	if err := h.Handle(ctx, c, f.Payload); err != nil {
		var ce *errs.CodeError
		if errors.As(err, &ce) {
			d.sendError(c, ce)
			return
		}
		// Internal failures (store outage etc.) are degradation, not a
		// client error; they were already logged where they happened.
		logger.Debugf("[router] handler %s user=%s: %v", f.Event, c.UserID, err)
	}
}

func (d *Dispatcher) sendError(c *Client, ce *errs.CodeError) {
	c.enqueue(EncodeFrame(EventError, ce))
}
