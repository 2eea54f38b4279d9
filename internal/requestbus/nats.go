// Package requestbus exposes watering requests over NATS request/reply.
// External schedulers publish a JSON WaterRequest to the request subject and
// receive the session outcome as the reply.
package requestbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/planthopper/planthopper/internal/control"
	"github.com/planthopper/planthopper/internal/monitoring"
)

// Dispatcher is the surface the bus drives. *control.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, wr control.WaterRequest) (control.Result, error)
}

// errorReply is sent when a request cannot be dispatched at all.
type errorReply struct {
	Error string `json:"error"`
}

// Bus subscribes to a NATS subject and dispatches watering requests.
type Bus struct {
	conn       *nats.Conn
	dispatcher Dispatcher
	subject    string
}

// Connect dials the NATS server and returns a bus ready to serve. Reconnects
// are retried indefinitely with a short wait.
func Connect(url, subject string, dispatcher Dispatcher) (*Bus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			monitoring.Logf("request bus: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			monitoring.Logf("request bus: reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to request bus at %s: %w", url, err)
	}
	return &Bus{conn: conn, dispatcher: dispatcher, subject: subject}, nil
}

// NewBus wraps an existing connection; the caller keeps ownership of conn.
func NewBus(conn *nats.Conn, subject string, dispatcher Dispatcher) *Bus {
	return &Bus{conn: conn, dispatcher: dispatcher, subject: subject}
}

// Serve subscribes to the request subject and dispatches until ctx is
// cancelled. Each request runs in its own goroutine so a long session does
// not block later requests.
func (b *Bus) Serve(ctx context.Context) error {
	sub, err := b.conn.Subscribe(b.subject, func(msg *nats.Msg) {
		go b.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", b.subject, err)
	}
	defer sub.Unsubscribe()

	monitoring.Logf("request bus: serving watering requests on %s", b.subject)
	<-ctx.Done()
	return ctx.Err()
}

func (b *Bus) handle(ctx context.Context, msg *nats.Msg) {
	var wr control.WaterRequest
	if err := json.Unmarshal(msg.Data, &wr); err != nil {
		monitoring.Logf("request bus: malformed request: %v", err)
		b.reply(msg, errorReply{Error: fmt.Sprintf("malformed request: %v", err)})
		return
	}

	result, err := b.dispatcher.Dispatch(ctx, wr)
	if err != nil {
		// Cancellation means shutdown; the requester gets no outcome.
		if errors.Is(err, context.Canceled) {
			return
		}
		b.reply(msg, errorReply{Error: err.Error()})
		return
	}

	b.reply(msg, result)
}

func (b *Bus) reply(msg *nats.Msg, payload any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		monitoring.Logf("request bus: marshal reply: %v", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		monitoring.Logf("request bus: respond: %v", err)
	}
}

// Close drains the connection.
func (b *Bus) Close() {
	if b.conn != nil && !b.conn.IsClosed() {
		b.conn.Close()
	}
}
