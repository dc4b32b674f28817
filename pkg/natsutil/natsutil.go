// Package natsutil provides typed NATS publish/subscribe helpers with
// OpenTelemetry trace propagation. The monitor uses it to hand a finished
// run to downstream consumers.
package natsutil

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// MsgIDHeader carries a stable message id so JetStream-backed consumers can
// drop redelivered handoffs.
const MsgIDHeader = nats.MsgIdHdr

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

const flushTimeout = 5 * time.Second

// Connect dials url with a client name and bounded reconnect behaviour
// suited to a short-lived batch process.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers. A non-empty
// msgID is set as the Nats-Msg-Id header.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject, msgID string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  make(nats.Header),
	}
	if msgID != "" {
		msg.Header.Set(MsgIDHeader, msgID)
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	if err := nc.PublishMsg(msg); err != nil {
		return err
	}
	// A batch job exits right after publishing; flush so the message is not
	// lost in the client buffer.
	if _, ok := ctx.Deadline(); !ok {
		return nc.FlushTimeout(flushTimeout)
	}
	return nc.FlushWithContext(ctx)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are silently dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return // drop malformed messages
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	})
}
