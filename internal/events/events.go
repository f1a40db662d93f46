// Package events carries message-created notifications over NATS so chat
// message indexing can run in a worker instead of the request path.
// Trace context travels in the NATS message headers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// DefaultSubject is where message-created events are published
const DefaultSubject = "embedsync.message.created"

// DefaultQueue is the queue group shared by indexing workers
const DefaultQueue = "embedsync-indexers"

// MessageCreated announces a chat message that needs indexing
type MessageCreated struct {
	MessageID string `json:"message_id"`
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// newMsg encodes v and injects the trace context from ctx
func newMsg(ctx context.Context, subject string, v any) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publisher publishes MessageCreated events
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a publisher on subject, DefaultSubject when empty
func NewPublisher(nc *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{nc: nc, subject: subject}
}

// PublishMessageCreated queues messageID for indexing
func (p *Publisher) PublishMessageCreated(ctx context.Context, messageID string) error {
	if messageID == "" {
		return fmt.Errorf("message id is required")
	}
	msg, err := newMsg(ctx, p.subject, MessageCreated{MessageID: messageID})
	if err != nil {
		return err
	}
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", p.subject, err)
	}
	return nil
}

// Handler processes one event. Errors are logged; NATS core delivery is
// at-most-once so nothing is redelivered.
type Handler func(ctx context.Context, ev MessageCreated) error

// Subscribe delivers MessageCreated events to handler through a queue group,
// so each event reaches one worker. Malformed events are logged and dropped.
func Subscribe(nc *nats.Conn, subject, queue string, handler Handler, logger *slog.Logger) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}

	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ev, ctx, err := decode(msg)
		if err != nil {
			logger.Warn("dropping malformed event", "subject", msg.Subject, "error", err)
			return
		}
		if err := handler(ctx, ev); err != nil {
			logger.Error("event handler failed", "subject", msg.Subject, "message_id", ev.MessageID, "error", err)
		}
	})
}

func decode(msg *nats.Msg) (MessageCreated, context.Context, error) {
	var ev MessageCreated
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return ev, nil, err
	}
	if ev.MessageID == "" {
		return ev, nil, fmt.Errorf("missing message_id")
	}
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
	return ev, ctx, nil
}

// Conn is a NATS connection that reports when it has fully closed
type Conn struct {
	*nats.Conn
	closed chan struct{}
}

// Connect dials url. Extra options are applied after the close handler.
func Connect(url, name string, opts ...nats.Option) (*Conn, error) {
	closed := make(chan struct{})
	all := append([]nats.Option{
		nats.Name(name),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	}, opts...)
	nc, err := nats.Connect(url, all...)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: nc, closed: closed}, nil
}

// DrainAndWait drains every subscription, waits for in-flight handlers to
// return and for the connection to close. It gives up after timeout.
func (c *Conn) DrainAndWait(timeout time.Duration) error {
	if err := c.Drain(); err != nil {
		return fmt.Errorf("failed to drain: %w", err)
	}
	select {
	case <-c.closed:
		return nil
	case <-time.After(timeout):
		c.Close()
		return fmt.Errorf("drain did not finish within %s", timeout)
	}
}
