// Package messaging sends and receives wire messages on the routing layer's
// plugin channel, one user transport at a time.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NicolasHaas/screenshare/pkg/metrics"
	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/wire"
)

var ErrNoTransport = errors.New("messaging: user has no active transport")

// Conn writes a raw plugin message on one user's connection.
type Conn interface {
	SendPluginMessage(channel string, data []byte) error
}

// Transport resolves the live connection for a user.
type Transport interface {
	Conn(user model.UserID) (Conn, bool)
}

// Inbound is a decoded message received on the plugin channel.
type Inbound struct {
	Sender  string       // raw sender identity, e.g. the connection's remote address
	User    model.UserID // originating user; valid only when HasUser is set
	HasUser bool
	Message wire.Message
}

// Handler consumes inbound messages. Handlers run on the transport's read
// goroutine and must not block.
type Handler func(Inbound)

// Client is the plugin-channel messaging client.
type Client struct {
	channel   string
	transport Transport
	log       *slog.Logger
	metrics   *metrics.Metrics

	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithChannel overrides the plugin channel name (default wire.Channel).
func WithChannel(name string) Option {
	return func(c *Client) { c.channel = name }
}

// New creates a messaging client writing through transport.
func New(transport Transport, opts ...Option) *Client {
	c := &Client{
		channel:   wire.Channel,
		transport: transport,
		handlers:  make(map[uint64]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	return c
}

// Channel returns the plugin channel name.
func (c *Client) Channel() string { return c.channel }

// Send encodes msg and writes it through the user's connection. A user
// without a connection is logged and reported as ErrNoTransport; callers
// that treat sends as fire-and-forget may ignore the error.
func (c *Client) Send(user model.UserID, msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("messaging: send %s: %w", msg.Kind, err)
	}
	conn, ok := c.transport.Conn(user)
	if !ok {
		c.metrics.SendFailures.Add(1)
		c.log.Debug("dropping plugin message, user has no transport", "user", user, "kind", msg.Kind)
		return ErrNoTransport
	}
	if err := conn.SendPluginMessage(c.channel, data); err != nil {
		c.metrics.SendFailures.Add(1)
		c.log.Warn("plugin message write failed", "user", user, "kind", msg.Kind, "err", err)
		return fmt.Errorf("messaging: send %s: %w", msg.Kind, err)
	}
	c.metrics.MessagesOut.Add(1)
	c.metrics.BytesOut.Add(int64(len(data)))
	c.log.Debug("plugin message sent", "user", user, "kind", msg.Kind, "endpoint", msg.Endpoint)
	return nil
}

// Subscribe registers h for every inbound message on the channel and returns
// a function that removes it.
func (c *Client) Subscribe(h Handler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.handlers, id)
			c.mu.Unlock()
		})
	}
}

// Deliver is the inbound entry point used by transport read loops. Messages
// on other channels are ignored; malformed payloads are logged and dropped.
func (c *Client) Deliver(sender string, user model.UserID, hasUser bool, channel string, data []byte) {
	if channel != c.channel {
		return
	}
	c.metrics.MessagesIn.Add(1)
	c.metrics.BytesIn.Add(int64(len(data)))

	msg, err := wire.Decode(data)
	if err != nil {
		c.metrics.MalformedMessages.Add(1)
		c.log.Warn("dropping malformed plugin message", "sender", sender, "bytes", len(data), "err", err)
		return
	}

	in := Inbound{Sender: sender, User: user, HasUser: hasUser, Message: msg}
	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	for _, h := range handlers {
		h(in)
	}
}
