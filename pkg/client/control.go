// Package client implements the two peers of the screenshare host: the
// routing-layer side of the control plane and the admin API client.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/protocol"
	pb "github.com/NicolasHaas/screenshare/pkg/protocol/pb"
)

// EventHandler is a callback for incoming control messages.
type EventHandler func(msg *pb.ControlMessage)

// ErrRejected wraps an ErrorResponse received instead of a HelloAck.
var ErrRejected = errors.New("client: hello rejected")

// ControlClient is one user's control connection to the coordinator host.
type ControlClient struct {
	conn    net.Conn
	user    model.User
	ack     *pb.HelloAck
	mu      sync.Mutex
	handler EventHandler
	done    chan struct{}
}

// DialControl connects to the host's control plane via TLS and performs the
// hello handshake for user. A nil tlsCfg accepts the host's self-signed
// certificate.
func DialControl(ctx context.Context, addr string, user model.User, tlsCfg *tls.Config) (*ControlClient, error) {
	if tlsCfg == nil {
		tlsCfg = &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // host generates a self-signed cert by default
			MinVersion:         tls.VersionTLS13,
		}
	}

	dialer := &tls.Dialer{Config: tlsCfg}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect control: %w", err)
	}

	c := &ControlClient{conn: conn, user: user, done: make(chan struct{})}
	if err := c.hello(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *ControlClient) hello(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetDeadline(deadline)
		defer func() { _ = c.conn.SetDeadline(time.Time{}) }()
	}
	if err := c.Send(&pb.ControlMessage{
		Hello: &pb.Hello{UserID: c.user.ID.String(), Username: c.user.Username},
	}); err != nil {
		return fmt.Errorf("client: send hello: %w", err)
	}

	msg, err := protocol.ReadControlMessage(c.conn)
	if err != nil {
		return fmt.Errorf("client: read hello ack: %w", err)
	}
	if msg.ErrorResponse != nil {
		return fmt.Errorf("%w: %d %s", ErrRejected, msg.ErrorResponse.Code, msg.ErrorResponse.Message)
	}
	if msg.HelloAck == nil {
		return errors.New("client: unexpected response type")
	}
	c.ack = msg.HelloAck
	return nil
}

// User returns the user this connection speaks for.
func (c *ControlClient) User() model.User {
	return c.user
}

// Ack returns the host's handshake reply.
func (c *ControlClient) Ack() *pb.HelloAck {
	return c.ack
}

// SetEventHandler sets the callback for incoming control messages. It must be
// called before StartReceiving.
func (c *ControlClient) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// Send sends a control message to the host.
func (c *ControlClient) Send(msg *pb.ControlMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WriteControlMessage(c.conn, msg)
}

// SendPluginMessage forwards a plugin channel payload to the host.
func (c *ControlClient) SendPluginMessage(channel string, data []byte) error {
	return c.Send(&pb.ControlMessage{
		PluginMessage: &pb.PluginMessage{Channel: channel, Data: data},
	})
}

// StartReceiving starts a goroutine that reads incoming control messages
// and dispatches them to the event handler.
func (c *ControlClient) StartReceiving() {
	go func() {
		defer close(c.done)
		for {
			msg, err := protocol.ReadControlMessage(c.conn)
			if err != nil {
				if errors.Is(err, io.EOF) || isClosedErr(err) {
					slog.Debug("control connection closed", "user", c.user.Username)
					return
				}
				slog.Error("control read error", "user", c.user.Username, "err", err)
				return
			}
			if c.handler != nil {
				c.handler(msg)
			}
		}
	}()
}

// Close closes the control connection.
func (c *ControlClient) Close() error {
	return c.conn.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *ControlClient) Done() <-chan struct{} {
	return c.done
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
