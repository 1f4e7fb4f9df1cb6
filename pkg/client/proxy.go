package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/NicolasHaas/screenshare/pkg/model"
	pb "github.com/NicolasHaas/screenshare/pkg/protocol/pb"
	"github.com/NicolasHaas/screenshare/pkg/wire"
)

var (
	ErrNotJoined     = errors.New("client: user is not connected")
	ErrAlreadyJoined = errors.New("client: user is already connected")
)

// Move is a relocation the simulated routing layer applied.
type Move struct {
	User model.User
	From string
	To   string
}

// Presence is one simulated user and the endpoint they occupy.
type Presence struct {
	User     model.User `json:"user" yaml:"user"`
	Endpoint string     `json:"endpoint" yaml:"endpoint"`
	Silent   bool       `json:"silent,omitempty" yaml:"silent,omitempty"`
}

// Proxy simulates the routing layer: it holds one control connection per
// user, answers location queries with the user's endpoint and applies
// relocations. It is used by integration tests and the proxysim command.
type Proxy struct {
	addr    string
	tlsCfg  *tls.Config
	channel string
	onMove  func(Move)
	onError func(model.User, *pb.ErrorResponse)

	mu    sync.Mutex
	users map[model.UserID]*simUser
}

type simUser struct {
	conn     *ControlClient
	endpoint string
	silent   bool
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// WithTLSConfig sets the TLS config used to dial the host.
func WithTLSConfig(cfg *tls.Config) ProxyOption {
	return func(p *Proxy) { p.tlsCfg = cfg }
}

// WithPluginChannel overrides the plugin channel (default wire.Channel).
func WithPluginChannel(name string) ProxyOption {
	return func(p *Proxy) { p.channel = name }
}

// WithMoveHook is called after every applied relocation.
func WithMoveHook(fn func(Move)) ProxyOption {
	return func(p *Proxy) { p.onMove = fn }
}

// WithErrorHook is called for every ErrorResponse the host sends.
func WithErrorHook(fn func(model.User, *pb.ErrorResponse)) ProxyOption {
	return func(p *Proxy) { p.onError = fn }
}

// NewProxy creates a simulator for the host at addr. Nothing is dialed until
// Join.
func NewProxy(addr string, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		addr:    addr,
		channel: wire.Channel,
		users:   make(map[model.UserID]*simUser),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OfflineID derives a stable user id from a name, for rosters that do not
// pin one.
func OfflineID(name string) model.UserID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("screenshare:"+strings.ToLower(name)))
}

// Join connects user to the host, placing them on endpoint.
func (p *Proxy) Join(ctx context.Context, user model.User, endpoint string) error {
	p.mu.Lock()
	if _, ok := p.users[user.ID]; ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, user.Username)
	}
	p.mu.Unlock()

	conn, err := DialControl(ctx, p.addr, user, p.tlsCfg)
	if err != nil {
		return err
	}
	su := &simUser{conn: conn, endpoint: endpoint}

	p.mu.Lock()
	if _, ok := p.users[user.ID]; ok {
		p.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%w: %s", ErrAlreadyJoined, user.Username)
	}
	p.users[user.ID] = su
	p.mu.Unlock()

	conn.SetEventHandler(func(msg *pb.ControlMessage) { p.handle(su, msg) })
	conn.StartReceiving()
	go func() {
		<-conn.Done()
		p.mu.Lock()
		if p.users[user.ID] == su {
			delete(p.users, user.ID)
		}
		p.mu.Unlock()
	}()

	slog.Info("user joined", "user", user.Username, "endpoint", endpoint)
	return nil
}

func (p *Proxy) handle(su *simUser, msg *pb.ControlMessage) {
	user := su.conn.User()
	switch {
	case msg.ErrorResponse != nil:
		slog.Warn("host error", "user", user.Username, "code", msg.ErrorResponse.Code, "msg", msg.ErrorResponse.Message)
		if p.onError != nil {
			p.onError(user, msg.ErrorResponse)
		}

	case msg.PluginMessage != nil:
		if msg.PluginMessage.Channel != p.channel {
			return
		}
		m, err := wire.Decode(msg.PluginMessage.Data)
		if err != nil {
			slog.Warn("bad plugin message from host", "user", user.Username, "err", err)
			return
		}
		switch m.Kind {
		case wire.KindRelocate:
			p.mu.Lock()
			from := su.endpoint
			su.endpoint = m.Endpoint
			p.mu.Unlock()
			slog.Info("user relocated", "user", user.Username, "from", from, "to", m.Endpoint)
			if p.onMove != nil {
				p.onMove(Move{User: user, From: from, To: m.Endpoint})
			}

		case wire.KindLocationQuery:
			p.mu.Lock()
			endpoint, silent := su.endpoint, su.silent
			p.mu.Unlock()
			if silent {
				slog.Debug("ignoring location query", "user", user.Username)
				return
			}
			data, err := wire.Encode(wire.LocationReply(endpoint))
			if err != nil {
				slog.Error("encode location reply", "err", err)
				return
			}
			if err := su.conn.SendPluginMessage(p.channel, data); err != nil {
				slog.Warn("location reply not sent", "user", user.Username, "err", err)
			}
		}
	}
}

func (p *Proxy) get(id model.UserID) (*simUser, error) {
	su, ok := p.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotJoined, id)
	}
	return su, nil
}

// Leave disconnects the user.
func (p *Proxy) Leave(id model.UserID) error {
	p.mu.Lock()
	su, err := p.get(id)
	if err == nil {
		delete(p.users, id)
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	_ = su.conn.Close()
	<-su.conn.Done()
	return nil
}

// Walk moves a user on the simulator's own initiative, as if they had used
// the routing layer's server switcher.
func (p *Proxy) Walk(id model.UserID, endpoint string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	su, err := p.get(id)
	if err != nil {
		return err
	}
	su.endpoint = endpoint
	return nil
}

// SetSilent makes the simulator ignore location queries for the user.
func (p *Proxy) SetSilent(id model.UserID, silent bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	su, err := p.get(id)
	if err != nil {
		return err
	}
	su.silent = silent
	return nil
}

// Endpoint returns where the user currently is.
func (p *Proxy) Endpoint(id model.UserID) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	su, ok := p.users[id]
	if !ok {
		return "", false
	}
	return su.endpoint, true
}

// Users returns every connected user, sorted by name.
func (p *Proxy) Users() []Presence {
	p.mu.Lock()
	out := make([]Presence, 0, len(p.users))
	for _, su := range p.users {
		out = append(out, Presence{User: su.conn.User(), Endpoint: su.endpoint, Silent: su.silent})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].User.Username) < strings.ToLower(out[j].User.Username)
	})
	return out
}

// Close disconnects every user.
func (p *Proxy) Close() {
	p.mu.Lock()
	users := p.users
	p.users = make(map[model.UserID]*simUser)
	p.mu.Unlock()
	for _, su := range users {
		_ = su.conn.Close()
	}
	for _, su := range users {
		<-su.conn.Done()
	}
}
