// Package lookup correlates location queries sent to the routing layer with
// the replies that come back on the same fire-and-forget channel.
//
// At most one lookup is pending per user. A lookup ends exactly once: on the
// first reply attributed to that user, on its deadline, on Cancel (the user
// disconnected), on the caller's context, or on Close.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/screenshare/pkg/clock"
	"github.com/NicolasHaas/screenshare/pkg/messaging"
	"github.com/NicolasHaas/screenshare/pkg/metrics"
	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/wire"
)

// DefaultTimeout bounds how long a query waits for its reply.
const DefaultTimeout = 5 * time.Second

var (
	ErrLookupInProgress = errors.New("lookup: location lookup already in progress")
	ErrLookupTimeout    = errors.New("lookup: timed out waiting for location reply")
	ErrLookupCancelled  = errors.New("lookup: cancelled")
	ErrRegistryClosed   = errors.New("lookup: registry closed")
)

// Sender writes a wire message to a user.
type Sender interface {
	Send(user model.UserID, msg wire.Message) error
}

type result struct {
	endpoint string
	err      error
}

type pending struct {
	id       string
	user     model.UserID
	deadline time.Time
	timer    clock.Timer
	done     chan result
}

// Registry holds the pending lookups.
type Registry struct {
	sender  Sender
	timeout time.Duration
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	closed  bool
	pending map[model.UserID]*pending
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the per-lookup deadline. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates a registry that issues queries through sender.
func New(sender Sender, opts ...Option) *Registry {
	r := &Registry{
		sender:  sender,
		timeout: DefaultTimeout,
		clock:   clock.Real{},
		pending: make(map[model.UserID]*pending),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	return r
}

// Timeout returns the configured per-lookup deadline.
func (r *Registry) Timeout() time.Duration { return r.timeout }

// Query asks the routing layer which endpoint user occupies and blocks until
// the answer arrives or the lookup ends otherwise.
func (r *Registry) Query(ctx context.Context, user model.UserID) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrRegistryClosed
	}
	if _, busy := r.pending[user]; busy {
		r.mu.Unlock()
		r.metrics.LookupsBusy.Add(1)
		return "", ErrLookupInProgress
	}
	p := &pending{
		id:       uuid.NewString(),
		user:     user,
		deadline: r.clock.Now().Add(r.timeout),
		done:     make(chan result, 1),
	}
	r.pending[user] = p
	p.timer = r.clock.AfterFunc(r.timeout, func() {
		if r.resolve(p, result{err: ErrLookupTimeout}) {
			r.metrics.LookupsTimedOut.Add(1)
			r.log.Warn("location lookup timed out", "user", user, "lookup", p.id, "timeout", r.timeout)
		}
	})
	r.mu.Unlock()

	r.metrics.LookupsIssued.Add(1)
	r.log.Debug("location lookup issued", "user", user, "lookup", p.id, "deadline", p.deadline)

	if err := r.sender.Send(user, wire.LocationQuery()); err != nil {
		if r.resolve(p, result{err: fmt.Errorf("%w: %w", ErrLookupCancelled, err)}) {
			r.metrics.LookupsCancelled.Add(1)
		}
	}

	select {
	case res := <-p.done:
		return res.endpoint, res.err
	case <-ctx.Done():
		if r.resolve(p, result{err: fmt.Errorf("%w: %w", ErrLookupCancelled, ctx.Err())}) {
			r.metrics.LookupsCancelled.Add(1)
		}
		// Either our resolution or one that won the race is buffered.
		res := <-p.done
		return res.endpoint, res.err
	}
}

// HandleInbound resolves the pending lookup of the reply's sender. Replies
// that cannot be attributed to a user, or that arrive with nothing pending
// for that user, are discarded. Subscribe it on the messaging client.
func (r *Registry) HandleInbound(in messaging.Inbound) {
	if in.Message.Kind != wire.KindLocationReply {
		return
	}
	if !in.HasUser {
		r.metrics.StrayReplies.Add(1)
		r.log.Debug("discarding location reply without user", "sender", in.Sender)
		return
	}

	r.mu.Lock()
	p := r.pending[in.User]
	r.mu.Unlock()
	if p == nil || !r.resolve(p, result{endpoint: in.Message.Endpoint}) {
		r.metrics.StrayReplies.Add(1)
		r.log.Debug("discarding stray location reply", "user", in.User, "endpoint", in.Message.Endpoint)
		return
	}
	r.metrics.LookupsResolved.Add(1)
	r.log.Debug("location lookup resolved", "user", in.User, "lookup", p.id, "endpoint", in.Message.Endpoint)
}

// Cancel ends the pending lookup for user, if any, with ErrLookupCancelled.
func (r *Registry) Cancel(user model.UserID) bool {
	r.mu.Lock()
	p := r.pending[user]
	r.mu.Unlock()
	if p == nil {
		return false
	}
	if !r.resolve(p, result{err: ErrLookupCancelled}) {
		return false
	}
	r.metrics.LookupsCancelled.Add(1)
	return true
}

// Pending reports whether a lookup is outstanding for user.
func (r *Registry) Pending(user model.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[user]
	return ok
}

// Len returns the number of outstanding lookups.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close cancels every outstanding lookup. Later queries fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	all := make([]*pending, 0, len(r.pending))
	for _, p := range r.pending {
		all = append(all, p)
	}
	r.mu.Unlock()

	n := 0
	for _, p := range all {
		if r.resolve(p, result{err: fmt.Errorf("%w: %w", ErrLookupCancelled, ErrRegistryClosed)}) {
			n++
		}
	}
	if n > 0 {
		r.metrics.LookupsCancelled.Add(int64(n))
		r.log.Info("cancelled pending location lookups", "count", n)
	}
}

// resolve removes p and hands res to its waiter. It reports false when p was
// already resolved, so every lookup's waiter receives exactly one result.
func (r *Registry) resolve(p *pending, res result) bool {
	r.mu.Lock()
	if cur, ok := r.pending[p.user]; !ok || cur != p {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, p.user)
	r.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.done <- res
	return true
}
