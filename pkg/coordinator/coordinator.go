// Package coordinator implements the screenshare session state machine:
// relocating a user to the target endpoint, remembering where they came
// from, and sending them back exactly once.
//
// Per user the lifecycle is Idle -> Pending (location lookup in flight) ->
// Active (session recorded, relocation sent) -> Idle (returned, or
// disconnected). Different users never block each other.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasHaas/screenshare/pkg/clock"
	"github.com/NicolasHaas/screenshare/pkg/console"
	"github.com/NicolasHaas/screenshare/pkg/lookup"
	"github.com/NicolasHaas/screenshare/pkg/metrics"
	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/session"
	"github.com/NicolasHaas/screenshare/pkg/wire"
)

// DefaultJoinDelay is how long after the relocation the on-join command runs,
// giving the routing layer time to complete the move.
const DefaultJoinDelay = 3 * time.Second

// Config is the part of the configuration the coordinator consumes. It can be
// swapped at runtime with Reconfigure; in-flight operations keep the values
// they started with.
type Config struct {
	TargetEndpoint   string
	OnJoinTemplate   string // empty disables the on-join command
	OnReturnTemplate string // empty disables the on-return command
	JoinDelay        time.Duration
}

// Presence reports whether a user is connected and under which name.
type Presence interface {
	Online(user model.UserID) (model.User, bool)
}

// Sender writes a wire message to a user, fire-and-forget.
type Sender interface {
	Send(user model.UserID, msg wire.Message) error
}

// Locator resolves a user's current endpoint.
type Locator interface {
	Query(ctx context.Context, user model.UserID) (string, error)
	Cancel(user model.UserID) bool
	Close()
}

// Recorder appends to the relocation journal.
type Recorder interface {
	Record(ctx context.Context, ev model.Event) error
}

// Dependencies are the collaborators of a Coordinator. Sessions, Lookups,
// Sender and Presence are required.
type Dependencies struct {
	Sessions   *session.Registry
	Lookups    Locator
	Sender     Sender
	Presence   Presence
	Dispatcher console.Dispatcher
	Recorder   Recorder
	Clock      clock.Clock
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// ResultKind says which operation produced a Result.
type ResultKind string

const (
	ResultStarted ResultKind = "started"
	ResultEnded   ResultKind = "ended"
)

// Result describes a completed Start or End.
type Result struct {
	Kind    ResultKind   `json:"kind"`
	User    model.UserID `json:"user"`
	Name    string       `json:"name"`
	Origin  string       `json:"origin"`
	Target  string       `json:"target"`
	Warning string       `json:"warning,omitempty"`
}

// Coordinator owns the session registry and the lookup registry.
type Coordinator struct {
	cfg        atomic.Pointer[Config]
	sessions   *session.Registry
	lookups    Locator
	sender     Sender
	presence   Presence
	dispatcher console.Dispatcher
	recorder   Recorder
	clock      clock.Clock
	log        *slog.Logger
	metrics    *metrics.Metrics
	closed     atomic.Bool
}

// New creates a Coordinator.
func New(cfg Config, deps Dependencies) (*Coordinator, error) {
	if deps.Sessions == nil || deps.Lookups == nil || deps.Sender == nil || deps.Presence == nil {
		return nil, errors.New("coordinator: sessions, lookups, sender and presence are required")
	}
	c := &Coordinator{
		sessions:   deps.Sessions,
		lookups:    deps.Lookups,
		sender:     deps.Sender,
		presence:   deps.Presence,
		dispatcher: deps.Dispatcher,
		recorder:   deps.Recorder,
		clock:      deps.Clock,
		log:        deps.Logger,
		metrics:    deps.Metrics,
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if err := c.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Config returns the active configuration.
func (c *Coordinator) Config() Config {
	return *c.cfg.Load()
}

// Reconfigure replaces the active configuration.
func (c *Coordinator) Reconfigure(cfg Config) error {
	cfg.TargetEndpoint = strings.TrimSpace(cfg.TargetEndpoint)
	if cfg.TargetEndpoint == "" {
		return ErrNoTargetEndpoint
	}
	if cfg.JoinDelay <= 0 {
		cfg.JoinDelay = DefaultJoinDelay
	}
	c.cfg.Store(&cfg)
	return nil
}

// Sessions returns a snapshot of all active sessions.
func (c *Coordinator) Sessions() []model.Session {
	return c.sessions.All()
}

// Session returns the user's active session.
func (c *Coordinator) Session(user model.UserID) (model.Session, bool) {
	return c.sessions.Get(user)
}

// ActiveCount returns the number of active sessions.
func (c *Coordinator) ActiveCount() int {
	return c.sessions.Len()
}

// Start relocates user to the target endpoint on behalf of requester.
func (c *Coordinator) Start(ctx context.Context, requester string, id model.UserID) (Result, error) {
	cfg := c.Config()
	log := c.log.With("user", id, "requester", requester)

	if c.closed.Load() {
		return Result{}, ErrShuttingDown
	}
	u, online := c.presence.Online(id)
	if !online {
		return Result{}, c.reject(ctx, requester, model.User{ID: id}, ErrUserOffline)
	}
	log = log.With("name", u.Username)
	if strings.EqualFold(requester, u.Username) {
		return Result{}, c.reject(ctx, requester, u, ErrSelfTarget)
	}
	if existing, ok := c.sessions.Get(id); ok {
		return Result{}, c.reject(ctx, requester, u, &AlreadyActiveError{Origin: existing.Origin})
	}

	current, err := c.lookups.Query(ctx, id)
	if err != nil {
		if errors.Is(err, lookup.ErrLookupInProgress) {
			return Result{}, c.reject(ctx, requester, u, err)
		}
		return Result{}, c.reject(ctx, requester, u, fmt.Errorf("%w: %w", ErrLocationUnknown, err))
	}
	if strings.TrimSpace(current) == "" {
		return Result{}, c.reject(ctx, requester, u, ErrLocationUnknown)
	}
	if strings.EqualFold(current, cfg.TargetEndpoint) {
		return Result{}, c.reject(ctx, requester, u, fmt.Errorf("%w (%s)", ErrAlreadyOnTarget, cfg.TargetEndpoint))
	}

	sess := model.Session{
		ID:        uuid.NewString(),
		UserID:    id,
		Username:  u.Username,
		Requester: requester,
		Origin:    current,
		Target:    cfg.TargetEndpoint,
		StartedAt: c.clock.Now(),
	}
	if existing, created := c.sessions.Create(sess); !created {
		return Result{}, c.reject(ctx, requester, u, &AlreadyActiveError{Origin: existing.Origin})
	}
	// Shutdown and OnDisconnect may have run while the lookup was in flight;
	// neither can see a session created after they cleared the registry.
	if c.closed.Load() {
		c.sessions.RemoveSession(id, sess.ID)
		return Result{}, ErrShuttingDown
	}
	if _, ok := c.presence.Online(id); !ok {
		c.sessions.RemoveSession(id, sess.ID)
		return Result{}, c.reject(ctx, requester, u, fmt.Errorf("%w: disconnected during the location lookup", ErrUserOffline))
	}

	if err := c.sender.Send(id, wire.Relocate(cfg.TargetEndpoint)); err != nil {
		log.Warn("relocate to target not delivered", "target", cfg.TargetEndpoint, "err", err)
	}
	c.scheduleJoin(sess, cfg)

	c.metrics.SessionsStarted.Add(1)
	log.Info("screenshare started", "origin", current, "target", cfg.TargetEndpoint)
	c.record(ctx, model.Event{
		Kind:      model.EventStarted,
		UserID:    id,
		Username:  u.Username,
		Requester: requester,
		Origin:    current,
		Target:    cfg.TargetEndpoint,
	})
	return Result{Kind: ResultStarted, User: id, Name: u.Username, Origin: current, Target: cfg.TargetEndpoint}, nil
}

// End returns user to the endpoint recorded when their session started. The
// location check is advisory: a mismatch only produces a warning.
func (c *Coordinator) End(ctx context.Context, requester string, id model.UserID) (Result, error) {
	cfg := c.Config()
	log := c.log.With("user", id, "requester", requester)

	u, online := c.presence.Online(id)
	if !online {
		return Result{}, c.reject(ctx, requester, model.User{ID: id}, ErrUserOffline)
	}
	log = log.With("name", u.Username)
	if strings.EqualFold(requester, u.Username) {
		return Result{}, c.reject(ctx, requester, u, ErrSelfTarget)
	}

	sess, err := c.sessions.Claim(id)
	switch {
	case errors.Is(err, session.ErrNoSession):
		return Result{}, c.reject(ctx, requester, u, ErrNoActiveSession)
	case errors.Is(err, session.ErrEnding):
		return Result{}, c.reject(ctx, requester, u, fmt.Errorf("%w: return already in progress", ErrNoActiveSession))
	case err != nil:
		return Result{}, err
	}

	var warning string
	current, err := c.lookups.Query(ctx, id)
	switch {
	case err != nil:
		warning = fmt.Sprintf("could not confirm %s is on %s: %v", u.Username, sess.Target, err)
	case !strings.EqualFold(current, sess.Target):
		warning = fmt.Sprintf("%s is on %s, not on %s", u.Username, current, sess.Target)
	}
	if warning != "" {
		c.metrics.EndWarnings.Add(1)
		log.Warn("returning user anyway", "warning", warning)
	}

	if cfg.OnReturnTemplate != "" {
		if now, ok := c.presence.Online(id); ok {
			c.dispatch(ctx, now, cfg.OnReturnTemplate)
		} else {
			c.metrics.CommandsSkipped.Add(1)
			log.Info("user went offline, skipping on-return command")
		}
	}

	if err := c.sender.Send(id, wire.Relocate(sess.Origin)); err != nil {
		log.Warn("relocate to origin not delivered", "origin", sess.Origin, "err", err)
	}
	if !c.sessions.RemoveSession(id, sess.ID) {
		// Dropped underneath us by OnDisconnect or Shutdown.
		if _, ok := c.presence.Online(id); !ok {
			return Result{}, c.reject(ctx, requester, u, fmt.Errorf("%w: disconnected before the return completed", ErrUserOffline))
		}
		if warning != "" {
			warning += "; "
		}
		warning += "session was cleared while returning"
	}

	c.metrics.SessionsEnded.Add(1)
	log.Info("screenshare ended", "origin", sess.Origin, "duration", c.clock.Now().Sub(sess.StartedAt).Truncate(time.Second))
	c.record(ctx, model.Event{
		Kind:      model.EventEnded,
		UserID:    id,
		Username:  u.Username,
		Requester: requester,
		Origin:    sess.Origin,
		Target:    sess.Target,
		Detail:    warning,
	})
	return Result{Kind: ResultEnded, User: id, Name: u.Username, Origin: sess.Origin, Target: sess.Target, Warning: warning}, nil
}

// OnDisconnect forgets everything about user without sending anything: the
// session (and its pending on-join command) and any lookup in flight.
func (c *Coordinator) OnDisconnect(id model.UserID) {
	sess, had := c.sessions.Remove(id)
	cancelled := c.lookups.Cancel(id)
	if !had && !cancelled {
		return
	}
	c.log.Info("user disconnected, screenshare state dropped",
		"user", id, "had_session", had, "cancelled_lookup", cancelled)
	if had {
		c.metrics.SessionsDropped.Add(1)
		c.record(context.Background(), model.Event{
			Kind:     model.EventDisconnected,
			UserID:   id,
			Username: sess.Username,
			Origin:   sess.Origin,
			Target:   sess.Target,
		})
	}
}

// Shutdown clears every session and cancels every pending lookup. Later
// calls to Start fail with ErrShuttingDown.
func (c *Coordinator) Shutdown() {
	c.closed.Store(true)
	c.lookups.Close()
	cleared := c.sessions.Clear()
	if len(cleared) == 0 {
		c.log.Info("no active screenshare sessions to clear")
		return
	}
	c.log.Info("cleared active screenshare sessions", "count", len(cleared))
}

func (c *Coordinator) scheduleJoin(sess model.Session, cfg Config) {
	if cfg.OnJoinTemplate == "" {
		return
	}
	t := c.clock.AfterFunc(cfg.JoinDelay, func() { c.runJoin(sess, cfg.OnJoinTemplate) })
	c.sessions.Defer(sess.UserID, sess.ID, t)
}

func (c *Coordinator) runJoin(sess model.Session, template string) {
	cur, ok := c.sessions.Get(sess.UserID)
	if !ok || cur.ID != sess.ID || c.sessions.Ending(sess.UserID) {
		return
	}
	u, online := c.presence.Online(sess.UserID)
	if !online {
		c.metrics.CommandsSkipped.Add(1)
		c.log.Info("user went offline before on-join command", "user", sess.UserID, "name", sess.Username)
		return
	}
	c.dispatch(context.Background(), u, template)
}

func (c *Coordinator) dispatch(ctx context.Context, u model.User, template string) {
	if c.dispatcher == nil {
		return
	}
	cmd := console.Expand(template, u.Username)
	c.dispatcher.DispatchCommand(cmd)
	c.metrics.CommandsDispatched.Add(1)
	c.record(ctx, model.Event{Kind: model.EventCommand, UserID: u.ID, Username: u.Username, Detail: cmd})
}

func (c *Coordinator) reject(ctx context.Context, requester string, u model.User, err error) error {
	c.metrics.RequestsRejected.Add(1)
	c.log.Debug("screenshare request rejected", "user", u.ID, "name", u.Username, "requester", requester, "err", err)
	c.record(ctx, model.Event{
		Kind:      model.EventRejected,
		UserID:    u.ID,
		Username:  u.Username,
		Requester: requester,
		Detail:    err.Error(),
	})
	return err
}

func (c *Coordinator) record(ctx context.Context, ev model.Event) {
	if c.recorder == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = c.clock.Now()
	}
	if err := c.recorder.Record(context.WithoutCancel(ctx), ev); err != nil {
		c.log.Error("journal write failed", "kind", ev.Kind, "user", ev.UserID, "err", err)
	}
}
