package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/screenshare/pkg/clock"
	"github.com/NicolasHaas/screenshare/pkg/console"
	"github.com/NicolasHaas/screenshare/pkg/journal"
	"github.com/NicolasHaas/screenshare/pkg/lookup"
	"github.com/NicolasHaas/screenshare/pkg/messaging"
	"github.com/NicolasHaas/screenshare/pkg/metrics"
	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/session"
	"github.com/NicolasHaas/screenshare/pkg/wire"
)

// fakeProxy plays the routing layer: it tracks which endpoint each user is
// on, applies relocations and answers location queries asynchronously.
type fakeProxy struct {
	mu       sync.Mutex
	lookups  *lookup.Registry
	online   map[model.UserID]model.User
	location map[model.UserID]string
	silent   map[model.UserID]bool
	sent     map[model.UserID][]wire.Message
}

func newFakeProxy() *fakeProxy {
	return &fakeProxy{
		online:   make(map[model.UserID]model.User),
		location: make(map[model.UserID]string),
		silent:   make(map[model.UserID]bool),
		sent:     make(map[model.UserID][]wire.Message),
	}
}

func (p *fakeProxy) join(name, endpoint string) model.UserID {
	id := uuid.New()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[id] = model.User{ID: id, Username: name}
	p.location[id] = endpoint
	return id
}

func (p *fakeProxy) rejoin(id model.UserID, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[id] = model.User{ID: id, Username: name}
}

func (p *fakeProxy) leave(id model.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, id)
}

func (p *fakeProxy) setSilent(id model.UserID, silent bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent[id] = silent
}

func (p *fakeProxy) move(id model.UserID, endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location[id] = endpoint
}

func (p *fakeProxy) where(id model.UserID) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location[id]
}

func (p *fakeProxy) relocations(id model.UserID) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.sent[id] {
		if m.Kind == wire.KindRelocate {
			out = append(out, m.Endpoint)
		}
	}
	return out
}

func (p *fakeProxy) Online(id model.UserID) (model.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.online[id]
	return u, ok
}

func (p *fakeProxy) Send(id model.UserID, msg wire.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.online[id]; !ok {
		return messaging.ErrNoTransport
	}
	p.sent[id] = append(p.sent[id], msg)
	switch msg.Kind {
	case wire.KindRelocate:
		p.location[id] = msg.Endpoint
	case wire.KindLocationQuery:
		if !p.silent[id] {
			in := messaging.Inbound{Sender: "proxy", User: id, HasUser: true, Message: wire.LocationReply(p.location[id])}
			go p.lookups.HandleInbound(in)
		}
	}
	return nil
}

type commandLog struct {
	mu   sync.Mutex
	cmds []string
}

func (c *commandLog) DispatchCommand(cmd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
}

func (c *commandLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.cmds...)
}

type harness struct {
	c        *Coordinator
	proxy    *fakeProxy
	clk      *clock.Manual
	lookups  *lookup.Registry
	sessions *session.Registry
	journal  *journal.Memory
	commands *commandLog
	metrics  *metrics.Metrics
}

var testConfig = Config{
	TargetEndpoint:   "screenshare",
	OnJoinTemplate:   "ssmode %user%",
	OnReturnTemplate: "ssunfreeze %user%",
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		proxy:    newFakeProxy(),
		clk:      clock.NewManual(time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)),
		sessions: session.NewRegistry(),
		journal:  journal.NewMemory(),
		commands: &commandLog{},
		metrics:  metrics.New(),
	}
	h.lookups = lookup.New(h.proxy, lookup.WithClock(h.clk), lookup.WithLogger(log), lookup.WithMetrics(h.metrics))
	h.proxy.lookups = h.lookups

	c, err := New(cfg, Dependencies{
		Sessions:   h.sessions,
		Lookups:    h.lookups,
		Sender:     h.proxy,
		Presence:   h.proxy,
		Dispatcher: h.commands,
		Recorder:   h.journal,
		Clock:      h.clk,
		Logger:     log,
		Metrics:    h.metrics,
	})
	require.NoError(t, err)
	h.c = c
	return h
}

func (h *harness) events(t *testing.T, user model.UserID) []model.EventKind {
	t.Helper()
	evs, err := h.journal.List(context.Background(), model.EventFilters{LimitToUserID: &user})
	require.NoError(t, err)
	kinds := make([]model.EventKind, 0, len(evs))
	for i := len(evs) - 1; i >= 0; i-- {
		kinds = append(kinds, evs[i].Kind)
	}
	return kinds
}

func (h *harness) waitPending(t *testing.T, user model.UserID) {
	t.Helper()
	require.Eventually(t, func() bool { return h.lookups.Pending(user) }, 2*time.Second, time.Millisecond)
}

func TestStartRelocatesAndSchedulesJoinCommand(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")

	res, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: ResultStarted, User: steve, Name: "Steve", Origin: "lobby", Target: "screenshare"}, res)

	sess, ok := h.c.Session(steve)
	require.True(t, ok)
	assert.Equal(t, "lobby", sess.Origin)
	assert.Equal(t, "Moderator", sess.Requester)
	assert.Equal(t, []string{"screenshare"}, h.proxy.relocations(steve))
	assert.Equal(t, "screenshare", h.proxy.where(steve))

	assert.Empty(t, h.commands.all(), "on-join waits for the join delay")
	h.clk.Advance(DefaultJoinDelay - time.Millisecond)
	assert.Empty(t, h.commands.all())
	h.clk.Advance(time.Millisecond)
	assert.Equal(t, []string{"ssmode Steve"}, h.commands.all())

	assert.Equal(t, []model.EventKind{model.EventStarted, model.EventCommand}, h.events(t, steve))
	assert.Equal(t, int64(1), h.metrics.SessionsStarted.Load())
}

func TestStartTwiceReportsOrigin(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "survival")

	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)

	_, err = h.c.Start(context.Background(), "Admin", steve)
	require.ErrorIs(t, err, ErrAlreadyActive)
	var active *AlreadyActiveError
	require.True(t, errors.As(err, &active))
	assert.Equal(t, "survival", active.Origin)
	assert.Equal(t, []string{"screenshare"}, h.proxy.relocations(steve), "no second relocation")
	assert.Equal(t, 1, h.c.ActiveCount())
}

func TestStartAlreadyOnTargetIsCaseInsensitive(t *testing.T) {
	h := newHarness(t, testConfig)
	alex := h.proxy.join("Alex", "ScreenShare")

	_, err := h.c.Start(context.Background(), "Moderator", alex)
	assert.ErrorIs(t, err, ErrAlreadyOnTarget)
	assert.Zero(t, h.c.ActiveCount())
	assert.Empty(t, h.proxy.relocations(alex))
	assert.Equal(t, []model.EventKind{model.EventRejected}, h.events(t, alex))
}

func TestStartLocationUnknown(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t, testConfig)
		alex := h.proxy.join("Alex", "lobby")
		h.proxy.setSilent(alex, true)

		errc := make(chan error, 1)
		go func() {
			_, err := h.c.Start(context.Background(), "Moderator", alex)
			errc <- err
		}()
		h.waitPending(t, alex)
		h.clk.Advance(lookup.DefaultTimeout)

		err := <-errc
		assert.ErrorIs(t, err, ErrLocationUnknown)
		assert.ErrorIs(t, err, lookup.ErrLookupTimeout)
		assert.Zero(t, h.c.ActiveCount())
		assert.Empty(t, h.proxy.relocations(alex))
	})

	t.Run("empty endpoint", func(t *testing.T) {
		h := newHarness(t, testConfig)
		alex := h.proxy.join("Alex", "")

		_, err := h.c.Start(context.Background(), "Moderator", alex)
		assert.ErrorIs(t, err, ErrLocationUnknown)
		assert.Zero(t, h.c.ActiveCount())
	})

	t.Run("context cancelled", func(t *testing.T) {
		h := newHarness(t, testConfig)
		alex := h.proxy.join("Alex", "lobby")
		h.proxy.setSilent(alex, true)

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() {
			_, err := h.c.Start(ctx, "Moderator", alex)
			errc <- err
		}()
		h.waitPending(t, alex)
		cancel()

		err := <-errc
		assert.ErrorIs(t, err, ErrLocationUnknown)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStartWhileLookupPending(t *testing.T) {
	h := newHarness(t, testConfig)
	alex := h.proxy.join("Alex", "lobby")
	h.proxy.setSilent(alex, true)

	errc := make(chan error, 1)
	go func() {
		_, err := h.c.Start(context.Background(), "ModA", alex)
		errc <- err
	}()
	h.waitPending(t, alex)

	_, err := h.c.Start(context.Background(), "ModB", alex)
	assert.ErrorIs(t, err, lookup.ErrLookupInProgress)

	h.clk.Advance(lookup.DefaultTimeout)
	assert.ErrorIs(t, <-errc, ErrLocationUnknown)
}

func TestOperatorChecks(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")

	_, err := h.c.Start(context.Background(), "steve", steve)
	assert.ErrorIs(t, err, ErrSelfTarget)

	_, err = h.c.Start(context.Background(), "Moderator", uuid.New())
	assert.ErrorIs(t, err, ErrUserOffline)

	_, err = h.c.End(context.Background(), "Moderator", uuid.New())
	assert.ErrorIs(t, err, ErrUserOffline)

	assert.Equal(t, int64(3), h.metrics.RequestsRejected.Load())
}

func TestEndReturnsToOrigin(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)

	res, err := h.c.End(context.Background(), "Moderator", steve)
	require.NoError(t, err)
	assert.Equal(t, Result{Kind: ResultEnded, User: steve, Name: "Steve", Origin: "lobby", Target: "screenshare"}, res)

	assert.Equal(t, []string{"screenshare", "lobby"}, h.proxy.relocations(steve))
	assert.Equal(t, "lobby", h.proxy.where(steve))
	assert.Equal(t, []string{"ssunfreeze Steve"}, h.commands.all())
	_, ok := h.c.Session(steve)
	assert.False(t, ok)

	// The pending on-join command died with the session.
	h.clk.Advance(time.Minute)
	assert.Equal(t, []string{"ssunfreeze Steve"}, h.commands.all())
	assert.Equal(t, []model.EventKind{model.EventStarted, model.EventCommand, model.EventEnded}, h.events(t, steve))

	// Back to idle: a new session can start.
	_, err = h.c.Start(context.Background(), "Moderator", steve)
	assert.NoError(t, err)
}

func TestEndWithoutSession(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")

	_, err := h.c.End(context.Background(), "Moderator", steve)
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Empty(t, h.proxy.relocations(steve))
}

func TestEndMismatchWarnsButProceeds(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)

	h.proxy.move(steve, "minigames")
	res, err := h.c.End(context.Background(), "Moderator", steve)
	require.NoError(t, err)
	assert.Contains(t, res.Warning, "minigames")
	assert.Equal(t, "lobby", h.proxy.where(steve))
	assert.Zero(t, h.c.ActiveCount())
	assert.Equal(t, int64(1), h.metrics.EndWarnings.Load())
}

func TestEndLookupTimeoutWarnsButProceeds(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)
	h.proxy.setSilent(steve, true)

	type out struct {
		res Result
		err error
	}
	done := make(chan out, 1)
	go func() {
		res, err := h.c.End(context.Background(), "Moderator", steve)
		done <- out{res, err}
	}()
	h.waitPending(t, steve)
	// Fires the lookup deadline and the on-join timer; the latter must
	// notice the session is ending.
	h.clk.Advance(lookup.DefaultTimeout)

	o := <-done
	require.NoError(t, o.err)
	assert.NotEmpty(t, o.res.Warning)
	assert.Equal(t, "lobby", h.proxy.where(steve))
	assert.Equal(t, []string{"ssunfreeze Steve"}, h.commands.all())
}

func TestEndWithoutReturnTemplate(t *testing.T) {
	cfg := testConfig
	cfg.OnReturnTemplate = ""
	h := newHarness(t, cfg)
	steve := h.proxy.join("Steve", "lobby")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)

	_, err = h.c.End(context.Background(), "Moderator", steve)
	require.NoError(t, err)
	assert.Empty(t, h.commands.all())
}

func TestDisconnectDropsSessionWithoutSending(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)

	h.proxy.leave(steve)
	h.c.OnDisconnect(steve)

	_, ok := h.c.Session(steve)
	assert.False(t, ok)
	h.clk.Advance(time.Minute)
	assert.Empty(t, h.commands.all(), "on-join cancelled with the session")
	assert.Equal(t, []string{"screenshare"}, h.proxy.relocations(steve), "nothing sent on disconnect")
	assert.Equal(t, int64(1), h.metrics.SessionsDropped.Load())
	assert.Equal(t, []model.EventKind{model.EventStarted, model.EventDisconnected}, h.events(t, steve))

	// Reconnecting starts from idle.
	h.proxy.rejoin(steve, "Steve")
	_, err = h.c.End(context.Background(), "Moderator", steve)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestDisconnectCancelsPendingLookup(t *testing.T) {
	h := newHarness(t, testConfig)
	alex := h.proxy.join("Alex", "lobby")
	h.proxy.setSilent(alex, true)

	errc := make(chan error, 1)
	go func() {
		_, err := h.c.Start(context.Background(), "Moderator", alex)
		errc <- err
	}()
	h.waitPending(t, alex)
	h.c.OnDisconnect(alex)

	err := <-errc
	assert.ErrorIs(t, err, ErrLocationUnknown)
	assert.ErrorIs(t, err, lookup.ErrLookupCancelled)
	assert.Zero(t, h.c.ActiveCount())
}

func TestDisconnectOfIdleUserIsNoop(t *testing.T) {
	h := newHarness(t, testConfig)
	h.c.OnDisconnect(uuid.New())
	assert.Zero(t, h.metrics.SessionsDropped.Load())
}

func TestJoinCommandSkippedWhenUserGoesOffline(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)

	// Offline per presence, but the disconnect has not been processed yet.
	h.proxy.leave(steve)
	h.clk.Advance(DefaultJoinDelay)
	assert.Empty(t, h.commands.all())
	assert.Equal(t, int64(1), h.metrics.CommandsSkipped.Load())
}

func TestJoinDelayConfigurable(t *testing.T) {
	cfg := testConfig
	cfg.JoinDelay = 10 * time.Second
	h := newHarness(t, cfg)
	steve := h.proxy.join("Steve", "lobby")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)

	h.clk.Advance(DefaultJoinDelay)
	assert.Empty(t, h.commands.all())
	h.clk.Advance(7 * time.Second)
	assert.Equal(t, []string{"ssmode Steve"}, h.commands.all())
}

func TestConcurrentStartHasOneWinner(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.c.Start(context.Background(), "Moderator", steve)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyActive), errors.Is(err, lookup.ErrLookupInProgress), errors.Is(err, ErrAlreadyOnTarget):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, []string{"screenshare"}, h.proxy.relocations(steve))
}

func TestConcurrentEndReturnsOnce(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.c.End(context.Background(), "Moderator", steve); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrNoActiveSession) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, []string{"screenshare", "lobby"}, h.proxy.relocations(steve))
}

func TestUsersDoNotBlockEachOther(t *testing.T) {
	h := newHarness(t, testConfig)
	slow := h.proxy.join("Slow", "lobby")
	fast := h.proxy.join("Fast", "hub")
	h.proxy.setSilent(slow, true)

	errc := make(chan error, 1)
	go func() {
		_, err := h.c.Start(context.Background(), "Moderator", slow)
		errc <- err
	}()
	h.waitPending(t, slow)

	_, err := h.c.Start(context.Background(), "Moderator", fast)
	require.NoError(t, err)

	h.c.OnDisconnect(slow)
	assert.ErrorIs(t, <-errc, ErrLocationUnknown)
}

func TestShutdownClearsEverything(t *testing.T) {
	h := newHarness(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")
	alex := h.proxy.join("Alex", "hub")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)
	h.proxy.setSilent(alex, true)

	errc := make(chan error, 1)
	go func() {
		_, err := h.c.Start(context.Background(), "Moderator", alex)
		errc <- err
	}()
	h.waitPending(t, alex)

	h.c.Shutdown()
	assert.ErrorIs(t, <-errc, ErrLocationUnknown)
	assert.Zero(t, h.c.ActiveCount())
	assert.Zero(t, h.lookups.Len())
	h.clk.Advance(time.Minute)
	assert.Empty(t, h.commands.all())

	_, err = h.c.Start(context.Background(), "Moderator", alex)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

// hookLocator runs after once, right after the next query returns.
type hookLocator struct {
	Locator
	after atomic.Pointer[func(model.UserID)]
}

func (l *hookLocator) Query(ctx context.Context, user model.UserID) (string, error) {
	endpoint, err := l.Locator.Query(ctx, user)
	if fn := l.after.Swap(nil); fn != nil {
		(*fn)(user)
	}
	return endpoint, err
}

func (l *hookLocator) afterNextQuery(fn func(model.UserID)) {
	l.after.Store(&fn)
}

// withHookLocator rebuilds h.c around a hookLocator wrapping h.lookups.
func (h *harness) withHookLocator(t *testing.T, cfg Config) *hookLocator {
	t.Helper()
	hl := &hookLocator{Locator: h.lookups}
	c, err := New(cfg, Dependencies{
		Sessions:   h.sessions,
		Lookups:    hl,
		Sender:     h.proxy,
		Presence:   h.proxy,
		Dispatcher: h.commands,
		Recorder:   h.journal,
		Clock:      h.clk,
		Logger:     h.c.log,
		Metrics:    h.metrics,
	})
	require.NoError(t, err)
	h.c = c
	return hl
}

func TestDisconnectAfterLookupLeavesNoSession(t *testing.T) {
	h := newHarness(t, testConfig)
	hl := h.withHookLocator(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")

	hl.afterNextQuery(func(id model.UserID) {
		h.proxy.leave(id)
		h.c.OnDisconnect(id)
	})
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.ErrorIs(t, err, ErrUserOffline)
	assert.Zero(t, h.c.ActiveCount())
	assert.Empty(t, h.proxy.relocations(steve))
	h.clk.Advance(time.Minute)
	assert.Empty(t, h.commands.all())

	h.proxy.rejoin(steve, "Steve")
	res, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)
	assert.Equal(t, "lobby", res.Origin)
	assert.Equal(t, 1, h.c.ActiveCount())
}

func TestShutdownDuringLookupLeavesNoSession(t *testing.T) {
	h := newHarness(t, testConfig)
	hl := h.withHookLocator(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")

	hl.afterNextQuery(func(model.UserID) { h.c.Shutdown() })
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.ErrorIs(t, err, ErrShuttingDown)
	assert.Zero(t, h.c.ActiveCount())
	assert.Empty(t, h.proxy.relocations(steve))
}

func TestEndReportsDisconnectDuringLookup(t *testing.T) {
	h := newHarness(t, testConfig)
	hl := h.withHookLocator(t, testConfig)
	steve := h.proxy.join("Steve", "lobby")
	_, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)

	hl.afterNextQuery(func(id model.UserID) {
		h.proxy.leave(id)
		h.c.OnDisconnect(id)
	})
	_, err = h.c.End(context.Background(), "Moderator", steve)
	require.ErrorIs(t, err, ErrUserOffline)
	assert.Zero(t, h.c.ActiveCount())
	assert.Equal(t, []string{"screenshare"}, h.proxy.relocations(steve), "return relocation had no transport")
	assert.Equal(t, []model.EventKind{model.EventStarted, model.EventDisconnected, model.EventRejected}, h.events(t, steve))
	assert.Zero(t, h.metrics.SessionsEnded.Load())
}

func TestReconfigure(t *testing.T) {
	h := newHarness(t, testConfig)
	assert.Equal(t, DefaultJoinDelay, h.c.Config().JoinDelay)
	assert.ErrorIs(t, h.c.Reconfigure(Config{TargetEndpoint: "  "}), ErrNoTargetEndpoint)
	assert.Equal(t, "screenshare", h.c.Config().TargetEndpoint, "rejected config leaves the old one")

	require.NoError(t, h.c.Reconfigure(Config{TargetEndpoint: "ss-2", OnJoinTemplate: "freeze %player%"}))
	steve := h.proxy.join("Steve", "lobby")
	res, err := h.c.Start(context.Background(), "Moderator", steve)
	require.NoError(t, err)
	assert.Equal(t, "ss-2", res.Target)
	h.clk.Advance(DefaultJoinDelay)
	assert.Equal(t, []string{"freeze Steve"}, h.commands.all())
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(testConfig, Dependencies{})
	assert.Error(t, err)
}

var _ console.Dispatcher = (*commandLog)(nil)
