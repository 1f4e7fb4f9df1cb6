// Package session keeps the set of users currently relocated to the target
// endpoint together with the endpoint each one must be returned to.
package session

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/NicolasHaas/screenshare/pkg/clock"
	"github.com/NicolasHaas/screenshare/pkg/model"
)

var (
	ErrNoSession = errors.New("session: no active session")
	ErrEnding    = errors.New("session: session is already ending")
)

type entry struct {
	sess   model.Session
	ending atomic.Bool

	mu      sync.Mutex
	task    clock.Timer
	removed bool
}

// stop marks the entry removed and cancels its deferred task.
func (e *entry) stop() {
	e.mu.Lock()
	e.removed = true
	t := e.task
	e.task = nil
	e.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

// Registry maps a user to their active session. Mutations are per-key
// compare-and-swap operations; no lock spans users.
type Registry struct {
	entries sync.Map // model.UserID -> *entry
	count   atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Create inserts s if the user has no session. When one exists it is
// returned with created set to false and nothing changes.
func (r *Registry) Create(s model.Session) (existing model.Session, created bool) {
	e := &entry{sess: s}
	actual, loaded := r.entries.LoadOrStore(s.UserID, e)
	if loaded {
		return actual.(*entry).sess, false
	}
	r.count.Add(1)
	return s, true
}

// Get returns the user's session.
func (r *Registry) Get(user model.UserID) (model.Session, bool) {
	e, ok := r.load(user)
	if !ok {
		return model.Session{}, false
	}
	return e.sess, true
}

// Ending reports whether the user's session has been claimed by Claim.
func (r *Registry) Ending(user model.UserID) bool {
	e, ok := r.load(user)
	return ok && e.ending.Load()
}

// Claim marks the user's session as ending. Exactly one caller succeeds per
// session; the others get ErrEnding. The session stays registered until
// Remove or RemoveSession.
func (r *Registry) Claim(user model.UserID) (model.Session, error) {
	e, ok := r.load(user)
	if !ok {
		return model.Session{}, ErrNoSession
	}
	if !e.ending.CompareAndSwap(false, true) {
		return model.Session{}, ErrEnding
	}
	return e.sess, nil
}

// Remove deletes whatever session the user has and stops its deferred task.
func (r *Registry) Remove(user model.UserID) (model.Session, bool) {
	v, ok := r.entries.LoadAndDelete(user)
	if !ok {
		return model.Session{}, false
	}
	e := v.(*entry)
	r.count.Add(-1)
	e.stop()
	return e.sess, true
}

// RemoveSession deletes the user's session only if it is still the one
// identified by id.
func (r *Registry) RemoveSession(user model.UserID, id string) bool {
	e, ok := r.load(user)
	if !ok || e.sess.ID != id {
		return false
	}
	if !r.entries.CompareAndDelete(user, e) {
		return false
	}
	r.count.Add(-1)
	e.stop()
	return true
}

// Defer attaches a deferred task to the session identified by id so that
// removing the session cancels it. When the session is already gone the
// task is stopped and Defer reports false.
func (r *Registry) Defer(user model.UserID, id string, task clock.Timer) bool {
	e, ok := r.load(user)
	if !ok || e.sess.ID != id {
		task.Stop()
		return false
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		task.Stop()
		return false
	}
	prev := e.task
	e.task = task
	e.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	return true
}

// All returns a snapshot of every session, oldest first.
func (r *Registry) All() []model.Session {
	var out []model.Session
	r.entries.Range(func(_, v any) bool {
		out = append(out, v.(*entry).sess)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Username < out[j].Username
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Clear removes every session and returns them.
func (r *Registry) Clear() []model.Session {
	var removed []model.Session
	r.entries.Range(func(k, _ any) bool {
		if s, ok := r.Remove(k.(model.UserID)); ok {
			removed = append(removed, s)
		}
		return true
	})
	return removed
}

func (r *Registry) load(user model.UserID) (*entry, bool) {
	v, ok := r.entries.Load(user)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}
