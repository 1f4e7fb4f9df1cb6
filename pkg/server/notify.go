package server

import (
	"context"
	"sync"

	"github.com/NicolasHaas/screenshare/pkg/journal"
	"github.com/NicolasHaas/screenshare/pkg/model"
)

const subscriberBuffer = 64

// notifier records coordinator events in the journal and fans them out to
// live subscribers of the admin event stream. Slow subscribers miss events
// rather than stall the coordinator.
type notifier struct {
	journal journal.Journal

	mu     sync.Mutex
	closed bool
	subs   map[chan model.Event]struct{}
}

func newNotifier(j journal.Journal) *notifier {
	return &notifier{journal: j, subs: make(map[chan model.Event]struct{})}
}

// Record implements coordinator.Recorder.
func (n *notifier) Record(ctx context.Context, ev model.Event) error {
	err := n.journal.Record(ctx, ev)
	n.publish(ev)
	return err
}

func (n *notifier) publish(ev model.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// subscribe returns a channel of future events. The channel is closed by the
// returned cancel func or when the notifier closes.
func (n *notifier) subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	n.subs[ch] = struct{}{}
	return ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[ch]; ok {
			delete(n.subs, ch)
			close(ch)
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for ch := range n.subs {
		delete(n.subs, ch)
		close(ch)
	}
}
