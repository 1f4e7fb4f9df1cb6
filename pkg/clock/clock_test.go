package clock_test

import (
	"testing"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
}

func TestRealAfterFuncFires(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{})
	clock.Real{}.AfterFunc(5*time.Millisecond, func() { close(fired) })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("AfterFunc did not fire within timeout")
	}
}

func TestManualAdvanceRunsDueCallbacksInOrder(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := clock.NewManual(start)
	var order []string
	m.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	m.AfterFunc(time.Second, func() { order = append(order, "early") })
	m.AfterFunc(10*time.Second, func() { order = append(order, "never") })

	if got := m.Advance(5 * time.Second); !got.Equal(start.Add(5 * time.Second)) {
		t.Fatalf("Advance returned %v", got)
	}
	if len(order) != 2 || order[0] != "early" || order[1] != "late" {
		t.Fatalf("unexpected callback order %v", order)
	}
	if m.Pending() != 1 {
		t.Fatalf("expected 1 pending timer, got %d", m.Pending())
	}
}

func TestManualStop(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Now())
	fired := false
	timer := m.AfterFunc(time.Second, func() { fired = true })
	if !timer.Stop() {
		t.Fatal("first Stop should report true")
	}
	if timer.Stop() {
		t.Fatal("second Stop should report false")
	}
	m.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestManualCallbackMayReschedule(t *testing.T) {
	t.Parallel()

	m := clock.NewManual(time.Now())
	count := 0
	var tick func()
	tick = func() {
		count++
		m.AfterFunc(time.Second, tick)
	}
	m.AfterFunc(time.Second, tick)
	m.Advance(time.Second)
	m.Advance(time.Second)
	if count != 2 {
		t.Fatalf("expected 2 ticks, got %d", count)
	}
}
