package sched

import (
	"context"
	"sync"
	"testing"
	"time"
)

// manualClock only moves when told to.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// manualTrigger never fires on its own; tests call Tick directly.
type manualTrigger struct {
	mu     sync.Mutex
	ch     chan struct{}
	starts int
	stops  int
}

func (m *manualTrigger) Start(time.Duration) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.ch = make(chan struct{})
	return m.ch
}

func (m *manualTrigger) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	close(m.ch)
}

// eventLog collects recorded events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Record(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds(k EventKind) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	s       *Scheduler
	clock   *manualClock
	trigger *manualTrigger
	events  *eventLog
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clock:   newManualClock(),
		trigger: &manualTrigger{},
		events:  &eventLog{},
	}
	h.s = New(cfg, WithClock(h.clock), WithTrigger(h.trigger), WithRecorder(h.events))
	t.Cleanup(func() { h.s.Stop() })
	return h
}

// noop is a task that takes no time.
func noop(context.Context) error { return nil }

// counter returns a task that counts its invocations and appends name to order.
func counter(n *int, order *[]string, name string) TaskFunc {
	return func(context.Context) error {
		*n++
		if order != nil {
			*order = append(*order, name)
		}
		return nil
	}
}

// takes returns a task that advances the clock by d.
func (h *harness) takes(d time.Duration, n *int) TaskFunc {
	return func(context.Context) error {
		if n != nil {
			*n++
		}
		h.clock.Advance(d)
		return nil
	}
}

func testConfig() Config {
	return Config{CycleMS: 10, ContinueAfterInterrupt: true, TimeSlicePerCycle: true}
}
