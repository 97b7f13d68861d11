// Package workload builds task callbacks and interrupt conditions from
// declarative definitions.
package workload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/knightchaser/ticksched/internal/sched"
)

var (
	ErrUnknownWorkload  = errors.New("unknown workload type")
	ErrUnknownCondition = errors.New("unknown interrupt condition")
)

// Spec describes what a task does when it runs.
type Spec struct {
	Type  string `yaml:"type"`  // noop, busy, sleep, fail
	MS    int    `yaml:"ms"`    // duration of busy/sleep work
	Every int    `yaml:"every"` // fail: every Nth run returns an error
}

// Condition describes when an interrupt fires.
type Condition struct {
	Type  string `yaml:"type"`  // every, flag
	Every int    `yaml:"every"` // every: fire on every Nth check
}

// Noop does nothing.
func Noop(context.Context) error { return nil }

// Sleep returns work that blocks for d, or until ctx is done.
func Sleep(d time.Duration) sched.TaskFunc {
	return func(ctx context.Context) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}

// Busy returns work that spins on the CPU for d.
func Busy(d time.Duration) sched.TaskFunc {
	return func(context.Context) error {
		for start := time.Now(); time.Since(start) < d; {
		}
		return nil
	}
}

// Failing wraps work so every nth call returns an error instead of running it.
func Failing(every int, work sched.TaskFunc) sched.TaskFunc {
	if every <= 0 {
		every = 1
	}
	var calls atomic.Int64
	return func(ctx context.Context) error {
		n := calls.Add(1)
		if n%int64(every) == 0 {
			return fmt.Errorf("simulated failure on call %d", n)
		}
		return work(ctx)
	}
}

// Build turns a Spec into a task callback.
func Build(spec Spec) (sched.TaskFunc, error) {
	d := time.Duration(spec.MS) * time.Millisecond
	switch strings.ToLower(spec.Type) {
	case "", "noop":
		return Noop, nil
	case "busy":
		return Busy(d), nil
	case "sleep":
		return Sleep(d), nil
	case "fail":
		return Failing(spec.Every, Busy(d)), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownWorkload, spec.Type)
}

// Every returns a check that holds on every nth evaluation.
func Every(n int) sched.CheckFunc {
	if n <= 0 {
		n = 1
	}
	var checks atomic.Int64
	return func() bool {
		return checks.Add(1)%int64(n) == 0
	}
}

// Flag is a latched external condition: it holds from Raise until its handler runs.
type Flag struct {
	raised atomic.Bool
}

func (f *Flag) Raise() { f.raised.Store(true) }

// Check reports whether the flag is raised without clearing it.
func (f *Flag) Check() bool { return f.raised.Load() }

// Handle wraps work so running it clears the flag first.
func (f *Flag) Handle(work sched.TaskFunc) sched.TaskFunc {
	return func(ctx context.Context) error {
		f.raised.Store(false)
		return work(ctx)
	}
}

// BuildCondition turns a Condition into a check. For "flag" conditions the
// returned Flag must wrap the handler and is the way to raise the interrupt.
func BuildCondition(c Condition) (sched.CheckFunc, *Flag, error) {
	switch strings.ToLower(c.Type) {
	case "every":
		return Every(c.Every), nil, nil
	case "flag", "":
		f := &Flag{}
		return f.Check, f, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", ErrUnknownCondition, c.Type)
}
