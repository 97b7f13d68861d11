package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskID uniquely identifies a task in the scheduler.
type TaskID uint64

// TaskFunc is the work function of a task or an interrupt handler.
// ctx is cancelled when the scheduler stops; the scheduler never aborts a running callback.
type TaskFunc func(ctx context.Context) error

// MissedPolicy decides what an interval task does once it has fallen
// more than one interval behind.
type MissedPolicy int

const (
	Skip    MissedPolicy = iota // forfeit the overdue runs and the current one
	CatchUp                     // run once per missed interval, plus the current one
	RunOnce                     // collapse every overdue interval into a single run
)

// ErrUnknownPolicy is returned when parsing an unrecognised policy name.
var ErrUnknownPolicy = errors.New("unknown missed deadline policy")

func (p MissedPolicy) String() string {
	switch p {
	case Skip:
		return "SKIP"
	case CatchUp:
		return "CATCH_UP"
	case RunOnce:
		return "RUN_ONCE"
	default:
		return "UNKNOWN"
	}
}

// ParseMissedPolicy accepts SKIP, CATCH_UP and RUN_ONCE in any case,
// with '-' and '_' interchangeable.
func ParseMissedPolicy(s string) (MissedPolicy, error) {
	switch strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_") {
	case "SKIP":
		return Skip, nil
	case "CATCH_UP", "CATCHUP":
		return CatchUp, nil
	case "RUN_ONCE", "RUNONCE":
		return RunOnce, nil
	}
	return Skip, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

func (p *MissedPolicy) UnmarshalText(text []byte) error {
	v, err := ParseMissedPolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p MissedPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// TaskOptions describes how a task is scheduled. It is either a Deadline or an Interval.
type TaskOptions interface {
	taskOptions()
}

// Deadline tasks run once in every cycle that builds a ready queue.
// Deadline only orders them against other ready tasks; smaller runs first.
type Deadline struct {
	Name     string
	Priority int
	Deadline time.Duration
}

// Interval tasks become due every Interval, starting at the first cycle.
type Interval struct {
	Name     string
	Priority int
	Interval time.Duration
	Missed   MissedPolicy
}

func (Deadline) taskOptions() {}
func (Interval) taskOptions() {}

// Task is one registered unit of work. Everything but nextRun and the
// statistics is fixed at registration.
type Task struct {
	ID       TaskID
	Name     string
	Priority int           // higher runs first
	Deadline time.Duration // smaller runs first; zero for interval tasks
	RRIndex  uint64        // registration order, final tie-break
	Fixed    bool          // interval task
	Interval time.Duration
	Missed   MissedPolicy
	run      TaskFunc

	nextRun time.Duration // offset from session start
	stats   runStats
}

type runStats struct {
	lastRun  time.Duration
	total    time.Duration
	runs     uint64
	faults   uint64
	lastErr  error
	lastSeen time.Time
}

// label is the task name, or its id when unnamed.
func (t *Task) label() string {
	if t.Name != "" {
		return t.Name
	}
	return fmt.Sprintf("%d", t.ID)
}

// record accounts one completed invocation.
func (t *Task) record(d time.Duration, end time.Time, err error) {
	t.stats.lastRun = d
	t.stats.total += d
	t.stats.runs++
	t.stats.lastSeen = end
	if err != nil {
		t.stats.faults++
		t.stats.lastErr = err
	}
}

// average is total/runs, zero before the first run.
func (s runStats) average() time.Duration {
	if s.runs == 0 {
		return 0
	}
	return s.total / time.Duration(s.runs)
}

// compareTasks orders ready tasks: deadline ascending, then priority
// descending, then registration order. RRIndex is unique, so distinct
// tasks never compare equal.
func compareTasks(a, b *Task) int {
	switch {
	case a.Deadline < b.Deadline:
		return -1
	case a.Deadline > b.Deadline:
		return 1
	case a.Priority > b.Priority:
		return -1
	case a.Priority < b.Priority:
		return 1
	case a.RRIndex < b.RRIndex:
		return -1
	case a.RRIndex > b.RRIndex:
		return 1
	default:
		return 0
	}
}
