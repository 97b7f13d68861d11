// internal/sched/schedulerEvent.go

package sched

import (
	"time"
)

// EventKind represents the type of scheduler event
type EventKind int

const (
	EventCycleStart     EventKind = iota
	EventInterruptFired           // an interrupt handler ran
	EventInterruptFault           // an interrupt check or handler failed
	EventCycleHalted              // interrupts fired and tasks are suppressed this cycle
	EventCycleOverrun             // the cycle budget was spent before any task ran
	EventTaskSkipped              // SKIP forfeited overdue runs; Count holds how many
	EventTaskRun
	EventTaskFault
	EventQueueDropped // time slice expired; Count holds the occurrences left in the queue
)

// Event is emitted on every cycle and on key actions within it.
type Event struct {
	Time        time.Time
	Session     string
	Cycle       uint64
	Kind        EventKind
	TaskID      TaskID
	InterruptID InterruptID
	Name        string
	Duration    time.Duration
	NextRun     time.Duration
	Count       int
	Err         error
}

// Recorder consumes scheduler events. Record is called on the cycle goroutine
// and must not block for long.
type Recorder interface {
	Record(ev Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ev Event)

func (f RecorderFunc) Record(ev Event) { f(ev) }

func (k EventKind) String() string {
	switch k {
	case EventCycleStart:
		return "CycleStart"
	case EventInterruptFired:
		return "Interrupt"
	case EventInterruptFault:
		return "InterruptFault"
	case EventCycleHalted:
		return "Halted"
	case EventCycleOverrun:
		return "Overrun"
	case EventTaskSkipped:
		return "Skipped"
	case EventTaskRun:
		return "Run"
	case EventTaskFault:
		return "Fault"
	case EventQueueDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}
