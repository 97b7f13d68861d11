// internal/sched/scheduler.go

package sched

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/knightchaser/ticksched/internal/pq"
)

// Scheduler is a cooperative cycle scheduler. Every cycle it runs the
// interrupts whose condition holds, then drains the due tasks in deadline,
// priority, registration order within the cycle's time budget.
type Scheduler struct {
	// Scheduler-related
	mu         sync.Mutex      // protects everything below except inCycle
	cfg        Config          // immutable after New
	clock      Clock           // time source for elapsed and durations
	trigger    Trigger         // drives Tick while running
	tasks      []*Task         // registration order
	interrupts *interruptTable // dispatch order
	nextTaskID TaskID
	nextIntrID InterruptID
	rrCounter  uint64 // shared by every task ever registered

	running bool
	origin  time.Time // session start; all elapsed values are relative to it
	session string
	ctx     context.Context
	cancel  context.CancelFunc
	cycles  uint64

	inCycle atomic.Bool // held for the duration of one cycle

	// logging-related
	logger    zerolog.Logger
	recorders []Recorder
	csv       *CSVRecorder
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = l.With().Str("component", "sched").Logger() }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithTrigger replaces the default TickClock.
func WithTrigger(t Trigger) Option {
	return func(s *Scheduler) { s.trigger = t }
}

// WithRecorder adds an event recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) { s.recorders = append(s.recorders, r) }
}

// New creates a stopped Scheduler.
func New(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:        cfg.Normalize(),
		clock:      wallClock{},
		interrupts: newInterruptTable(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.trigger == nil {
		s.trigger = NewTickClock()
	}
	return s
}

// Config returns the normalized engine options.
func (s *Scheduler) Config() Config { return s.cfg }

// AddTask registers fn and returns its id. Tasks may be added while running;
// an interval task is due from elapsed time zero of the session.
func (s *Scheduler) AddTask(fn TaskFunc, opts TaskOptions) TaskID {
	if fn == nil {
		panic("sched: nil task func")
	}

	t := &Task{run: fn}
	switch o := opts.(type) {
	case Deadline:
		t.Name, t.Priority, t.Deadline = o.Name, o.Priority, o.Deadline
	case *Deadline:
		t.Name, t.Priority, t.Deadline = o.Name, o.Priority, o.Deadline
	case Interval:
		t.Name, t.Priority, t.Fixed, t.Interval, t.Missed = o.Name, o.Priority, true, o.Interval, o.Missed
	case *Interval:
		t.Name, t.Priority, t.Fixed, t.Interval, t.Missed = o.Name, o.Priority, true, o.Interval, o.Missed
	default:
		panic(fmt.Sprintf("sched: unsupported task options %T", opts))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTaskID++
	t.ID = s.nextTaskID
	t.RRIndex = s.rrCounter
	s.rrCounter++

	if t.Fixed && t.Interval <= 0 {
		s.logger.Warn().
			Uint64("task_id", uint64(t.ID)).
			Str("task", t.label()).
			Dur("interval", t.Interval).
			Msg("non-positive interval, task will never be rescheduled")
	}
	s.tasks = append(s.tasks, t)
	s.logger.Debug().
		Uint64("task_id", uint64(t.ID)).
		Str("task", t.label()).
		Bool("interval_task", t.Fixed).
		Int("priority", t.Priority).
		Msg("task added")
	return t.ID
}

// AddInterrupt registers an interrupt and returns its id.
// Larger priorities are handled first when several fire in the same cycle.
func (s *Scheduler) AddInterrupt(check CheckFunc, fn TaskFunc, priority int) InterruptID {
	if check == nil || fn == nil {
		panic("sched: nil interrupt func")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextIntrID++
	in := &Interrupt{
		ID:       s.nextIntrID,
		Priority: priority,
		check:    check,
		run:      fn,
	}
	s.interrupts.put(in)
	s.logger.Debug().Uint64("interrupt_id", uint64(in.ID)).Int("priority", priority).Msg("interrupt added")
	return in.ID
}

// Start records the session origin and begins driving cycles from the trigger.
// Starting a running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.origin = s.clock.Now()
	s.session = uuid.NewString()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ticks := s.trigger.Start(s.cfg.CycleInterval())
	s.logger.Info().
		Str("session", s.session).
		Dur("cycle", s.cfg.CycleInterval()).
		Int("tasks", len(s.tasks)).
		Int("interrupts", s.interrupts.len()).
		Msg("scheduler started")
	s.mu.Unlock()

	go func() {
		for range ticks {
			s.Tick()
		}
	}()
}

// Stop prevents further cycles. A callback already running is not interrupted,
// but its context is cancelled. Stopping a stopped scheduler does nothing.
// Statistics and next run times are kept.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	s.trigger.Stop()
	s.logger.Info().Str("session", s.session).Uint64("cycles", s.cycles).Msg("scheduler stopped")
}

// Running reports whether the scheduler is started.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Session returns the id of the current, or most recent, running session.
func (s *Scheduler) Session() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Elapsed returns the time since the session started, or zero when never started.
func (s *Scheduler) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.origin.IsZero() {
		return 0
	}
	return s.clock.Now().Sub(s.origin)
}

// EnableCSVLogging opens the given file path for CSV logging of events.
func (s *Scheduler) EnableCSVLogging(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.csv != nil {
		return errors.New("csv logging already enabled")
	}
	r, err := OpenCSVRecorder(path)
	if err != nil {
		return err
	}
	s.csv = r
	s.recorders = append(s.recorders, r)
	return nil
}

// Close stops the scheduler and closes the CSV log, if any.
func (s *Scheduler) Close() error {
	s.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.csv == nil {
		return nil
	}
	err := s.csv.Close()
	s.recorders = slices.DeleteFunc(s.recorders, func(r Recorder) bool { return r == Recorder(s.csv) })
	s.csv = nil
	return err
}

// Tick performs exactly one cycle. It does nothing while stopped or while
// another cycle is still executing.
func (s *Scheduler) Tick() {
	if !s.inCycle.CompareAndSwap(false, true) {
		return
	}
	defer s.inCycle.Store(false)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cycles++
	c := &cycle{
		s:         s,
		n:         s.cycles,
		session:   s.session,
		origin:    s.origin,
		ctx:       s.ctx,
		recorders: slices.Clone(s.recorders),
		logger:    s.logger.With().Str("session", s.session).Uint64("cycle", s.cycles).Logger(),
	}
	interrupts := s.interrupts.ordered()
	s.mu.Unlock()

	c.run(interrupts)
}

// cycle carries the state of one Tick.
type cycle struct {
	s         *Scheduler
	n         uint64
	session   string
	origin    time.Time
	ctx       context.Context
	recorders []Recorder
	logger    zerolog.Logger
}

func (c *cycle) now() time.Time { return c.s.clock.Now() }

func (c *cycle) elapsed() time.Duration { return c.now().Sub(c.origin) }

func (c *cycle) run(interrupts []*Interrupt) {
	cfg := c.s.cfg
	cycleStart := c.now()
	deadline := cycleStart.Add(cfg.CycleInterval()).Sub(c.origin)
	c.emit(Event{Time: cycleStart, Kind: EventCycleStart})

	if fired := c.handleInterrupts(interrupts); fired > 0 && !cfg.ContinueAfterInterrupt {
		c.logger.Trace().Int("fired", fired).Msg("interrupts fired, tasks suppressed")
		c.emit(Event{Kind: EventCycleHalted, Count: fired})
		return
	}

	elapsed := c.elapsed()
	if elapsed >= deadline {
		c.logger.Debug().Dur("elapsed", elapsed).Dur("deadline", deadline).Msg("cycle budget spent before tasks")
		c.emit(Event{Kind: EventCycleOverrun, Duration: elapsed - deadline})
		return
	}

	ready := c.buildReadyQueue(elapsed)
	for !ready.Empty() {
		if cfg.TimeSlicePerCycle && c.elapsed() >= deadline {
			c.logger.Debug().Int("dropped", ready.Size()).Msg("time slice expired")
			c.emit(Event{Kind: EventQueueDropped, Count: ready.Size()})
			break
		}
		t, ok := ready.Pop()
		if !ok {
			break
		}
		c.runOne(t)
	}
}

// handleInterrupts runs the handler of every interrupt whose check holds,
// in dispatch order, and returns how many fired.
func (c *cycle) handleInterrupts(interrupts []*Interrupt) int {
	var triggered []*Interrupt
	for _, in := range interrupts {
		fired, err := check(in.check)
		if err != nil {
			c.logger.Error().Err(err).Uint64("interrupt_id", uint64(in.ID)).Msg("interrupt check failed")
			c.emit(Event{Kind: EventInterruptFault, InterruptID: in.ID, Err: err})
			continue
		}
		if fired {
			triggered = append(triggered, in)
		}
	}

	for _, in := range triggered {
		begin := c.now()
		err := invoke(c.ctx, in.run)
		d := c.now().Sub(begin)
		if err != nil {
			c.logger.Error().Err(err).Uint64("interrupt_id", uint64(in.ID)).Msg("interrupt handler failed")
			c.emit(Event{Kind: EventInterruptFault, InterruptID: in.ID, Duration: d, Err: err})
			continue
		}
		c.emit(Event{Kind: EventInterruptFired, InterruptID: in.ID, Duration: d})
	}
	return len(triggered)
}

// buildReadyQueue collects the tasks due at elapsed. Deadline tasks are always
// due. A behind-schedule interval task is queued per its missed policy; CatchUp
// queues the same task once per owed run.
func (c *cycle) buildReadyQueue(elapsed time.Duration) *pq.Queue[*Task] {
	queue := pq.New(compareTasks)
	var skipped []Event

	c.s.mu.Lock()
	for _, t := range c.s.tasks {
		if !t.Fixed {
			queue.Push(t)
			continue
		}
		if elapsed < t.nextRun {
			continue
		}

		missed := t.intervalsBehind(elapsed)
		if missed <= 0 {
			queue.Push(t)
			continue
		}
		switch t.Missed {
		case Skip:
			t.nextRun += (missed + 1) * t.Interval
			skipped = append(skipped, Event{
				Kind:    EventTaskSkipped,
				TaskID:  t.ID,
				Name:    t.Name,
				NextRun: t.nextRun,
				Count:   int(missed) + 1,
			})
		case CatchUp:
			for i := time.Duration(0); i < missed+1; i++ {
				queue.Push(t)
			}
		default:
			queue.Push(t)
		}
	}
	c.s.mu.Unlock()

	for _, ev := range skipped {
		c.logger.Debug().Uint64("task_id", uint64(ev.TaskID)).Int("forfeited", ev.Count).Msg("overdue task skipped")
		c.emit(ev)
	}
	return queue
}

// runOne invokes t and updates its statistics and next run time.
func (c *cycle) runOne(t *Task) {
	begin := c.now()
	err := invoke(c.ctx, t.run)
	end := c.now()
	d := end.Sub(begin)

	c.s.mu.Lock()
	t.record(d, end, err)
	t.reschedule(end.Sub(c.origin))
	next := t.nextRun
	c.s.mu.Unlock()

	ev := Event{Time: end, Kind: EventTaskRun, TaskID: t.ID, Name: t.Name, Duration: d, NextRun: next}
	if err != nil {
		ev.Kind, ev.Err = EventTaskFault, err
		c.logger.Error().Err(err).Uint64("task_id", uint64(t.ID)).Str("task", t.label()).Msg("task failed")
	} else {
		c.logger.Trace().Uint64("task_id", uint64(t.ID)).Dur("took", d).Msg("task ran")
	}
	c.emit(ev)
}

func (c *cycle) emit(ev Event) {
	if len(c.recorders) == 0 {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}
	ev.Session, ev.Cycle = c.session, c.n
	for _, r := range c.recorders {
		r.Record(ev)
	}
}

// intervalsBehind counts the whole intervals between the task's due time and
// elapsed. A non-positive interval never counts as behind.
func (t *Task) intervalsBehind(elapsed time.Duration) time.Duration {
	if t.Interval <= 0 {
		return 0
	}
	return (elapsed - t.nextRun) / t.Interval
}

// reschedule advances nextRun after a run that ended at now.
func (t *Task) reschedule(now time.Duration) {
	if !t.Fixed || t.Interval <= 0 {
		return
	}
	switch t.Missed {
	case RunOnce:
		if behind := t.intervalsBehind(now); behind > 0 {
			t.nextRun += (behind + 1) * t.Interval
			return
		}
		t.nextRun += t.Interval
	default:
		// Skip forfeited overdue runs while queueing; CatchUp advances once per run.
		t.nextRun += t.Interval
	}
}
