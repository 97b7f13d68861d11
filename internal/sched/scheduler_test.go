package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTask_IDsAndRoundRobinIncrease(t *testing.T) {
	h := newHarness(t, testConfig())

	var ids []TaskID
	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			ids = append(ids, h.s.AddTask(noop, Deadline{Priority: i, Deadline: 10 * time.Millisecond}))
		} else {
			ids = append(ids, h.s.AddTask(noop, Interval{Priority: i, Interval: 100 * time.Millisecond, Missed: CatchUp}))
		}
	}
	h.s.Start()
	ids = append(ids, h.s.AddTask(noop, Deadline{}))

	stats := h.s.Stats()
	require.Len(t, stats, len(ids))
	for i := range ids {
		assert.Equal(t, TaskID(i+1), ids[i])
		assert.Equal(t, ids[i], stats[i].ID)
		assert.Equal(t, uint64(i), stats[i].RRIndex)
	}

	first := h.s.AddInterrupt(func() bool { return false }, noop, DefaultInterruptPriority)
	second := h.s.AddInterrupt(func() bool { return false }, noop, 5)
	assert.Equal(t, InterruptID(1), first)
	assert.Equal(t, InterruptID(2), second)
}

func TestAddTask_IntervalStartsDueAtZero(t *testing.T) {
	h := newHarness(t, testConfig())
	id := h.s.AddTask(noop, &Interval{Name: "poll", Interval: 50 * time.Millisecond})

	ts, ok := h.s.Task(id)
	require.True(t, ok)
	assert.True(t, ts.IntervalTask)
	assert.Equal(t, time.Duration(0), ts.NextRun)
	assert.Equal(t, time.Duration(0), ts.Deadline)
	assert.Equal(t, "poll", ts.Label())

	_, ok = h.s.Task(id + 1)
	assert.False(t, ok)
}

func TestAddTask_PanicsOnBadInput(t *testing.T) {
	h := newHarness(t, testConfig())
	assert.Panics(t, func() { h.s.AddTask(nil, Deadline{}) })
	assert.Panics(t, func() { h.s.AddTask(noop, nil) })
	assert.Panics(t, func() { h.s.AddInterrupt(nil, noop, 1) })
}

func TestCompareTasks_StrictTotalOrder(t *testing.T) {
	var tasks []*Task
	var rr uint64
	for _, deadline := range []time.Duration{0, 0, 5, 5} {
		for _, prio := range []int{1, 1, 3} {
			tasks = append(tasks, &Task{Deadline: deadline, Priority: prio, RRIndex: rr})
			rr++
		}
	}

	for i, a := range tasks {
		for j, b := range tasks {
			c := compareTasks(a, b)
			if i == j {
				assert.Zero(t, c)
				continue
			}
			require.NotZero(t, c, "tasks %d and %d tie", i, j)
			assert.Equal(t, -sign(c), sign(compareTasks(b, a)))
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func TestCompareTasks_Criteria(t *testing.T) {
	early := &Task{Deadline: 1, Priority: 0, RRIndex: 9}
	late := &Task{Deadline: 2, Priority: 100, RRIndex: 0}
	assert.Negative(t, compareTasks(early, late), "smaller deadline first")

	high := &Task{Priority: 5, RRIndex: 9}
	low := &Task{Priority: 1, RRIndex: 0}
	assert.Negative(t, compareTasks(high, low), "larger priority first")

	older := &Task{Priority: 1, RRIndex: 1}
	newer := &Task{Priority: 1, RRIndex: 2}
	assert.Negative(t, compareTasks(older, newer), "registration order last")
}

func TestTick_ReadyQueueOrder(t *testing.T) {
	h := newHarness(t, testConfig())
	var order []string
	var n int
	h.s.AddTask(counter(&n, &order, "d50"), Deadline{Priority: 9, Deadline: 50 * time.Millisecond})
	h.s.AddTask(counter(&n, &order, "d10"), Deadline{Priority: 1, Deadline: 10 * time.Millisecond})
	h.s.AddTask(counter(&n, &order, "i1"), Interval{Priority: 1, Interval: 100 * time.Millisecond})
	h.s.AddTask(counter(&n, &order, "i5"), Interval{Priority: 5, Interval: 100 * time.Millisecond})
	h.s.AddTask(counter(&n, &order, "i1b"), Interval{Priority: 1, Interval: 100 * time.Millisecond})

	h.s.Start()
	h.s.Tick()

	assert.Equal(t, []string{"i5", "i1", "i1b", "d10", "d50"}, order)
}

func TestTick_DeadlineTaskRunsEveryCycle(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	id := h.s.AddTask(counter(&n, nil, "ui"), Deadline{Priority: 1, Deadline: 5 * time.Millisecond})

	h.s.Start()
	for i := 0; i < 3; i++ {
		h.s.Tick()
		h.clock.Advance(10 * time.Millisecond)
	}

	assert.Equal(t, 3, n)
	ts, _ := h.s.Task(id)
	assert.Equal(t, uint64(3), ts.TotalRuns)
	assert.Equal(t, time.Duration(0), ts.NextRun)
}

func TestTick_IntervalTaskCadence(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	id := h.s.AddTask(counter(&n, nil, "beat"), Interval{Priority: 1, Interval: 100 * time.Millisecond, Missed: Skip})

	h.s.Start()
	h.s.Tick()
	assert.Equal(t, 1, n)

	h.clock.Advance(50 * time.Millisecond)
	h.s.Tick()
	assert.Equal(t, 1, n, "not due before nextRun")

	h.clock.Advance(50 * time.Millisecond)
	h.s.Tick()
	assert.Equal(t, 2, n)

	ts, _ := h.s.Task(id)
	assert.Equal(t, 200*time.Millisecond, ts.NextRun)
}

func TestTick_SkipForfeitsOverdueRuns(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	id := h.s.AddTask(counter(&n, nil, "skip"), Interval{Priority: 1, Interval: 100 * time.Millisecond, Missed: Skip})

	h.s.Start()
	h.clock.Advance(250 * time.Millisecond)
	h.s.Tick()

	assert.Equal(t, 0, n)
	ts, _ := h.s.Task(id)
	assert.Equal(t, 300*time.Millisecond, ts.NextRun)

	skipped := h.events.kinds(EventTaskSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, 3, skipped[0].Count)
	assert.Equal(t, id, skipped[0].TaskID)

	h.clock.Advance(50 * time.Millisecond)
	h.s.Tick()
	assert.Equal(t, 1, n)
	ts, _ = h.s.Task(id)
	assert.Equal(t, 400*time.Millisecond, ts.NextRun)
}

func TestTick_RunOnceCollapsesOverdueRuns(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	id := h.s.AddTask(counter(&n, nil, "once"), Interval{Priority: 1, Interval: 100 * time.Millisecond, Missed: RunOnce})

	h.s.Start()
	h.clock.Advance(250 * time.Millisecond)
	h.s.Tick()

	assert.Equal(t, 1, n)
	ts, _ := h.s.Task(id)
	assert.Equal(t, 300*time.Millisecond, ts.NextRun)
}

func TestTick_RunOnceOnTime(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	id := h.s.AddTask(counter(&n, nil, "once"), Interval{Priority: 1, Interval: 100 * time.Millisecond, Missed: RunOnce})

	h.s.Start()
	h.clock.Advance(30 * time.Millisecond)
	h.s.Tick()

	assert.Equal(t, 1, n)
	ts, _ := h.s.Task(id)
	assert.Equal(t, 100*time.Millisecond, ts.NextRun)
}

func TestTick_CatchUpRunsEveryOwedInterval(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	id := h.s.AddTask(counter(&n, nil, "catch"), Interval{Priority: 1, Interval: 100 * time.Millisecond, Missed: CatchUp})

	h.s.Start()
	h.clock.Advance(250 * time.Millisecond)
	h.s.Tick()

	assert.Equal(t, 3, n)
	ts, _ := h.s.Task(id)
	assert.Equal(t, 300*time.Millisecond, ts.NextRun)
	assert.Equal(t, uint64(3), ts.TotalRuns)
	assert.Empty(t, h.events.kinds(EventQueueDropped))
}

func TestTick_CatchUpCutShortByTimeSlice(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	id := h.s.AddTask(h.takes(5*time.Millisecond, &n), Interval{Priority: 1, Interval: 100 * time.Millisecond, Missed: CatchUp})

	h.s.Start()
	h.clock.Advance(250 * time.Millisecond)
	h.s.Tick()

	// budget ends at elapsed 260: runs at 250 and 255, the third is dropped
	assert.Equal(t, 2, n)
	ts, _ := h.s.Task(id)
	assert.Equal(t, 200*time.Millisecond, ts.NextRun)

	dropped := h.events.kinds(EventQueueDropped)
	require.Len(t, dropped, 1)
	assert.Equal(t, 1, dropped[0].Count)

	// the dropped occurrence is not carried over
	h.s.Tick()
	assert.Equal(t, 3, n)
	ts, _ = h.s.Task(id)
	assert.Equal(t, 300*time.Millisecond, ts.NextRun)
}

func TestTick_NoTimeSliceDrainsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.TimeSlicePerCycle = false
	h := newHarness(t, cfg)
	var n int
	h.s.AddTask(h.takes(5*time.Millisecond, &n), Interval{Priority: 1, Interval: 100 * time.Millisecond, Missed: CatchUp})
	h.s.AddTask(h.takes(5*time.Millisecond, &n), Deadline{Priority: 1, Deadline: time.Millisecond})

	h.s.Start()
	h.clock.Advance(250 * time.Millisecond)
	h.s.Tick()

	assert.Equal(t, 4, n)
	assert.Empty(t, h.events.kinds(EventQueueDropped))
}

func TestTick_NonPositiveIntervalStalls(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	id := h.s.AddTask(counter(&n, nil, "bad"), Interval{Priority: 1, Interval: 0, Missed: CatchUp})

	h.s.Start()
	h.clock.Advance(500 * time.Millisecond)
	h.s.Tick()
	h.s.Tick()

	assert.Equal(t, 2, n)
	ts, _ := h.s.Task(id)
	assert.Equal(t, time.Duration(0), ts.NextRun)
}

func TestTick_InterruptsRunByPriority(t *testing.T) {
	h := newHarness(t, testConfig())
	var order []string
	record := func(name string) TaskFunc {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}
	always := func() bool { return true }
	never := func() bool { return false }

	h.s.AddInterrupt(always, record("low"), 1)
	h.s.AddInterrupt(always, record("high-a"), 10)
	h.s.AddInterrupt(never, record("silent"), 50)
	h.s.AddInterrupt(always, record("high-b"), 10)
	h.s.AddTask(record("task"), Deadline{Priority: 1})

	h.s.Start()
	h.s.Tick()

	assert.Equal(t, []string{"high-a", "high-b", "low", "task"}, order)
	assert.Len(t, h.events.kinds(EventInterruptFired), 3)
}

func TestTick_InterruptHaltsCycle(t *testing.T) {
	cfg := testConfig()
	cfg.ContinueAfterInterrupt = false
	h := newHarness(t, cfg)

	var raised atomic.Bool
	var handled, ran int
	h.s.AddInterrupt(raised.Load, func(context.Context) error {
		handled++
		raised.Store(false)
		return nil
	}, DefaultInterruptPriority)
	h.s.AddTask(counter(&ran, nil, "task"), Deadline{Priority: 1})

	h.s.Start()
	raised.Store(true)
	h.s.Tick()
	assert.Equal(t, 1, handled)
	assert.Equal(t, 0, ran)
	assert.Len(t, h.events.kinds(EventCycleHalted), 1)

	h.s.Tick()
	assert.Equal(t, 1, handled)
	assert.Equal(t, 1, ran, "tasks resume once no interrupt fires")
}

func TestTick_OverrunSkipsTasks(t *testing.T) {
	h := newHarness(t, testConfig())
	var ran int
	h.s.AddInterrupt(func() bool { return true }, func(context.Context) error {
		h.clock.Advance(15 * time.Millisecond)
		return nil
	}, 1)
	h.s.AddTask(counter(&ran, nil, "task"), Deadline{Priority: 1})

	h.s.Start()
	h.s.Tick()

	assert.Equal(t, 0, ran)
	assert.Len(t, h.events.kinds(EventCycleOverrun), 1)
}

func TestTick_FaultsAreIsolated(t *testing.T) {
	h := newHarness(t, testConfig())
	boom := errors.New("boom")
	var ok int
	panicky := h.s.AddTask(func(context.Context) error { panic(boom) }, Deadline{Name: "panics", Priority: 3})
	failing := h.s.AddTask(func(context.Context) error { return errors.New("sensor offline") }, Deadline{Name: "fails", Priority: 2})
	healthy := h.s.AddTask(counter(&ok, nil, "ok"), Deadline{Name: "ok", Priority: 1})

	h.s.AddInterrupt(func() bool { panic("bad check") }, noop, 9)
	var handled int
	h.s.AddInterrupt(func() bool { return true }, func(context.Context) error {
		handled++
		panic("bad handler")
	}, 8)

	h.s.Start()
	require.NotPanics(t, h.s.Tick)

	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, handled)

	ts, _ := h.s.Task(panicky)
	assert.Equal(t, uint64(1), ts.TotalRuns)
	assert.Equal(t, uint64(1), ts.Faults)
	assert.Contains(t, ts.LastError, "boom")

	ts, _ = h.s.Task(failing)
	assert.Equal(t, uint64(1), ts.Faults)
	assert.Equal(t, "sensor offline", ts.LastError)

	ts, _ = h.s.Task(healthy)
	assert.Equal(t, uint64(0), ts.Faults)

	faults := h.events.kinds(EventTaskFault)
	require.Len(t, faults, 2)
	var pe *PanicError
	require.ErrorAs(t, faults[0].Err, &pe)
	assert.ErrorIs(t, faults[0].Err, boom)

	assert.Len(t, h.events.kinds(EventInterruptFault), 2)
}

func TestTick_StatisticsInvariant(t *testing.T) {
	h := newHarness(t, testConfig())
	durations := []time.Duration{time.Millisecond, 3 * time.Millisecond, 2 * time.Millisecond}
	var calls int
	id := h.s.AddTask(func(context.Context) error {
		h.clock.Advance(durations[calls%len(durations)])
		calls++
		return nil
	}, Deadline{Name: "work", Priority: 1})

	ts, _ := h.s.Task(id)
	assert.Equal(t, time.Duration(0), ts.AverageRuntime)

	h.s.Start()
	for i := 0; i < 5; i++ {
		h.s.Tick()
		h.clock.Advance(10 * time.Millisecond)
	}

	ts, _ = h.s.Task(id)
	assert.Equal(t, uint64(calls), ts.TotalRuns)
	assert.Equal(t, 10*time.Millisecond, ts.TotalRuntime)
	assert.Equal(t, ts.TotalRuntime/time.Duration(ts.TotalRuns), ts.AverageRuntime)
	assert.Equal(t, 3*time.Millisecond, ts.LastRunDuration)
	assert.Len(t, h.events.kinds(EventTaskRun), 5)
}

func TestStatsString(t *testing.T) {
	h := newHarness(t, testConfig())
	h.s.AddTask(h.takes(1500*time.Microsecond, nil), Deadline{Name: "telemetry", Priority: 1})
	h.s.AddTask(noop, Interval{Priority: 1, Interval: time.Hour})

	h.s.Start()
	h.s.Tick()
	h.clock.Advance(10 * time.Millisecond)
	h.s.Tick()

	want := "telemetry: 2 runs, 3.0000 ms total, 1.5000 ms avg\n" +
		"2: 1 runs, 0.0000 ms total, 0.0000 ms avg"
	assert.Equal(t, want, h.s.StatsString())
}

func TestStartStop_Idempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	id := h.s.AddTask(counter(&n, nil, "beat"), Interval{Priority: 1, Interval: 100 * time.Millisecond})

	h.s.Stop()
	assert.Equal(t, 0, h.trigger.stops)

	h.s.Start()
	session := h.s.Session()
	require.NotEmpty(t, session)
	h.clock.Advance(50 * time.Millisecond)
	h.s.Start()
	assert.Equal(t, 1, h.trigger.starts)
	assert.Equal(t, session, h.s.Session())
	assert.Equal(t, 50*time.Millisecond, h.s.Elapsed(), "second Start keeps the origin")

	h.s.Tick()
	assert.Equal(t, 1, n)

	h.s.Stop()
	h.s.Stop()
	assert.Equal(t, 1, h.trigger.stops)
	assert.False(t, h.s.Running())

	h.s.Tick()
	assert.Equal(t, 1, n, "no cycles while stopped")

	ts, _ := h.s.Task(id)
	assert.Equal(t, uint64(1), ts.TotalRuns, "stop keeps statistics")
	assert.Equal(t, 100*time.Millisecond, ts.NextRun, "stop keeps nextRun")

	h.s.Start()
	assert.True(t, h.s.Running())
	assert.NotEqual(t, session, h.s.Session())
}

func TestTick_NeverStarted(t *testing.T) {
	h := newHarness(t, testConfig())
	var n int
	h.s.AddTask(counter(&n, nil, "x"), Deadline{Priority: 1})
	h.s.Tick()
	assert.Equal(t, 0, n)
	assert.Empty(t, h.events.kinds(EventCycleStart))
}

func TestTick_CallbackMayRegisterAndStop(t *testing.T) {
	h := newHarness(t, testConfig())
	var added, late int
	var registered bool
	var ctxErr error
	h.s.AddTask(func(context.Context) error {
		if !registered {
			registered = true
			h.s.AddTask(counter(&added, nil, "added"), Deadline{Priority: 1})
		}
		return nil
	}, Deadline{Priority: 5})

	h.s.Start()
	h.s.Tick()
	assert.Equal(t, 0, added, "tasks added mid-cycle wait for the next cycle")
	h.s.Tick()
	assert.Equal(t, 1, added)

	h.s.AddTask(func(ctx context.Context) error {
		h.s.Stop()
		ctxErr = ctx.Err()
		return nil
	}, Deadline{Priority: 9, Deadline: -time.Millisecond})
	h.s.AddTask(counter(&late, nil, "late"), Deadline{Priority: 1, Deadline: time.Hour})

	h.s.Tick()
	assert.ErrorIs(t, ctxErr, context.Canceled)
	assert.Equal(t, 1, late, "stop does not abort the current cycle")
	assert.False(t, h.s.Running())
}

func TestScheduler_DrivenByTickClock(t *testing.T) {
	s := New(Config{CycleMS: 1, ContinueAfterInterrupt: true, TimeSlicePerCycle: true})
	var runs atomic.Int64
	s.AddTask(func(context.Context) error {
		runs.Add(1)
		return nil
	}, Deadline{Name: "spin", Priority: 1})

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, time.Millisecond)
	s.Stop()

	stats := s.Stats()
	require.Len(t, stats, 1)
	assert.GreaterOrEqual(t, stats[0].TotalRuns, uint64(3))
}
