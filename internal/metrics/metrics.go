// Package metrics exports scheduler events as Prometheus collectors.
package metrics

import (
	"errors"
	"fmt"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/knightchaser/ticksched/internal/sched"
)

// Collector adapts the scheduler event stream to Prometheus collectors.
type Collector struct {
	cycles       prom.Counter
	taskRuns     *prom.CounterVec
	taskFaults   *prom.CounterVec
	taskDuration *prom.HistogramVec
	interrupts   *prom.CounterVec
	skippedRuns  *prom.CounterVec
	droppedRuns  prom.Counter
	overruns     prom.Counter
	haltedCycles prom.Counter
}

var _ sched.Recorder = (*Collector)(nil)

// NewCollector creates and registers the collectors under namespace.
func NewCollector(namespace string, reg prom.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = "ticksched"
	}
	if reg == nil {
		return nil, errors.New("metrics: nil registerer")
	}

	c := &Collector{
		cycles: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Number of scheduler cycles started.",
		}),
		taskRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Number of task callback invocations.",
		}, []string{"task"}),
		taskFaults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "task_faults_total",
			Help:      "Number of task callbacks that returned an error or panicked.",
		}, []string{"task"}),
		taskDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task callback run time.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"task"}),
		interrupts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Number of interrupt handler invocations.",
		}, []string{"interrupt", "outcome"}),
		skippedRuns: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_runs_total",
			Help:      "Runs forfeited by the SKIP missed deadline policy.",
		}, []string{"task"}),
		droppedRuns: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_runs_total",
			Help:      "Queued task occurrences dropped when a cycle's time slice expired.",
		}),
		overruns: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "overruns_total",
			Help:      "Cycles whose budget was spent before any task ran.",
		}),
		haltedCycles: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "halted_cycles_total",
			Help:      "Cycles that ran no tasks because an interrupt fired.",
		}),
	}

	for _, col := range []prom.Collector{
		c.cycles, c.taskRuns, c.taskFaults, c.taskDuration, c.interrupts,
		c.skippedRuns, c.droppedRuns, c.overruns, c.haltedCycles,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) Record(ev sched.Event) {
	switch ev.Kind {
	case sched.EventCycleStart:
		c.cycles.Inc()
	case sched.EventTaskRun, sched.EventTaskFault:
		task := taskLabel(ev)
		c.taskRuns.WithLabelValues(task).Inc()
		c.taskDuration.WithLabelValues(task).Observe(ev.Duration.Seconds())
		if ev.Kind == sched.EventTaskFault {
			c.taskFaults.WithLabelValues(task).Inc()
		}
	case sched.EventInterruptFired:
		c.interrupts.WithLabelValues(strconv.FormatUint(uint64(ev.InterruptID), 10), "ok").Inc()
	case sched.EventInterruptFault:
		c.interrupts.WithLabelValues(strconv.FormatUint(uint64(ev.InterruptID), 10), "fault").Inc()
	case sched.EventTaskSkipped:
		c.skippedRuns.WithLabelValues(taskLabel(ev)).Add(float64(ev.Count))
	case sched.EventQueueDropped:
		c.droppedRuns.Add(float64(ev.Count))
	case sched.EventCycleOverrun:
		c.overruns.Inc()
	case sched.EventCycleHalted:
		c.haltedCycles.Inc()
	}
}

func taskLabel(ev sched.Event) string {
	if ev.Name != "" {
		return ev.Name
	}
	return strconv.FormatUint(uint64(ev.TaskID), 10)
}
