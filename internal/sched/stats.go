package sched

import (
	"fmt"
	"strings"
	"time"
)

// TaskStats is a snapshot of one task's identity, schedule and run statistics.
type TaskStats struct {
	ID              TaskID        `json:"id"`
	Name            string        `json:"name,omitempty"`
	Priority        int           `json:"priority"`
	Deadline        time.Duration `json:"deadline"`
	RRIndex         uint64        `json:"rr_index"`
	IntervalTask    bool          `json:"interval_task"`
	Interval        time.Duration `json:"interval,omitempty"`
	Missed          MissedPolicy  `json:"missed_policy"`
	NextRun         time.Duration `json:"next_run"`
	LastRunDuration time.Duration `json:"last_run_duration"`
	TotalRuntime    time.Duration `json:"total_runtime"`
	TotalRuns       uint64        `json:"total_runs"`
	AverageRuntime  time.Duration `json:"average_runtime"`
	Faults          uint64        `json:"faults"`
	LastError       string        `json:"last_error,omitempty"`
	LastRunAt       time.Time     `json:"last_run_at,omitempty"`
}

// Label is the task name, or its id when unnamed.
func (ts TaskStats) Label() string {
	if ts.Name != "" {
		return ts.Name
	}
	return fmt.Sprintf("%d", ts.ID)
}

func (t *Task) snapshot() TaskStats {
	ts := TaskStats{
		ID:              t.ID,
		Name:            t.Name,
		Priority:        t.Priority,
		Deadline:        t.Deadline,
		RRIndex:         t.RRIndex,
		IntervalTask:    t.Fixed,
		Interval:        t.Interval,
		Missed:          t.Missed,
		NextRun:         t.nextRun,
		LastRunDuration: t.stats.lastRun,
		TotalRuntime:    t.stats.total,
		TotalRuns:       t.stats.runs,
		AverageRuntime:  t.stats.average(),
		Faults:          t.stats.faults,
		LastRunAt:       t.stats.lastSeen,
	}
	if t.stats.lastErr != nil {
		ts.LastError = t.stats.lastErr.Error()
	}
	return ts
}

// Stats returns a snapshot of every task in registration order.
func (s *Scheduler) Stats() []TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.snapshot())
	}
	return out
}

// Task returns the snapshot of a single task.
func (s *Scheduler) Task(id TaskID) (TaskStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// ids are dense and assigned in registration order
	if id == 0 || int(id) > len(s.tasks) {
		return TaskStats{}, false
	}
	return s.tasks[id-1].snapshot(), true
}

// StatsString renders one line per task:
//
//	heartbeat: 12 runs, 0.4210 ms total, 0.0351 ms avg
func (s *Scheduler) StatsString() string {
	stats := s.Stats()
	lines := make([]string, 0, len(stats))
	for _, ts := range stats {
		lines = append(lines, fmt.Sprintf("%s: %d runs, %.4f ms total, %.4f ms avg",
			ts.Label(), ts.TotalRuns, ms(ts.TotalRuntime), ms(ts.AverageRuntime)))
	}
	return strings.Join(lines, "\n")
}
