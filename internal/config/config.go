// Package config loads the ticksched YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	yaml "github.com/goccy/go-yaml"

	"github.com/knightchaser/ticksched/internal/sched"
	"github.com/knightchaser/ticksched/internal/workload"
)

var (
	ErrUnknownTaskKind  = errors.New("unknown task kind")
	ErrConflictingField = errors.New("field does not apply to this task kind")
)

// File mirrors config.yml
type File struct {
	Scheduler  sched.Config   `yaml:"scheduler"`
	Log        Log            `yaml:"log"`
	CSVLog     string         `yaml:"csv_log"`   // empty disables the CSV event log
	HTTPAddr   string         `yaml:"http_addr"` // empty disables the diagnostics server
	Tasks      []TaskDef      `yaml:"tasks"`
	Interrupts []InterruptDef `yaml:"interrupts"`
}

type Log struct {
	Level  string `yaml:"level"`  // info (by default)
	Format string `yaml:"format"` // console (by default)
}

// TaskDef declares one task.
type TaskDef struct {
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"` // interval or deadline; inferred from interval_ms when empty
	Priority     int           `yaml:"priority"`
	IntervalMS   int           `yaml:"interval_ms"`
	DeadlineMS   int           `yaml:"deadline_ms"`
	MissedPolicy string        `yaml:"missed_policy"` // SKIP (by default), CATCH_UP, RUN_ONCE
	Work         workload.Spec `yaml:"work"`
}

// InterruptDef declares one interrupt.
type InterruptDef struct {
	Name     string             `yaml:"name"`
	Priority *int               `yaml:"priority,omitempty"` // DefaultInterruptPriority when absent
	When     workload.Condition `yaml:"when"`
	Work     workload.Spec      `yaml:"work"`
}

// If no file is given, we use default values
func defaultFile() File {
	return File{
		Scheduler: sched.DefaultConfig(),
		Log:       Log{Level: "info", Format: "console"},
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only.
func Load(path string) (File, error) {
	cfg := defaultFile()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (File, error) {
	cfg := defaultFile()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	// sanity clamps
	cfg.Scheduler = cfg.Scheduler.Normalize()
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every task and interrupt definition.
func (f File) Validate() error {
	var errs []error
	for i, td := range f.Tasks {
		if _, err := td.Options(); err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d] %s: %w", i, td.Name, err))
		}
		if _, err := workload.Build(td.Work); err != nil {
			errs = append(errs, fmt.Errorf("tasks[%d] %s: %w", i, td.Name, err))
		}
	}
	for i, id := range f.Interrupts {
		if _, _, err := workload.BuildCondition(id.When); err != nil {
			errs = append(errs, fmt.Errorf("interrupts[%d] %s: %w", i, id.Name, err))
		}
		if _, err := workload.Build(id.Work); err != nil {
			errs = append(errs, fmt.Errorf("interrupts[%d] %s: %w", i, id.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Options converts the definition to scheduler task options.
func (td TaskDef) Options() (sched.TaskOptions, error) {
	kind := strings.ToLower(td.Kind)
	if kind == "" {
		kind = "deadline"
		if td.IntervalMS != 0 {
			kind = "interval"
		}
	}

	switch kind {
	case "interval":
		if td.DeadlineMS != 0 {
			return nil, fmt.Errorf("%w: deadline_ms on an interval task", ErrConflictingField)
		}
		policy := sched.Skip
		if td.MissedPolicy != "" {
			p, err := sched.ParseMissedPolicy(td.MissedPolicy)
			if err != nil {
				return nil, err
			}
			policy = p
		}
		return sched.Interval{
			Name:     td.Name,
			Priority: td.Priority,
			Interval: time.Duration(td.IntervalMS) * time.Millisecond,
			Missed:   policy,
		}, nil
	case "deadline":
		if td.IntervalMS != 0 {
			return nil, fmt.Errorf("%w: interval_ms on a deadline task", ErrConflictingField)
		}
		if td.MissedPolicy != "" {
			return nil, fmt.Errorf("%w: missed_policy on a deadline task", ErrConflictingField)
		}
		return sched.Deadline{
			Name:     td.Name,
			Priority: td.Priority,
			Deadline: time.Duration(td.DeadlineMS) * time.Millisecond,
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTaskKind, td.Kind)
}

// Register adds every declared task and interrupt to s. It returns the flags
// of "flag" interrupts keyed by interrupt name.
func (f File) Register(s *sched.Scheduler) (map[string]*workload.Flag, error) {
	for _, td := range f.Tasks {
		opts, err := td.Options()
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", td.Name, err)
		}
		fn, err := workload.Build(td.Work)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", td.Name, err)
		}
		s.AddTask(fn, opts)
	}

	flags := make(map[string]*workload.Flag)
	for _, id := range f.Interrupts {
		check, flag, err := workload.BuildCondition(id.When)
		if err != nil {
			return nil, fmt.Errorf("interrupt %s: %w", id.Name, err)
		}
		fn, err := workload.Build(id.Work)
		if err != nil {
			return nil, fmt.Errorf("interrupt %s: %w", id.Name, err)
		}
		if flag != nil {
			fn = flag.Handle(fn)
			flags[id.Name] = flag
		}
		priority := sched.DefaultInterruptPriority
		if id.Priority != nil {
			priority = *id.Priority
		}
		s.AddInterrupt(check, fn, priority)
	}
	return flags, nil
}
