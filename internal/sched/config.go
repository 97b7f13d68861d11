package sched

import "time"

// Config holds the engine options. It is embedded in the YAML configuration file.
type Config struct {
	CycleMS                int  `yaml:"cycle_ms"`                 // 5 (by default)
	ContinueAfterInterrupt bool `yaml:"continue_after_interrupt"` // true (by default)
	TimeSlicePerCycle      bool `yaml:"time_slice_per_cycle"`     // true (by default)
}

// DefaultConfig returns the options used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		CycleMS:                5,
		ContinueAfterInterrupt: true,
		TimeSlicePerCycle:      true,
	}
}

// Normalize applies sanity clamps.
func (c Config) Normalize() Config {
	if c.CycleMS <= 0 {
		c.CycleMS = DefaultConfig().CycleMS
	}
	return c
}

// CycleInterval is the cycle cadence and per-cycle time budget.
func (c Config) CycleInterval() time.Duration {
	return time.Duration(c.Normalize().CycleMS) * time.Millisecond
}
