// internal/sched/tickclock.go

package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// TickClock emits ticks and counts them atomically. It is the default Trigger.
type TickClock struct {
	mu    sync.Mutex
	stop  chan struct{}
	count atomic.Int64
}

// NewTickClock creates a stopped clock.
func NewTickClock() *TickClock {
	return &TickClock{}
}

// Start begins emitting ticks at the given interval. A tick that finds the
// previous one still unconsumed is dropped, so a slow consumer sees at most one
// pending tick. Starting a running clock restarts it.
func (c *TickClock) Start(interval time.Duration) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
	}
	stop := make(chan struct{})
	c.stop = stop
	ch := make(chan struct{}, 1)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer close(ch)
		for {
			select {
			case <-ticker.C:
				c.count.Add(1)
				select {
				case ch <- struct{}{}:
				default:
				}
			case <-stop:
				return
			}
		}
	}()
	return ch
}

// Stop signals the clock to stop emitting ticks. Stopping a stopped clock does nothing.
func (c *TickClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// Count returns the number of ticks emitted so far.
func (c *TickClock) Count() int64 {
	return c.count.Load()
}
