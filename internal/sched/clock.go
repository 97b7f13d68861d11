package sched

import "time"

// Clock is the time source the scheduler measures elapsed time with.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Trigger drives cycles. Start returns a channel receiving one value per
// cycle; the channel is closed after Stop.
type Trigger interface {
	Start(interval time.Duration) <-chan struct{}
	Stop()
}
