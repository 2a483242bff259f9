package invoker

import (
	"context"
	"time"

	"remindd/internal/engine"
)

// Executor is the single entry point the invoker drives. Implemented by
// *engine.Engine; narrowed to an interface so tests can stub it.
type Executor interface {
	Execute(ctx context.Context, id string, now time.Time) (engine.Directive, error)
}

// Config controls the invoker service.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// ExecTimeout bounds one Execute call end to end. 0 means 30s.
	ExecTimeout time.Duration

	// SweepEvery is the catch-up sweep period. The sweep re-discovers due
	// Pending reminders from the store, which covers process restarts and
	// abandoned timers. 0 means 1m.
	SweepEvery time.Duration
	// SweepLimit caps reminders picked up per sweep. 0 means 100.
	SweepLimit int
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return 2
}

func (c Config) queueSize() int {
	if c.QueueSize > 0 {
		return c.QueueSize
	}
	return 256
}

func (c Config) execTimeout() time.Duration {
	if c.ExecTimeout > 0 {
		return c.ExecTimeout
	}
	return 30 * time.Second
}

func (c Config) sweepEvery() time.Duration {
	if c.SweepEvery > 0 {
		return c.SweepEvery
	}
	return time.Minute
}

func (c Config) sweepLimit() int {
	if c.SweepLimit > 0 {
		return c.SweepLimit
	}
	return 100
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled  bool
	Workers  int
	QueueLen int
	QueueCap int
	Timers   int
	Dropped  uint64
}
