package runctl

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Ticker is the single per-sample unit of work the controller drives:
// whatever dispatch/trigger/gate/writer calls one sampling interval
// requires. Returning an error aborts the run.
type Ticker func(ctx context.Context, now time.Time, step int) error

// Supervisor is the controller's narrow view of the external supervisor
// connection (§4.9): a failed ping is always fatal, matching
// "Supervisor ping failures of type ABORT or TIMEOUT are fatal" (§5).
type Supervisor interface {
	Ping(ctx context.Context) error
}

// Watcher reports when the request file (or its resolved symlink target)
// changes on disk, implementing the watch-input termination policy (§4.6).
type Watcher interface {
	Changed() <-chan struct{}
}

// Config holds one run's scheduling parameters.
type Config struct {
	Deadline     time.Duration // zero disables the deadline check
	StepLimit    int           // zero disables the step-count check
	Interval     time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// Dependencies are the controller's collaborators, all interfaces or plain
// funcs so the scheduling logic is testable without a real CA connection,
// clock, or supervisor process.
type Dependencies struct {
	PendEvent func(d time.Duration)
	Now       func() time.Time
	Tick      Ticker
	Ping      Supervisor        // nil disables supervisor pings
	StopRead  func() (bool, error) // reads the stop channel; true means stop
	Watcher   Watcher           // nil disables watch-input
}

// Controller runs the cooperative single-threaded scheduling loop common
// to every monitor-family program (§4.6, §5).
type Controller struct {
	interrupted atomic.Bool
	reason      atomic.Int32
}

// Interrupt sets the volatile interrupt flag the loop checks after every
// pend-event call (§5 Cancellation and timeout). Safe to call from a
// signal handler goroutine.
func (c *Controller) Interrupt(r Reason) {
	c.reason.Store(int32(r))
	c.interrupted.Store(true)
}

// Run drives the scheduling loop until a termination condition fires,
// returning the Reason and, for error paths, the triggering error.
func (c *Controller) Run(ctx context.Context, cfg Config, deps Dependencies) (Reason, error) {
	start := deps.Now()
	lastPing := start
	step := 0

	for {
		now := deps.Now()

		if cfg.Deadline > 0 && now.Sub(start) >= cfg.Deadline {
			return ReasonDeadline, nil
		}
		if cfg.StepLimit > 0 && step >= cfg.StepLimit {
			return ReasonStepCount, nil
		}
		if c.interrupted.Load() {
			return Reason(c.reason.Load()), nil
		}
		if deps.StopRead != nil {
			stop, err := deps.StopRead()
			if err != nil {
				return ReasonSupervisorLost, fmt.Errorf("runctl: reading stop channel: %w", err)
			}
			if stop {
				return ReasonStopChannel, nil
			}
		}
		if deps.Watcher != nil {
			select {
			case <-deps.Watcher.Changed():
				return ReasonInputFileModified, nil
			default:
			}
		}

		if deps.Tick != nil {
			if err := deps.Tick(ctx, now, step); err != nil {
				return ReasonSupervisorLost, fmt.Errorf("runctl: tick %d: %w", step, err)
			}
		}
		step++

		if deps.Ping != nil && cfg.PingInterval > 0 && now.Sub(lastPing) >= cfg.PingInterval {
			pingCtx := ctx
			var cancel context.CancelFunc
			if cfg.PingTimeout > 0 {
				pingCtx, cancel = context.WithTimeout(ctx, cfg.PingTimeout)
			}
			err := deps.Ping.Ping(pingCtx)
			if cancel != nil {
				cancel()
			}
			if err != nil {
				return ReasonSupervisorLost, fmt.Errorf("runctl: supervisor ping: %w", err)
			}
			lastPing = now
		}

		if c.interrupted.Load() {
			return Reason(c.reason.Load()), nil
		}

		c.wait(cfg, deps)
	}
}

// wait blocks for one sampling interval as a series of pend-event naps no
// longer than the ping interval, checking the interrupt flag after each
// nap. No ping is sent between naps: Run pings at most once per loop
// iteration, when PingInterval has elapsed since the last ping.
func (c *Controller) wait(cfg Config, deps Dependencies) {
	remaining := cfg.Interval
	chunk := cfg.Interval
	if cfg.PingInterval > 0 && cfg.PingInterval < chunk {
		chunk = cfg.PingInterval
	}
	if chunk <= 0 {
		deps.PendEvent(0)
		return
	}
	for remaining > 0 {
		step := chunk
		if step > remaining {
			step = remaining
		}
		deps.PendEvent(step)
		remaining -= step
		if c.interrupted.Load() {
			return
		}
	}
}
