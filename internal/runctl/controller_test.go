package runctl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) Advance(d time.Duration) func(time.Duration) {
	return func(time.Duration) { c.now = c.now.Add(d) }
}

func TestRunDeadline(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cfg := Config{Deadline: 5 * time.Second, Interval: time.Second}
	deps := Dependencies{
		Now:       clock.Now,
		PendEvent: clock.Advance(time.Second),
	}

	c := &Controller{}
	reason, err := c.Run(context.Background(), cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, ReasonDeadline, reason)
}

func TestRunStepCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	var steps int
	cfg := Config{StepLimit: 3, Interval: time.Second}
	deps := Dependencies{
		Now:       clock.Now,
		PendEvent: clock.Advance(time.Second),
		Tick: func(ctx context.Context, now time.Time, step int) error {
			steps++
			return nil
		},
	}

	c := &Controller{}
	reason, err := c.Run(context.Background(), cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, ReasonStepCount, reason)
	assert.Equal(t, 3, steps)
}

func TestRunStopChannel(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	calls := 0
	cfg := Config{Interval: time.Second}
	deps := Dependencies{
		Now:       clock.Now,
		PendEvent: clock.Advance(time.Second),
		StopRead: func() (bool, error) {
			calls++
			return calls >= 2, nil
		},
	}

	c := &Controller{}
	reason, err := c.Run(context.Background(), cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, ReasonStopChannel, reason)
}

func TestRunTickErrorIsFatal(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cfg := Config{Interval: time.Second}
	boom := errors.New("boom")
	deps := Dependencies{
		Now:       clock.Now,
		PendEvent: clock.Advance(time.Second),
		Tick: func(ctx context.Context, now time.Time, step int) error {
			return boom
		},
	}

	c := &Controller{}
	reason, err := c.Run(context.Background(), cfg, deps)
	require.Error(t, err)
	assert.Equal(t, ReasonSupervisorLost, reason)
}

func TestInterruptStopsLoop(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cfg := Config{Interval: time.Second}
	c := &Controller{}
	deps := Dependencies{
		Now: clock.Now,
		PendEvent: func(time.Duration) {
			clock.now = clock.now.Add(time.Second)
		},
		Tick: func(ctx context.Context, now time.Time, step int) error {
			if step == 2 {
				c.Interrupt(ReasonFatalSignal)
			}
			return nil
		},
	}

	reason, err := c.Run(context.Background(), cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, ReasonFatalSignal, reason)
}

type failingSupervisor struct{}

func (failingSupervisor) Ping(ctx context.Context) error { return errors.New("supervisor down") }

func TestSupervisorPingFailureIsFatal(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	cfg := Config{Interval: time.Second, PingInterval: time.Second}
	deps := Dependencies{
		Now:       clock.Now,
		PendEvent: clock.Advance(time.Second),
		Ping:      failingSupervisor{},
	}

	c := &Controller{}
	reason, err := c.Run(context.Background(), cfg, deps)
	require.Error(t, err)
	assert.Equal(t, ReasonSupervisorLost, reason)
}

func TestRotationPolicyDailyCrossing(t *testing.T) {
	p := RotationPolicy{DailyFiles: true}
	prev := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	cur := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)
	assert.True(t, p.ShouldRotate(prev, cur, time.Time{}, 0))
}

func TestRotationPolicyRolloverHour(t *testing.T) {
	p := RotationPolicy{DailyFiles: true, RolloverHour: 8}
	prev := time.Date(2026, 7, 30, 7, 59, 0, 0, time.UTC)
	cur := time.Date(2026, 7, 30, 8, 1, 0, 0, time.UTC)
	assert.True(t, p.ShouldRotate(prev, cur, time.Time{}, 0))

	prevMid := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	curMid := time.Date(2026, 7, 31, 0, 1, 0, 0, time.UTC)
	assert.False(t, p.ShouldRotate(prevMid, curMid, time.Time{}, 0), "midnight alone must not rotate when RolloverHour is 8")
}

func TestRotationPolicyGenerationRowLimit(t *testing.T) {
	p := RotationPolicy{GenerationRowLimit: 100}
	now := time.Now()
	assert.True(t, p.ShouldRotate(now, now, now, 100))
	assert.False(t, p.ShouldRotate(now, now, now, 99))
}
