package snapshot

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/pkg/log"
)

// DaemonConfig configures the long-running save-and-write cycle (§4.8
// Daemon mode).
type DaemonConfig struct {
	PollInterval time.Duration // how often the trigger/input-file channels are polled
	OutputPath   func() string // computes the next output path; may vary per cycle

	// TriggerBinding, when non-nil, starts a cycle whenever its value
	// transitions to non-zero; it is reset to zero after the cycle.
	TriggerBinding *channel.Binding

	// OutputNameBinding, when non-nil, receives the written file's path
	// after each cycle.
	OutputNameBinding *channel.Binding

	// InputFileBinding, when non-nil, turns on a per-poll mtime check of
	// SaveOpts.RequestFile whose only effect is a log line. The binding's
	// value is not read, and the request file is not reloaded.
	InputFileBinding *channel.Binding

	SaveOpts SaveOptions
}

// Daemon runs the snapshot program indefinitely, triggered by a channel
// transition or a USR1-equivalent signal (§4.8 Daemon mode).
type Daemon struct {
	layer  *channel.Layer
	cfg    DaemonConfig
	sched  gocron.Scheduler
	signal chan os.Signal

	mu          sync.Mutex
	lastTrigger float64
	lastMtime   time.Time
}

// NewDaemon builds a Daemon driving layer with cfg. Callers call Run to
// start it; Run shuts the scheduler down and stops the signal handler when
// it returns.
func NewDaemon(layer *channel.Layer, cfg DaemonConfig) (*Daemon, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Daemon{
		layer:  layer,
		cfg:    cfg,
		sched:  sched,
		signal: make(chan os.Signal, 1),
	}, nil
}

// Run starts the poll job and the USR1 signal listener and blocks until
// ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	signal.Notify(d.signal, syscall.SIGUSR1)
	defer signal.Stop(d.signal)

	_, err := d.sched.NewJob(
		gocron.DurationJob(d.cfg.PollInterval),
		gocron.NewTask(func() { d.poll(ctx) }),
	)
	if err != nil {
		return err
	}
	d.sched.Start()
	defer d.sched.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.signal:
			log.Info("snapshot: daemon received USR1, starting save-and-write cycle")
			d.runCycle(ctx)
		}
	}
}

// poll logs a changed input-file mtime and checks the trigger channel for
// a transition from zero to non-zero, invoked on every scheduler tick.
func (d *Daemon) poll(ctx context.Context) {
	d.checkInputFile()

	if d.cfg.TriggerBinding == nil {
		return
	}
	v, err := d.layer.Get(ctx, d.cfg.TriggerBinding)
	if err != nil {
		log.Warnf("snapshot: daemon trigger channel get failed: %v", err)
		return
	}

	d.mu.Lock()
	was := d.lastTrigger
	d.lastTrigger = v.Number
	d.mu.Unlock()

	if was == 0 && v.Number != 0 {
		log.Info("snapshot: trigger channel went non-zero, starting save-and-write cycle")
		d.runCycle(ctx)
		d.resetTrigger(ctx)
	}
}

func (d *Daemon) resetTrigger(ctx context.Context) {
	if err := d.layer.Put(ctx, d.cfg.TriggerBinding, channel.Value{Number: 0}); err != nil {
		log.Warnf("snapshot: failed to reset trigger channel: %v", err)
		return
	}
	d.mu.Lock()
	d.lastTrigger = 0
	d.mu.Unlock()
}

func (d *Daemon) checkInputFile() {
	if d.cfg.InputFileBinding == nil {
		return
	}
	info, err := os.Stat(d.cfg.SaveOpts.RequestFile)
	if err != nil {
		return
	}
	d.mu.Lock()
	changed := !info.ModTime().Equal(d.lastMtime)
	d.lastMtime = info.ModTime()
	d.mu.Unlock()
	if changed {
		log.Infof("snapshot: request file %s changed", d.cfg.SaveOpts.RequestFile)
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	set, err := Save(ctx, d.layer, d.cfg.SaveOpts)
	if err != nil {
		log.Errorf("snapshot: save failed: %v", err)
		return
	}

	path := d.cfg.SaveOpts.SnapshotFilename
	if d.cfg.OutputPath != nil {
		path = d.cfg.OutputPath()
	}

	if err := WriteSnapshot(path, set, d.cfg.SaveOpts); err != nil {
		log.Errorf("snapshot: write failed for %s: %v", path, err)
		return
	}

	if d.cfg.OutputNameBinding != nil {
		if err := d.layer.Put(ctx, d.cfg.OutputNameBinding, channel.Value{String: path}); err != nil {
			log.Warnf("snapshot: failed to publish output filename: %v", err)
		}
	}
}
