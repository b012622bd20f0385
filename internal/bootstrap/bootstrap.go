// Package bootstrap collects the setup steps every cmd/ entrypoint shares:
// gops/.env/config loading, building the Channel Layer from a request
// file, and wiring the optional supervisor/metrics/status collaborators.
// Grounded on cmd/cc-backend/main.go's flag/env/config sequence from the
// teacher, factored out once instead of five times since the original
// SDDS tools are five distinct binaries built from one shared library.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/gops/agent"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/internal/config"
	"github.com/epics-modules/sdds-core/internal/metrics"
	"github.com/epics-modules/sdds-core/internal/request"
	"github.com/epics-modules/sdds-core/internal/runctl"
	"github.com/epics-modules/sdds-core/internal/statussrv"
	"github.com/epics-modules/sdds-core/internal/supervisor"
	"github.com/epics-modules/sdds-core/internal/writer"
	"github.com/epics-modules/sdds-core/internal/writer/remote"
	"github.com/epics-modules/sdds-core/pkg/log"
	"github.com/epics-modules/sdds-core/pkg/nats"
	"github.com/epics-modules/sdds-core/pkg/runtimeEnv"
)

// Init runs the common pre-flight sequence: optional gops agent, optional
// .env, then config.Init against flagConfigFile. Called first, before any
// flag value is trusted, since config.Init may override flag defaults.
func Init(program string, flagGops bool, flagConfigFile string) error {
	log.SetProgram(program)

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return err
		}
	}

	if err := runtimeEnv.LoadEnv("./.env"); err != nil && !os.IsNotExist(err) {
		return err
	}

	return config.Init(flagConfigFile)
}

// NewProvider returns the Channel Layer's Provider implementation. A real
// EPICS channel-access client is explicitly out of scope (§1); this is the
// seam a deployment wires a CA binding into, and SimProvider stands in as
// the only Provider this repository itself implements.
func NewProvider() channel.Provider {
	return channel.NewSimProvider()
}

// BuildLayer loads one or more request-table pages, applies the
// save/restore name filter when either list is non-empty, builds a Channel
// Layer over NewProvider, and runs the single bulk connect phase (§4.2).
func BuildLayer(ctx context.Context, requestFiles []string, unique bool, include, exclude []string, connectTimeout time.Duration, enforceConnect bool) (*channel.Layer, error) {
	set, err := request.Load(requestFiles, unique)
	if err != nil {
		return nil, err
	}
	set, err = request.FilterNames(set, include, exclude)
	if err != nil {
		return nil, err
	}

	layer := channel.NewLayer(NewProvider())
	layer.RequireAllConnect = enforceConnect
	layer.Load(set)
	if err := layer.ConnectAll(ctx, connectTimeout); err != nil {
		return nil, err
	}
	return layer, nil
}

// BuildSupervisor wires the supervisor client over a NATS connection when
// one is configured, or a nil-collaborator no-op client otherwise, so
// callers never need to branch on whether a NATS address was configured.
func BuildSupervisor(cfg config.SupervisorConfig, natsCfg nats.NatsConfig) (*supervisor.Client, *nats.Client, error) {
	scfg := supervisor.Config{
		PingSubject:  cfg.PingSubject,
		InitSubject:  cfg.InitSubject,
		AbortSubject: cfg.AbortSubject,
		RunName:      cfg.RunName,
	}

	if natsCfg.Address == "" {
		return supervisor.New(nil, scfg), nil, nil
	}

	nc, err := nats.NewClient(&natsCfg)
	if err != nil {
		return nil, nil, err
	}
	return supervisor.NewFromNatsClient(nc, scfg), nc, nil
}

// BuildMetrics registers a fresh Registry against the process-global
// Prometheus registerer.
func BuildMetrics() *metrics.Registry {
	return metrics.New(prometheus.DefaultRegisterer)
}

// BuildStatusServer builds a status server with the Prometheus handler
// attached and, when addr is non-empty, starts it listening in the
// background.
func BuildStatusServer(program, addr string) *statussrv.Server {
	srv := statussrv.New(program)
	srv.AttachMetrics(metrics.Handler(prometheus.DefaultGatherer))
	if addr != "" {
		go func() {
			if err := srv.ListenAndServe(addr); err != nil {
				log.Warnf("%s: status server stopped: %v", program, err)
			}
		}()
	}
	return srv
}

// WatchSignals installs the signal handler, releasing the supervisor
// connection (if any) on every termination path so a restarted run is not
// mistaken by the supervisor for a still-live one.
func WatchSignals(controller *runctl.Controller, sup *supervisor.Client) (stop func()) {
	return supervisor.WatchSignals(controller, func(reason string) {
		_ = sup.Release(reason)
	})
}

// StopReader builds a runctl.Dependencies.StopRead function reading a
// boolean-valued stop channel by control name, or nil when no stop channel
// is configured.
func StopReader(layer *channel.Layer, controlName string) func() (bool, error) {
	if controlName == "" {
		return nil
	}
	return func() (bool, error) {
		b, ok := layer.Lookup(controlName)
		if !ok {
			return false, nil
		}
		v, err := layer.Get(context.Background(), b)
		if err != nil {
			return false, nil
		}
		return v.Number != 0, nil
	}
}

// ValueColumns returns one writer.ColumnDef per binding, named after its
// ControlName and typed double for a numeric/enum channel or string for a
// string channel, so the Output Writer can carry each channel's latest
// value as a dedicated column (§3 Output File Schema, explicit form).
func ValueColumns(bindings []*channel.Binding) []writer.ColumnDef {
	cols := make([]writer.ColumnDef, 0, len(bindings))
	for _, b := range bindings {
		t := writer.ColumnDouble
		if b.FieldType == channel.FieldScalarString {
			t = writer.ColumnString
		}
		cols = append(cols, writer.ColumnDef{Name: b.Row.ControlName, Type: t})
	}
	return cols
}

// BindingNames returns each binding's ControlName in binding-index order,
// the ordering writer.Options.BindingNames and trigger.Sample.Values share.
func BindingNames(bindings []*channel.Binding) []string {
	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = b.Row.ControlName
	}
	return names
}

// RotateAside renames a just-closed generation file out of the way of the
// fresh truncated file about to be opened at the same path, so a
// compress/archive step can run on the old generation without racing the
// next one being written (§4.7).
func RotateAside(path string, closedAt time.Time) (string, error) {
	rotated := fmt.Sprintf("%s.%s", path, closedAt.Format("20060102-150405"))
	if err := os.Rename(path, rotated); err != nil {
		return "", err
	}
	return rotated, nil
}

// BuildArchiver builds the optional remote backend a rotated output file
// is uploaded to, replacing the teacher's job archive backend with the
// one ArchiveBackend a generation-rotated SDDS file plausibly needs: a
// remote object store. A zero-value RemoteConfig disables it (§4.7).
func BuildArchiver(ctx context.Context, cfg config.RemoteConfig) (*remote.S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, nil
	}
	return remote.NewS3Backend(ctx, remote.S3Config{
		Bucket:    cfg.Bucket,
		Prefix:    cfg.Prefix,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	})
}

// ArchiveRotatedFile compresses a just-closed generation file in place
// when compressOnRotation is set, then hands it to the remote backend (if
// any), logging failures rather than aborting the run: a failed archive
// upload must never take down an acquisition program still writing its
// next generation (§4.7).
func ArchiveRotatedFile(ctx context.Context, program, path string, compressOnRotation bool, backend *remote.S3Backend) {
	if path == "" {
		return
	}
	go func() {
		final := path
		if compressOnRotation {
			if err := writer.CompressOnRotation(path); err != nil {
				log.Warnf("%s: compressing %s: %v", program, path, err)
			} else {
				final = path + ".gz"
			}
		}
		if backend == nil {
			return
		}
		if err := backend.Upload(ctx, final); err != nil {
			log.Warnf("%s: archiving %s: %v", program, final, err)
		}
	}()
}

// NewWatcher starts watching the first request-file path for the
// watch-input termination policy (§4.6), or returns a nil Watcher when
// disabled.
func NewWatcher(enabled bool, requestFiles []string) (*runctl.FileWatcher, error) {
	if !enabled || len(requestFiles) == 0 {
		return nil, nil
	}
	return runctl.NewFileWatcher(requestFiles[0])
}
