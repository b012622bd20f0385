// Command sddslogonchange is the change-triggered logger: it subscribes to
// every channel in its request file and writes a row only when the
// per-binding change filter accepts a callback, applying each channel's
// optional linear Scale/Offset before both the filter and the written
// value (§4.3, supplemented from sddslogonchange.c).
package main

import (
	"context"
	"flag"
	"sync"
	"time"

	"github.com/epics-modules/sdds-core/internal/bootstrap"
	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/internal/config"
	"github.com/epics-modules/sdds-core/internal/dispatch"
	"github.com/epics-modules/sdds-core/internal/runctl"
	"github.com/epics-modules/sdds-core/internal/statussrv"
	"github.com/epics-modules/sdds-core/internal/writer"
	"github.com/epics-modules/sdds-core/pkg/log"
)

func main() {
	var flagConfigFile, flagOutput string
	var flagGops, flagUnique, flagAppend, flagLogInitial bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "JSON config file overriding defaults")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent")
	flag.BoolVar(&flagUnique, "unique", false, "collapse duplicate ControlName rows to their first occurrence")
	flag.BoolVar(&flagAppend, "append", false, "append to an existing output file instead of truncating it")
	flag.BoolVar(&flagLogInitial, "logInitial", true, "log each channel's first callback even if it carries no alarm")
	flag.StringVar(&flagOutput, "output", "", "output file path, overriding the config file's outputPath")
	flag.Parse()

	if err := bootstrap.Init("sddslogonchange", flagGops, flagConfigFile); err != nil {
		log.Fatalf("sddslogonchange: %v", err)
	}
	if requestFiles := flag.Args(); len(requestFiles) > 0 {
		config.Keys.RequestFiles = requestFiles
	}
	config.Keys.Unique = config.Keys.Unique || flagUnique
	if flagOutput != "" {
		config.Keys.OutputPath = flagOutput
	}
	if len(config.Keys.RequestFiles) == 0 {
		log.Fatal("sddslogonchange: no request file given")
	}
	if config.Keys.OutputPath == "" {
		log.Fatal("sddslogonchange: no output path given")
	}

	ctx := context.Background()
	layer, err := bootstrap.BuildLayer(ctx, config.Keys.RequestFiles, config.Keys.Unique, nil, nil, config.Keys.ConnectTimeout, config.Keys.EnforceConnect)
	if err != nil {
		log.Fatalf("sddslogonchange: building channel layer: %v", err)
	}

	sup, nc, err := bootstrap.BuildSupervisor(config.Keys.Supervisor, config.Keys.NATS)
	if err != nil {
		log.Fatalf("sddslogonchange: supervisor: %v", err)
	}
	if nc != nil {
		defer nc.Close()
	}
	if err := sup.Init(ctx); err != nil {
		log.Warnf("sddslogonchange: supervisor init: %v", err)
	}

	reg := bootstrap.BuildMetrics()
	status := bootstrap.BuildStatusServer("sddslogonchange", config.Keys.StatusAddress)
	status.Update(func(st *statussrv.Status) { st.BindingCount = len(layer.Bindings) })

	archiver, err := bootstrap.BuildArchiver(ctx, config.Keys.RemoteArchive)
	if err != nil {
		log.Fatalf("sddslogonchange: building remote archiver: %v", err)
	}

	columns := []writer.ColumnDef{
		{Name: "Duration", Type: writer.ColumnDouble},
		{Name: "AlarmSeverityIndex", Type: writer.ColumnLong},
		{Name: "AlarmStatusIndex", Type: writer.ColumnLong},
	}
	columns = append(columns, bootstrap.ValueColumns(layer.Bindings)...)
	names := bootstrap.BindingNames(layer.Bindings)

	wopts := writer.Options{Columns: columns, BindingNames: names, FlushInterval: 1, Preallocate: 256}
	out, err := openOutput(flagAppend, config.Keys.OutputPath, wopts)
	if err != nil {
		log.Fatalf("sddslogonchange: opening output: %v", err)
	}
	_ = out.SetPageParameter("ControlNameString", names)
	defer out.Close()

	rotation := runctl.RotationPolicy{
		DailyFiles:          config.Keys.DailyFiles,
		MonthlyFiles:        config.Keys.MonthlyFiles,
		RolloverHour:        config.Keys.RolloverHour,
		GenerationRowLimit:  config.Keys.GenerationRowLimit,
		GenerationTimeLimit: config.Keys.GenerationTimeLimit,
	}

	var mu sync.Mutex
	fileOpened := time.Now()
	var prevTick time.Time
	rowCount := 0

	mode := dispatch.Mode{LogInitialValues: flagLogInitial}

	for _, b := range layer.Bindings {
		binding := b
		scale, offset := binding.Row.Scale, binding.Row.Offset
		if scale == 0 {
			scale = 1
		}
		onCallback := func(cb channel.Callback) {
			if cb.FieldType == channel.FieldScalarNumeric {
				cb.Value.Number = scale*cb.Value.Number + offset
			}

			mu.Lock()
			defer mu.Unlock()

			prevRow := binding.LastRow
			prevSource := binding.LastSourceTime
			ev, ok := dispatch.Accept(binding, cb, mode)
			// UpdateFromCallback must run after Accept reads the prior
			// Last* snapshot, so the next callback compares against this
			// one rather than against itself.
			binding.UpdateFromCallback(cb)
			if !ok {
				return
			}

			row := map[string]any{
				"PreviousRow":        prevRow,
				"TimeOfDay":          ev.Source.Float(),
				"AlarmSeverityIndex": int64(ev.Severity),
				"AlarmStatusIndex":   int64(ev.Status),
			}
			if prevRow != channel.NoPriorRow {
				row["Duration"] = ev.Source.Sub(prevSource).Seconds()
			}
			if ev.FieldType == channel.FieldScalarString {
				row[writer.ColumnName(binding.Row.ControlName)] = ev.Value.String
			} else {
				row[writer.ColumnName(binding.Row.ControlName)] = ev.Value.Number
			}

			if err := out.AppendRow(row); err != nil {
				log.Errorf("sddslogonchange: appending row for %s: %v", binding.Row.ControlName, err)
				return
			}
			binding.LastRow = int64(rowCount)
			rowCount++
			reg.EventsDispatched.WithLabelValues(binding.Row.ControlName).Inc()
		}
		if err := layer.Subscribe(binding, channel.MaskValue|channel.MaskAlarm, onCallback); err != nil {
			log.Warnf("sddslogonchange: subscribing %s: %v", binding.Row.ControlName, err)
		}
	}

	tick := func(ctx context.Context, now time.Time, step int) error {
		for _, name := range layer.RetryUnconnected(ctx, config.Keys.ConnectTimeout) {
			log.Infof("sddslogonchange: %s reconnected", name)
		}

		mu.Lock()
		needRotate := rotation.ShouldRotate(prevTick, now, fileOpened, rowCount)
		if needRotate {
			if err := out.Close(); err != nil {
				mu.Unlock()
				return err
			}
			if rotated, rerr := bootstrap.RotateAside(config.Keys.OutputPath, now); rerr != nil {
				log.Warnf("sddslogonchange: rotating %s aside: %v", config.Keys.OutputPath, rerr)
			} else {
				bootstrap.ArchiveRotatedFile(ctx, "sddslogonchange", rotated, config.Keys.CompressOnRotation, archiver)
			}
			out, err = writer.Open(config.Keys.OutputPath, wopts)
			if err != nil {
				mu.Unlock()
				return err
			}
			_ = out.SetPageParameter("ControlNameString", names)
			fileOpened = now
			rowCount = 0
		}
		prevTick = now
		mu.Unlock()

		reg.SamplesTaken.Inc()
		status.Update(func(st *statussrv.Status) { st.Step = step; st.LastTick = now })
		return nil
	}

	watcher, err := bootstrap.NewWatcher(config.Keys.WatchInput, config.Keys.RequestFiles)
	if err != nil {
		log.Warnf("sddslogonchange: watch-input disabled: %v", err)
	}
	var watcherDep runctl.Watcher
	if watcher != nil {
		defer watcher.Close()
		watcherDep = watcher
	}

	controller := &runctl.Controller{}
	stopWatch := bootstrap.WatchSignals(controller, sup)
	defer stopWatch()

	cfg := runctl.Config{
		Deadline:     config.Keys.Deadline,
		StepLimit:    config.Keys.StepLimit,
		Interval:     config.Keys.Interval,
		PingInterval: config.Keys.PingInterval,
		PingTimeout:  config.Keys.PingTimeout,
	}
	deps := runctl.Dependencies{
		PendEvent: layer.PendingEvents,
		Now:       time.Now,
		Tick:      tick,
		Ping:      sup,
		StopRead:  bootstrap.StopReader(layer, config.Keys.StopChannel),
		Watcher:   watcherDep,
	}

	reason, err := controller.Run(ctx, cfg, deps)
	if err != nil {
		log.Errorf("sddslogonchange: run ended: %v", err)
	}
	log.Infof("sddslogonchange: stopped: %s", reason)
	_ = sup.Release(reason.String())
	if code := reason.ExitCode(); code != 0 {
		log.Fatalf("sddslogonchange: exiting %d", code)
	}
}

func openOutput(appendMode bool, path string, opts writer.Options) (*writer.Writer, error) {
	if appendMode {
		return writer.OpenForAppend(path, opts)
	}
	return writer.Open(path, opts)
}
