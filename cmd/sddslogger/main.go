// Command sddslogger is the periodic scalar logger: it samples every
// channel in its request file on a fixed interval and writes one row per
// tick regardless of whether any value changed, rotating the output file
// on the configured time/row boundaries (§4.6, §4.7).
package main

import (
	"context"
	"flag"
	"time"

	"github.com/epics-modules/sdds-core/internal/bootstrap"
	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/internal/config"
	"github.com/epics-modules/sdds-core/internal/epicstime"
	"github.com/epics-modules/sdds-core/internal/runctl"
	"github.com/epics-modules/sdds-core/internal/statussrv"
	"github.com/epics-modules/sdds-core/internal/writer"
	"github.com/epics-modules/sdds-core/pkg/log"
)

func main() {
	var flagConfigFile, flagOutput string
	var flagGops, flagUnique, flagAppend bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "JSON config file overriding defaults")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent")
	flag.BoolVar(&flagUnique, "unique", false, "collapse duplicate ControlName rows to their first occurrence")
	flag.BoolVar(&flagAppend, "append", false, "append to an existing output file instead of truncating it")
	flag.StringVar(&flagOutput, "output", "", "output file path, overriding the config file's outputPath")
	flag.Parse()

	if err := bootstrap.Init("sddslogger", flagGops, flagConfigFile); err != nil {
		log.Fatalf("sddslogger: %v", err)
	}
	if requestFiles := flag.Args(); len(requestFiles) > 0 {
		config.Keys.RequestFiles = requestFiles
	}
	config.Keys.Unique = config.Keys.Unique || flagUnique
	if flagOutput != "" {
		config.Keys.OutputPath = flagOutput
	}
	if len(config.Keys.RequestFiles) == 0 {
		log.Fatal("sddslogger: no request file given (pass as a positional argument, or set requestFiles in the config)")
	}
	if config.Keys.OutputPath == "" {
		log.Fatal("sddslogger: no output path given (-output or outputPath in the config)")
	}

	ctx := context.Background()
	layer, err := bootstrap.BuildLayer(ctx, config.Keys.RequestFiles, config.Keys.Unique, nil, nil, config.Keys.ConnectTimeout, config.Keys.EnforceConnect)
	if err != nil {
		log.Fatalf("sddslogger: building channel layer: %v", err)
	}

	sup, nc, err := bootstrap.BuildSupervisor(config.Keys.Supervisor, config.Keys.NATS)
	if err != nil {
		log.Fatalf("sddslogger: supervisor: %v", err)
	}
	if nc != nil {
		defer nc.Close()
	}
	if err := sup.Init(ctx); err != nil {
		log.Warnf("sddslogger: supervisor init: %v", err)
	}

	reg := bootstrap.BuildMetrics()
	status := bootstrap.BuildStatusServer("sddslogger", config.Keys.StatusAddress)
	status.Update(func(st *statussrv.Status) { st.BindingCount = len(layer.Bindings) })

	archiver, err := bootstrap.BuildArchiver(ctx, config.Keys.RemoteArchive)
	if err != nil {
		log.Fatalf("sddslogger: building remote archiver: %v", err)
	}

	// The periodic logger samples values synchronously on its own clock
	// (sddslogger.c's ca_array_get_callback-on-a-timer model) but still
	// wants every alarm transition reflected in the row it writes, so each
	// binding also carries a standing alarm-only subscription.
	for _, b := range layer.Bindings {
		binding := b
		if err := layer.Subscribe(binding, channel.MaskAlarm, binding.UpdateFromCallback); err != nil {
			log.Warnf("sddslogger: subscribing %s for alarm updates: %v", binding.Row.ControlName, err)
		}
	}

	columns := []writer.ColumnDef{
		{Name: "Hour", Type: writer.ColumnDouble},
		{Name: "AlarmSeverityIndex", Type: writer.ColumnLong},
		{Name: "AlarmStatusIndex", Type: writer.ColumnLong},
	}
	columns = append(columns, bootstrap.ValueColumns(layer.Bindings)...)
	names := bootstrap.BindingNames(layer.Bindings)

	wopts := writer.Options{Columns: columns, BindingNames: names, FlushInterval: 1, Preallocate: 256}
	out, err := openOutput(flagAppend, config.Keys.OutputPath, wopts)
	if err != nil {
		log.Fatalf("sddslogger: opening output: %v", err)
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

	start := time.Now()
	fileOpened := start
	var prevTick time.Time
	rowCount := 0
	lastRow := make([]int64, len(layer.Bindings))
	for i := range lastRow {
		lastRow[i] = channel.NoPriorRow
	}

	tick := func(ctx context.Context, now time.Time, step int) error {
		for _, name := range layer.RetryUnconnected(ctx, config.Keys.ConnectTimeout) {
			log.Infof("sddslogger: %s reconnected", name)
		}

		if rotation.ShouldRotate(prevTick, now, fileOpened, rowCount) {
			if err := out.Close(); err != nil {
				return err
			}
			if rotated, rerr := bootstrap.RotateAside(config.Keys.OutputPath, now); rerr != nil {
				log.Warnf("sddslogger: rotating %s aside: %v", config.Keys.OutputPath, rerr)
			} else {
				bootstrap.ArchiveRotatedFile(ctx, "sddslogger", rotated, config.Keys.CompressOnRotation, archiver)
			}
			out, err = writer.Open(config.Keys.OutputPath, wopts)
			if err != nil {
				return err
			}
			_ = out.SetPageParameter("ControlNameString", names)
			fileOpened = now
			rowCount = 0
		}

		for i, b := range layer.Bindings {
			v, getErr := layer.Get(ctx, b)
			if getErr != nil {
				log.Warnf("sddslogger: get %s: %v", b.Row.ControlName, getErr)
				continue
			}
			row := map[string]any{
				"PreviousRow":        lastRow[i],
				"TimeOfDay":          epicstime.FromTime(now).Float(),
				"Hour":               epicstime.HourOfDay(now),
				"AlarmSeverityIndex": int64(b.LastSeverity),
				"AlarmStatusIndex":   int64(b.LastStatus),
			}
			if b.FieldType == channel.FieldScalarString {
				row[writer.ColumnName(b.Row.ControlName)] = v.String
			} else {
				row[writer.ColumnName(b.Row.ControlName)] = v.Number
			}
			if err := out.AppendRow(row); err != nil {
				return err
			}
			lastRow[i] = int64(rowCount)
			rowCount++
			reg.SamplesTaken.Inc()
			reg.EventsDispatched.WithLabelValues(b.Row.ControlName).Inc()
		}
		prevTick = now
		status.Update(func(st *statussrv.Status) { st.Step = step; st.LastTick = now })
		return nil
	}

	watcher, err := bootstrap.NewWatcher(config.Keys.WatchInput, config.Keys.RequestFiles)
	if err != nil {
		log.Warnf("sddslogger: watch-input disabled: %v", err)
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
		log.Errorf("sddslogger: run ended: %v", err)
	}
	log.Infof("sddslogger: stopped: %s", reason)
	_ = sup.Release(reason.String())
	if code := reason.ExitCode(); code != 0 {
		log.Fatalf("sddslogger: exiting %d", code)
	}
}

func openOutput(appendMode bool, path string, opts writer.Options) (*writer.Writer, error) {
	if appendMode {
		return writer.OpenForAppend(path, opts)
	}
	return writer.Open(path, opts)
}
