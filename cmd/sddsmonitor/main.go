// Command sddsmonitor is the scalar monitor: every sampling tick it reads
// all watched channels, evaluates the condition/inhibit gate, and feeds the
// glitch/level/alarm trigger engine so a buffered glitch/level/alarm
// capture is written whenever a predicate fires (§4.4, §4.5).
package main

import (
	"context"
	"flag"
	"time"

	"github.com/epics-modules/sdds-core/internal/bootstrap"
	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/internal/config"
	"github.com/epics-modules/sdds-core/internal/epicstime"
	"github.com/epics-modules/sdds-core/internal/gate"
	"github.com/epics-modules/sdds-core/internal/runctl"
	"github.com/epics-modules/sdds-core/internal/statussrv"
	"github.com/epics-modules/sdds-core/internal/trigger"
	"github.com/epics-modules/sdds-core/internal/writer"
	"github.com/epics-modules/sdds-core/pkg/log"
)

// layerReader adapts a Channel Layer to gate.Reader, reading one named
// channel's current scalar value synchronously on every condition-gate
// evaluation (§4.5).
type layerReader struct {
	ctx   context.Context
	layer *channel.Layer
}

func (r layerReader) Read(controlName string) (float64, bool) {
	b, ok := r.layer.Lookup(controlName)
	if !ok {
		return 0, false
	}
	v, err := r.layer.Get(r.ctx, b)
	if err != nil {
		return 0, false
	}
	return v.Number, true
}

func main() {
	var flagConfigFile, flagOutput string
	var flagGops, flagUnique, flagAppend bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "JSON config file overriding defaults")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent")
	flag.BoolVar(&flagUnique, "unique", false, "collapse duplicate ControlName rows to their first occurrence")
	flag.BoolVar(&flagAppend, "append", false, "append to an existing output file instead of truncating it")
	flag.StringVar(&flagOutput, "output", "", "output file path, overriding the config file's outputPath")
	flag.Parse()

	if err := bootstrap.Init("sddsmonitor", flagGops, flagConfigFile); err != nil {
		log.Fatalf("sddsmonitor: %v", err)
	}
	if requestFiles := flag.Args(); len(requestFiles) > 0 {
		config.Keys.RequestFiles = requestFiles
	}
	config.Keys.Unique = config.Keys.Unique || flagUnique
	if flagOutput != "" {
		config.Keys.OutputPath = flagOutput
	}
	if len(config.Keys.RequestFiles) == 0 {
		log.Fatal("sddsmonitor: no request file given")
	}
	if config.Keys.OutputPath == "" {
		log.Fatal("sddsmonitor: no output path given")
	}

	ctx := context.Background()
	layer, err := bootstrap.BuildLayer(ctx, config.Keys.RequestFiles, config.Keys.Unique, nil, nil, config.Keys.ConnectTimeout, config.Keys.EnforceConnect)
	if err != nil {
		log.Fatalf("sddsmonitor: building channel layer: %v", err)
	}

	sup, nc, err := bootstrap.BuildSupervisor(config.Keys.Supervisor, config.Keys.NATS)
	if err != nil {
		log.Fatalf("sddsmonitor: supervisor: %v", err)
	}
	if nc != nil {
		defer nc.Close()
	}
	if err := sup.Init(ctx); err != nil {
		log.Warnf("sddsmonitor: supervisor init: %v", err)
	}

	reg := bootstrap.BuildMetrics()
	status := bootstrap.BuildStatusServer("sddsmonitor", config.Keys.StatusAddress)
	status.Update(func(st *statussrv.Status) { st.BindingCount = len(layer.Bindings) })

	archiver, err := bootstrap.BuildArchiver(ctx, config.Keys.RemoteArchive)
	if err != nil {
		log.Fatalf("sddsmonitor: building remote archiver: %v", err)
	}

	for _, b := range layer.Bindings {
		binding := b
		if err := layer.Subscribe(binding, channel.MaskAlarm, binding.UpdateFromCallback); err != nil {
			log.Warnf("sddsmonitor: subscribing %s for alarm updates: %v", binding.Row.ControlName, err)
		}
	}

	columns := bootstrap.ValueColumns(layer.Bindings)
	columns = append(columns,
		writer.ColumnDef{Name: "PostTrigger", Type: writer.ColumnBoolean},
	)
	names := bootstrap.BindingNames(layer.Bindings)
	bindingIndex := make(map[string]int, len(names))
	for i, n := range names {
		bindingIndex[n] = i
	}

	wopts := writer.Options{Columns: columns, BindingNames: names, FlushInterval: 1, Preallocate: 200}
	out, err := openOutput(flagAppend, config.Keys.OutputPath, wopts)
	if err != nil {
		log.Fatalf("sddsmonitor: opening output: %v", err)
	}
	_ = out.SetPageParameter("ControlNameString", names)
	defer out.Close()

	defs, err := trigger.LoadDefinitions(config.Keys.MonitorDefsFile)
	if err != nil {
		log.Fatalf("sddsmonitor: loading monitor definitions: %v", err)
	}
	engine, defErrs := trigger.BuildEngine(bindingIndex, defs, config.Keys.BeforeCount, config.Keys.AfterCount, out)
	for _, e := range defErrs {
		log.Warnf("sddsmonitor: %v", e)
	}

	var conditions *gate.Set
	if config.Keys.ConditionsFile != "" {
		conditions, err = gate.LoadConditions(config.Keys.ConditionsFile)
		if err != nil {
			log.Fatalf("sddsmonitor: loading conditions: %v", err)
		}
	}
	mode := gate.AllMustPass
	if config.Keys.ConditionMode == "oneMustPass" {
		mode = gate.OneMustPass
	}
	gateEngine := gate.NewEngine(conditions, mode, config.Keys.TouchOutput, config.Keys.RetakeStep)

	var inhibit *gate.Inhibit
	if config.Keys.InhibitChannel != "" {
		inhibit = gate.NewInhibit(config.Keys.InhibitChannel, config.Keys.InhibitWait)
	}
	reader := layerReader{ctx: ctx, layer: layer}

	rotation := runctl.RotationPolicy{
		DailyFiles:          config.Keys.DailyFiles,
		MonthlyFiles:        config.Keys.MonthlyFiles,
		RolloverHour:        config.Keys.RolloverHour,
		GenerationRowLimit:  config.Keys.GenerationRowLimit,
		GenerationTimeLimit: config.Keys.GenerationTimeLimit,
	}
	fileOpened := time.Now()
	var prevTick time.Time
	rowCount := 0

	tick := func(ctx context.Context, now time.Time, step int) (retErr error) {
		for _, name := range layer.RetryUnconnected(ctx, config.Keys.ConnectTimeout) {
			log.Infof("sddsmonitor: %s reconnected", name)
		}

		if rotation.ShouldRotate(prevTick, now, fileOpened, rowCount) {
			if err := out.Close(); err != nil {
				return err
			}
			if rotated, rerr := bootstrap.RotateAside(config.Keys.OutputPath, now); rerr != nil {
				log.Warnf("sddsmonitor: rotating %s aside: %v", config.Keys.OutputPath, rerr)
			} else {
				bootstrap.ArchiveRotatedFile(ctx, "sddsmonitor", rotated, config.Keys.CompressOnRotation, archiver)
			}
			out, err = writer.Open(config.Keys.OutputPath, wopts)
			if err != nil {
				return err
			}
			_ = out.SetPageParameter("ControlNameString", names)
			fileOpened = now
			rowCount = 0
		}
		prevTick = now

		if inhibit != nil {
			inhibitValue, _ := reader.Read(inhibit.ControlName)
			if inhibit.Check(now, inhibitValue, engine) {
				status.Update(func(st *statussrv.Status) { st.Step = step; st.LastTick = now })
				reg.SamplesTaken.Inc()
				return nil
			}
		}

		gateResult, err := gateEngine.Evaluate(now, reader)
		if err != nil {
			return err
		}
		if gateResult.TouchOutput || gateResult.Transitioned {
			if err := out.Flush(); err != nil {
				return err
			}
		}
		if !gateResult.Pass {
			status.Update(func(st *statussrv.Status) { st.Step = step; st.LastTick = now })
			reg.SamplesTaken.Inc()
			return nil
		}

		sample := trigger.Sample{
			Source:     epicstime.FromTime(now),
			Client:     now,
			Values:     make([]float64, len(layer.Bindings)),
			Severities: make([]channel.Severity, len(layer.Bindings)),
			Statuses:   make([]channel.Status, len(layer.Bindings)),
		}
		for i, b := range layer.Bindings {
			v, getErr := layer.Get(ctx, b)
			if getErr != nil {
				log.Warnf("sddsmonitor: get %s: %v", b.Row.ControlName, getErr)
				continue
			}
			sample.Values[i] = v.Number
			sample.Severities[i] = b.LastSeverity
			sample.Statuses[i] = b.LastStatus
		}

		fired, err := engine.Tick(now, sample)
		if err != nil {
			return err
		}
		if fired {
			reg.EventsDispatched.WithLabelValues("trigger").Inc()
		}
		rowCount++
		reg.SamplesTaken.Inc()
		status.Update(func(st *statussrv.Status) { st.Step = step; st.LastTick = now })
		return nil
	}

	watcher, err := bootstrap.NewWatcher(config.Keys.WatchInput, config.Keys.RequestFiles)
	if err != nil {
		log.Warnf("sddsmonitor: watch-input disabled: %v", err)
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
		log.Errorf("sddsmonitor: run ended: %v", err)
	}
	log.Infof("sddsmonitor: stopped: %s", reason)
	_ = sup.Release(reason.String())
	if code := reason.ExitCode(); code != 0 {
		log.Fatalf("sddsmonitor: exiting %d", code)
	}
}

func openOutput(appendMode bool, path string, opts writer.Options) (*writer.Writer, error) {
	if appendMode {
		return writer.OpenForAppend(path, opts)
	}
	return writer.Open(path, opts)
}
