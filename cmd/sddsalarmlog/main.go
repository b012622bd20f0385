// Command sddsalarmlog is the alarm logger: it subscribes to every
// channel's alarm transitions, runs the two-phase accept-then-fetch-related
// pattern, expands any BitDecoderArray channel into one row per set bit,
// and writes the result to a rotating output file (§4.4, §4.3).
package main

import (
	"context"
	"flag"
	"fmt"
	"strconv"
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
	var flagGops, flagUnique, flagAppend bool
	var flagRolloverAt int
	flag.StringVar(&flagConfigFile, "config", "./config.json", "JSON config file overriding defaults")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent")
	flag.BoolVar(&flagUnique, "unique", false, "collapse duplicate ControlName rows to their first occurrence")
	flag.BoolVar(&flagAppend, "append", false, "append to an existing output file instead of truncating it")
	flag.IntVar(&flagRolloverAt, "rolloverAt", -1, "hour (0-23) at which a daily file rolls over, instead of midnight")
	flag.StringVar(&flagOutput, "output", "", "output file path, overriding the config file's outputPath")
	flag.Parse()

	if err := bootstrap.Init("sddsalarmlog", flagGops, flagConfigFile); err != nil {
		log.Fatalf("sddsalarmlog: %v", err)
	}
	if requestFiles := flag.Args(); len(requestFiles) > 0 {
		config.Keys.RequestFiles = requestFiles
	}
	config.Keys.Unique = config.Keys.Unique || flagUnique
	if flagOutput != "" {
		config.Keys.OutputPath = flagOutput
	}
	if flagRolloverAt >= 0 {
		config.Keys.RolloverHour = flagRolloverAt
	}
	if len(config.Keys.RequestFiles) == 0 {
		log.Fatal("sddsalarmlog: no request file given")
	}
	if config.Keys.OutputPath == "" {
		log.Fatal("sddsalarmlog: no output path given")
	}

	ctx := context.Background()
	layer, err := bootstrap.BuildLayer(ctx, config.Keys.RequestFiles, config.Keys.Unique, nil, nil, config.Keys.ConnectTimeout, config.Keys.EnforceConnect)
	if err != nil {
		log.Fatalf("sddsalarmlog: building channel layer: %v", err)
	}

	sup, nc, err := bootstrap.BuildSupervisor(config.Keys.Supervisor, config.Keys.NATS)
	if err != nil {
		log.Fatalf("sddsalarmlog: supervisor: %v", err)
	}
	if nc != nil {
		defer nc.Close()
	}
	if err := sup.Init(ctx); err != nil {
		log.Warnf("sddsalarmlog: supervisor init: %v", err)
	}

	reg := bootstrap.BuildMetrics()
	status := bootstrap.BuildStatusServer("sddsalarmlog", config.Keys.StatusAddress)
	status.Update(func(st *statussrv.Status) { st.BindingCount = len(layer.Bindings) })

	archiver, err := bootstrap.BuildArchiver(ctx, config.Keys.RemoteArchive)
	if err != nil {
		log.Fatalf("sddsalarmlog: building remote archiver: %v", err)
	}

	columns := []writer.ColumnDef{
		{Name: "AlarmSeverityIndex", Type: writer.ColumnLong},
		{Name: "AlarmStatusIndex", Type: writer.ColumnLong},
		{Name: "ControlNameIndex", Type: writer.ColumnLong},
		{Name: "RelatedValue", Type: writer.ColumnString},
		{Name: "RelatedValueError", Type: writer.ColumnBoolean},
		{Name: "BitLabel", Type: writer.ColumnString},
	}
	names := bootstrap.BindingNames(layer.Bindings)

	wopts := writer.Options{Columns: columns, BindingNames: names, FlushInterval: 1, Preallocate: 100}
	out, err := openOutput(flagAppend, config.Keys.OutputPath, wopts)
	if err != nil {
		log.Fatalf("sddsalarmlog: opening output: %v", err)
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
	bitLabels := dispatch.NewBitLabelCache(64)

	writeEvent := func(ev dispatch.Event, binding *channel.Binding) error {
		row := map[string]any{
			"PreviousRow":        binding.LastRow,
			"TimeOfDay":          ev.Source.Float(),
			"AlarmSeverityIndex": int64(ev.Severity),
			"AlarmStatusIndex":   int64(ev.Status),
			"ControlNameIndex":   int64(binding.Index),
			"BitLabel":           ev.BitLabel,
		}
		if ev.Related != nil {
			row["RelatedValue"] = ev.Related.String
			row["RelatedValueError"] = ev.Related.Err
		}
		if err := out.AppendRow(row); err != nil {
			return err
		}
		binding.LastRow = int64(rowCount)
		rowCount++
		return nil
	}

	for _, b := range layer.Bindings {
		binding := b
		onCallback := func(cb channel.Callback) {
			mu.Lock()
			defer mu.Unlock()

			ev, needsRelated, ok := dispatch.AlarmAccept(binding, cb)
			binding.UpdateFromCallback(cb)
			if !ok {
				return
			}

			if needsRelated {
				related, found := layer.Lookup(binding.Row.RelatedControlName)
				if !found {
					ev = dispatch.CompleteRelated(binding, ev, "", true)
				} else {
					v, getErr := layer.Get(ctx, related)
					if getErr != nil {
						ev = dispatch.CompleteRelated(binding, ev, "", true)
					} else {
						ev = dispatch.CompleteRelated(binding, ev, relatedValueString(related, v), false)
					}
				}
			}

			if binding.Row.BitDecoderArray != "" {
				intValue, convertOK := dispatch.ConvertInt(valueString(ev))
				labels := bitLabels.Labels(binding.Row.BitDecoderArray)
				for _, expanded := range dispatch.ExpandBitDecoder(ev, intValue, convertOK, labels) {
					if err := writeEvent(expanded, binding); err != nil {
						log.Errorf("sddsalarmlog: appending bit row for %s: %v", binding.Row.ControlName, err)
						return
					}
				}
			} else if err := writeEvent(ev, binding); err != nil {
				log.Errorf("sddsalarmlog: appending row for %s: %v", binding.Row.ControlName, err)
				return
			}

			reg.EventsDispatched.WithLabelValues(binding.Row.ControlName).Inc()
		}
		if err := layer.Subscribe(binding, channel.MaskAlarm, onCallback); err != nil {
			log.Warnf("sddsalarmlog: subscribing %s: %v", binding.Row.ControlName, err)
		}
	}

	tick := func(ctx context.Context, now time.Time, step int) error {
		for _, name := range layer.RetryUnconnected(ctx, config.Keys.ConnectTimeout) {
			log.Infof("sddsalarmlog: %s reconnected", name)
		}

		mu.Lock()
		needRotate := rotation.ShouldRotate(prevTick, now, fileOpened, rowCount)
		if needRotate {
			if err := out.Close(); err != nil {
				mu.Unlock()
				return err
			}
			if rotated, rerr := bootstrap.RotateAside(config.Keys.OutputPath, now); rerr != nil {
				log.Warnf("sddsalarmlog: rotating %s aside: %v", config.Keys.OutputPath, rerr)
			} else {
				bootstrap.ArchiveRotatedFile(ctx, "sddsalarmlog", rotated, config.Keys.CompressOnRotation, archiver)
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
		log.Warnf("sddsalarmlog: watch-input disabled: %v", err)
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
		log.Errorf("sddsalarmlog: run ended: %v", err)
	}
	log.Infof("sddsalarmlog: stopped: %s", reason)
	_ = sup.Release(reason.String())
	if code := reason.ExitCode(); code != 0 {
		log.Fatalf("sddsalarmlog: exiting %d", code)
	}
}

// relatedValueString renders a companion channel's current value as the
// alarm row's RelatedValue string, regardless of its field type.
func relatedValueString(b *channel.Binding, v channel.Value) string {
	if b.FieldType == channel.FieldScalarString {
		return v.String
	}
	return strconv.FormatFloat(v.Number, 'g', -1, 64)
}

// valueString renders an Event's own value as a string for BitDecoderArray
// conversion, covering both numeric and string scalar channels.
func valueString(ev dispatch.Event) string {
	if ev.FieldType == channel.FieldScalarString {
		return ev.Value.String
	}
	return fmt.Sprintf("%v", ev.Value.Number)
}

func openOutput(appendMode bool, path string, opts writer.Options) (*writer.Writer, error) {
	if appendMode {
		return writer.OpenForAppend(path, opts)
	}
	return writer.Open(path, opts)
}
