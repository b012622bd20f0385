// Command sddspvasaverestore captures every channel in a request file into
// a snapshot file and can later restore those values, either as a single
// save/restore cycle or as a long-running daemon armed by a trigger
// channel or a USR1 signal (§4.8).
package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"github.com/epics-modules/sdds-core/internal/bootstrap"
	"github.com/epics-modules/sdds-core/internal/config"
	"github.com/epics-modules/sdds-core/internal/snapshot"
	"github.com/epics-modules/sdds-core/internal/statussrv"
	"github.com/epics-modules/sdds-core/pkg/log"
)

func main() {
	var flagConfigFile, flagOutput, flagMode string
	var flagGops, flagUnique, flagVerify, flagNumerical, flagMultiPage bool
	var flagDescription, flagTriggerChannel, flagOutputNameChannel, flagWaveformPath string
	var flagIncludeAllNames, flagExcludeNames string
	var flagPollInterval time.Duration
	flag.StringVar(&flagConfigFile, "config", "./config.json", "JSON config file overriding defaults")
	flag.BoolVar(&flagGops, "gops", false, "listen via github.com/google/gops/agent")
	flag.BoolVar(&flagUnique, "unique", false, "collapse duplicate ControlName rows to their first occurrence")
	flag.StringVar(&flagMode, "mode", "save", "save, restore, or daemon")
	flag.StringVar(&flagOutput, "output", "", "snapshot file path (save/restore) or output-path template (daemon)")
	flag.BoolVar(&flagVerify, "verify", false, "restore mode: re-read and compare every restored value")
	flag.BoolVar(&flagNumerical, "numerical", false, "save mode: write enum values by ordinal instead of label")
	flag.StringVar(&flagDescription, "description", "", "save mode: fixed SnapshotDescription")
	flag.StringVar(&flagTriggerChannel, "triggerChannel", "", "daemon mode: ControlName that arms a save-and-write cycle on a 0->nonzero transition")
	flag.StringVar(&flagOutputNameChannel, "outputNameChannel", "", "daemon mode: ControlName that receives each cycle's output path")
	flag.BoolVar(&flagMultiPage, "multiPageWaveforms", false, "save mode: write all waveforms into one multi-page file instead of side-cars")
	flag.StringVar(&flagWaveformPath, "waveformPath", "", "save mode: path for -multiPageWaveforms' single waveform file")
	flag.DurationVar(&flagPollInterval, "pollInterval", time.Second, "daemon mode: trigger/input-file poll interval")
	flag.StringVar(&flagIncludeAllNames, "includeAllNames", "", "comma-separated glob patterns; only matching ControlNames are kept")
	flag.StringVar(&flagExcludeNames, "excludeNames", "", "comma-separated glob patterns; matching ControlNames are dropped")
	flag.Parse()

	if err := bootstrap.Init("sddspvasaverestore", flagGops, flagConfigFile); err != nil {
		log.Fatalf("sddspvasaverestore: %v", err)
	}
	if requestFiles := flag.Args(); len(requestFiles) > 0 {
		config.Keys.RequestFiles = requestFiles
	}
	config.Keys.Unique = config.Keys.Unique || flagUnique
	if flagOutput != "" {
		config.Keys.OutputPath = flagOutput
	}
	if len(config.Keys.RequestFiles) == 0 {
		log.Fatal("sddspvasaverestore: no request file given")
	}
	if config.Keys.OutputPath == "" {
		log.Fatal("sddspvasaverestore: no snapshot file path given (-output)")
	}

	ctx := context.Background()
	layer, err := bootstrap.BuildLayer(ctx, config.Keys.RequestFiles, config.Keys.Unique,
		splitNames(flagIncludeAllNames), splitNames(flagExcludeNames),
		config.Keys.ConnectTimeout, config.Keys.EnforceConnect)
	if err != nil {
		log.Fatalf("sddspvasaverestore: building channel layer: %v", err)
	}

	saveOpts := snapshot.SaveOptions{
		RequestFile:        config.Keys.RequestFiles[0],
		SnapshotFilename:   config.Keys.OutputPath,
		Description:        flagDescription,
		Numerical:          flagNumerical,
		PendIOTime:         config.Keys.PendIOTime,
		MultiPageWaveforms: flagMultiPage,
		WaveformPath:       flagWaveformPath,
	}

	switch flagMode {
	case "save":
		set, err := snapshot.Save(ctx, layer, saveOpts)
		if err != nil {
			log.Fatalf("sddspvasaverestore: save: %v", err)
		}
		if err := snapshot.WriteSnapshot(config.Keys.OutputPath, set, saveOpts); err != nil {
			log.Fatalf("sddspvasaverestore: writing %s: %v", config.Keys.OutputPath, err)
		}
		log.Infof("sddspvasaverestore: saved %d channels to %s", len(set.Rows), config.Keys.OutputPath)

	case "restore":
		set, err := snapshot.ReadSet(config.Keys.OutputPath)
		if err != nil {
			log.Fatalf("sddspvasaverestore: reading %s: %v", config.Keys.OutputPath, err)
		}
		failures, err := snapshot.Restore(ctx, layer, set, snapshot.RestoreOptions{Verify: flagVerify})
		if err != nil {
			log.Fatalf("sddspvasaverestore: restore: %v", err)
		}
		for _, f := range failures {
			log.Warnf("sddspvasaverestore: %v", f)
		}
		log.Infof("sddspvasaverestore: restored %d channels from %s (%d verify failures)", len(set.Rows), config.Keys.OutputPath, len(failures))

	case "daemon":
		cfg := snapshot.DaemonConfig{
			PollInterval: flagPollInterval,
			OutputPath:   func() string { return config.Keys.OutputPath },
			SaveOpts:     saveOpts,
		}
		if flagTriggerChannel != "" {
			b, ok := layer.Lookup(flagTriggerChannel)
			if !ok {
				log.Fatalf("sddspvasaverestore: -triggerChannel %s is not in the request file", flagTriggerChannel)
			}
			cfg.TriggerBinding = b
		}
		if flagOutputNameChannel != "" {
			b, ok := layer.Lookup(flagOutputNameChannel)
			if !ok {
				log.Fatalf("sddspvasaverestore: -outputNameChannel %s is not in the request file", flagOutputNameChannel)
			}
			cfg.OutputNameBinding = b
		}

		daemon, err := snapshot.NewDaemon(layer, cfg)
		if err != nil {
			log.Fatalf("sddspvasaverestore: building daemon: %v", err)
		}
		sup, nc, err := bootstrap.BuildSupervisor(config.Keys.Supervisor, config.Keys.NATS)
		if err != nil {
			log.Fatalf("sddspvasaverestore: supervisor: %v", err)
		}
		if nc != nil {
			defer nc.Close()
		}
		if err := sup.Init(ctx); err != nil {
			log.Warnf("sddspvasaverestore: supervisor init: %v", err)
		}
		status := bootstrap.BuildStatusServer("sddspvasaverestore", config.Keys.StatusAddress)
		status.Update(func(st *statussrv.Status) { st.BindingCount = len(layer.Bindings) })
		if err := daemon.Run(ctx); err != nil {
			log.Fatalf("sddspvasaverestore: daemon: %v", err)
		}
		_ = sup.Release("daemon exited")

	default:
		log.Fatalf("sddspvasaverestore: unknown -mode %q (want save, restore, or daemon)", flagMode)
	}
}

func splitNames(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
