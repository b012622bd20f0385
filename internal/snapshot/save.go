package snapshot

import (
	"context"
	"os/user"
	"strconv"
	"time"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/pkg/log"
)

// SaveOptions configures one save cycle (§4.8 Save).
type SaveOptions struct {
	RequestFile      string
	SnapshotFilename string
	Description      string
	// DescriptionBinding, when set, supplies SnapshotDescription from a
	// channel's current value instead of a fixed configured string.
	DescriptionBinding *channel.Binding
	Numerical          bool
	PendIOTime         time.Duration
	ConnectElapsed     time.Duration
	MultiPageWaveforms bool
	WaveformPath       string
}

// Save issues one bulk get across every binding in layer and builds the
// resulting Set, formatting scalars into ValueString and collecting
// waveforms separately (§4.8 Save).
func Save(ctx context.Context, layer *channel.Layer, opts SaveOptions) (*Set, error) {
	start := time.Now()

	set := &Set{Waveforms: map[string][]float64{}}
	description := opts.Description
	if opts.DescriptionBinding != nil {
		if v, err := layer.Get(ctx, opts.DescriptionBinding); err == nil {
			description = v.String
		}
	}

	for _, b := range layer.Bindings {
		row := Row{
			ControlName:     b.Row.ControlName,
			ExpectFieldType: b.Row.ExpectFieldType,
			ExpectNumeric:   b.Row.ExpectNumeric,
			ExpectElements:  b.Row.ExpectElements,
			IndirectName:    "-",
			CAError:         "n",
		}
		if b.IsWaveform() {
			row.IndirectName = b.Row.ControlName
		}

		v, err := layer.Get(ctx, b)
		if err != nil {
			row.CAError = "y"
			log.Warnf("snapshot: get failed for %q: %v", b.Row.ControlName, err)
			set.Rows = append(set.Rows, row)
			continue
		}

		if b.IsWaveform() {
			set.Waveforms[b.Row.ControlName] = v.Waveform
			row.Count = len(v.Waveform)
			row.ValueString = "WaveformPV"
		} else {
			row.ValueString = FormatValue(v, b.FieldType, opts.Numerical)
			row.Count = 1
		}
		set.Rows = append(set.Rows, row)
	}

	set.Params = Params{
		TimeStamp:              start,
		StartTime:              start,
		Time:                   time.Now(),
		LoginID:                currentUser(),
		EffectiveUID:           osEffectiveUID(),
		GroupID:                osEffectiveGID(),
		SnapType:               "Absolute",
		RequestFile:            opts.RequestFile,
		SnapshotFilename:       opts.SnapshotFilename,
		SnapshotDescription:    description,
		ElapsedTimeToCAConnect: opts.ConnectElapsed,
		ElapsedTimeToSave:      time.Since(start),
		PendIOTime:             opts.PendIOTime,
	}

	return set, nil
}

// WriteSnapshot writes set's scalar rows (and parameters) to path and any
// waveform values to side-car files or a single multi-page file, per
// opts.MultiPageWaveforms.
func WriteSnapshot(path string, set *Set, opts SaveOptions) error {
	if err := WriteSet(path, set); err != nil {
		return err
	}
	if len(set.Waveforms) == 0 {
		return nil
	}
	if opts.MultiPageWaveforms {
		return WriteWaveformMultiPage(opts.WaveformPath, set.Waveforms)
	}
	root := WaveformRootName(opts.SnapshotFilename, opts.RequestFile)
	_, err := WriteWaveformSideCars(root, set.Waveforms)
	return err
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func osEffectiveUID() int {
	if u, err := user.Current(); err == nil {
		n, _ := strconv.Atoi(u.Uid)
		return n
	}
	return -1
}

func osEffectiveGID() int {
	if u, err := user.Current(); err == nil {
		n, _ := strconv.Atoi(u.Gid)
		return n
	}
	return -1
}
