package snapshot

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/internal/request"
)

func newTestLayer(t *testing.T) (*channel.Layer, *channel.SimProvider) {
	t.Helper()
	prov := channel.NewSimProvider()
	prov.Define("VAC:PRESSURE", channel.FieldScalarNumeric, 1, channel.Value{Number: 1.25e-7})
	prov.Define("VAC:LABEL", channel.FieldScalarString, 1, channel.Value{String: "ready"})
	prov.Define("VAC:ARRAY", channel.FieldWaveformNumeric, 3, channel.Value{Waveform: []float64{1, 2, 3}})

	layer := channel.NewLayer(prov)
	layer.Load(&request.Set{Rows: []request.Row{
		{ControlName: "VAC:PRESSURE"},
		{ControlName: "VAC:LABEL"},
		{ControlName: "VAC:ARRAY", ExpectFieldType: "scalarArray"},
	}})
	require.NoError(t, layer.ConnectAll(context.Background(), 0))
	return layer, prov
}

func TestSaveBuildsRowsAndWaveforms(t *testing.T) {
	layer, _ := newTestLayer(t)

	set, err := Save(context.Background(), layer, SaveOptions{
		RequestFile:      "vacuum.req",
		SnapshotFilename: "vacuum.snap",
		Description:      "nightly snapshot",
	})
	require.NoError(t, err)
	require.Len(t, set.Rows, 3)

	byName := map[string]Row{}
	for _, r := range set.Rows {
		byName[r.ControlName] = r
	}
	assert.Equal(t, FormatNumberPrecision(1.25e-7, 15), byName["VAC:PRESSURE"].ValueString)
	assert.Equal(t, "ready", byName["VAC:LABEL"].ValueString)
	assert.Equal(t, 3, byName["VAC:ARRAY"].Count)
	assert.Equal(t, []float64{1, 2, 3}, set.Waveforms["VAC:ARRAY"])
	assert.Equal(t, "nightly snapshot", set.Params.SnapshotDescription)
	assert.Equal(t, "Absolute", set.Params.SnapType)

	assert.Equal(t, "-", byName["VAC:PRESSURE"].IndirectName)
	assert.Equal(t, "n", byName["VAC:PRESSURE"].CAError)
	assert.Equal(t, "VAC:ARRAY", byName["VAC:ARRAY"].IndirectName)
	assert.Equal(t, "WaveformPV", byName["VAC:ARRAY"].ValueString)
}

func TestWriteAndReadSetRoundTrips(t *testing.T) {
	layer, _ := newTestLayer(t)
	set, err := Save(context.Background(), layer, SaveOptions{RequestFile: "vacuum.req"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "vacuum.snap")
	require.NoError(t, WriteSet(path, set))

	got, err := ReadSet(path)
	require.NoError(t, err)
	require.Len(t, got.Rows, 3)
	assert.Equal(t, set.Params.RequestFile, got.Params.RequestFile)

	var pressure Row
	for _, r := range got.Rows {
		if r.ControlName == "VAC:PRESSURE" {
			pressure = r
		}
	}
	assert.Equal(t, FormatNumberPrecision(1.25e-7, 15), pressure.ValueString)
}

func TestRestorePutsParsedValuesBack(t *testing.T) {
	layer, _ := newTestLayer(t)
	set := &Set{Rows: []Row{
		{ControlName: "VAC:PRESSURE", ValueString: "2.5e-07"},
		{ControlName: "VAC:LABEL", ValueString: "restored"},
	}}

	failures, err := Restore(context.Background(), layer, set, RestoreOptions{Verify: true})
	require.NoError(t, err)
	assert.Empty(t, failures)

	b, _ := layer.Lookup("VAC:PRESSURE")
	v, err := layer.Get(context.Background(), b)
	require.NoError(t, err)
	assert.InDelta(t, 2.5e-7, v.Number, 1e-12)
}

func TestRestoreSkipsUnknownControlNames(t *testing.T) {
	layer, _ := newTestLayer(t)
	set := &Set{Rows: []Row{{ControlName: "VAC:NOT_IN_REQUEST", ValueString: "1"}}}

	failures, err := Restore(context.Background(), layer, set, RestoreOptions{Verify: true})
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestRestoreSkipsRowsWithRecordedCAError(t *testing.T) {
	layer, _ := newTestLayer(t)
	set := &Set{Rows: []Row{{ControlName: "VAC:PRESSURE", ValueString: "9.0", CAError: "y"}}}

	failures, err := Restore(context.Background(), layer, set, RestoreOptions{Verify: true})
	require.NoError(t, err)
	assert.Empty(t, failures)

	b, _ := layer.Lookup("VAC:PRESSURE")
	v, err := layer.Get(context.Background(), b)
	require.NoError(t, err)
	assert.InDelta(t, 1.25e-7, v.Number, 1e-12)
}
