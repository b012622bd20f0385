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

func newDaemonTestLayer(t *testing.T) *channel.Layer {
	t.Helper()
	prov := channel.NewSimProvider()
	prov.Define("VAC:TRIGGER", channel.FieldScalarNumeric, 1, channel.Value{Number: 0})
	prov.Define("VAC:OUTNAME", channel.FieldScalarString, 1, channel.Value{})
	prov.Define("VAC:PRESSURE", channel.FieldScalarNumeric, 1, channel.Value{Number: 1.0})

	layer := channel.NewLayer(prov)
	layer.Load(&request.Set{Rows: []request.Row{
		{ControlName: "VAC:TRIGGER"},
		{ControlName: "VAC:OUTNAME"},
		{ControlName: "VAC:PRESSURE"},
	}})
	require.NoError(t, layer.ConnectAll(context.Background(), 0))
	return layer
}

func TestDaemonPollRunsCycleOnRisingEdgeAndResetsTrigger(t *testing.T) {
	layer := newDaemonTestLayer(t)
	trigger, _ := layer.Lookup("VAC:TRIGGER")
	outName, _ := layer.Lookup("VAC:OUTNAME")

	outPath := filepath.Join(t.TempDir(), "cycle.snap")
	d, err := NewDaemon(layer, DaemonConfig{
		TriggerBinding:    trigger,
		OutputNameBinding: outName,
		SaveOpts:          SaveOptions{SnapshotFilename: outPath, RequestFile: "vacuum.req"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, layer.Put(ctx, trigger, channel.Value{Number: 1}))

	d.poll(ctx)

	got, err := layer.Get(ctx, trigger)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Number, "trigger channel should reset to zero after a cycle")

	name, err := layer.Get(ctx, outName)
	require.NoError(t, err)
	assert.Equal(t, outPath, name.String)
}

func TestDaemonPollDoesNothingBelowRisingEdge(t *testing.T) {
	layer := newDaemonTestLayer(t)
	trigger, _ := layer.Lookup("VAC:TRIGGER")

	d, err := NewDaemon(layer, DaemonConfig{
		TriggerBinding: trigger,
		SaveOpts:       SaveOptions{RequestFile: "vacuum.req"},
	})
	require.NoError(t, err)

	d.poll(context.Background())

	got, err := layer.Get(context.Background(), trigger)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Number)
}
