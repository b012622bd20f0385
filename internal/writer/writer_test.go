package writer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/internal/epicstime"
	"github.com/epics-modules/sdds-core/internal/trigger"
)

func testOptions() Options {
	return Options{
		Columns: []ColumnDef{
			{Name: "VAC:PRESSURE", Type: ColumnDouble},
			{Name: "PostTrigger", Type: ColumnBoolean},
		},
		BindingNames:  []string{"VAC:PRESSURE"},
		FlushInterval: 0,
	}
}

func TestOpenAppendFlushClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.avro")

	w, err := Open(path, testOptions())
	require.NoError(t, err)

	require.NoError(t, w.AppendRow(map[string]any{"VAC:PRESSURE": 1.5e-7, "PreviousRow": int64(-1)}))
	require.NoError(t, w.AppendRow(map[string]any{"VAC:PRESSURE": 1.6e-7, "PreviousRow": int64(0)}))
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSchemaMismatchOnAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.avro")

	w, err := Open(path, testOptions())
	require.NoError(t, err)
	require.NoError(t, w.AppendRow(map[string]any{"VAC:PRESSURE": 1.0}))
	require.NoError(t, w.Close())

	differentOpts := testOptions()
	differentOpts.Columns = append(differentOpts.Columns, ColumnDef{Name: "Extra", Type: ColumnString})

	_, err = OpenForAppend(path, differentOpts)
	require.Error(t, err)
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestWriteRowFromTriggerSample(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.avro")

	w, err := Open(path, testOptions())
	require.NoError(t, err)
	require.NoError(t, w.OpenPage(3))
	require.NoError(t, w.SetParam("g1Triggered", true))

	sample := trigger.Sample{
		Source:     epicstime.Stamp{Seconds: 100},
		Values:     []float64{42},
		Severities: []channel.Severity{channel.NoAlarm},
		Statuses:   []channel.Status{channel.StatusNoAlarm},
	}
	require.NoError(t, w.WriteRow(sample, false))
	require.NoError(t, w.ClosePage())
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPreallocationLengthensOnDemand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alloc.avro")

	opts := testOptions()
	opts.Preallocate = 2
	w, err := Open(path, opts)
	require.NoError(t, err)
	w.StartPage(2)

	for i := 0; i < 5; i++ {
		require.NoError(t, w.AppendRow(map[string]any{"VAC:PRESSURE": float64(i)}))
	}
	assert.GreaterOrEqual(t, w.rowsAllocated, 5)
	require.NoError(t, w.Close())
}
