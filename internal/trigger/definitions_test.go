package trigger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefinitionsMissingPathIsNoop(t *testing.T) {
	defs, err := LoadDefinitions("")
	require.NoError(t, err)
	assert.Empty(t, defs.Glitches)
}

func TestLoadDefinitionsParsesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitor.json")
	body := `{
		"glitches": [{"name": "G1", "controlName": "X", "delta": 5, "holdoff": 1}],
		"levels": [{"name": "L1", "controlName": "Y", "level": 10, "slope": 1}],
		"alarms": [{"name": "A1", "controlName": "Z", "severities": ["MAJOR"], "statuses": ["HIHI"]}]
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	defs, err := LoadDefinitions(path)
	require.NoError(t, err)
	require.Len(t, defs.Glitches, 1)
	require.Len(t, defs.Levels, 1)
	require.Len(t, defs.Alarms, 1)
	assert.Equal(t, "X", defs.Glitches[0].ControlName)
}

func TestBuildEngineResolvesControlNamesAndReportsUnknown(t *testing.T) {
	defs := Definitions{
		Glitches: []GlitchDef{{Name: "G1", ControlName: "X", Delta: 5}},
		Levels:   []LevelDef{{Name: "L1", ControlName: "missing", Level: 1, Slope: 1}},
		Alarms:   []AlarmDef{{Name: "A1", ControlName: "Z", Severities: []string{"MAJOR"}, Statuses: []string{"HIHI"}}},
	}
	index := map[string]int{"X": 0, "Z": 1}

	e, errs := BuildEngine(index, defs, 2, 1, newFakeWriter())
	require.Len(t, errs, 1, "the level naming an unknown control should be reported, not silently dropped")
	assert.Len(t, e.Glitches, 1)
	assert.Empty(t, e.Levels)
	require.Len(t, e.Alarms, 1)
}
