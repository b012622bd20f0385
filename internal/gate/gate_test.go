package gate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapReader map[string]float64

func (m mapReader) Read(name string) (float64, bool) {
	v, ok := m[name]
	return v, ok
}

func TestLoadConditions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conditions.csv")
	content := "ControlName,MinimumValue,MaximumValue,Holdoff,ScaleFactor\n" +
		"VAC:PRESSURE,0,1e-6,5,1\n" +
		"TEMP:SENSOR,10,30,,2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	set, err := LoadConditions(path)
	require.NoError(t, err)
	require.Len(t, set.Rows, 2)
	assert.Equal(t, "VAC:PRESSURE", set.Rows[0].ControlName)
	assert.Equal(t, 5.0, set.Rows[0].Holdoff)
	assert.Equal(t, 2.0, set.Rows[1].ScaleFactor)
}

func TestAllMustPass(t *testing.T) {
	set := &Set{Rows: []ConditionRow{
		{ControlName: "A", MinimumValue: 0, MaximumValue: 10},
		{ControlName: "B", MinimumValue: 0, MaximumValue: 10},
	}}
	e := NewEngine(set, AllMustPass, false, false)

	res, err := e.Evaluate(time.Now(), mapReader{"A": 5, "B": 5})
	require.NoError(t, err)
	assert.True(t, res.Pass)

	res, err = e.Evaluate(time.Now(), mapReader{"A": 5, "B": 50})
	require.NoError(t, err)
	assert.False(t, res.Pass)
}

func TestOneMustPass(t *testing.T) {
	set := &Set{Rows: []ConditionRow{
		{ControlName: "A", MinimumValue: 0, MaximumValue: 10},
		{ControlName: "B", MinimumValue: 0, MaximumValue: 10},
	}}
	e := NewEngine(set, OneMustPass, false, false)

	res, err := e.Evaluate(time.Now(), mapReader{"A": 50, "B": 5})
	require.NoError(t, err)
	assert.True(t, res.Pass)
}

// Open Question (b): flush happens exactly on pass<->fail transitions.
func TestTransitionDetection(t *testing.T) {
	set := &Set{Rows: []ConditionRow{{ControlName: "A", MinimumValue: 0, MaximumValue: 10}}}
	e := NewEngine(set, AllMustPass, true, true)

	res, err := e.Evaluate(time.Now(), mapReader{"A": 5})
	require.NoError(t, err)
	assert.False(t, res.Transitioned, "first tick establishes a baseline, not a transition")

	res, err = e.Evaluate(time.Now(), mapReader{"A": 5})
	require.NoError(t, err)
	assert.False(t, res.Transitioned, "no change in verdict")

	res, err = e.Evaluate(time.Now(), mapReader{"A": 50})
	require.NoError(t, err)
	assert.True(t, res.Transitioned)
	assert.True(t, res.SkipStepAdvance)
	assert.True(t, res.TouchOutput)

	res, err = e.Evaluate(time.Now(), mapReader{"A": 50})
	require.NoError(t, err)
	assert.False(t, res.Transitioned, "still failing, no new transition")
}

func TestRowHoldoffSkipsReread(t *testing.T) {
	set := &Set{Rows: []ConditionRow{{ControlName: "A", MinimumValue: 0, MaximumValue: 10, Holdoff: 60}}}
	e := NewEngine(set, AllMustPass, false, false)

	now := time.Now()
	res, err := e.Evaluate(now, mapReader{"A": 5})
	require.NoError(t, err)
	assert.True(t, res.Pass)

	// Even a reading that would now fail is ignored during the row holdoff.
	res, err = e.Evaluate(now.Add(time.Second), mapReader{"A": 999})
	require.NoError(t, err)
	assert.True(t, res.Pass)
}

func TestInhibitResetsOnRisingEdge(t *testing.T) {
	resets := 0
	resetter := resetterFunc(func() { resets++ })
	in := NewInhibit("INHIBIT", 5*time.Second)

	now := time.Now()
	assert.True(t, in.Check(now, 1, resetter))
	assert.Equal(t, 1, resets)

	assert.True(t, in.Check(now.Add(time.Second), 1, resetter), "still inhibited")
	assert.Equal(t, 1, resets, "no repeated reset while steadily inhibited")

	assert.True(t, in.Check(now.Add(time.Second), 0, resetter), "wait period not yet elapsed")

	assert.False(t, in.Check(now.Add(10*time.Second), 0, resetter))
}

type resetterFunc func()

func (f resetterFunc) ResetBaselines() { f() }
