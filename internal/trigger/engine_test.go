package trigger

import (
	"testing"
	"time"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	opened   bool
	size     int
	params   map[string]any
	rows     []Sample
	post     []bool
	closed   int
}

func newFakeWriter() *fakeWriter { return &fakeWriter{params: map[string]any{}} }

func severityName(ord int) string { return channel.Severity(ord).String() }

func (w *fakeWriter) OpenPage(rows int) error {
	w.opened = true
	w.size = rows
	return nil
}
func (w *fakeWriter) SetParam(name string, value any) error {
	w.params[name] = value
	return nil
}
func (w *fakeWriter) WriteRow(s Sample, postTrigger bool) error {
	w.rows = append(w.rows, s)
	w.post = append(w.post, postTrigger)
	return nil
}
func (w *fakeWriter) ClosePage() error {
	w.closed++
	w.opened = false
	return nil
}

func TestBufferFreezeBeforeWrap(t *testing.T) {
	b := NewBuffer(3)
	b.Push(Sample{Values: []float64{1}})
	b.Push(Sample{Values: []float64{2}})
	frozen := b.Freeze()
	require.Len(t, frozen, 2)
	assert.Equal(t, 1.0, frozen[0].Values[0])
	assert.Equal(t, 2.0, frozen[1].Values[0])
}

func TestBufferFreezeAfterWrap(t *testing.T) {
	b := NewBuffer(2) // capacity 3
	for i := 1; i <= 5; i++ {
		b.Push(Sample{Values: []float64{float64(i)}})
	}
	frozen := b.Freeze()
	require.Len(t, frozen, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{frozen[0].Values[0], frozen[1].Values[0], frozen[2].Values[0]})
}

// Property 3 (pre/post buffer completeness): a glitch capture emits exactly
// before+1 pre-trigger rows (PostTrigger=0) followed by exactly `after`
// post-trigger rows (PostTrigger=1).
func TestGlitchCaptureSequence(t *testing.T) {
	g, err := NewGlitch("g1", 0, 5, 0, 0, 1, false, 0, false)
	require.NoError(t, err)

	w := newFakeWriter()
	e := NewEngine(2, 2, w, severityName)
	e.Glitches = []*Glitch{g}

	now := time.Unix(1000, 0)
	for i := 0; i < 4; i++ {
		fired, err := e.Tick(now, Sample{Values: []float64{10}})
		require.NoError(t, err)
		require.False(t, fired)
		now = now.Add(time.Second)
	}

	fired, err := e.Tick(now, Sample{Values: []float64{20}})
	require.NoError(t, err)
	assert.True(t, fired)
	assert.True(t, w.opened)
	assert.Equal(t, true, w.params["g1Triggered"])

	now = now.Add(time.Second)
	_, err = e.Tick(now, Sample{Values: []float64{20}})
	require.NoError(t, err)
	now = now.Add(time.Second)
	_, err = e.Tick(now, Sample{Values: []float64{20}})
	require.NoError(t, err)

	assert.Equal(t, 1, w.closed)
	require.Len(t, w.rows, 5) // 3 pre (buffer had 3 valid samples incl. trigger) + 2 post
	assert.False(t, w.post[0])
	assert.False(t, w.post[1])
	assert.False(t, w.post[2])
	assert.True(t, w.post[3])
	assert.True(t, w.post[4])
}

func TestLevelRearmRequired(t *testing.T) {
	l, err := NewLevel("lvl", 0, 10, 1, false, 0, false)
	require.NoError(t, err)

	fired, err := l.Evaluate(12)
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = l.Evaluate(12)
	require.NoError(t, err)
	assert.False(t, fired, "must not refire until rearmed")

	fired, err = l.Evaluate(9)
	require.NoError(t, err)
	assert.False(t, fired)

	fired, err = l.Evaluate(11)
	require.NoError(t, err)
	assert.True(t, fired, "rearmed after returning below the level")
}

func TestAlarmPredicateSeverityInclusion(t *testing.T) {
	a, err := NewAlarm("al", 0, map[channel.Severity]bool{channel.Major: true}, false, nil, false, 0, false)
	require.NoError(t, err)

	fired, err := a.Evaluate(channel.Minor, channel.StatusHiHi)
	require.NoError(t, err)
	assert.False(t, fired)

	fired, err = a.Evaluate(channel.Major, channel.StatusHiHi)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestHoldoffSuppressesRefire(t *testing.T) {
	g, err := NewGlitch("g1", 0, 5, 0, 0, 1, false, 10, false)
	require.NoError(t, err)
	w := newFakeWriter()
	e := NewEngine(0, 0, w, severityName)
	e.Glitches = []*Glitch{g}

	now := time.Unix(0, 0)
	_, _ = e.Tick(now, Sample{Values: []float64{10}})
	now = now.Add(time.Second)
	fired, err := e.Tick(now, Sample{Values: []float64{20}})
	require.NoError(t, err)
	require.True(t, fired)

	now = now.Add(time.Second)
	fired, err = e.Tick(now, Sample{Values: []float64{40}})
	require.NoError(t, err)
	assert.False(t, fired, "within holdoff window")

	now = now.Add(10 * time.Second)
	fired, err = e.Tick(now, Sample{Values: []float64{100}})
	require.NoError(t, err)
	assert.True(t, fired, "holdoff expired")
}
