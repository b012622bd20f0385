package dispatch

import (
	"testing"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/internal/request"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBinding(tolerance float64) *channel.Binding {
	b := channel.NewBinding(0, request.Row{ControlName: "X", Tolerance: tolerance, HasTolerance: true})
	b.FieldType = channel.FieldScalarNumeric
	return b
}

// Property 1: initial-callback suppression.
func TestInitialCallbackSuppression(t *testing.T) {
	b := newBinding(0.1)
	b.UpdateFromCallback(channel.Callback{Severity: channel.NoAlarm, Value: channel.Value{Number: 1}})

	// First callback after connect, LogInitialValues off, no alarm: suppressed.
	_, ok := Accept(b, channel.Callback{Severity: channel.NoAlarm, Value: channel.Value{Number: 1}}, Mode{LogInitialValues: false})
	assert.False(t, ok)

	// Accept marks the binding ValueSeen as a side effect of logging a row,
	// so simulate that a row was in fact produced (e.g. LogInitialValues
	// true on the real first sample) before checking steady-state behavior.
	b.MarkValueSeen()
	b.LastRow = 0

	ev2, ok2 := Accept(b, channel.Callback{Severity: channel.NoAlarm, Value: channel.Value{Number: 2}}, Mode{LogInitialValues: false})
	require.True(t, ok2)
	assert.Equal(t, 2.0, ev2.Value.Number)
}

// Property 2: change-filter monotonicity.
func TestChangeFilterMonotonicity(t *testing.T) {
	b := newBinding(1.0)
	b.UpdateFromCallback(channel.Callback{Severity: channel.NoAlarm, Value: channel.Value{Number: 10}})
	b.MarkValueSeen()
	b.LastRow = 0

	_, ok := Accept(b, channel.Callback{Severity: channel.NoAlarm, Value: channel.Value{Number: 10.5}}, Mode{})
	assert.False(t, ok, "change below tolerance must not emit")

	ev, ok := Accept(b, channel.Callback{Severity: channel.NoAlarm, Value: channel.Value{Number: 12}}, Mode{})
	require.True(t, ok)
	assert.Equal(t, 12.0, ev.Value.Number)
}

// Property 3: the initial INVALID->NO_ALARM transition is suppressed
// unconditionally, even when the value changes in the same callback.
func TestInvalidToNoAlarmSuppressedDespiteValueChange(t *testing.T) {
	b := newBinding(0.1)
	b.UpdateFromCallback(channel.Callback{Severity: channel.Invalid, Value: channel.Value{Number: 1}})
	b.MarkValueSeen()
	b.LastRow = 0

	_, ok := Accept(b, channel.Callback{Severity: channel.NoAlarm, Value: channel.Value{Number: 99}}, Mode{})
	assert.False(t, ok, "INVALID->NO_ALARM must be suppressed even though the value changed")
}

func TestMoreSevereAlarmPendingDropsLessSevere(t *testing.T) {
	b := newBinding(0)
	b.Pending = true
	b.PendingSeverity = channel.Major
	_, ok := Accept(b, channel.Callback{Severity: channel.Minor, Value: channel.Value{Number: 1}}, Mode{})
	assert.False(t, ok)
}

func TestAlarmTwoPhase(t *testing.T) {
	b := channel.NewBinding(0, request.Row{ControlName: "X", RelatedControlName: "Y"})
	ev, needsRelated, ok := AlarmAccept(b, channel.Callback{Severity: channel.Major, Status: channel.StatusHiHi})
	require.True(t, ok)
	require.True(t, needsRelated)
	assert.True(t, b.Pending)

	final := CompleteRelated(b, ev, "42", false)
	assert.False(t, b.Pending)
	require.NotNil(t, final.Related)
	assert.Equal(t, "42", final.Related.String)
}

func TestBitDecoderExpansion(t *testing.T) {
	ev := Event{BindingIndex: 0}
	labels := []string{"bit0set", "bit1set", "bit2set"}
	out := ExpandBitDecoder(ev, 0b101, true, labels)
	require.Len(t, out, 2)
	assert.Equal(t, "bit0set", out[0].BitLabel)
	assert.Equal(t, "bit2set", out[1].BitLabel)

	errOut := ExpandBitDecoder(ev, 0, false, labels)
	require.Len(t, errOut, 1)
	assert.True(t, errOut[0].Related.Err)
}
