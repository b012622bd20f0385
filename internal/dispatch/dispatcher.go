package dispatch

import (
	"math"

	"github.com/epics-modules/sdds-core/internal/channel"
)

// Mode configures the per-binding change filter (§4.3) applied by Accept.
// The alarm logger's accept-then-fetch-related pattern is AlarmAccept,
// which takes no Mode.
type Mode struct {
	LogInitialValues     bool
	RequireSeverityChange bool
	RequireStatusChange   bool
}

// Accept applies the logger-on-change per-binding filter to one callback
// and returns the Event to log, if any. The binding's very first callback
// is recognized by its State() still being Connected (not yet ValueSeen);
// the caller runs UpdateFromCallback only after Accept has read the prior
// Last* fields.
func Accept(b *channel.Binding, cb channel.Callback, mode Mode) (Event, bool) {
	wasFirst := b.State() == channel.Connected
	prevSeverity := b.LastSeverity
	prevStatus := b.LastStatus
	prevValue := b.LastValue
	hadPrior := b.LastRow != channel.NoPriorRow || !wasFirst

	if b.Pending && cb.Severity <= b.PendingSeverity {
		return Event{}, false
	}

	// The initial INVALID->NO_ALARM transition is never logged, even when
	// the value changed in the same callback (§4.3); last-severity still
	// advances via the UpdateFromCallback the caller runs after Accept.
	if prevSeverity == channel.Invalid && cb.Severity == channel.NoAlarm {
		return Event{}, false
	}

	if wasFirst {
		if !mode.LogInitialValues && (cb.Severity == channel.NoAlarm || cb.Severity == channel.Invalid) {
			return Event{}, false
		}
		b.MarkValueSeen()
		return fromCallback(b.Index, cb), true
	}

	if hadPrior && sameValue(b, cb, prevValue) {
		return Event{}, false
	}

	if mode.RequireSeverityChange && cb.Severity == prevSeverity {
		return Event{}, false
	}
	if mode.RequireStatusChange && cb.Status == prevStatus {
		return Event{}, false
	}

	b.MarkValueSeen()
	return fromCallback(b.Index, cb), true
}

func sameValue(b *channel.Binding, cb channel.Callback, prev channel.Value) bool {
	switch b.FieldType {
	case channel.FieldScalarString:
		return cb.Value.String == prev.String
	case channel.FieldWaveformNumeric:
		if len(cb.Value.Waveform) != len(prev.Waveform) {
			return false
		}
		for i := range cb.Value.Waveform {
			if cb.Value.Waveform[i] != prev.Waveform[i] {
				return false
			}
		}
		return true
	case channel.FieldWaveformString:
		if len(cb.Value.WaveformS) != len(prev.WaveformS) {
			return false
		}
		for i := range cb.Value.WaveformS {
			if cb.Value.WaveformS[i] != prev.WaveformS[i] {
				return false
			}
		}
		return true
	default:
		tol := b.Row.Tolerance
		return math.Abs(cb.Value.Number-prev.Number) < tol
	}
}

// AlarmAccept implements the alarm logger's acceptance rule: every alarm
// callback is a candidate row unless a more-severe write is already
// pending for the binding. It reports whether a two-phase related-value
// fetch is needed before the row can be written (§4.3).
func AlarmAccept(b *channel.Binding, cb channel.Callback) (ev Event, needsRelated bool, ok bool) {
	if b.Pending && cb.Severity <= b.PendingSeverity {
		return Event{}, false, false
	}

	ev = fromCallback(b.Index, cb)
	b.MarkValueSeen()
	if b.Row.RelatedControlName != "" && b.Row.RelatedControlName != b.Row.ControlName {
		b.Pending = true
		b.PendingSeverity = cb.Severity
		return ev, true, true
	}
	return ev, false, true
}

// CompleteRelated finishes the two-phase alarm-logger pattern once the
// follow-up get on RelatedControlName returns, clearing the binding's
// pending flag so further callbacks can be logged.
func CompleteRelated(b *channel.Binding, ev Event, value string, err bool) Event {
	b.Pending = false
	ev.Related = &RelatedValue{String: value, Err: err}
	return ev
}

// ExpandBitDecoder implements the bit-decoder expansion (§4.3): when a
// binding names a BitDecoderArray and the sampled value converts to an
// integer, one row is produced per set bit, each carrying the decoder
// array's label for that bit as its related value. A failed conversion
// produces a single error-signaling row.
func ExpandBitDecoder(ev Event, intValue int64, convertOK bool, labels []string) []Event {
	if !convertOK {
		bad := ev
		bad.Related = &RelatedValue{Err: true}
		return []Event{bad}
	}

	var out []Event
	for j := 0; j < len(labels) && j < 63; j++ {
		if intValue&(1<<uint(j)) == 0 || labels[j] == "" {
			continue
		}
		row := ev
		row.BitLabel = labels[j]
		row.Related = &RelatedValue{String: labels[j]}
		out = append(out, row)
	}
	return out
}
