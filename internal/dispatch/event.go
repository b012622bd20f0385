// Package dispatch normalizes raw channel-access callbacks into Events and
// applies the per-binding change filter (§3 Event, §4.3).
package dispatch

import (
	"time"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/internal/epicstime"
)

// Event is a normalized record produced for one accepted callback.
type Event struct {
	BindingIndex int
	Source       epicstime.Stamp
	Client       time.Time
	Status       channel.Status
	Severity     channel.Severity
	Value        channel.Value
	FieldType    channel.FieldType

	// Related is populated by the two-phase alarm-logger pattern once the
	// follow-up get on RelatedControlName completes.
	Related *RelatedValue

	// BitLabel is set when this Event is one of several rows exploded from
	// a single callback by the bit-decoder expansion.
	BitLabel string
}

// RelatedValue is the companion scalar snapshot recorded on an alarm event
// (Glossary: "Related value").
type RelatedValue struct {
	String string
	Err    bool
}

func fromCallback(idx int, cb channel.Callback) Event {
	return Event{
		BindingIndex: idx,
		Source:       cb.Source,
		Client:       cb.Client,
		Status:       cb.Status,
		Severity:     cb.Severity,
		Value:        cb.Value,
		FieldType:    cb.FieldType,
	}
}
