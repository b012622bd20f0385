// Package trigger implements the circular pre-trigger buffer and the
// glitch/level/alarm predicate engine that drives buffered capture (§4.4).
package trigger

import (
	"time"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/internal/epicstime"
)

// Sample is one sampling tick's snapshot of every scalar channel the engine
// watches, kept in the circular buffer until it is either overwritten or
// written out as part of a capture.
type Sample struct {
	Source     epicstime.Stamp
	Client     time.Time
	Values     []float64         // one entry per watched binding, same order every tick
	Severities []channel.Severity // parallel to Values, consulted by Alarm predicates
	Statuses   []channel.Status   // parallel to Values, consulted by Alarm predicates
	Valid      bool              // false for buffer slots never yet written (startup)
}

// Buffer is the circular pre-trigger buffer (§4.4): length before+1, the
// write head advancing by one slot per tick and wrapping.
type Buffer struct {
	slots []Sample
	head  int
	count int // number of valid slots written so far, capped at len(slots)
}

// NewBuffer allocates a circular buffer holding "before+1" samples.
func NewBuffer(before int) *Buffer {
	if before < 0 {
		before = 0
	}
	return &Buffer{slots: make([]Sample, before+1)}
}

// Push writes the current tick into the write head and advances it.
func (b *Buffer) Push(s Sample) {
	s.Valid = true
	b.slots[b.head] = s
	b.head = (b.head + 1) % len(b.slots)
	if b.count < len(b.slots) {
		b.count++
	}
}

// Freeze returns the buffer's valid contents ordered oldest to newest,
// snapshotting the buffer as of the trigger sample (§4.4 step 1).
func (b *Buffer) Freeze() []Sample {
	out := make([]Sample, 0, b.count)
	if b.count < len(b.slots) {
		// Buffer never wrapped: slots[0:count] are in chronological order.
		out = append(out, b.slots[:b.count]...)
		return out
	}
	// Buffer has wrapped: oldest sample is at the current head.
	for i := 0; i < len(b.slots); i++ {
		idx := (b.head + i) % len(b.slots)
		out = append(out, b.slots[idx])
	}
	return out
}

// Reset discards all buffered samples without changing capacity, used when
// an inhibit period ends or a glitch baseline needs to start clean (§4.5).
func (b *Buffer) Reset() {
	b.head = 0
	b.count = 0
	for i := range b.slots {
		b.slots[i] = Sample{}
	}
}
