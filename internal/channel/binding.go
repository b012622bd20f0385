package channel

import (
	"sync"
	"time"

	"github.com/epics-modules/sdds-core/internal/epicstime"
	"github.com/epics-modules/sdds-core/internal/request"
)

// State is a Binding's connection lifecycle state (§3).
type State int

const (
	Unconnected State = iota
	Connected
	ValueSeen
)

// Binding is the program's durable association between one request row and
// one CA channel (Glossary). Bindings are created when the request file is
// read and owned by the Channel Layer for the run's lifetime.
type Binding struct {
	Index int
	Row   request.Row

	mu sync.Mutex

	Handle        Handle
	ReadbackH     Handle
	RelatedH      Handle
	state         State
	FieldType     FieldType
	ElementCount  int
	sub           SubHandle
	BitDecoderIdx int // index into a parameter-side bit decoder array, or -1

	LastStatus     Status
	LastSeverity   Severity
	LastValue      Value
	LastClientTime time.Time
	LastSourceTime epicstime.Stamp
	LastRow        int64 // PreviousRow sentinel tracking; -1 means "no prior"
	Pending        bool  // two-phase alarm-logger related-value write in flight
	PendingSeverity Severity

	Reconnects int
}

// NoPriorRow is the PreviousRow sentinel meaning "no row logged yet for
// this binding" (§3 Sample Row).
const NoPriorRow int64 = -1

func NewBinding(idx int, row request.Row) *Binding {
	return &Binding{
		Index:     idx,
		Row:       row,
		state:     Unconnected,
		FieldType: FieldScalarNumeric,
		LastRow:   NoPriorRow,
	}
}

func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Binding) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// MarkValueSeen records that a row has been produced from this binding's
// current value, advancing it past the initial-callback state (§4.3). The
// dispatcher calls this once per accepted Event.
func (b *Binding) MarkValueSeen() {
	b.setState(ValueSeen)
}

// IsWaveform reports whether the discovered field type is one of the two
// waveform shapes.
func (b *Binding) IsWaveform() bool {
	return b.FieldType == FieldWaveformNumeric || b.FieldType == FieldWaveformString
}

// UpdateFromCallback applies a raw Callback's best-effort fields to the
// binding's last-value state. This is the only thing a callback may do to
// shared state (§4.3, §5) — callers serialize calls through the
// dispatcher's enqueue so races are acceptable (best-effort snapshot).
func (b *Binding) UpdateFromCallback(cb Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.LastValue = cb.Value
	b.LastStatus = cb.Status
	b.LastSeverity = cb.Severity
	b.LastSourceTime = cb.Source
	b.LastClientTime = cb.Client
	if b.state == Unconnected {
		b.state = Connected
	}
}
