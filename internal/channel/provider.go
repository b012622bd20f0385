// Package channel wraps the EPICS channel-access client ("CA", out of
// scope per §1) behind a small Provider interface and owns the durable
// Binding values the rest of the pipeline operates on (§4.2).
package channel

import (
	"context"
	"time"

	"github.com/epics-modules/sdds-core/internal/epicstime"
)

// FieldType is the discovered shape of a channel's value.
type FieldType int

const (
	FieldScalarNumeric FieldType = iota
	FieldScalarString
	FieldWaveformNumeric
	FieldWaveformString
	FieldEnum
)

// Value is the payload of a get/callback, one field populated according to
// the binding's FieldType.
type Value struct {
	Number    float64
	String    string
	Waveform  []float64
	WaveformS []string
	Ordinal   int
	Labels    []string // enum label set, when FieldType == FieldEnum
}

// Handle identifies a searched channel to the Provider; opaque to callers.
type Handle any

// EventMask selects which kinds of callbacks a subscription delivers.
type EventMask int

const (
	MaskValue EventMask = 1 << iota
	MaskAlarm
)

// Callback is what the Provider's library-owned thread delivers. It carries
// everything the Subscription Dispatcher needs to build an Event (§4.3) and
// must never block the delivering thread.
type Callback struct {
	Handle    Handle
	Value     Value
	FieldType FieldType
	Severity  Severity
	Status    Status
	Source    epicstime.Stamp
	Client    time.Time
}

// SubHandle identifies an active subscription for Unsubscribe.
type SubHandle any

// Provider is the external collaborator contract for the CA client
// library. A production binary wires a real CA implementation; tests use
// SimProvider.
type Provider interface {
	Search(ctx context.Context, name string) (Handle, error)
	WaitConnect(ctx context.Context, handles []Handle, timeout time.Duration) map[Handle]bool
	FieldInfo(h Handle) (FieldType, int, error)
	Subscribe(h Handle, mask EventMask, cb func(Callback)) (SubHandle, error)
	Unsubscribe(s SubHandle)
	Get(ctx context.Context, h Handle) (Value, error)
	Put(ctx context.Context, h Handle, v Value) error
	// PendEvent services pending library callbacks inline for up to d. The
	// Run Controller calls this on every suspension point (§5).
	PendEvent(d time.Duration)
}
