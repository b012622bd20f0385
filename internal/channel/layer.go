package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/epics-modules/sdds-core/internal/request"
	"github.com/epics-modules/sdds-core/pkg/log"
	"golang.org/x/time/rate"
)

// ConnectError marks a per-channel connection failure; never fatal on its
// own (§7).
type ConnectError struct {
	Name string
}

func (e *ConnectError) Error() string { return fmt.Sprintf("channel: %q did not connect", e.Name) }

// FieldMismatchError is the one fatal condition in §4.2: an explicit
// ExpectFieldType="scalarArray" hint that conflicts with a discovered
// scalar field, or an unexplained waveform element-count mismatch.
type FieldMismatchError struct {
	Name   string
	Reason string
}

func (e *FieldMismatchError) Error() string {
	return fmt.Sprintf("channel: %q field type mismatch: %s", e.Name, e.Reason)
}

const defaultConnectTimeout = 60 * time.Second

// Layer owns every Binding for the run's lifetime and is the only thing
// that talks to the Provider.
type Layer struct {
	Provider Provider

	Bindings []*Binding
	byName   map[string]*Binding

	// RequireAllConnect promotes a post-search connect timeout to a fatal
	// error instead of a logged "did not connect" warning (sddsmonitor.c
	// -enforceConnect, supplemented feature).
	RequireAllConnect bool

	reconnectLimiters map[string]*rate.Limiter
}

func NewLayer(p Provider) *Layer {
	return &Layer{
		Provider:          p,
		byName:            make(map[string]*Binding),
		reconnectLimiters: make(map[string]*rate.Limiter),
	}
}

// Load creates one Binding per request row, skipping Disable rows.
func (l *Layer) Load(set *request.Set) {
	for _, row := range set.Rows {
		if row.Disable {
			continue
		}
		b := NewBinding(len(l.Bindings), row)
		l.Bindings = append(l.Bindings, b)
		l.byName[row.ControlName] = b
	}
}

// Lookup finds a binding by its request-row ControlName.
func (l *Layer) Lookup(name string) (*Binding, bool) {
	b, ok := l.byName[name]
	return b, ok
}

// ConnectAll performs the single bulk search phase followed by a single
// bounded wait, per the §4.2 connection policy. Bindings still unconnected
// after connectTimeout are logged as "did not connect" and left Unconnected
// for RetryUnconnected; no pseudo-event is delivered for them, and they are
// an error only when RequireAllConnect is set. A FieldMismatchError from
// field-type discovery is always returned.
func (l *Layer) ConnectAll(ctx context.Context, connectTimeout time.Duration) error {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}

	handles := make([]Handle, 0, len(l.Bindings))
	for _, b := range l.Bindings {
		h, err := l.Provider.Search(ctx, b.Row.ControlName)
		if err != nil {
			log.Warnf("channel: search failed for %q: %v", b.Row.ControlName, err)
			continue
		}
		b.Handle = h
		handles = append(handles, h)
	}

	connected := l.Provider.WaitConnect(ctx, handles, connectTimeout)

	var firstErr error
	for _, b := range l.Bindings {
		if b.Handle == nil || !connected[b.Handle] {
			log.Warnf("channel: %q did not connect", b.Row.ControlName)
			if l.RequireAllConnect {
				err := &ConnectError{Name: b.Row.ControlName}
				if firstErr == nil {
					firstErr = err
				}
			}
			continue
		}

		ft, n, err := l.Provider.FieldInfo(b.Handle)
		if err != nil {
			log.Warnf("channel: field info failed for %q: %v", b.Row.ControlName, err)
			continue
		}
		if err := l.applyFieldType(b, ft, n); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		b.setState(Connected)
	}

	if firstErr != nil {
		return firstErr
	}
	return nil
}

// applyFieldType implements the discovery policy in §4.2: a connected
// channel's reported element count and field type override the request
// file's hints; an element count above one makes the binding a waveform.
func (l *Layer) applyFieldType(b *Binding, ft FieldType, elementCount int) error {
	hint := b.Row.ExpectFieldType

	if elementCount > 1 {
		if hint != "" && hint != "scalarArray" {
			return &FieldMismatchError{Name: b.Row.ControlName, Reason: "discovered waveform but ExpectFieldType hint was not scalarArray"}
		}
		if ft == FieldScalarString {
			ft = FieldWaveformString
		} else {
			ft = FieldWaveformNumeric
		}
		if b.Row.ExpectElements > 0 && b.Row.ExpectElements != elementCount {
			if hint != "" {
				return &FieldMismatchError{Name: b.Row.ControlName, Reason: fmt.Sprintf("discovered %d elements but ExpectElements hint was %d", elementCount, b.Row.ExpectElements)}
			}
			// New channel, hint absent: not fatal, adopt the discovered count.
			log.Infof("channel: %q discovered %d elements (hint was %d)", b.Row.ControlName, elementCount, b.Row.ExpectElements)
		}
		b.FieldType = ft
		b.ElementCount = elementCount
		return nil
	}

	if hint == "scalarArray" {
		return &FieldMismatchError{Name: b.Row.ControlName, Reason: "ExpectFieldType=scalarArray but discovered scalar field"}
	}
	b.FieldType = ft
	b.ElementCount = 1
	return nil
}

// Subscribe registers a binding's callback with the given mask.
func (l *Layer) Subscribe(b *Binding, mask EventMask, cb func(Callback)) error {
	if b.Handle == nil {
		return &ConnectError{Name: b.Row.ControlName}
	}
	sub, err := l.Provider.Subscribe(b.Handle, mask, cb)
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

// Get issues a synchronous get on the binding's primary channel.
func (l *Layer) Get(ctx context.Context, b *Binding) (Value, error) {
	return l.Provider.Get(ctx, b.Handle)
}

// Put issues a synchronous put on the binding's primary channel.
func (l *Layer) Put(ctx context.Context, b *Binding, v Value) error {
	return l.Provider.Put(ctx, b.Handle, v)
}

// Disconnect releases a binding's subscription and resets its state.
func (l *Layer) Disconnect(b *Binding) {
	if b.sub != nil {
		l.Provider.Unsubscribe(b.sub)
		b.sub = nil
	}
	b.setState(Unconnected)
}

// PendingEvents services callbacks inline for up to d (Glossary: "pend
// event"), the primitive the Run Controller suspends on (§5).
func (l *Layer) PendingEvents(d time.Duration) {
	l.Provider.PendEvent(d)
}

// limiterFor returns (creating if needed) the reconnect rate limiter for a
// binding name, so a flapping channel cannot busy-loop reconnect attempts
// (§4.2 "reconnection accounting"; golang.org/x/time/rate).
func (l *Layer) limiterFor(name string) *rate.Limiter {
	lim, ok := l.reconnectLimiters[name]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Second), 1)
		l.reconnectLimiters[name] = lim
	}
	return lim
}

// AllowReconnect reports whether a new reconnect attempt for b may proceed
// right now, incrementing its reconnection counter when it does.
func (l *Layer) AllowReconnect(b *Binding) bool {
	if !l.limiterFor(b.Row.ControlName).Allow() {
		return false
	}
	b.Reconnects++
	return true
}

// RetryUnconnected re-searches every binding still in the Unconnected state,
// one rate-limited attempt per binding per tick, so a channel that failed
// ConnectAll's initial bulk search (IOC restarted late, network blip) can
// still join the run instead of staying unconnected for the rest of the
// process lifetime (§4.2). Returns the
// control names that reconnected this call.
func (l *Layer) RetryUnconnected(ctx context.Context, connectTimeout time.Duration) []string {
	var recovered []string
	for _, b := range l.Bindings {
		if b.State() != Unconnected || !l.AllowReconnect(b) {
			continue
		}

		h, err := l.Provider.Search(ctx, b.Row.ControlName)
		if err != nil {
			continue
		}
		connected := l.Provider.WaitConnect(ctx, []Handle{h}, connectTimeout)
		if !connected[h] {
			continue
		}
		b.Handle = h

		ft, n, err := l.Provider.FieldInfo(h)
		if err != nil {
			log.Warnf("channel: field info failed for %q: %v", b.Row.ControlName, err)
			continue
		}
		if err := l.applyFieldType(b, ft, n); err != nil {
			log.Warnf("channel: %v", err)
			continue
		}
		b.setState(Connected)
		recovered = append(recovered, b.Row.ControlName)
	}
	return recovered
}
