package channel

import (
	"context"
	"time"
)

// simChannel is one named channel inside a SimProvider.
type simChannel struct {
	name      string
	connected bool
	fieldType FieldType
	elements  int
	value     Value
	subs      []func(Callback)
}

// SimProvider is an in-memory Provider used by tests to stand in for the
// real CA client library.
type SimProvider struct {
	channels map[string]*simChannel
}

func NewSimProvider() *SimProvider {
	return &SimProvider{channels: make(map[string]*simChannel)}
}

// Define registers a simulated channel before a test connects it.
func (p *SimProvider) Define(name string, ft FieldType, elements int, initial Value) {
	p.channels[name] = &simChannel{name: name, fieldType: ft, elements: elements, value: initial}
}

func (p *SimProvider) Search(ctx context.Context, name string) (Handle, error) {
	ch, ok := p.channels[name]
	if !ok {
		ch = &simChannel{name: name, fieldType: FieldScalarNumeric, elements: 1}
		p.channels[name] = ch
	}
	return ch, nil
}

func (p *SimProvider) WaitConnect(ctx context.Context, handles []Handle, timeout time.Duration) map[Handle]bool {
	out := make(map[Handle]bool, len(handles))
	for _, h := range handles {
		ch := h.(*simChannel)
		ch.connected = true
		out[h] = true
	}
	return out
}

func (p *SimProvider) FieldInfo(h Handle) (FieldType, int, error) {
	ch := h.(*simChannel)
	return ch.fieldType, ch.elements, nil
}

func (p *SimProvider) Subscribe(h Handle, mask EventMask, cb func(Callback)) (SubHandle, error) {
	ch := h.(*simChannel)
	ch.subs = append(ch.subs, cb)
	return len(ch.subs) - 1, nil
}

func (p *SimProvider) Unsubscribe(s SubHandle) {}

func (p *SimProvider) Get(ctx context.Context, h Handle) (Value, error) {
	ch := h.(*simChannel)
	return ch.value, nil
}

func (p *SimProvider) Put(ctx context.Context, h Handle, v Value) error {
	ch := h.(*simChannel)
	ch.value = v
	return nil
}

func (p *SimProvider) PendEvent(d time.Duration) {}

// Deliver pushes a Callback to every subscriber of name, simulating a CA
// monitor callback arriving on a library thread.
func (p *SimProvider) Deliver(name string, cb Callback) {
	ch, ok := p.channels[name]
	if !ok {
		return
	}
	ch.value = cb.Value
	for _, sub := range ch.subs {
		sub(cb)
	}
}
