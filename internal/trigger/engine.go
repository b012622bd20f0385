package trigger

import (
	"fmt"
	"time"
)

// PageWriter is the capture sequence's narrow view of the Output Writer
// (§4.7): open a sized page, record per-predicate parameters, append rows
// tagged with PostTrigger, then close. internal/writer implements this;
// defining it here keeps the engine free of a dependency on the concrete
// writer package.
type PageWriter interface {
	OpenPage(rows int) error
	SetParam(name string, value any) error
	WriteRow(s Sample, postTrigger bool) error
	ClosePage() error
}

// Firing describes one predicate match on a given tick, used to populate
// the page's per-predicate "Triggered" parameters (§4.4).
type Firing struct {
	Name     string
	Severity string // set only for Alarm firings
}

// Engine runs the circular buffer and the mixed glitch/level/alarm
// predicate set for one monitor-family program, implementing the capture
// sequence in §4.4.
type Engine struct {
	Buffer *Buffer
	After  int
	Writer PageWriter

	Glitches []*Glitch
	Levels   []*Level
	Alarms   []*Alarm

	holdoffUntil time.Time
	capturing    bool
	afterLeft    int
	severityName func(int) string
}

// NewEngine builds an Engine with a buffer sized before+1 (§4.4). severityName
// renders a channel.Severity ordinal for the per-page Severity parameter;
// callers normally pass channel.Severity.String.
func NewEngine(before, after int, writer PageWriter, severityName func(int) string) *Engine {
	return &Engine{
		Buffer:       NewBuffer(before),
		After:        after,
		Writer:       writer,
		severityName: severityName,
	}
}

// Tick processes one sampling tick: during an in-progress after-buffer
// flush it appends a post-trigger row; otherwise it evaluates predicates
// (unless a holdoff is in effect) and begins a capture on the first match.
// It reports whether a new capture began on this tick.
func (e *Engine) Tick(now time.Time, s Sample) (bool, error) {
	if e.capturing {
		if err := e.Writer.WriteRow(s, true); err != nil {
			return false, err
		}
		e.afterLeft--
		if e.afterLeft <= 0 {
			if err := e.Writer.ClosePage(); err != nil {
				return false, err
			}
			e.capturing = false
		}
		e.Buffer.Push(s)
		return false, nil
	}

	e.Buffer.Push(s)

	if now.Before(e.holdoffUntil) {
		return false, nil
	}

	firings, maxHoldoff, autoHoldoff, err := e.evaluate(s)
	if err != nil {
		return false, err
	}
	if len(firings) == 0 {
		return false, nil
	}

	if err := e.capture(s, firings); err != nil {
		return false, err
	}

	// autoHoldoff's effective duration is zero beyond the after-buffer
	// flush that is already underway; an explicit numeric maxHoldoff from
	// another simultaneously firing predicate is always larger than that
	// and wins (§4.4 Holdoff: "the larger of the two is used if both are
	// configured across predicates").
	if maxHoldoff > 0 {
		e.holdoffUntil = now.Add(time.Duration(maxHoldoff * float64(time.Second)))
	} else if autoHoldoff {
		e.holdoffUntil = now
	} else {
		e.holdoffUntil = now
	}
	return true, nil
}

func (e *Engine) evaluate(s Sample) ([]Firing, float64, bool, error) {
	var firings []Firing
	var maxHoldoff float64
	var autoHoldoff bool

	for _, g := range e.Glitches {
		if g.BindingIndex >= len(s.Values) {
			continue
		}
		fired, err := g.Evaluate(s.Values[g.BindingIndex])
		if err != nil {
			return nil, 0, false, fmt.Errorf("trigger: glitch %s: %w", g.Name, err)
		}
		if fired {
			firings = append(firings, Firing{Name: g.Name})
			if g.Holdoff > maxHoldoff {
				maxHoldoff = g.Holdoff
			}
			autoHoldoff = autoHoldoff || g.AutoHoldoff
		}
	}

	for _, l := range e.Levels {
		if l.BindingIndex >= len(s.Values) {
			continue
		}
		fired, err := l.Evaluate(s.Values[l.BindingIndex])
		if err != nil {
			return nil, 0, false, fmt.Errorf("trigger: level %s: %w", l.Name, err)
		}
		if fired {
			firings = append(firings, Firing{Name: l.Name})
			if l.Holdoff > maxHoldoff {
				maxHoldoff = l.Holdoff
			}
			autoHoldoff = autoHoldoff || l.AutoHoldoff
		}
	}

	for _, a := range e.Alarms {
		if a.BindingIndex >= len(s.Severities) {
			continue
		}
		fired, err := a.Evaluate(s.Severities[a.BindingIndex], s.Statuses[a.BindingIndex])
		if err != nil {
			return nil, 0, false, fmt.Errorf("trigger: alarm %s: %w", a.Name, err)
		}
		if fired {
			sevName := ""
			if e.severityName != nil {
				sevName = e.severityName(int(s.Severities[a.BindingIndex]))
			}
			firings = append(firings, Firing{Name: a.Name, Severity: sevName})
			if a.Holdoff > maxHoldoff {
				maxHoldoff = a.Holdoff
			}
			autoHoldoff = autoHoldoff || a.AutoHoldoff
		}
	}

	return firings, maxHoldoff, autoHoldoff, nil
}

// capture implements §4.4 steps 1-6, minus the final ClosePage/holdoff
// start when After == 0, which happen immediately.
func (e *Engine) capture(trigger Sample, firings []Firing) error {
	frozen := e.Buffer.Freeze()

	if err := e.Writer.OpenPage(len(frozen) + e.After); err != nil {
		return err
	}
	for _, f := range firings {
		if err := e.Writer.SetParam(f.Name+"Triggered", true); err != nil {
			return err
		}
		if f.Severity != "" {
			if err := e.Writer.SetParam(f.Name+"Severity", f.Severity); err != nil {
				return err
			}
		}
	}

	for _, smp := range frozen {
		if err := e.Writer.WriteRow(smp, false); err != nil {
			return err
		}
	}

	if e.After <= 0 {
		return e.Writer.ClosePage()
	}
	e.capturing = true
	e.afterLeft = e.After
	return nil
}

// ResetBaselines reparents predicate state after an inhibit period ends,
// preventing a resumed run from firing on the gap (§4.5).
func (e *Engine) ResetBaselines() {
	e.Buffer.Reset()
	for _, g := range e.Glitches {
		g.Reset()
	}
}
