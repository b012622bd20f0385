package gate

import (
	"time"
)

// Mode selects how condition rows combine into a single pass/fail verdict
// (§4.5).
type Mode int

const (
	AllMustPass Mode = iota
	OneMustPass
)

func inRange(value, min, max float64) (bool, error) {
	return value >= min && value <= max, nil
}

// Flusher is the Output Writer's narrow view needed on a pass/fail state
// transition (Open Question b decision): flush buffered rows to disk so a
// readers sees committed data exactly when the gate's verdict flips.
type Flusher interface {
	Flush() error
}

// Reader fetches one condition channel's current reading; the Channel
// Layer binding lookup implements this for a live run, a map implements it
// in tests.
type Reader interface {
	Read(controlName string) (float64, bool)
}

// Engine evaluates one tick of the condition gate and tracks the
// touchOutput/retakeStep modifiers plus the flush-on-transition rule.
type Engine struct {
	Conditions  *Set
	Mode        Mode
	TouchOutput bool
	RetakeStep  bool

	holdoffUntil map[string]time.Time
	lastPass     bool
	everRun      bool
}

func NewEngine(conditions *Set, mode Mode, touchOutput, retakeStep bool) *Engine {
	return &Engine{
		Conditions:   conditions,
		Mode:         mode,
		TouchOutput:  touchOutput,
		RetakeStep:   retakeStep,
		holdoffUntil: make(map[string]time.Time),
	}
}

// Result is the outcome of one Evaluate call.
type Result struct {
	Pass           bool
	Transitioned   bool // pass/fail flipped since the previous tick
	SkipStepAdvance bool
	TouchOutput    bool
}

// Evaluate reads every condition row once through reader and combines the
// per-row range checks per Mode. A row in its per-row holdoff window is
// treated as passing without being re-read, matching sddsmonitor.c's
// behavior of not hammering a channel that just cleared.
func (e *Engine) Evaluate(now time.Time, reader Reader) (Result, error) {
	if e.Conditions == nil || len(e.Conditions.Rows) == 0 {
		return Result{Pass: true, Transitioned: e.transition(true)}, nil
	}

	var anyPass, allPass bool
	allPass = true
	for _, row := range e.Conditions.Rows {
		if until, ok := e.holdoffUntil[row.ControlName]; ok && now.Before(until) {
			anyPass = true
			continue
		}

		value, ok := reader.Read(row.ControlName)
		if !ok {
			allPass = false
			continue
		}
		ok, err := inRange(row.Scale(value), row.MinimumValue, row.MaximumValue)
		if err != nil {
			return Result{}, err
		}
		if ok {
			anyPass = true
			if row.Holdoff > 0 {
				e.holdoffUntil[row.ControlName] = now.Add(time.Duration(row.Holdoff * float64(time.Second)))
			}
		} else {
			allPass = false
		}
	}

	pass := allPass
	if e.Mode == OneMustPass {
		pass = anyPass
	}

	result := Result{Pass: pass, Transitioned: e.transition(pass)}
	if !pass {
		result.SkipStepAdvance = e.RetakeStep
		result.TouchOutput = e.TouchOutput
	}
	return result, nil
}

func (e *Engine) transition(pass bool) bool {
	changed := e.everRun && pass != e.lastPass
	e.lastPass = pass
	e.everRun = true
	return changed
}
