package trigger

import (
	"math"

	"github.com/epics-modules/sdds-core/internal/channel"
)

// Kind names the three predicate families a single trigger engine can mix
// (§4.4).
type Kind int

const (
	KindGlitch Kind = iota
	KindLevel
	KindAlarm
)

// Glitch implements the moving-baseline glitch predicate.
type Glitch struct {
	Name          string
	BindingIndex  int
	Delta         float64 // absolute threshold; zero if Fraction is used
	Fraction      float64 // fractional threshold; zero if Delta is used
	Sign          int     // 0 = either direction
	FilterFrac    float64 // EMA weight; 1/baselineCount when baseline=<N> is given
	NoReset       bool
	Holdoff       float64
	AutoHoldoff   bool

	baseline float64
	started  bool
}

// NewGlitch constructs a glitch predicate (§4.4 Glitch).
func NewGlitch(name string, bindingIndex int, delta, fraction float64, sign int, filterFrac float64, noReset bool, holdoff float64, autoHoldoff bool) (*Glitch, error) {
	if filterFrac <= 0 || filterFrac > 1 {
		filterFrac = 1
	}
	return &Glitch{
		Name: name, BindingIndex: bindingIndex, Delta: delta, Fraction: fraction,
		Sign: sign, FilterFrac: filterFrac, NoReset: noReset,
		Holdoff: holdoff, AutoHoldoff: autoHoldoff,
	}, nil
}

// Evaluate updates the baseline EMA and reports whether this sample crosses
// the configured glitch threshold.
func (g *Glitch) Evaluate(value float64) (fired bool, err error) {
	if !g.started {
		g.baseline = value
		g.started = true
		return false, nil
	}

	diff := value - g.baseline
	threshold := g.Delta
	if g.Fraction != 0 {
		threshold = math.Abs(g.baseline) * g.Fraction
	}

	switch {
	case g.Sign > 0:
		fired = diff > threshold
	case g.Sign < 0:
		fired = -diff > threshold
	default:
		fired = math.Abs(diff) > threshold
	}

	if fired && !g.NoReset {
		g.baseline = value
	} else {
		g.baseline = g.FilterFrac*value + (1-g.FilterFrac)*g.baseline
	}
	return fired, nil
}

// Reset restarts the baseline EMA from scratch, used after an inhibit
// period ends (§4.5).
func (g *Glitch) Reset() {
	g.started = false
	g.baseline = 0
}

// Level implements the rearmable level-crossing predicate.
type Level struct {
	Name         string
	BindingIndex int
	Level        float64
	Slope        int // +1 rising, -1 falling
	AutoArm      bool
	Holdoff      float64
	AutoHoldoff  bool

	armed   bool
	started bool
}

func NewLevel(name string, bindingIndex int, level float64, slope int, autoArm bool, holdoff float64, autoHoldoff bool) (*Level, error) {
	return &Level{Name: name, BindingIndex: bindingIndex, Level: level, Slope: slope,
		AutoArm: autoArm, Holdoff: holdoff, AutoHoldoff: autoHoldoff, armed: true}, nil
}

// Evaluate reports whether the level is crossed on this sample, honoring
// the rearm requirement: once fired, the predicate will not fire again
// until the value returns to the opposite side of the level (§4.4 Level).
func (l *Level) Evaluate(value float64) (bool, error) {
	crossed := value > l.Level
	if l.Slope < 0 {
		crossed = value < l.Level
	}

	if !l.armed {
		opposite := value < l.Level
		if l.Slope < 0 {
			opposite = value > l.Level
		}
		if opposite {
			l.armed = true
		}
		return false, nil
	}

	if crossed {
		if !l.AutoArm {
			l.armed = false
		}
		return true, nil
	}
	return false, nil
}

// Alarm implements the severity/status inclusion-or-exclusion predicate
// (§4.4 Alarm).
type Alarm struct {
	Name         string
	BindingIndex int
	Severities   map[channel.Severity]bool
	ExcludeSev   bool
	Statuses     map[channel.Status]bool
	ExcludeStat  bool
	Holdoff      float64
	AutoHoldoff  bool
}

func NewAlarm(name string, bindingIndex int, severities map[channel.Severity]bool, excludeSev bool, statuses map[channel.Status]bool, excludeStat bool, holdoff float64, autoHoldoff bool) (*Alarm, error) {
	return &Alarm{Name: name, BindingIndex: bindingIndex, Severities: severities, ExcludeSev: excludeSev,
		Statuses: statuses, ExcludeStat: excludeStat, Holdoff: holdoff, AutoHoldoff: autoHoldoff}, nil
}

// Evaluate reports whether the given severity/status pair satisfies this
// predicate's inclusion (or exclusion) sets. Both the severity test and
// the status test must pass.
func (a *Alarm) Evaluate(sev channel.Severity, status channel.Status) (bool, error) {
	sevMatch := a.Severities[sev]
	if a.ExcludeSev {
		sevMatch = !sevMatch
	}
	if len(a.Severities) == 0 {
		sevMatch = true
	}

	statMatch := a.Statuses[status]
	if a.ExcludeStat {
		statMatch = !statMatch
	}
	if len(a.Statuses) == 0 {
		statMatch = true
	}

	return sevMatch && statMatch, nil
}
