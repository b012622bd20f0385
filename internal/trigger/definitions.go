package trigger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/epics-modules/sdds-core/internal/channel"
)

// GlitchDef, LevelDef, and AlarmDef are the JSON-facing shapes of one
// predicate definition, keyed by ControlName rather than a binding index
// so a definitions file can be written and reviewed independently of
// request-file ordering (§4.4).
type GlitchDef struct {
	Name        string  `json:"name"`
	ControlName string  `json:"controlName"`
	Delta       float64 `json:"delta"`
	Fraction    float64 `json:"fraction"`
	Sign        int     `json:"sign"`
	FilterFrac  float64 `json:"filterFrac"`
	NoReset     bool    `json:"noReset"`
	Holdoff     float64 `json:"holdoff"`
	AutoHoldoff bool    `json:"autoHoldoff"`
}

type LevelDef struct {
	Name        string  `json:"name"`
	ControlName string  `json:"controlName"`
	Level       float64 `json:"level"`
	Slope       int     `json:"slope"`
	AutoArm     bool    `json:"autoArm"`
	Holdoff     float64 `json:"holdoff"`
	AutoHoldoff bool    `json:"autoHoldoff"`
}

type AlarmDef struct {
	Name        string   `json:"name"`
	ControlName string   `json:"controlName"`
	Severities  []string `json:"severities"`
	ExcludeSev  bool     `json:"excludeSeverities"`
	Statuses    []string `json:"statuses"`
	ExcludeStat bool     `json:"excludeStatuses"`
	Holdoff     float64  `json:"holdoff"`
	AutoHoldoff bool     `json:"autoHoldoff"`
}

// Definitions is the full set of predicate definitions a monitor program
// loads (§4.4). The circular buffer sizing is not part of it; BuildEngine
// takes before and after separately.
type Definitions struct {
	Glitches []GlitchDef `json:"glitches"`
	Levels   []LevelDef  `json:"levels"`
	Alarms   []AlarmDef  `json:"alarms"`
}

// LoadDefinitions reads a monitor definitions file. A missing path is not
// an error: a monitor program may watch only conditions with no trigger
// predicates at all.
func LoadDefinitions(path string) (Definitions, error) {
	if path == "" {
		return Definitions{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, fmt.Errorf("trigger: reading definitions file %s: %w", path, err)
	}
	var defs Definitions
	if err := json.Unmarshal(raw, &defs); err != nil {
		return Definitions{}, fmt.Errorf("trigger: parsing definitions file %s: %w", path, err)
	}
	return defs, nil
}

// BuildEngine resolves every definition's ControlName against the supplied
// binding-name index and assembles a ready-to-run Engine. A definition
// naming an unbound control name is skipped with an error collected into
// the returned slice rather than aborting the whole build, so one typo in
// a definitions file does not disable every other predicate.
func BuildEngine(bindingIndex map[string]int, defs Definitions, before, after int, w PageWriter) (*Engine, []error) {
	e := NewEngine(before, after, w, func(i int) string { return channel.Severity(i).String() })
	var errs []error

	for _, d := range defs.Glitches {
		idx, ok := bindingIndex[d.ControlName]
		if !ok {
			errs = append(errs, fmt.Errorf("trigger: glitch %s: unknown control name %s", d.Name, d.ControlName))
			continue
		}
		g, err := NewGlitch(d.Name, idx, d.Delta, d.Fraction, d.Sign, d.FilterFrac, d.NoReset, d.Holdoff, d.AutoHoldoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.Glitches = append(e.Glitches, g)
	}

	for _, d := range defs.Levels {
		idx, ok := bindingIndex[d.ControlName]
		if !ok {
			errs = append(errs, fmt.Errorf("trigger: level %s: unknown control name %s", d.Name, d.ControlName))
			continue
		}
		l, err := NewLevel(d.Name, idx, d.Level, d.Slope, d.AutoArm, d.Holdoff, d.AutoHoldoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.Levels = append(e.Levels, l)
	}

	for _, d := range defs.Alarms {
		idx, ok := bindingIndex[d.ControlName]
		if !ok {
			errs = append(errs, fmt.Errorf("trigger: alarm %s: unknown control name %s", d.Name, d.ControlName))
			continue
		}
		sevs := make(map[channel.Severity]bool, len(d.Severities))
		for _, s := range d.Severities {
			if sev, ok := channel.SeverityFromString(s); ok {
				sevs[sev] = true
			} else {
				errs = append(errs, fmt.Errorf("trigger: alarm %s: unknown severity label %q", d.Name, s))
			}
		}
		stats := make(map[channel.Status]bool, len(d.Statuses))
		for _, s := range d.Statuses {
			if st, ok := channel.StatusFromString(s); ok {
				stats[st] = true
			} else {
				errs = append(errs, fmt.Errorf("trigger: alarm %s: unknown status label %q", d.Name, s))
			}
		}
		a, err := NewAlarm(d.Name, idx, sevs, d.ExcludeSev, stats, d.ExcludeStat, d.Holdoff, d.AutoHoldoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		e.Alarms = append(e.Alarms, a)
	}

	return e, errs
}
