package gate

import "time"

// Resetter is implemented by the Trigger/Buffer Engine: while inhibited,
// the circular buffer and glitch baselines are reset so a later resumption
// does not fire spuriously (§4.5).
type Resetter interface {
	ResetBaselines()
}

// Inhibit models the single inhibit channel: a non-zero reading forces the
// gate to fail unconditionally for a configurable wait period before
// re-evaluation resumes.
type Inhibit struct {
	ControlName string
	Wait        time.Duration

	active      bool
	resumeAfter time.Time
}

func NewInhibit(controlName string, wait time.Duration) *Inhibit {
	return &Inhibit{ControlName: controlName, Wait: wait}
}

// Check reads the inhibit channel's current value and reports whether the
// gate must fail this tick. On the rising edge into inhibition it resets
// the supplied Resetter exactly once.
func (i *Inhibit) Check(now time.Time, value float64, resetter Resetter) (inhibited bool) {
	if value != 0 {
		if !i.active {
			i.active = true
			if resetter != nil {
				resetter.ResetBaselines()
			}
		}
		i.resumeAfter = now.Add(i.Wait)
		return true
	}

	if i.active && now.Before(i.resumeAfter) {
		return true
	}
	i.active = false
	return false
}
