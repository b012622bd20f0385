package runctl

import "time"

// RotationPolicy decides when the Output Writer must close its current
// file and open a new one (§4.6). RolloverHour is the supplemented
// `-rolloverAt=<hour>` variant of daily rotation recovered from
// sddsalarmlog.c: it shifts the "midnight crossing" test to a configurable
// hour instead of requiring exactly hour 0.
type RotationPolicy struct {
	DailyFiles   bool
	MonthlyFiles bool
	RolloverHour int // 0-23, only consulted when DailyFiles is set

	GenerationRowLimit  int
	GenerationTimeLimit time.Duration
}

// ShouldRotate reports whether a new file must begin before recording the
// sample at cur, given the previous tick's timestamp, the current file's
// open time, and its row count so far.
func (p RotationPolicy) ShouldRotate(prev, cur, fileOpened time.Time, rowCount int) bool {
	if p.DailyFiles && !prev.IsZero() {
		if effectiveHour(cur, p.RolloverHour) < effectiveHour(prev, p.RolloverHour) {
			return true
		}
	}
	if p.MonthlyFiles && !prev.IsZero() {
		if cur.Day() < prev.Day() {
			return true
		}
	}
	if p.GenerationRowLimit > 0 && rowCount >= p.GenerationRowLimit {
		return true
	}
	if p.GenerationTimeLimit > 0 && !fileOpened.IsZero() && cur.Sub(fileOpened) >= p.GenerationTimeLimit {
		return true
	}
	return false
}

func effectiveHour(t time.Time, rolloverHour int) int {
	h := (t.Hour() - rolloverHour) % 24
	if h < 0 {
		h += 24
	}
	return h
}
