// Package epicstime converts between the EPICS channel-access time base and
// UNIX time.
package epicstime

import "time"

// EpochOffset is the fixed number of seconds between the source-clock epoch
// and the UNIX epoch: 631173600 s after the UNIX epoch is 1990-01-01
// 06:00:00 UTC (midnight US Central Standard Time).
const EpochOffset int64 = 631173600

// Stamp is a two-component source-clock timestamp as delivered by channel
// access: whole seconds since the EPICS epoch plus a nanosecond remainder.
type Stamp struct {
	Seconds int64
	Nanos   int32
}

// Unix converts a source-clock Stamp to a UNIX time, accounting for the
// local timezone offset the way §6 specifies:
// seconds + 1e-9*nanos + EPOCH_OFFSET - timezoneOffset.
func (s Stamp) Unix() time.Time {
	_, tzOffset := time.Now().Zone()
	secs := s.Seconds + EpochOffset - int64(tzOffset)
	return time.Unix(secs, int64(s.Nanos))
}

// Float returns the source timestamp as UNIX seconds with fractional
// nanosecond precision, ignoring the timezone offset (used for Duration
// math between two source timestamps of the same binding).
func (s Stamp) Float() float64 {
	return float64(s.Seconds+EpochOffset) + float64(s.Nanos)*1e-9
}

// Sub returns the duration between two source-clock stamps.
func (s Stamp) Sub(o Stamp) time.Duration {
	return time.Duration((s.Float() - o.Float()) * float64(time.Second))
}

// FromTime builds a Stamp from a wall-clock time.Time.
func FromTime(t time.Time) Stamp {
	u := t.Unix() - EpochOffset
	return Stamp{Seconds: u, Nanos: int32(t.Nanosecond())}
}

// HourOfDay returns the fractional hour-of-day for t in local time, used
// for the logger family's Hour column.
func HourOfDay(t time.Time) float64 {
	l := t.Local()
	return float64(l.Hour()) + float64(l.Minute())/60 + float64(l.Second())/3600 + float64(l.Nanosecond())/3.6e12
}
