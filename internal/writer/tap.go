package writer

import (
	"fmt"
	"time"

	lp "github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/epics-modules/sdds-core/pkg/nats"
)

// Publisher is the narrow NATS capability the live tap needs; *nats.Client
// satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Tap mirrors accepted rows onto a NATS subject in InfluxDB line-protocol
// form for external consumers (dashboards, alarm displays) without
// involving the Output Writer's own flush cadence (§4.7 DOMAIN STACK).
type Tap struct {
	publisher Publisher
	subject   string
	enc       lp.Encoder
}

// NewTap builds a live tap publishing to subject over publisher. A nil
// publisher disables the tap (Publish becomes a no-op), letting callers
// wire the same code path whether or not a NATS address was configured.
func NewTap(publisher Publisher, subject string) *Tap {
	t := &Tap{publisher: publisher, subject: subject}
	t.enc.SetPrecision(lp.Nanosecond)
	return t
}

// PublishScalar encodes one accepted scalar Event row as a single
// line-protocol line and publishes it, tagging by control name and
// alarm severity/status.
func (t *Tap) PublishScalar(controlName string, value float64, severity, status string, at time.Time) error {
	if t.publisher == nil {
		return nil
	}

	t.enc.Reset()
	t.enc.StartLine(controlName)
	t.enc.AddTag([]byte("severity"), []byte(severity))
	t.enc.AddTag([]byte("status"), []byte(status))
	t.enc.AddField([]byte("value"), lp.MustNewValue(value))
	t.enc.EndLine(at)
	if err := t.enc.Err(); err != nil {
		return fmt.Errorf("writer: encoding line-protocol tap line for %s: %w", controlName, err)
	}

	if err := t.publisher.Publish(t.subject, t.enc.Bytes()); err != nil {
		return fmt.Errorf("writer: publishing tap line for %s: %w", controlName, err)
	}
	return nil
}

var _ Publisher = (*nats.Client)(nil)
