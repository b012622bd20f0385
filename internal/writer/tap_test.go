package writer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	subject string
	payload []byte
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.subject = subject
	p.payload = append([]byte(nil), data...)
	return nil
}

func TestTapPublishesLineProtocol(t *testing.T) {
	pub := &recordingPublisher{}
	tap := NewTap(pub, "acquisition.live")

	err := tap.PublishScalar("VAC:PRESSURE", 1.2e-7, "NO_ALARM", "NO_ALARM", time.Unix(1700000000, 0))
	require.NoError(t, err)
	assert.Equal(t, "acquisition.live", pub.subject)
	assert.Contains(t, string(pub.payload), "VAC:PRESSURE")
	assert.Contains(t, string(pub.payload), "value=")
}

func TestTapNoopWithoutPublisher(t *testing.T) {
	tap := NewTap(nil, "acquisition.live")
	err := tap.PublishScalar("VAC:PRESSURE", 1.0, "NO_ALARM", "NO_ALARM", time.Now())
	require.NoError(t, err)
}
