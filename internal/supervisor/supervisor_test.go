package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	reply      []byte
	requestErr error
	published  map[string][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: map[string][]byte{}}
}

func (f *fakePublisher) Request(subject string, data []byte, timeout context.Context) ([]byte, error) {
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return f.reply, nil
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.published[subject] = data
	return nil
}

func TestPingOKIsNotFatal(t *testing.T) {
	pub := newFakePublisher()
	pub.reply = []byte("OK")
	c := New(pub, Config{RunName: "vacuum-monitor"})

	assert.NoError(t, c.Ping(context.Background()))
}

func TestPingAbortIsFatal(t *testing.T) {
	pub := newFakePublisher()
	pub.reply = []byte("ABORT")
	c := New(pub, Config{})

	err := c.Ping(context.Background())
	require.Error(t, err)
	var abortErr *AbortError
	assert.ErrorAs(t, err, &abortErr)
}

func TestPingTimeoutIsFatal(t *testing.T) {
	pub := newFakePublisher()
	pub.requestErr = errors.New("deadline exceeded")
	c := New(pub, Config{})

	err := c.Ping(context.Background())
	require.Error(t, err)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestNilClientPingIsNoop(t *testing.T) {
	var c *Client
	assert.NoError(t, c.Ping(context.Background()))
	assert.NoError(t, c.Init(context.Background()))
	assert.NoError(t, c.Release("done"))
}

func TestInitAndReleasePublishRunName(t *testing.T) {
	pub := newFakePublisher()
	c := New(pub, Config{RunName: "vacuum-monitor", InitSubject: "sdds.init", AbortSubject: "sdds.release"})

	require.NoError(t, c.Init(context.Background()))
	assert.Equal(t, []byte("vacuum-monitor"), pub.published["sdds.init"])

	require.NoError(t, c.Release("deadline"))
	assert.Equal(t, "vacuum-monitor:deadline", string(pub.published["sdds.release"]))
}

func TestPingWithTimeoutBuildsDeadlineContext(t *testing.T) {
	pub := newFakePublisher()
	pub.reply = []byte("OK")
	c := New(pub, Config{})

	assert.NoError(t, c.PingWithTimeout(50*time.Millisecond))
}
