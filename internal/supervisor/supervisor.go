// Package supervisor models the one external collaborator the Run
// Controller pings once its ping interval has elapsed: a NATS request/reply
// endpoint that can answer OK, ask the run to ABORT, or fail to answer
// within a TIMEOUT (§4.9, §5).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/epics-modules/sdds-core/pkg/log"
	"github.com/epics-modules/sdds-core/pkg/nats"
)

// ReplyKind is the supervisor's answer to a ping.
type ReplyKind string

const (
	ReplyOK      ReplyKind = "OK"
	ReplyAbort   ReplyKind = "ABORT"
	ReplyTimeout ReplyKind = "TIMEOUT" // synthesized locally, never sent on the wire
)

// AbortError marks a ping answered with ABORT; TimeoutError marks one that
// never answered within the deadline. Both are fatal per §5.
type AbortError struct{ Subject string }

func (e *AbortError) Error() string { return fmt.Sprintf("supervisor: abort requested on %q", e.Subject) }

type TimeoutError struct{ Subject string }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("supervisor: ping to %q timed out", e.Subject)
}

// Publisher is the narrow NATS capability Client needs.
type Publisher interface {
	Request(subject string, data []byte, timeout context.Context) ([]byte, error)
	Publish(subject string, data []byte) error
}

// Client pings a supervisor process over NATS request/reply and publishes
// init/release notifications on well-known subjects.
type Client struct {
	conn         Publisher
	pingSubject  string
	initSubject  string
	abortSubject string
	runName      string
}

// Config names the subjects and identifies this run to the supervisor.
type Config struct {
	PingSubject  string // default "sdds.supervisor.ping"
	InitSubject  string // default "sdds.supervisor.init"
	AbortSubject string // default "sdds.supervisor.release"
	RunName      string
}

// New wraps an already-connected NATS client (or any Publisher, for
// tests) as a supervisor Client.
func New(conn Publisher, cfg Config) *Client {
	if cfg.PingSubject == "" {
		cfg.PingSubject = "sdds.supervisor.ping"
	}
	if cfg.InitSubject == "" {
		cfg.InitSubject = "sdds.supervisor.init"
	}
	if cfg.AbortSubject == "" {
		cfg.AbortSubject = "sdds.supervisor.release"
	}
	return &Client{
		conn:         conn,
		pingSubject:  cfg.PingSubject,
		initSubject:  cfg.InitSubject,
		abortSubject: cfg.AbortSubject,
		runName:      cfg.RunName,
	}
}

// NewFromNatsClient adapts a live *nats.Client, satisfying Publisher.
func NewFromNatsClient(c *nats.Client, cfg Config) *Client {
	return New(natsAdapter{c}, cfg)
}

type natsAdapter struct{ c *nats.Client }

func (a natsAdapter) Request(subject string, data []byte, timeout context.Context) ([]byte, error) {
	return a.c.Request(subject, data, timeout)
}

func (a natsAdapter) Publish(subject string, data []byte) error {
	return a.c.Publish(subject, data)
}

// Init announces the run's startup to the supervisor. A nil Client (no
// NATS configured) is a silent no-op, so callers can wire this
// unconditionally.
func (c *Client) Init(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return nil
	}
	if err := c.conn.Publish(c.initSubject, []byte(c.runName)); err != nil {
		return fmt.Errorf("supervisor: init publish failed: %w", err)
	}
	return nil
}

// Release notifies the supervisor that the run is detaching, called from
// the exit handler on every termination path (§4.9).
func (c *Client) Release(reason string) error {
	if c == nil || c.conn == nil {
		return nil
	}
	if err := c.conn.Publish(c.abortSubject, []byte(c.runName+":"+reason)); err != nil {
		log.Warnf("supervisor: release publish failed: %v", err)
		return err
	}
	return nil
}

// Ping implements runctl.Supervisor: a request/reply round trip bounded by
// ctx's deadline. ABORT and TIMEOUT replies are returned as fatal errors
// (§5's "Supervisor ping failures of type ABORT or TIMEOUT are fatal").
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return nil
	}

	reply, err := c.conn.Request(c.pingSubject, []byte(c.runName), ctx)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Subject: c.pingSubject}
		}
		return &TimeoutError{Subject: c.pingSubject}
	}

	switch ReplyKind(reply) {
	case ReplyOK, "":
		return nil
	case ReplyAbort:
		return &AbortError{Subject: c.pingSubject}
	default:
		log.Warnf("supervisor: unexpected ping reply %q, treating as OK", reply)
		return nil
	}
}

// PingWithTimeout is a convenience wrapper building a deadline context
// from timeout, the shape runctl.Config.PingTimeout expects to drive.
func (c *Client) PingWithTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Ping(ctx)
}
