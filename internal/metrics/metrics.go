// Package metrics records per-connection phase durations for structured
// logging: how long each state machine phase took for one exchange.
package metrics

import (
	"fmt"
	"time"
)

// Phase durations for one connection's lifetime, keyed to the states that
// perform I/O (time spent in the other states has no phase of its own and
// is counted only in Total).
type Phases struct {
	ReadRequest     time.Duration
	ConnectUpstream time.Duration
	WriteRequest    time.Duration
	ReadResponse    time.Duration
	WriteResponse   time.Duration
	Total           time.Duration
}

// Timer accumulates phase durations across the possibly-many dispatcher
// wake-ups a single connection takes to complete one exchange: each phase
// may be entered and re-entered (partial reads/writes), so Enter/Leave are
// additive rather than single-shot.
type Timer struct {
	start time.Time

	phaseStart time.Time
	phases     Phases
}

// NewTimer begins timing a connection from the moment it is accepted.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Enter marks the beginning of time spent in a given dispatcher state.
// Calling Enter again before Leave restarts the open interval; the
// dispatcher pairs every Enter with a Leave.
func (t *Timer) Enter() {
	t.phaseStart = time.Now()
}

// Leave adds the elapsed time since the last Enter to the named phase's
// running total.
func (t *Timer) Leave(add func(d time.Duration)) {
	if t.phaseStart.IsZero() {
		return
	}
	add(time.Since(t.phaseStart))
	t.phaseStart = time.Time{}
}

func (t *Timer) AddReadRequest(d time.Duration)     { t.phases.ReadRequest += d }
func (t *Timer) AddConnectUpstream(d time.Duration) { t.phases.ConnectUpstream += d }
func (t *Timer) AddWriteRequest(d time.Duration)    { t.phases.WriteRequest += d }
func (t *Timer) AddReadResponse(d time.Duration)    { t.phases.ReadResponse += d }
func (t *Timer) AddWriteResponse(d time.Duration)   { t.phases.WriteResponse += d }

// Finish returns the accumulated phase durations with Total set to the
// elapsed time since NewTimer, ready to be attached as logrus fields.
func (t *Timer) Finish() Phases {
	t.phases.Total = time.Since(t.start)
	return t.phases
}

// Fields renders p as a flat map suitable for logrus.WithFields, matching
// the field-heavy structured logging style used elsewhere in the proxy.
func (p Phases) Fields() map[string]any {
	return map[string]any{
		"dur_read_request_ms":     p.ReadRequest.Milliseconds(),
		"dur_connect_upstream_ms": p.ConnectUpstream.Milliseconds(),
		"dur_write_request_ms":    p.WriteRequest.Milliseconds(),
		"dur_read_response_ms":    p.ReadResponse.Milliseconds(),
		"dur_write_response_ms":   p.WriteResponse.Milliseconds(),
		"dur_total_ms":            p.Total.Milliseconds(),
	}
}

func (p Phases) String() string {
	return fmt.Sprintf("read_request=%v connect_upstream=%v write_request=%v read_response=%v write_response=%v total=%v",
		p.ReadRequest, p.ConnectUpstream, p.WriteRequest, p.ReadResponse, p.WriteResponse, p.Total)
}
