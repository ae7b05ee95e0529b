// Package connection implements the per-flow state machine: a Connection
// pairs a client Endpoint with an upstream Endpoint and carries the State
// tag the dispatcher advances on every wake-up.
package connection

// State is the connection's position in the fixed state machine. It is a
// closed set: every transition the dispatcher performs is total over this
// type, so a Connection is never in an unrepresentable state.
type State uint8

const (
	ReadRequest State = iota
	VerifyRequest
	ConnectUpstream
	WriteRequest
	ReadResponse
	WriteResponse
	CheckConn
	WriteError
	CloseConn
)

func (s State) String() string {
	switch s {
	case ReadRequest:
		return "READ_REQUEST"
	case VerifyRequest:
		return "VERIFY_REQUEST"
	case ConnectUpstream:
		return "CONNECT_UPSTREAM"
	case WriteRequest:
		return "WRITE_REQUEST"
	case ReadResponse:
		return "READ_RESPONSE"
	case WriteResponse:
		return "WRITE_RESPONSE"
	case CheckConn:
		return "CHECK_CONN"
	case WriteError:
		return "WRITE_ERROR"
	case CloseConn:
		return "CLOSE_CONN"
	default:
		return "UNKNOWN"
	}
}

// Synchronous reports whether a state requires no I/O readiness and should
// be run inline by the dispatcher before returning control.
func (s State) Synchronous() bool {
	switch s {
	case VerifyRequest, ConnectUpstream, CheckConn:
		return true
	default:
		return false
	}
}

// Outcome is the result a state's handler reports to the transition table.
type Outcome uint8

const (
	OutcomeOK Outcome = iota
	OutcomeMore
	OutcomeError
	OutcomeKeepAlive
	OutcomeClose
)

// Next computes the following state given the current one and the
// handler's outcome. It is total: every (State, Outcome) pair the
// dispatcher can produce maps to a defined next state, mirroring the
// transition table.
func Next(current State, outcome Outcome) State {
	switch current {
	case ReadRequest:
		switch outcome {
		case OutcomeOK:
			return VerifyRequest
		case OutcomeMore:
			return ReadRequest
		default:
			return WriteError
		}
	case VerifyRequest:
		if outcome == OutcomeOK {
			return ConnectUpstream
		}
		return WriteError
	case ConnectUpstream:
		if outcome == OutcomeOK {
			return WriteRequest
		}
		return WriteError
	case WriteRequest:
		if outcome == OutcomeOK {
			return ReadResponse
		}
		if outcome == OutcomeMore {
			return WriteRequest
		}
		return WriteError
	case ReadResponse:
		if outcome == OutcomeOK {
			return WriteResponse
		}
		if outcome == OutcomeMore {
			return ReadResponse
		}
		return WriteError
	case WriteResponse:
		switch outcome {
		case OutcomeMore:
			return ReadResponse
		case OutcomeOK:
			return CheckConn
		default:
			return WriteError
		}
	case CheckConn:
		if outcome == OutcomeKeepAlive {
			return ReadRequest
		}
		return CloseConn
	case WriteError:
		return CloseConn
	case CloseConn:
		return CloseConn
	default:
		return CloseConn
	}
}
