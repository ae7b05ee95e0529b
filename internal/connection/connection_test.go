package connection

import (
	"testing"

	"github.com/WhileEndless/go-reverse-proxy/internal/framer"
)

func TestTransitionTableHappyPath(t *testing.T) {
	steps := []struct {
		from    State
		outcome Outcome
		want    State
	}{
		{ReadRequest, OutcomeOK, VerifyRequest},
		{VerifyRequest, OutcomeOK, ConnectUpstream},
		{ConnectUpstream, OutcomeOK, WriteRequest},
		{WriteRequest, OutcomeOK, ReadResponse},
		{ReadResponse, OutcomeOK, WriteResponse},
		{WriteResponse, OutcomeOK, CheckConn},
		{CheckConn, OutcomeKeepAlive, ReadRequest},
	}
	for _, s := range steps {
		if got := Next(s.from, s.outcome); got != s.want {
			t.Errorf("Next(%s, %d) = %s, want %s", s.from, s.outcome, got, s.want)
		}
	}
}

func TestTransitionTableErrorsGoToWriteError(t *testing.T) {
	states := []State{ReadRequest, VerifyRequest, ConnectUpstream, WriteRequest, ReadResponse, WriteResponse}
	for _, s := range states {
		if got := Next(s, OutcomeError); got != WriteError {
			t.Errorf("Next(%s, OutcomeError) = %s, want WRITE_ERROR", s, got)
		}
	}
	if got := Next(WriteError, OutcomeOK); got != CloseConn {
		t.Errorf("WRITE_ERROR must always advance to CLOSE_CONN, got %s", got)
	}
	if got := Next(CloseConn, OutcomeOK); got != CloseConn {
		t.Errorf("CLOSE_CONN is terminal, got %s", got)
	}
}

func TestCheckConnWithoutKeepAliveCloses(t *testing.T) {
	if got := Next(CheckConn, OutcomeClose); got != CloseConn {
		t.Errorf("expected CHECK_CONN without keep-alive to close, got %s", got)
	}
}

func TestSynchronousStates(t *testing.T) {
	for _, s := range []State{VerifyRequest, ConnectUpstream, CheckConn} {
		if !s.Synchronous() {
			t.Errorf("%s should be synchronous", s)
		}
	}
	for _, s := range []State{ReadRequest, WriteRequest, ReadResponse, WriteResponse, WriteError, CloseConn} {
		if s.Synchronous() {
			t.Errorf("%s should not be synchronous", s)
		}
	}
}

func TestKeepAliveRequiresBothSides(t *testing.T) {
	c := New()
	c.ClientKeepAlive = true
	c.UpstreamKeepAlive = false
	if c.KeepAlive() {
		t.Fatalf("expected KeepAlive false when upstream declined")
	}
	c.UpstreamKeepAlive = true
	if !c.KeepAlive() {
		t.Fatalf("expected KeepAlive true when both sides agree")
	}
}

func TestApplyConnectionHeaderDefaults(t *testing.T) {
	c := New()

	c.ApplyConnectionHeader(true, framer.ConnectionHeader{}, []byte("HTTP/1.1"))
	if !c.ClientKeepAlive {
		t.Fatalf("expected HTTP/1.1 with no Connection header to default to keep-alive")
	}

	c2 := New()
	c2.ApplyConnectionHeader(true, framer.ConnectionHeader{}, []byte("HTTP/1.0"))
	if c2.ClientKeepAlive {
		t.Fatalf("expected HTTP/1.0 with no Connection header to default to close")
	}
}

func TestApplyConnectionHeaderExplicitOverridesDefault(t *testing.T) {
	c := New()
	c.ApplyConnectionHeader(true, framer.ConnectionHeader{Present: true, Close: true}, []byte("HTTP/1.1"))
	if c.ClientKeepAlive {
		t.Fatalf("expected explicit Connection: close to override the HTTP/1.1 default")
	}

	c2 := New()
	c2.ApplyConnectionHeader(true, framer.ConnectionHeader{Present: true, KeepAlive: true}, []byte("HTTP/1.0"))
	if !c2.ClientKeepAlive {
		t.Fatalf("expected explicit Connection: keep-alive to override the HTTP/1.0 default")
	}
}

func TestResetPullsPipelinedRequest(t *testing.T) {
	c := New()
	first := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	second := "GET /two HTTP/1.1\r\nHost: example.com\r\n\r\n"
	n := copy(c.Client.Buffer, first+second)
	c.Client.ReadIndex = n
	c.Client.NextIndex = len(first)
	c.Client.SetHeaders(0, len(first))
	c.ClientKeepAlive = true
	c.UpstreamKeepAlive = true
	c.Status = 200

	c.Reset()

	if c.State != ReadRequest {
		t.Fatalf("expected reset to return to READ_REQUEST, got %s", c.State)
	}
	if c.Client.ReadIndex != len(second) {
		t.Fatalf("expected pipelined request pulled to front, ReadIndex=%d want %d", c.Client.ReadIndex, len(second))
	}
	if c.ClientKeepAlive || c.UpstreamKeepAlive {
		t.Fatalf("expected keep-alive flags cleared for the new exchange")
	}
	if c.Status != 0 {
		t.Fatalf("expected status cleared")
	}
}
