// Package dispatcher implements the single-threaded, epoll-driven main
// loop: it owns the active-connection table and timeout wheel, maps
// readiness events to state-machine steps, and re-arms edge-triggered
// one-shot interest after every handler runs to completion.
package dispatcher

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/WhileEndless/go-reverse-proxy/internal/config"
	"github.com/WhileEndless/go-reverse-proxy/internal/connection"
	"github.com/WhileEndless/go-reverse-proxy/internal/conntable"
	"github.com/WhileEndless/go-reverse-proxy/internal/metrics"
	"github.com/WhileEndless/go-reverse-proxy/internal/perr"
	"github.com/WhileEndless/go-reverse-proxy/internal/timeoutwheel"
)

const maxEvents = 128

// side identifies which of a Connection's two fds an epoll event refers
// to; the listener itself is registered with side listener.
type side int

const (
	sideListener side = iota
	sideClient
	sideUpstream
)

// target is what a registered fd resolves back to: which connection (via
// its slab handle, so a stale registration after close is detected) and
// which side of it.
type target struct {
	handle conntable.Handle
	side   side
}

// Dispatcher is the process-wide, single-threaded event loop.
type Dispatcher struct {
	cfg          *config.Config
	upstreamAddr *net.TCPAddr
	logger       *logrus.Logger

	epfd     int
	listenFD int

	table   *conntable.Table
	wheel   *timeoutwheel.Wheel
	targets map[int]target // fd -> target, so a readiness event resolves to its connection

	limiter *rate.Limiter // throttles table-full / accept-rejected warnings

	timers map[conntable.Handle]*metrics.Timer

	running atomic.Bool
}

// New builds a Dispatcher bound to an already-open, non-blocking listener
// fd and a pre-resolved upstream address. cfg supplies resource limits and
// the canonical host used by the framer and error-page generator.
func New(cfg *config.Config, listenFD int, upstreamAddr *net.TCPAddr, logger *logrus.Logger) (*Dispatcher, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: epoll_create1: %w", err)
	}

	d := &Dispatcher{
		cfg:          cfg,
		upstreamAddr: upstreamAddr,
		logger:       logger,
		epfd:         epfd,
		listenFD:     listenFD,
		table:        conntable.NewWithCapacity(cfg.Limits.MaxConnections),
		wheel:        timeoutwheel.New(),
		targets:      make(map[int]target),
		limiter:      rate.NewLimiter(rate.Every(time.Second), 5),
		timers:       make(map[conntable.Handle]*metrics.Timer),
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(listenFD),
	}); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("dispatcher: registering listener: %w", err)
	}
	d.targets[listenFD] = target{side: sideListener}
	d.running.Store(true)

	return d, nil
}

// Shutdown requests the main loop exit at the next iteration boundary.
func (d *Dispatcher) Shutdown() {
	d.running.Store(false)
}

// Run executes the main loop until Shutdown is called. On return, every
// in-flight Connection has been forced to CLOSE_CONN and its fds closed.
func (d *Dispatcher) Run() error {
	defer d.shutdownCleanup()

	events := make([]unix.EpollEvent, maxEvents)
	for d.running.Load() {
		timeout := d.pollTimeout()

		n, err := unix.EpollWait(d.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("dispatcher: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			d.handleEvent(events[i])
		}

		d.clearExpired()
	}
	return nil
}

// pollTimeout computes the multiplexer wait in milliseconds: -1 (block
// indefinitely) if the timeout wheel is empty, else the time to the
// earliest expiry, floored at 0.
func (d *Dispatcher) pollTimeout() int {
	expiry, ok := d.wheel.NextExpiry()
	if !ok {
		return -1
	}
	ms := time.Until(expiry).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return int(ms)
}

func (d *Dispatcher) handleEvent(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	tgt, ok := d.targets[fd]
	if !ok {
		return // stale event for an fd we already deregistered
	}

	if tgt.side == sideListener {
		d.acceptClient()
		return
	}

	conn, ok := d.table.Get(tgt.handle)
	if !ok {
		delete(d.targets, fd)
		return
	}

	d.step(conn, tgt.handle, tgt.side)
}

// step runs one handler for the ready side, then drives the transition
// routine, chaining through every synchronous state inline before
// returning control to the poll loop, exactly as §4.6 specifies.
func (d *Dispatcher) step(conn *connection.Connection, h conntable.Handle, s side) {
	outcome := d.invokeHandler(conn, h, s)
	conn.State = connection.Next(conn.State, outcome)

	for conn.State.Synchronous() {
		outcome = d.invokeHandler(conn, h, sideClient)
		conn.State = connection.Next(conn.State, outcome)
	}

	if conn.State == connection.CloseConn {
		d.closeConn(conn, h)
		return
	}

	d.rearm(conn, h)
}

// invokeHandler runs the handler for conn's current state, timing the
// five I/O phases metrics.Phases tracks (VerifyRequest/CheckConn/WriteError
// are bookkeeping states with no phase of their own; their time is dropped).
func (d *Dispatcher) invokeHandler(conn *connection.Connection, h conntable.Handle, s side) connection.Outcome {
	t := d.timers[h]
	state := conn.State
	if t != nil {
		t.Enter()
	}

	var outcome connection.Outcome
	switch state {
	case connection.ReadRequest:
		outcome = d.readRequest(conn)
	case connection.VerifyRequest:
		outcome = d.verifyRequest(conn)
	case connection.ConnectUpstream:
		outcome = d.connectUpstream(conn)
	case connection.WriteRequest:
		outcome = d.writeRequest(conn)
	case connection.ReadResponse:
		outcome = d.readResponse(conn)
	case connection.WriteResponse:
		outcome = d.writeResponse(conn)
	case connection.CheckConn:
		outcome = d.checkConn(conn)
	case connection.WriteError:
		outcome = d.writeErrorResponse(conn)
	default:
		outcome = connection.OutcomeError
	}

	if t != nil {
		switch state {
		case connection.ReadRequest:
			t.Leave(t.AddReadRequest)
		case connection.ConnectUpstream:
			t.Leave(t.AddConnectUpstream)
		case connection.WriteRequest:
			t.Leave(t.AddWriteRequest)
		case connection.ReadResponse:
			t.Leave(t.AddReadResponse)
		case connection.WriteResponse:
			t.Leave(t.AddWriteResponse)
		default:
			t.Leave(func(time.Duration) {})
		}
	}

	return outcome
}

// rearm re-registers interest for whichever fd the new state waits on,
// edge-triggered with EPOLLONESHOT so a fresh arm is required before the
// next event.
func (d *Dispatcher) rearm(conn *connection.Connection, h conntable.Handle) {
	switch conn.State {
	case connection.ReadRequest:
		d.armRead(conn, h, sideClient)
	case connection.WriteRequest:
		d.armWrite(conn, h, sideUpstream)
	case connection.ReadResponse:
		d.armRead(conn, h, sideUpstream)
	case connection.WriteResponse, connection.WriteError:
		d.armWrite(conn, h, sideClient)
	}
}

func (d *Dispatcher) fdFor(conn *connection.Connection, s side) int {
	if s == sideClient {
		return conn.Client.FD
	}
	return conn.Upstream.FD
}

func (d *Dispatcher) armRead(conn *connection.Connection, h conntable.Handle, s side) {
	d.arm(conn, h, s, unix.EPOLLIN|unix.EPOLLONESHOT|unix.EPOLLET)
}

func (d *Dispatcher) armWrite(conn *connection.Connection, h conntable.Handle, s side) {
	d.arm(conn, h, s, unix.EPOLLOUT|unix.EPOLLONESHOT|unix.EPOLLET)
}

func (d *Dispatcher) arm(conn *connection.Connection, h conntable.Handle, s side, events uint32) {
	fd := d.fdFor(conn, s)
	if fd < 0 {
		return
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}

	op := unix.EPOLL_CTL_MOD
	if _, already := d.targets[fd]; !already {
		op = unix.EPOLL_CTL_ADD
	}
	if err := unix.EpollCtl(d.epfd, op, fd, &ev); err != nil {
		d.logger.WithFields(logrus.Fields{"fd": fd, "op": op}).WithError(err).Warn("epoll_ctl failed")
		return
	}
	d.targets[fd] = target{handle: h, side: s}
}

func (d *Dispatcher) deregister(fd int) {
	if fd < 0 {
		return
	}
	unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(d.targets, fd)
}

func (d *Dispatcher) closeConn(conn *connection.Connection, h conntable.Handle) {
	d.deregister(conn.Client.FD)
	d.deregister(conn.Upstream.FD)
	if conn.Client.FD >= 0 {
		unix.Close(conn.Client.FD)
	}
	if conn.Upstream.FD >= 0 {
		unix.Close(conn.Upstream.FD)
	}
	if conn.StateTimeout != nil {
		d.wheel.Remove(conn.StateTimeout)
	}
	if conn.ConnTimeout != nil {
		d.wheel.Remove(conn.ConnTimeout)
	}
	if t, ok := d.timers[h]; ok {
		d.logger.WithFields(logrus.Fields(t.Finish().Fields())).Debug("connection closed")
		delete(d.timers, h)
	}
	conn.Close()
	d.table.Deactivate(conn)
}

func (d *Dispatcher) clearExpired() {
	d.wheel.ClearExpired(time.Now(), func(t *timeoutwheel.Timeout) {
		h, ok := t.Owner.(conntable.Handle)
		if !ok {
			return
		}
		conn, ok := d.table.Get(h)
		if !ok {
			return
		}
		conn.Status = timeoutwheel.Status(t.Kind)
		conn.State = connection.WriteError
		d.step(conn, h, sideClient)
	})
}

// newError moves conn to the error path, classifying status into the
// structured perr.Error that caused it so the Debug log below carries the
// error category rather than a bare integer.
func (d *Dispatcher) newError(conn *connection.Connection, status int) connection.Outcome {
	conn.Status = status
	d.logErr("handler", conn, classifyStatus(status))
	return connection.OutcomeError
}

// classifyStatus builds the perr.Error a given HTTP status corresponds to.
// Client-caused framing statuses are protocol errors; 408/504 are the two
// statuses the timeout wheel assigns; everything else is treated as an
// internal I/O failure (upstream dial/read/write all report 500 here).
func classifyStatus(status int) *perr.Error {
	switch status {
	case 400, 411, 413, 431:
		return perr.NewProtocolError(status, fmt.Sprintf("request rejected with status %d", status), nil)
	case 408:
		return perr.NewTimeoutError("read_request", 0, status)
	case 504:
		return perr.NewTimeoutError("read_response", 0, status)
	default:
		return perr.NewIOError("handler", nil)
	}
}

func (d *Dispatcher) logErr(op string, conn *connection.Connection, err error) {
	if err == nil || d.logger == nil {
		return
	}
	d.logger.WithFields(logrus.Fields{"op": op, "status": conn.Status}).WithError(err).Debug("handler error")
}
