package dispatcher

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/WhileEndless/go-reverse-proxy/internal/connection"
	"github.com/WhileEndless/go-reverse-proxy/internal/conntable"
	"github.com/WhileEndless/go-reverse-proxy/internal/framer"
	"github.com/WhileEndless/go-reverse-proxy/internal/ioendpoint"
	"github.com/WhileEndless/go-reverse-proxy/internal/metrics"
	"github.com/WhileEndless/go-reverse-proxy/internal/timeoutwheel"
)

// handleOf reconstructs a Connection's slab handle from the fields the
// conntable stamped onto it at Activate time, so handlers don't need to
// thread the handle through every call.
func handleOf(conn *connection.Connection) conntable.Handle {
	return conntable.Handle{Index: conn.SelfRef, Generation: conn.Gen}
}

// acceptClient drains the listener's accept queue. At capacity, it still
// accepts and immediately closes the socket (rate-limited warning) rather
// than leaving connections pending in the kernel backlog.
func (d *Dispatcher) acceptClient() {
	for {
		fd, sa, err := unix.Accept(d.listenFD)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR {
				continue
			}
			d.logger.WithError(err).Warn("accept failed")
			return
		}

		if d.table.Full() {
			unix.Close(fd)
			if d.limiter.Allow() {
				d.logger.Warn("active connection table full, rejecting client")
			}
			continue
		}

		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fd)
			continue
		}

		conn := connection.NewWithBufferSize(d.cfg.Limits.BufferSize)
		conn.Client.FD = fd
		conn.ClientAddr = sockaddrToAddr(sa)

		h, ok := d.table.Activate(conn)
		if !ok {
			unix.Close(fd)
			continue
		}

		d.timers[h] = metrics.NewTimer()
		d.startConnTimeout(conn)
		d.startStateTimeout(conn, timeoutwheel.RequestRead)
		d.armRead(conn, h, sideClient)
	}
}

func sockaddrToAddr(sa unix.Sockaddr) *unixAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet6:
		return &unixAddr{ip: a.Addr, port: a.Port}
	case *unix.SockaddrInet4:
		var ip [16]byte
		copy(ip[12:], a.Addr[:])
		ip[10], ip[11] = 0xff, 0xff
		return &unixAddr{ip: ip, port: a.Port}
	default:
		return nil
	}
}

// unixAddr is a minimal net.Addr good enough for logging the client's
// address; the dispatcher never needs to dial it.
type unixAddr struct {
	ip   [16]byte
	port int
}

func (a *unixAddr) Network() string { return "tcp" }
func (a *unixAddr) String() string {
	if a == nil {
		return ""
	}
	return fmt.Sprintf("[%x]:%d", a.ip, a.port)
}

// readRequest drains the client fd into the request Endpoint, parses
// headers as soon as CRLFCRLF arrives, validates the request line and
// Host, and discards any declared body before reporting completion.
func (d *Dispatcher) readRequest(conn *connection.Connection) connection.Outcome {
	e := conn.Client

	for {
		if e.Full() && !e.HeadersFound {
			return d.newError(conn, 431)
		}
		n, err := unix.Read(e.FD, e.Buffer[e.ReadIndex:])
		if err != nil {
			if err == unix.EAGAIN {
				return connection.OutcomeMore
			}
			if err == unix.EINTR {
				continue
			}
			return d.newError(conn, 500)
		}
		if n == 0 {
			return d.newError(conn, 400) // client closed before completing a request
		}
		e.ReadIndex += n

		if !e.HeadersFound {
			need, status, hdr := framer.ParseHeaders(e, 431, d.cfg.Limits.MaxBodyBytes)
			if status != 0 {
				return d.newError(conn, status)
			}
			if need {
				continue
			}

			req, vstatus := framer.ValidateRequest(e, d.cfg.CanonicalHost)
			conn.Path, conn.HTTPVersion, conn.Host = req.Path, req.Version, req.Host
			if vstatus != 200 {
				return d.newError(conn, vstatus)
			}
			conn.Status = 200
			conn.ApplyConnectionHeader(true, hdr, req.Version)
		}

		if e.BodyComplete() {
			return connection.OutcomeOK
		}
		if e.Full() {
			e.FlushBody() // discard what we've buffered, keep reading the rest
		}
	}
}

// verifyRequest is the synchronous post-parse gate: by the time
// READ_REQUEST reports OutcomeOK, ValidateRequest has already run and set
// conn.Status, so there is nothing left to check before moving on.
func (d *Dispatcher) verifyRequest(conn *connection.Connection) connection.Outcome {
	return connection.OutcomeOK
}

// connectUpstream opens a non-blocking TCP connection to the configured
// upstream. Per §4.3 this state is synchronous: issuing connect() and
// getting EINPROGRESS is success from the state machine's point of view —
// actual completion is detected on the first WRITE_REQUEST wakeup via
// SO_ERROR.
func (d *Dispatcher) connectUpstream(conn *connection.Connection) connection.Outcome {
	if conn.Upstream.FD >= 0 {
		// A keep-alive exchange still holds the previous exchange's socket.
		d.deregister(conn.Upstream.FD)
		unix.Close(conn.Upstream.FD)
		conn.Upstream.FD = -1
	}

	family := unix.AF_INET6
	if d.upstreamAddr.IP.To4() != nil {
		family = unix.AF_INET
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return d.newError(conn, 500)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return d.newError(conn, 500)
	}

	err = unix.Connect(fd, tcpAddrToSockaddr(d.upstreamAddr, family))
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return d.newError(conn, 500)
	}

	conn.Upstream.FD = fd
	d.startStateTimeout(conn, timeoutwheel.RequestWrite)
	return connection.OutcomeOK
}

func tcpAddrToSockaddr(addr *net.TCPAddr, family int) unix.Sockaddr {
	if family == unix.AF_INET {
		var a unix.SockaddrInet4
		copy(a.Addr[:], addr.IP.To4())
		a.Port = addr.Port
		return &a
	}
	var a unix.SockaddrInet6
	copy(a.Addr[:], addr.IP.To16())
	a.Port = addr.Port
	return &a
}

// writeRequest builds the regenerated request line and selected headers
// (once, lazily) and writes it to the upstream socket, looping until
// would-block or the whole request has gone out.
func (d *Dispatcher) writeRequest(conn *connection.Connection) connection.Outcome {
	e := conn.Upstream

	if !conn.UpstreamConnected {
		errno, serr := unix.GetsockoptInt(e.FD, unix.SOL_SOCKET, unix.SO_ERROR)
		if serr != nil || errno != 0 {
			return d.newError(conn, 500)
		}
		conn.UpstreamConnected = true
	}

	if !conn.RequestBuilt {
		buildForwardedRequest(e, conn)
		conn.RequestBuilt = true
	}

	for e.ToWrite > 0 {
		n, err := unix.Write(e.FD, e.Buffer[e.WriteIndex:e.WriteIndex+e.ToWrite])
		if err != nil {
			if err == unix.EAGAIN {
				return connection.OutcomeMore
			}
			if err == unix.EINTR {
				continue
			}
			return d.newError(conn, 500)
		}
		e.WriteIndex += n
		e.ToWrite -= n
	}

	e.Reset() // ready to read the response into the same buffer
	return connection.OutcomeOK
}

// buildForwardedRequest regenerates a minimal request line and the
// selected headers the proxy tracked, rather than forwarding the client's
// raw bytes verbatim — mirroring the original's habit of only ever
// keeping conn.path/http_ver/host/connection as structured fields.
func buildForwardedRequest(e *ioendpoint.Endpoint, conn *connection.Connection) {
	connToken := "keep-alive"
	if !conn.ClientKeepAlive {
		connToken = "close"
	}

	n := 0
	n += copy(e.Buffer[n:], "GET ")
	n += copy(e.Buffer[n:], conn.Path)
	n += copy(e.Buffer[n:], " HTTP/1.1\r\nHost: ")
	n += copy(e.Buffer[n:], conn.Host)
	n += copy(e.Buffer[n:], "\r\nConnection: ")
	n += copy(e.Buffer[n:], connToken)
	n += copy(e.Buffer[n:], "\r\n\r\n")

	e.WriteIndex = 0
	e.ToWrite = n
}

// readResponse drains the upstream fd, framing the response the same way
// READ_REQUEST frames a request, flushing to WRITE_RESPONSE either when
// the body completes or when the buffer fills (spec §4.2).
func (d *Dispatcher) readResponse(conn *connection.Connection) connection.Outcome {
	e := conn.Upstream

	for {
		if e.Full() && !e.HeadersFound {
			return d.newError(conn, 500)
		}
		n, err := unix.Read(e.FD, e.Buffer[e.ReadIndex:])
		if err != nil {
			if err == unix.EAGAIN {
				return connection.OutcomeMore
			}
			if err == unix.EINTR {
				continue
			}
			return d.newError(conn, 500)
		}
		if n == 0 {
			if e.HeadersFound {
				conn.Complete = true
				return connection.OutcomeOK
			}
			return d.newError(conn, 500)
		}
		e.ReadIndex += n

		if !e.HeadersFound {
			need, status, hdr := framer.ParseHeaders(e, 500, d.cfg.Limits.MaxBodyBytes)
			if status != 0 {
				return d.newError(conn, status)
			}
			if need {
				continue
			}
			conn.ApplyConnectionHeader(false, hdr, conn.HTTPVersion)
		}

		if e.BodyComplete() {
			conn.Complete = true
			return connection.OutcomeOK
		}
		if e.Full() {
			conn.Complete = false
			return connection.OutcomeOK
		}
	}
}

// writeResponse flushes the upstream buffer's contents to the client,
// looping until would-block or it is all out, then either hands back to
// READ_RESPONSE for the next window or on to CHECK_CONN.
func (d *Dispatcher) writeResponse(conn *connection.Connection) connection.Outcome {
	e := conn.Upstream

	if e.WriteIndex == 0 && e.ToWrite == 0 {
		e.ToWrite = e.ReadIndex
	}

	for e.ToWrite > 0 {
		n, err := unix.Write(conn.Client.FD, e.Buffer[e.WriteIndex:e.WriteIndex+e.ToWrite])
		if err != nil {
			if err == unix.EAGAIN {
				return connection.OutcomeMore
			}
			if err == unix.EINTR {
				continue
			}
			return d.newError(conn, 500)
		}
		e.WriteIndex += n
		e.ToWrite -= n
	}

	if conn.Complete {
		return connection.OutcomeOK
	}
	e.FlushBody()
	return connection.OutcomeMore
}

// checkConn is the synchronous post-exchange gate: it decides whether to
// serve a pipelined/keep-alive follow-up or close.
func (d *Dispatcher) checkConn(conn *connection.Connection) connection.Outcome {
	if conn.KeepAlive() {
		conn.Reset()
		d.startStateTimeout(conn, timeoutwheel.RequestRead)
		return connection.OutcomeKeepAlive
	}
	return connection.OutcomeClose
}

// writeErrorResponse renders and flushes the canned error/redirect page
// built for conn.Status, then always proceeds to CLOSE_CONN.
func (d *Dispatcher) writeErrorResponse(conn *connection.Connection) connection.Outcome {
	e := conn.Upstream
	if e.ToWrite == 0 && e.WriteIndex == 0 {
		buildErrorPage(e, conn.Status, d.cfg.CanonicalHost)
	}

	for e.ToWrite > 0 {
		n, err := unix.Write(conn.Client.FD, e.Buffer[e.WriteIndex:e.WriteIndex+e.ToWrite])
		if err != nil {
			if err == unix.EAGAIN {
				return connection.OutcomeMore
			}
			if err == unix.EINTR {
				continue
			}
			return connection.OutcomeError
		}
		e.WriteIndex += n
		e.ToWrite -= n
	}
	return connection.OutcomeOK
}

func (d *Dispatcher) startConnTimeout(conn *connection.Connection) {
	if conn.ConnTimeout != nil {
		d.wheel.Remove(conn.ConnTimeout)
	}
	t := &timeoutwheel.Timeout{
		Kind:    timeoutwheel.Connection,
		Expires: time.Now().Add(d.cfg.Timeouts.Connection),
		Owner:   handleOf(conn),
	}
	conn.ConnTimeout = t
	d.wheel.Enqueue(t)
}

func (d *Dispatcher) startStateTimeout(conn *connection.Connection, kind timeoutwheel.Kind) {
	if conn.StateTimeout != nil {
		d.wheel.Remove(conn.StateTimeout)
	}
	t := &timeoutwheel.Timeout{
		Kind:    kind,
		Expires: time.Now().Add(d.ttlFor(kind)),
		Owner:   handleOf(conn),
	}
	conn.StateTimeout = t
	d.wheel.Enqueue(t)
}

func (d *Dispatcher) ttlFor(kind timeoutwheel.Kind) time.Duration {
	switch kind {
	case timeoutwheel.RequestRead:
		return d.cfg.Timeouts.RequestRead
	case timeoutwheel.RequestWrite:
		return d.cfg.Timeouts.RequestWrite
	case timeoutwheel.ResponseRead:
		return d.cfg.Timeouts.ResponseRead
	case timeoutwheel.ResponseWrite:
		return d.cfg.Timeouts.ResponseWrite
	default:
		return d.cfg.Timeouts.Connection
	}
}

func (d *Dispatcher) shutdownCleanup() {
	d.table.FreeAll(func(conn *connection.Connection) {
		if conn.Client.FD >= 0 {
			unix.Close(conn.Client.FD)
		}
		if conn.Upstream.FD >= 0 {
			unix.Close(conn.Upstream.FD)
		}
	})
	unix.Close(d.epfd)
}
