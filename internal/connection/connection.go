package connection

import (
	"net"

	"github.com/WhileEndless/go-reverse-proxy/internal/framer"
	"github.com/WhileEndless/go-reverse-proxy/internal/ioendpoint"
	"github.com/WhileEndless/go-reverse-proxy/internal/timeoutwheel"
)

// Connection is one client↔upstream flow: a pair of Endpoints, the state
// tag the dispatcher advances, and the metadata recorded by the framer.
type Connection struct {
	Client   *ioendpoint.Endpoint
	Upstream *ioendpoint.Endpoint

	State  State
	Status int // HTTP status to report, set by validation/errors

	HTTPVersion []byte
	Path        []byte
	Host        []byte

	ClientKeepAlive   bool // client side said keep-alive (or defaulted to it)
	UpstreamKeepAlive bool // upstream side said keep-alive (or defaulted to it)
	Complete          bool // current message fully read/written

	UpstreamConnected bool // SO_ERROR already checked clean for this exchange
	RequestBuilt      bool // the forwarded request line/headers were already written

	ClientAddr net.Addr

	StateTimeout *timeoutwheel.Timeout
	ConnTimeout  *timeoutwheel.Timeout

	SelfRef int // index into the active-connection table slab; -1 if inactive
	Gen     uint32
}

// New allocates a Connection ready to read its first request, with both
// Endpoints sized at ioendpoint's default BufferSize.
func New() *Connection {
	return NewWithBufferSize(0)
}

// NewWithBufferSize allocates a Connection whose Client and Upstream
// Endpoints are both sized at bufferSize, as set by config.Limits.BufferSize;
// bufferSize<=0 falls back to ioendpoint.BufferSize.
func NewWithBufferSize(bufferSize int) *Connection {
	return &Connection{
		Client:   ioendpoint.NewWithSize(bufferSize),
		Upstream: ioendpoint.NewWithSize(bufferSize),
		State:    ReadRequest,
		SelfRef:  -1,
	}
}

// KeepAlive reports whether the exchange just completed should keep the
// underlying sockets open for another request: closing from either side
// forces close; keep-alive from the upstream only matters if the client
// also asked for it.
func (c *Connection) KeepAlive() bool {
	return c.ClientKeepAlive && c.UpstreamKeepAlive
}

// ApplyConnectionHeader folds one side's Connection header (and the
// request's HTTP version, for the client side) into the Connection's
// keep-alive bookkeeping, applying the default-per-version rule when the
// header was absent: HTTP/1.1 defaults to keep-alive, HTTP/1.0 (and
// anything that parsed as 0.9-shaped) defaults to close.
func (c *Connection) ApplyConnectionHeader(isClient bool, hdr framer.ConnectionHeader, httpVersion []byte) {
	keepAlive := defaultKeepAlive(httpVersion)
	if hdr.Present {
		if hdr.Close {
			keepAlive = false
		} else if hdr.KeepAlive {
			keepAlive = true
		}
	}
	if isClient {
		c.ClientKeepAlive = keepAlive
	} else {
		c.UpstreamKeepAlive = keepAlive
	}
}

func defaultKeepAlive(httpVersion []byte) bool {
	return string(httpVersion) == "HTTP/1.1" || string(httpVersion) == "HTTP/2" || string(httpVersion) == "HTTP/3"
}

// Reset prepares the Connection to serve another request on the same
// sockets: it pulls any pipelined follow-up request to the front of the
// client buffer (or clears the client framing state when there is none),
// clears the upstream endpoint's framing state (a fresh exchange needs a
// fresh upstream framing state; CONNECT_UPSTREAM closes the old upstream
// socket before dialing a new one), and resets per-exchange metadata.
func (c *Connection) Reset() {
	if c.Client.NextIndex > 0 {
		c.Client.Pull()
	} else {
		c.Client.Reset()
	}
	c.Upstream.Reset()
	c.Status = 0
	c.HTTPVersion = nil
	c.Path = nil
	c.Host = nil
	c.ClientKeepAlive = false
	c.UpstreamKeepAlive = false
	c.Complete = false
	c.UpstreamConnected = false
	c.RequestBuilt = false
	c.State = ReadRequest
}

// Close clears both endpoints' file descriptors for destruction by the
// active-connection table.
func (c *Connection) Close() {
	c.Client.FD = -1
	c.Upstream.FD = -1
}
