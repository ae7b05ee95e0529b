// Package ioendpoint implements the fixed-size byte buffer and framing
// cursors shared by the client and upstream side of a Connection.
package ioendpoint

// BufferSize is the fixed capacity of an Endpoint's buffer. HTTP/1 headers
// beyond this size are rejected (431/500); this also bounds per-connection
// memory and the framer's work.
const BufferSize = 8192

// Endpoint holds one side (client or upstream) of a proxied HTTP exchange:
// its raw buffer, read/write/pipelining cursors and the incremental framing
// state (header-block location, content-length/chunked bookkeeping, and the
// chunk-terminator matcher).
type Endpoint struct {
	Buffer []byte // fixed size chosen at construction (BufferSize by default)

	FD int // transport handle; -1 when not yet open

	ReadIndex  int // next offset to write received bytes into
	WriteIndex int // next offset to emit from when writing out
	NextIndex  int // offset of a pipelined follow-up message; 0 means none

	ToRead  int // bytes still expected before the current message is framed
	ToWrite int // bytes still to emit from Buffer[WriteIndex:]

	ContentLen int  // parsed Content-Length value
	Chunked    bool // Transfer-Encoding: chunked was declared

	HeadersFound bool // CRLFCRLF located and headersOffset/headersLen valid
	headersOffset int
	headersLen    int

	headerScanPos int // FindHeadersEnd resumes scanning from here
	chunkScanPos  int // FindLastChunk resumes scanning from here
	chunk         chunkMatcher

	// BodyConsumed and bodyWindowStart support a body that spans more than
	// one buffer fill: BodyConsumed accumulates bytes counted in prior
	// windows, bodyWindowStart is the offset body bytes begin at in the
	// buffer's current window (the header length on the first window, 0
	// after FlushBody starts a fresh one).
	BodyConsumed    int
	bodyWindowStart int
}

// New allocates a fresh Endpoint sized at the default BufferSize, ready to
// read a request/response.
func New() *Endpoint {
	return NewWithSize(BufferSize)
}

// NewWithSize allocates a fresh Endpoint whose buffer is size bytes, as set
// by config.Limits.BufferSize; size<=0 falls back to BufferSize.
func NewWithSize(size int) *Endpoint {
	if size <= 0 {
		size = BufferSize
	}
	e := &Endpoint{
		Buffer: make([]byte, size),
	}
	e.resetCursors()
	return e
}

func (e *Endpoint) resetCursors() {
	e.FD = -1
	e.ReadIndex = 0
	e.WriteIndex = 0
	e.NextIndex = 0
	e.ToRead = len(e.Buffer) - 1
	e.ToWrite = 0
	e.ContentLen = 0
	e.Chunked = false
	e.HeadersFound = false
	e.headersOffset = 0
	e.headersLen = 0
	e.headerScanPos = 0
	e.chunkScanPos = 0
	e.chunk.reset()
	e.BodyConsumed = 0
	e.bodyWindowStart = 0
}

// Reset clears all framing state for a new message but preserves FD — used
// when the same connection (and socket) serves another exchange.
func (e *Endpoint) Reset() {
	fd := e.FD
	e.resetCursors()
	e.FD = fd
}

// Headers returns the byte-slice view of the parsed header block. It is
// only meaningful once HeadersFound is true.
func (e *Endpoint) Headers() []byte {
	if !e.HeadersFound {
		return nil
	}
	return e.Buffer[e.headersOffset : e.headersOffset+e.headersLen]
}

// SetHeaders records the parsed header block's bounds and marks that the
// body, if any, starts right after them in the current buffer window.
func (e *Endpoint) SetHeaders(offset, length int) {
	e.headersOffset = offset
	e.headersLen = length
	e.HeadersFound = true
	e.bodyWindowStart = offset + length
}

// BodyBytesInWindow reports how many body bytes have arrived in the
// current buffer window (since the last FlushBody, or since the headers
// if none have happened yet).
func (e *Endpoint) BodyBytesInWindow() int {
	return e.ReadIndex - e.bodyWindowStart
}

// BodyComplete reports whether the declared body (Content-Length or
// chunked) has been fully seen across however many buffer windows it took.
// A response with neither header present is complete as soon as headers
// are found (body framed by connection-close is not modeled here, per the
// accepted-request subset which requires Content-Length or chunked). On
// completion it sets NextIndex to the start of a pipelined follow-up
// message, mirroring what FindLastChunk does for the chunked case.
func (e *Endpoint) BodyComplete() bool {
	if e.Chunked {
		return e.FindLastChunk(e.bodyWindowStart)
	}
	if e.BodyConsumed+e.BodyBytesInWindow() < e.ContentLen {
		return false
	}
	end := e.bodyWindowStart + (e.ContentLen - e.BodyConsumed)
	if end < e.ReadIndex {
		e.NextIndex = end
	}
	return true
}

// FlushBody commits the current window's body bytes to BodyConsumed and
// rewinds the buffer to receive the next window, preserving all framing
// state (ContentLen, Chunked, HeadersFound, the chunk matcher).
func (e *Endpoint) FlushBody() {
	e.BodyConsumed += e.BodyBytesInWindow()
	e.ReadIndex = 0
	e.WriteIndex = 0
	e.ToWrite = 0
	e.NextIndex = 0
	e.headerScanPos = 0
	e.chunkScanPos = 0
	e.bodyWindowStart = 0
}

// Full reports whether the buffer has no room left for further reads.
func (e *Endpoint) Full() bool {
	return e.ReadIndex >= len(e.Buffer)-1
}

// Pull compacts a pipelined follow-up message (recorded in NextIndex) to the
// start of the buffer and rearms the endpoint to parse it as a fresh
// message. Precondition: ReadIndex > NextIndex (there is at least one byte
// of the next message already buffered). A no-op if NextIndex is 0.
func (e *Endpoint) Pull() {
	if e.NextIndex <= 0 {
		return
	}
	n := copy(e.Buffer, e.Buffer[e.NextIndex:e.ReadIndex])
	e.ReadIndex = n
	e.WriteIndex = 0
	e.ToWrite = 0
	e.NextIndex = 0
	e.ToRead = len(e.Buffer) - e.ReadIndex - 1
	e.ContentLen = 0
	e.Chunked = false
	e.HeadersFound = false
	e.headersOffset = 0
	e.headersLen = 0
	e.headerScanPos = 0
	e.chunkScanPos = 0
	e.chunk.reset()
	e.BodyConsumed = 0
	e.bodyWindowStart = 0
}
