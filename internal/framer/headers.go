package framer

import (
	"bytes"
	"math"

	"golang.org/x/net/http/httpguts"

	"github.com/WhileEndless/go-reverse-proxy/internal/ioendpoint"
)

// DefaultMaxBodyBytes is the body-size cap used when no configured limit
// (config.Limits.MaxBodyBytes) is supplied to ParseHeaders.
const DefaultMaxBodyBytes = 10 * 1 << 20 // 10 MiB

// ConnectionHeader summarizes what a side said about keeping the link
// alive, independent from the default implied by the HTTP version.
type ConnectionHeader struct {
	Present   bool
	KeepAlive bool
	Close     bool
}

// ParseHeaders locates the header-block terminator on e, and on success
// walks every header line (skipping the request/status line) extracting
// Connection, Content-Length and Transfer-Encoding. need reports whether
// more bytes are required before a decision can be made; status is nonzero
// on a framing error. fullStatus is the status reported when the buffer
// fills before the terminator: 431 for the client side, 500 for the
// upstream side, as chosen by the caller. maxBody
// bounds the declared Content-Length (config.Limits.MaxBodyBytes); <=0
// falls back to DefaultMaxBodyBytes.
func ParseHeaders(e *ioendpoint.Endpoint, fullStatus int, maxBody int) (need bool, status int, conn ConnectionHeader) {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	found, end := e.FindHeadersEnd()
	if !found {
		if e.Full() {
			return false, fullStatus, conn
		}
		return true, 0, conn
	}
	e.SetHeaders(0, end)

	lineStart := bytes.IndexAny(e.Buffer[:end], "\r\n")
	if lineStart < 0 {
		return false, 400, conn
	}
	lineStart += 2 // skip past the request/status line's CRLF

	hasContentLength := false
	hasChunked := false

	for lineStart < end {
		lineEnd := bytes.Index(e.Buffer[lineStart:end], []byte("\r\n"))
		if lineEnd < 0 {
			break
		}
		line := e.Buffer[lineStart : lineStart+lineEnd]
		lineStart += lineEnd + 2

		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return false, 400, conn
		}
		name := line[:colon]
		value := bytes.TrimLeft(line[colon+1:], " \t")

		if !httpguts.ValidHeaderFieldName(string(name)) || !httpguts.ValidHeaderFieldValue(string(value)) {
			return false, 400, conn
		}

		switch {
		case equalFold(name, "Connection"):
			conn.Present = true
			if equalFold(value, "close") {
				conn.Close = true
			} else if equalFold(value, "keep-alive") {
				conn.KeepAlive = true
			}
		case equalFold(name, "Content-Length"):
			if hasChunked {
				return false, 400, conn
			}
			n, ok := parseDecimal(value)
			if !ok {
				return false, 400, conn
			}
			if n > maxBody {
				return false, 413, conn
			}
			hasContentLength = true
			e.ContentLen = n
		case equalFold(name, "Transfer-Encoding"):
			if hasContentLength {
				return false, 400, conn
			}
			if !equalFold(bytes.TrimSpace(value), "chunked") {
				return false, 411, conn
			}
			hasChunked = true
			e.Chunked = true
		}
	}

	return false, 0, conn
}

func equalFold(a []byte, b string) bool {
	return bytes.EqualFold(a, []byte(b))
}

// parseDecimal parses an unsigned decimal Content-Length value. The digit
// count is capped at 15 and the value saturates at the largest int instead
// of overflowing on any platform Go targets, independent of the caller's
// maxBody cap, so a value far over the configured limit is parsed
// successfully and rejected by the caller's maxBody comparison (413) rather
// than being misreported as a malformed header (400).
func parseDecimal(b []byte) (int, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || len(b) > 15 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		digit := int(c - '0')
		if n > (math.MaxInt-digit)/10 {
			n = math.MaxInt
			continue
		}
		n = n*10 + digit
	}
	return n, true
}
