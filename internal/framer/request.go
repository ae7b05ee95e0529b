package framer

import (
	"bytes"
	"regexp"

	"github.com/WhileEndless/go-reverse-proxy/internal/ioendpoint"
)

// hostPattern is a permissive "looks like a hostname[:port]" matcher, with
// one optional trailing '/': it rejects obviously malformed Host values
// (embedded whitespace, control bytes, empty) without trying to be a strict
// RFC 1123 validator.
var hostPattern = regexp.MustCompile(`^[A-Za-z0-9.\-]+(:[0-9]+)?/?$`)

var validVersions = map[string]bool{
	"HTTP/1.0": true,
	"HTTP/1.1": true,
	"HTTP/2":   true,
	"HTTP/3":   true,
}

// Request is the parsed view of a client request line plus its Host
// header, as byte-slices into the endpoint's own buffer.
type Request struct {
	Path    []byte
	Version []byte
	Host    []byte
}

// ValidateRequest tokenizes the request line (already delimited by the
// header block ParseHeaders located) and the Host header it recorded, and
// checks the request against the accepted subset of HTTP. canonicalHost is
// compared byte-identically modulo one optional trailing '/'.
func ValidateRequest(e *ioendpoint.Endpoint, canonicalHost string) (req Request, status int) {
	headers := e.Headers()
	lineEnd := bytes.Index(headers, []byte("\r\n"))
	if lineEnd < 0 {
		return req, 400
	}
	line := headers[:lineEnd]

	firstSpace := bytes.IndexByte(line, ' ')
	if firstSpace < 0 {
		return req, 400
	}
	method := line[:firstSpace]
	rest := line[firstSpace+1:]

	lastSpace := bytes.LastIndexByte(rest, ' ')
	if lastSpace < 0 {
		return req, 400
	}
	path := rest[:lastSpace]
	version := rest[lastSpace+1:]

	if !bytes.Equal(method, []byte("GET")) {
		return req, 405
	}
	if len(path) == 0 {
		return req, 400
	}
	if !validVersions[string(version)] {
		return req, 505
	}

	host := findHost(headers[lineEnd+2:])
	if host == nil {
		return req, 400
	}
	if !hostPattern.Match(host) {
		return req, 400
	}
	if !hostMatchesCanonical(host, canonicalHost) {
		return Request{Path: path, Version: version, Host: host}, 301
	}

	return Request{Path: path, Version: version, Host: host}, 200
}

func findHost(headerLines []byte) []byte {
	pos := 0
	for pos < len(headerLines) {
		end := bytes.Index(headerLines[pos:], []byte("\r\n"))
		if end < 0 {
			break
		}
		line := headerLines[pos : pos+end]
		pos += end + 2
		if len(line) == 0 {
			break
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		if equalFold(line[:colon], "Host") {
			return bytes.TrimLeft(line[colon+1:], " \t")
		}
	}
	return nil
}

func hostMatchesCanonical(host []byte, canonicalHost string) bool {
	h := string(host)
	if h == canonicalHost {
		return true
	}
	if len(h) == len(canonicalHost)+1 && h[len(h)-1] == '/' && h[:len(h)-1] == canonicalHost {
		return true
	}
	return false
}
