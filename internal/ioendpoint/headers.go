package ioendpoint

import "bytes"

var crlfcrlf = []byte("\r\n\r\n")

// FindHeadersEnd searches Buffer[0:ReadIndex] for the first CRLFCRLF,
// resuming from just before where the previous call left off (so a
// terminator straddling two reads is still found without rescanning bytes
// already known not to be part of one). It returns the offset one past the
// terminator on success.
func (e *Endpoint) FindHeadersEnd() (found bool, end int) {
	start := e.headerScanPos - (len(crlfcrlf) - 1)
	if start < 0 {
		start = 0
	}
	if start > e.ReadIndex {
		start = e.ReadIndex
	}

	idx := bytes.Index(e.Buffer[start:e.ReadIndex], crlfcrlf)
	e.headerScanPos = e.ReadIndex

	if idx < 0 {
		return false, 0
	}
	return true, start + idx + len(crlfcrlf)
}
