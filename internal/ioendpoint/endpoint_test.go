package ioendpoint

import "testing"

// TestHeaderTermination verifies property 1: "headers found" is reported
// exactly when the first CRLFCRLF has been delivered, and not before, even
// when it straddles two separate reads.
func TestHeaderTermination(t *testing.T) {
	e := New()

	part1 := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n")
	n := copy(e.Buffer[e.ReadIndex:], part1)
	e.ReadIndex += n

	if found, _ := e.FindHeadersEnd(); found {
		t.Fatalf("headers reported found before CRLFCRLF arrived")
	}

	part2 := []byte("\r\n")
	n = copy(e.Buffer[e.ReadIndex:], part2)
	e.ReadIndex += n

	found, end := e.FindHeadersEnd()
	if !found {
		t.Fatalf("expected headers found after terminating CRLFCRLF")
	}
	if end != e.ReadIndex {
		t.Fatalf("expected header end %d to equal read index %d", end, e.ReadIndex)
	}
}

// TestHeaderTerminationStraddlingCRLF checks the case where the terminator
// itself is split across the two reads (not just arriving in the second).
func TestHeaderTerminationStraddlingCRLF(t *testing.T) {
	e := New()

	part1 := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r")
	n := copy(e.Buffer[e.ReadIndex:], part1)
	e.ReadIndex += n

	if found, _ := e.FindHeadersEnd(); found {
		t.Fatalf("headers reported found before full CRLFCRLF arrived")
	}

	part2 := []byte("\n")
	n = copy(e.Buffer[e.ReadIndex:], part2)
	e.ReadIndex += n

	found, end := e.FindHeadersEnd()
	if !found {
		t.Fatalf("expected headers found once the straddling terminator completed")
	}
	if end != e.ReadIndex {
		t.Fatalf("expected header end %d to equal read index %d", end, e.ReadIndex)
	}
}

// TestChunkTerminatorAcrossSeams verifies property 2.
func TestChunkTerminatorAcrossSeams(t *testing.T) {
	e := New()

	body := []byte("5\r\nhello\r\n0\r\n")
	n := copy(e.Buffer[e.ReadIndex:], body)
	e.ReadIndex += n

	if e.FindLastChunk(0) {
		t.Fatalf("terminator reported complete before it arrived")
	}

	rest := []byte("\r\n")
	n = copy(e.Buffer[e.ReadIndex:], rest)
	e.ReadIndex += n

	if !e.FindLastChunk(0) {
		t.Fatalf("expected terminator to complete on second call")
	}
	if e.NextIndex != 0 {
		t.Fatalf("expected no pipelined bytes after terminator, got NextIndex=%d", e.NextIndex)
	}
}

func TestChunkTerminatorWithTrailingPipelinedBytes(t *testing.T) {
	e := New()

	body := []byte("5\r\nhello\r\n0\r\n")
	n := copy(e.Buffer[e.ReadIndex:], body)
	e.ReadIndex += n
	e.FindLastChunk(0)

	rest := []byte("\r\nGET /next HTTP/1.1\r\n\r\n")
	n = copy(e.Buffer[e.ReadIndex:], rest)
	e.ReadIndex += n

	if !e.FindLastChunk(0) {
		t.Fatalf("expected terminator to complete")
	}
	wantOffset := len(body) + 2 // position just past "0\r\n" + "\r\n"
	if e.NextIndex != wantOffset {
		t.Fatalf("expected NextIndex=%d, got %d", wantOffset, e.NextIndex)
	}
}

// TestPull verifies property 3's relocation half: Pull moves a pipelined
// follow-up request to offset 0 and clears framing state.
func TestPull(t *testing.T) {
	e := New()

	first := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	second := []byte("GET /two HTTP/1.1\r\nHost: example.com\r\n\r\n")
	n := copy(e.Buffer[e.ReadIndex:], append(append([]byte{}, first...), second...))
	e.ReadIndex += n
	e.NextIndex = len(first)
	e.SetHeaders(0, len(first))

	e.Pull()

	if e.ReadIndex != len(second) {
		t.Fatalf("expected read index %d after pull, got %d", len(second), e.ReadIndex)
	}
	if e.NextIndex != 0 {
		t.Fatalf("expected NextIndex cleared after pull")
	}
	if e.HeadersFound {
		t.Fatalf("expected HeadersFound cleared after pull")
	}
	if string(e.Buffer[:e.ReadIndex]) != string(second) {
		t.Fatalf("expected pulled buffer to start with the second request")
	}
}

func TestBodyCompleteContentLengthSpanningWindows(t *testing.T) {
	e := New()
	writeTo := func(s string) {
		n := copy(e.Buffer[e.ReadIndex:], s)
		e.ReadIndex += n
	}
	writeTo("HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n")
	found, end := e.FindHeadersEnd()
	if !found {
		t.Fatalf("expected headers found")
	}
	e.SetHeaders(0, end)
	e.ContentLen = 10

	writeTo("12345")
	if e.BodyComplete() {
		t.Fatalf("expected body incomplete with only 5 of 10 bytes")
	}

	e.FlushBody()
	writeTo("67890")
	if !e.BodyComplete() {
		t.Fatalf("expected body complete after the remaining 5 bytes arrive in a new window")
	}
}

// TestBodyCompleteNoBodySetsNextIndex verifies property 3's pipelining half
// for the common no-body case: a second request already buffered behind the
// first must be discoverable via NextIndex without the caller manually
// tracking message boundaries.
func TestBodyCompleteNoBodySetsNextIndex(t *testing.T) {
	e := New()
	first := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	second := "GET /two HTTP/1.1\r\nHost: example.com\r\n\r\n"
	n := copy(e.Buffer, first+second)
	e.ReadIndex = n

	found, end := e.FindHeadersEnd()
	if !found {
		t.Fatalf("expected headers found")
	}
	e.SetHeaders(0, end)

	if !e.BodyComplete() {
		t.Fatalf("expected a no-body message to be immediately complete")
	}
	if e.NextIndex != len(first) {
		t.Fatalf("expected NextIndex=%d, got %d", len(first), e.NextIndex)
	}
}

// TestBodyCompleteContentLengthSetsNextIndex verifies the same for a
// Content-Length-framed body: NextIndex should point past the declared body,
// not just past the headers.
func TestBodyCompleteContentLengthSetsNextIndex(t *testing.T) {
	e := New()
	first := "POST / HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	second := "GET /two HTTP/1.1\r\nHost: example.com\r\n\r\n"
	n := copy(e.Buffer, first+second)
	e.ReadIndex = n

	found, end := e.FindHeadersEnd()
	if !found {
		t.Fatalf("expected headers found")
	}
	e.SetHeaders(0, end)
	e.ContentLen = 5

	if !e.BodyComplete() {
		t.Fatalf("expected the 5-byte body to be complete")
	}
	if e.NextIndex != len(first) {
		t.Fatalf("expected NextIndex=%d, got %d", len(first), e.NextIndex)
	}
}

// TestBodyCompleteNoTrailingBytesLeavesNextIndexZero checks that NextIndex
// is left at 0 (no pipelined follow-up) when nothing follows the message.
func TestBodyCompleteNoTrailingBytesLeavesNextIndexZero(t *testing.T) {
	e := New()
	msg := "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n"
	n := copy(e.Buffer, msg)
	e.ReadIndex = n

	found, end := e.FindHeadersEnd()
	if !found {
		t.Fatalf("expected headers found")
	}
	e.SetHeaders(0, end)

	if !e.BodyComplete() {
		t.Fatalf("expected a no-body message to be immediately complete")
	}
	if e.NextIndex != 0 {
		t.Fatalf("expected NextIndex=0 with no pipelined bytes, got %d", e.NextIndex)
	}
}

// TestBufferBounded verifies property 4's local half: the buffer never
// grows past BufferSize, and Full reports true at capacity.
func TestBufferBounded(t *testing.T) {
	e := New()
	if len(e.Buffer) != BufferSize {
		t.Fatalf("expected buffer of size %d, got %d", BufferSize, len(e.Buffer))
	}
	e.ReadIndex = BufferSize - 1
	if !e.Full() {
		t.Fatalf("expected endpoint to report full at capacity")
	}
}

// TestNewWithSizeHonorsConfiguredBufferSize verifies that a buffer size
// configured via config.Limits.BufferSize actually changes the endpoint's
// capacity and that Full tracks the configured size, not the package
// default.
func TestNewWithSizeHonorsConfiguredBufferSize(t *testing.T) {
	e := NewWithSize(64)
	if len(e.Buffer) != 64 {
		t.Fatalf("expected buffer of size 64, got %d", len(e.Buffer))
	}
	e.ReadIndex = 63
	if !e.Full() {
		t.Fatalf("expected endpoint to report full at the configured capacity")
	}
}

func TestNewWithSizeZeroFallsBackToDefault(t *testing.T) {
	e := NewWithSize(0)
	if len(e.Buffer) != BufferSize {
		t.Fatalf("expected fallback to default buffer size %d, got %d", BufferSize, len(e.Buffer))
	}
}
