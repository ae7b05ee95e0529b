package ioendpoint

// lastChunk is the literal terminator of a chunked-transfer body.
const lastChunk = "0\r\n\r\n"

// chunkMatcher is a small restartable automaton tracking how many leading
// bytes of lastChunk have matched the tail of the buffered region so far.
// lastChunk has no self-overlapping prefix/suffix, so a mismatch always
// restarts the match at position zero against the same byte — this is
// exactly what a KMP failure function would compute for this pattern.
type chunkMatcher struct {
	matched int // 0..len(lastChunk)
}

func (m *chunkMatcher) reset() {
	m.matched = 0
}

// scan advances the matcher over data (newly arrived bytes only) and
// reports whether the terminator completed, along with the offset within
// data one past the last matched byte.
func (m *chunkMatcher) scan(data []byte) (found bool, offset int) {
	i := 0
	for i < len(data) {
		if data[i] == lastChunk[m.matched] {
			m.matched++
			i++
			if m.matched == len(lastChunk) {
				return true, i
			}
			continue
		}
		if m.matched > 0 {
			m.matched = 0
			continue
		}
		i++
	}
	return false, 0
}

// FindLastChunk searches Buffer[headersEnd:ReadIndex] for the chunked-body
// terminator "0\r\n\r\n", resuming any partial match left over from a prior
// call against only the bytes that arrived since. It returns true once the
// full terminator has been seen; in that case NextIndex is set to the
// offset one past the terminator if further (pipelined) bytes follow it.
func (e *Endpoint) FindLastChunk(headersEnd int) bool {
	from := e.chunkScanPos
	if from < headersEnd {
		from = headersEnd
	}
	if from > e.ReadIndex {
		from = e.ReadIndex
	}

	data := e.Buffer[from:e.ReadIndex]
	found, off := e.chunk.scan(data)
	e.chunkScanPos = e.ReadIndex

	if !found {
		return false
	}

	end := from + off
	if end < e.ReadIndex {
		e.NextIndex = end
	}
	return true
}
