package transport

import (
	"bytes"
	"fmt"
)

var lineTerminator = []byte("\r\n")

// encodeLine terminates a command with CRLF. Embedded terminators are rejected.
func encodeLine(line []byte) ([]byte, error) {
	body := bytes.TrimRight(line, "\r\n")
	if len(body) == 0 {
		return nil, fmt.Errorf("empty line")
	}
	if bytes.ContainsAny(body, "\r\n") {
		return nil, fmt.Errorf("line contains embedded terminator")
	}
	if len(body)+len(lineTerminator) > MaxLineLength {
		return nil, fmt.Errorf("line too long: %d bytes", len(body)+len(lineTerminator))
	}

	out := make([]byte, 0, len(body)+len(lineTerminator))
	out = append(out, body...)
	out = append(out, lineTerminator...)

	return out, nil
}

// lineBuffer accumulates raw reads and yields complete lines without terminators.
type lineBuffer struct {
	pending []byte
	limit   int
}

func newLineBuffer(limit int) *lineBuffer {
	if limit <= 0 {
		limit = MaxLineLength
	}

	return &lineBuffer{limit: limit}
}

// feed appends raw bytes. It reports whether buffered garbage without a newline
// had to be dropped to stay within the limit.
func (b *lineBuffer) feed(p []byte) bool {
	b.pending = append(b.pending, p...)
	if bytes.IndexByte(b.pending, '\n') >= 0 || len(b.pending) <= b.limit*2 {
		return false
	}
	b.pending = b.pending[:0]

	return true
}

// next pops the next non-empty line.
func (b *lineBuffer) next() ([]byte, bool) {
	for {
		idx := bytes.IndexByte(b.pending, '\n')
		if idx < 0 {
			return nil, false
		}
		line := bytes.TrimRight(b.pending[:idx], "\r")
		out := append([]byte(nil), line...)
		b.pending = append(b.pending[:0], b.pending[idx+1:]...)
		if len(out) == 0 {
			continue
		}

		return out, true
	}
}
