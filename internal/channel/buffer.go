package channel

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
)

// ErrOverflow is returned by Buffer.Append when the accumulated input grows
// past the overflow threshold. The buffer is empty afterwards.
var ErrOverflow = stderrors.New("assembly buffer overflow")

// Buffer accumulates inbound chunks until they form one JSON value. It never
// holds more than threshold bytes: Append clears it instead.
type Buffer struct {
	data      []byte
	threshold int
}

// NewBuffer allocates a buffer of the given capacity that discards its
// contents once they exceed threshold bytes.
func NewBuffer(capacity, threshold int) *Buffer {
	if threshold > capacity {
		threshold = capacity
	}
	return &Buffer{
		data:      make([]byte, 0, capacity),
		threshold: threshold,
	}
}

// Append adds chunk to the buffer. If the result would exceed the threshold
// the buffer is cleared and ErrOverflow returned.
func (b *Buffer) Append(chunk []byte) error {
	if len(b.data)+len(chunk) > b.threshold {
		b.Reset()
		return ErrOverflow
	}
	b.data = append(b.data, chunk...)
	return nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Reset discards all buffered bytes.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// Bytes returns the buffered bytes. The slice is only valid until the next
// Append or Reset.
func (b *Buffer) Bytes() []byte { return b.data }

// parseState is the outcome of one parse attempt over the whole buffer.
type parseState int

const (
	parseIncomplete parseState = iota
	parseComplete
	parseMalformed
)

// Next attempts to read one JSON value from the start of the buffer. On
// parseComplete the value is returned as a copy and the entire buffer is
// cleared, including any bytes after the value. On parseMalformed the
// buffer is cleared. On parseIncomplete the buffer is left as is.
func (b *Buffer) Next() (json.RawMessage, parseState, error) {
	if len(bytes.TrimSpace(b.data)) == 0 {
		return nil, parseIncomplete, nil
	}

	var value json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(b.data))
	err := dec.Decode(&value)
	switch {
	case err == nil:
		out := make(json.RawMessage, len(value))
		copy(out, value)
		b.Reset()
		return out, parseComplete, nil
	case stderrors.Is(err, io.ErrUnexpectedEOF), stderrors.Is(err, io.EOF):
		return nil, parseIncomplete, nil
	default:
		b.Reset()
		return nil, parseMalformed, err
	}
}
