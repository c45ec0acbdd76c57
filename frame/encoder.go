package frame

import (
	"errors"
	"fmt"

	"github.com/zanz1n/stunning-waffle/common"
)

const (
	// CR terminates the payload.
	CR byte = 0x0D
	// LF follows CR on the wire.
	LF byte = 0x0A
)

// Terminator is the two-byte sequence appended to every payload.
var Terminator = []byte{CR, LF}

var (
	// ErrFrameTooLarge means the serialized reading plus terminator does not fit the buffer.
	ErrFrameTooLarge = errors.New("frame exceeds encoder buffer")
	// ErrNonFinite means a channel holds NaN or an infinity.
	ErrNonFinite = errors.New("non-finite channel value")
)

// Encoder serializes readings into a single pre-allocated buffer. It
// never grows the buffer; a reading that does not fit is an error.
type Encoder struct {
	buf []byte
	n   int
}

// NewEncoder allocates the fixed frame buffer.
func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, capacity)}
}

// Cap returns the buffer capacity.
func (e *Encoder) Cap() int { return len(e.buf) }

// Encode writes serialize(r) ++ CR LF into the buffer and returns the
// frame. The returned slice aliases the buffer and is valid until the
// next Encode or Clear.
func (e *Encoder) Encode(r common.Reading) ([]byte, error) {
	for _, c := range r.Channels() {
		if !c.Value.IsFinite() {
			return nil, fmt.Errorf("%w: channel %q", ErrNonFinite, c.Name)
		}
	}

	payload, err := r.AppendJSON(e.buf[:0])
	if err != nil {
		return nil, fmt.Errorf("serialize reading: %w", err)
	}
	// AppendJSON reallocates once the payload outgrows the buffer.
	if len(payload)+len(Terminator) > len(e.buf) {
		return nil, fmt.Errorf("%w: payload %d bytes, capacity %d", ErrFrameTooLarge, len(payload), len(e.buf))
	}

	n := len(payload)
	e.buf[n] = CR
	e.buf[n+1] = LF
	e.n = n + len(Terminator)
	return e.buf[:e.n], nil
}

// Padded returns the whole buffer, frame followed by whatever the buffer
// holds after it (zeros once Clear has run).
func (e *Encoder) Padded() []byte { return e.buf }

// Clear zero-fills the buffer so a shorter next frame cannot leave stale
// trailing bytes behind.
func (e *Encoder) Clear() {
	clear(e.buf)
	e.n = 0
}
