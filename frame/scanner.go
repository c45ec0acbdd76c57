package frame

import "bytes"

// DefaultMaxFrame bounds the pending bytes a Scanner keeps without seeing a terminator.
const DefaultMaxFrame = 1024

// Scanner splits a byte stream into frames. Read chunks are appended to
// a work buffer; Next returns everything before the first CR and keeps
// the unconsumed remainder for later chunks.
type Scanner struct {
	buf       []byte
	maxFrame  int
	overflows int
}

// NewScanner returns a Scanner that discards pending data growing past maxFrame.
func NewScanner(maxFrame int) *Scanner {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Scanner{maxFrame: maxFrame}
}

// Feed appends a chunk read from the link.
func (s *Scanner) Feed(chunk []byte) {
	s.buf = append(s.buf, chunk...)
	s.skipPadding()
	if bytes.IndexByte(s.buf, CR) < 0 && len(s.buf) > s.maxFrame {
		s.overflows++
		s.buf = s.buf[:0]
	}
}

// Next returns the next complete frame payload. The slice is a copy and
// stays valid after further Feed calls.
func (s *Scanner) Next() ([]byte, bool) {
	s.skipPadding()
	idx := bytes.IndexByte(s.buf, CR)
	if idx < 0 {
		return nil, false
	}

	payload := make([]byte, idx)
	copy(payload, s.buf[:idx])

	rest := s.buf[idx+1:]
	if len(rest) > 0 && rest[0] == LF {
		rest = rest[1:]
	}
	s.buf = append(s.buf[:0], rest...)
	return payload, true
}

// Pending returns the number of buffered bytes not yet returned as a frame.
func (s *Scanner) Pending() int { return len(s.buf) }

// Overflows returns how many times pending data was dropped for exceeding the limit.
func (s *Scanner) Overflows() int { return s.overflows }

// Reset drops any pending bytes.
func (s *Scanner) Reset() { s.buf = s.buf[:0] }

// skipPadding drops NUL fill and stray LF bytes before the next payload.
// The firmware writes its whole zero-padded buffer after each frame.
func (s *Scanner) skipPadding() {
	i := 0
	for i < len(s.buf) && (s.buf[i] == 0 || s.buf[i] == LF) {
		i++
	}
	if i > 0 {
		s.buf = append(s.buf[:0], s.buf[i:]...)
	}
}
