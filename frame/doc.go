// Package frame implements the wire framing of the thermometer link.
//
// A frame is a JSON object followed by CR LF:
//
//	{"Temperature 1":482}\r\n
//
// The producer side builds frames with an Encoder backed by a fixed
// buffer. The consumer side either applies ExtractLast to a whole reused
// read buffer, or feeds read chunks to a Scanner which splits on the
// first terminator and keeps the remainder for the next read.
package frame
