// Package dstring provides a dynamically resizing byte buffer.
//
// It is a thin owned wrapper around a byte slice. Compared to bytes.Buffer it
// can be truncated and cleared without giving its storage back, and it can be
// cannibalized: ownership of the accumulated text is transferred out without
// copying, leaving the buffer empty.
package dstring

import "fmt"

// DyString is a growable byte buffer. The zero value is ready to use.
type DyString struct {
	buf []byte
}

// New returns a buffer with the given initial capacity. Zero gets you a
// reasonable default.
func New(initialSize int) *DyString {
	if initialSize <= 0 {
		initialSize = 512
	}
	return &DyString{buf: make([]byte, 0, initialSize)}
}

// Append adds bytes to the end of the buffer.
func (ds *DyString) Append(b []byte) {
	ds.buf = append(ds.buf, b...)
}

// AppendString adds a string to the end of the buffer.
func (ds *DyString) AppendString(s string) {
	ds.buf = append(ds.buf, s...)
}

// AppendByte adds a single byte to the end of the buffer.
func (ds *DyString) AppendByte(b byte) {
	ds.buf = append(ds.buf, b)
}

// Printf formats into the end of the buffer.
func (ds *DyString) Printf(format string, args ...any) {
	ds.buf = fmt.Appendf(ds.buf, format, args...)
}

// Bytes returns the current contents. The slice is only valid until the next
// mutating call.
func (ds *DyString) Bytes() []byte {
	return ds.buf
}

// String returns a copy of the current contents.
func (ds *DyString) String() string {
	return string(ds.buf)
}

// Len returns the number of bytes currently in the buffer.
func (ds *DyString) Len() int {
	return len(ds.buf)
}

// Clear empties the buffer but keeps its storage for reuse.
func (ds *DyString) Clear() {
	ds.buf = ds.buf[:0]
}

// Truncate drops all bytes after the first n. Truncating beyond the current
// length is a no-op.
func (ds *DyString) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(ds.buf) {
		ds.buf = ds.buf[:n]
	}
}

// Cannibalize returns the accumulated bytes and leaves the buffer empty. It
// does not copy; the buffer gives up its storage and the caller owns the
// returned slice.
func (ds *DyString) Cannibalize() []byte {
	b := ds.buf
	ds.buf = nil
	return b
}
