// ABOUTME: Fixed-capacity byte ring buffer between producer and render clock
// ABOUTME: Drops the newest excess bytes on overflow and never grows
package ring

import "errors"

// ErrInvalidCapacity is returned when a buffer is created with a non-positive capacity
var ErrInvalidCapacity = errors.New("ring buffer capacity must be positive")

// Buffer is a circular byte queue with a fixed capacity.
//
// Buffer is not safe for concurrent use. Callers that share it between the
// ingest and render paths hold their own lock around every call.
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
	count    int // valid bytes between readPos and writePos
}

// New creates a ring buffer holding at most capacity bytes
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Buffer{buf: make([]byte, capacity)}, nil
}

// Write appends as many bytes of p as fit and returns the number written.
// Bytes beyond the free space are discarded; buffered bytes are never overwritten.
func (b *Buffer) Write(p []byte) int {
	n := len(p)
	if free := len(b.buf) - b.count; n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	// Copy in at most two parts around the end of the backing slice
	first := copy(b.buf[b.writePos:], p[:n])
	if first < n {
		copy(b.buf, p[first:n])
	}

	b.writePos = (b.writePos + n) % len(b.buf)
	b.count += n
	return n
}

// Read copies up to len(p) of the oldest buffered bytes into p and returns
// the number copied. Reading an empty buffer returns 0 and changes nothing.
func (b *Buffer) Read(p []byte) int {
	n := len(p)
	if n > b.count {
		n = b.count
	}
	if n == 0 {
		return 0
	}

	first := copy(p[:n], b.buf[b.readPos:])
	if first < n {
		copy(p[first:n], b.buf)
	}

	b.readPos = (b.readPos + n) % len(b.buf)
	b.count -= n
	return n
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	return b.count
}

// Free returns the number of bytes that can be written before the buffer is full
func (b *Buffer) Free() int {
	return len(b.buf) - b.count
}

// Cap returns the fixed capacity in bytes
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Reset discards all buffered bytes while keeping the backing storage
func (b *Buffer) Reset() {
	b.readPos = 0
	b.writePos = 0
	b.count = 0
}
