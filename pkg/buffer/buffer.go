// Package buffer provides the fixed-capacity ring buffer every connection
// slot uses to stage bytes between a socket and a parser.
package buffer

import "github.com/ardakaracam/dohproxy/pkg/proxyerr"

// Ring is a single-producer/single-consumer byte queue with the
// read_ptr/write_ptr/adv discipline: r and w only advance, and the holder
// must call Reset once the buffer is fully drained and w has reached cap.
// There is no wraparound — Ring is intentionally simple so that a parser can
// hold a stable pointer into it across calls.
type Ring struct {
	data []byte
	r    int
	w    int
}

// New allocates a Ring with the given fixed capacity.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring{data: make([]byte, capacity)}
}

// Reset rewinds both cursors to the start, discarding any unread data.
func (b *Ring) Reset() {
	b.r = 0
	b.w = 0
}

// Cap returns the buffer's fixed capacity.
func (b *Ring) Cap() int { return len(b.data) }

// CanRead reports whether there is unread data.
func (b *Ring) CanRead() bool { return b.r < b.w }

// CanWrite reports whether there is room to write without a Reset.
func (b *Ring) CanWrite() bool { return b.w < len(b.data) }

// ReadPtr returns a slice of the unread bytes. The slice aliases the
// buffer's storage and is only valid until the next Reset or write.
func (b *Ring) ReadPtr() []byte {
	return b.data[b.r:b.w]
}

// WritePtr returns a slice of the writable tail of the buffer, from the
// write cursor to capacity.
func (b *Ring) WritePtr() []byte {
	return b.data[b.w:]
}

// ReadAdv advances the read cursor by n bytes. n must not exceed the length
// of the slice most recently returned by ReadPtr.
func (b *Ring) ReadAdv(n int) error {
	if n < 0 || b.r+n > b.w {
		return proxyerr.New(proxyerr.TypeValidation, "ring.read_adv", "advance past write cursor", nil)
	}
	b.r += n
	return nil
}

// WriteAdv advances the write cursor by n bytes. n must not exceed the
// length of the slice most recently returned by WritePtr.
func (b *Ring) WriteAdv(n int) error {
	if n < 0 || b.w+n > len(b.data) {
		return proxyerr.New(proxyerr.TypeValidation, "ring.write_adv", "advance past capacity", nil)
	}
	b.w += n
	return nil
}

// ReadOne consumes and returns a single byte.
func (b *Ring) ReadOne() (byte, bool) {
	if !b.CanRead() {
		return 0, false
	}
	c := b.data[b.r]
	b.r++
	return c, true
}

// WriteOne appends a single byte if there is room.
func (b *Ring) WriteOne(c byte) bool {
	if !b.CanWrite() {
		return false
	}
	b.data[b.w] = c
	b.w++
	return true
}

// Write copies p into the writable tail of the buffer. It writes as many
// bytes as fit and returns that count; the caller must Reset and retry for
// the remainder once the buffer has been drained.
func (b *Ring) Write(p []byte) int {
	room := len(b.data) - b.w
	if room <= 0 {
		return 0
	}
	if len(p) > room {
		p = p[:room]
	}
	copy(b.data[b.w:], p)
	b.w += len(p)
	return len(p)
}

// Compact slides any unread bytes down to offset 0, reclaiming the space
// before the read cursor. Used when a buffer is full of unread data but the
// parser needs more room (e.g. a header line straddling a short read).
func (b *Ring) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.data, b.data[b.r:b.w])
	b.r = 0
	b.w = n
}
