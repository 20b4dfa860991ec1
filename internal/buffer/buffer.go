// Package buffer implements the growable read/write byte buffer used by
// every connection's I/O path: a single backing array with independent
// read and write cursors, refilled with a bounded-syscall scatter read
// and drained with a single write.
package buffer

import (
	"errors"

	"golang.org/x/sys/unix"
)

// overflowSize is the size of the stack-resident scratch region used as
// the second slot of the scatter read in ReadFrom. A read that spills
// past the buffer's writable region lands here first and is appended
// afterwards, bounding the call to one syscall regardless of how much
// data the kernel has queued.
const overflowSize = 65535

// ErrWouldBlock is returned by ReadFrom/WriteTo when the underlying fd
// is non-blocking and has no data/space available. Callers re-arm the
// connection for the appropriate readiness direction instead of
// retrying inline.
var ErrWouldBlock = errors.New("buffer: would block")

// Buffer is a growable octet sequence with readPos <= writePos <= cap(buf).
// The readable region is buf[readPos:writePos]; the writable region is
// buf[writePos:]; the prependable region is buf[:readPos].
type Buffer struct {
	buf      []byte
	readPos  int
	writePos int
}

// New returns a Buffer with the given initial capacity.
func New(initialCap int) *Buffer {
	if initialCap <= 0 {
		initialCap = 1024
	}
	return &Buffer{buf: make([]byte, initialCap)}
}

// Readable reports the number of unread bytes.
func (b *Buffer) Readable() int { return b.writePos - b.readPos }

// Writable reports the number of bytes that can be appended without
// growing or compacting.
func (b *Buffer) Writable() int { return len(b.buf) - b.writePos }

// Prependable reports the bytes free before readPos.
func (b *Buffer) Prependable() int { return b.readPos }

// Peek returns the readable region without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.readPos:b.writePos] }

// Retrieve advances the read cursor by n, clamped to the readable region.
func (b *Buffer) Retrieve(n int) {
	if n > b.Readable() {
		n = b.Readable()
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.readPos = 0
		b.writePos = 0
	}
}

// RetrieveAll resets both cursors to zero and zeroes the backing array,
// matching the original's full-reset semantics.
func (b *Buffer) RetrieveAll() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.readPos = 0
	b.writePos = 0
}

// RetrieveAllToStr returns the readable region as a string and resets
// the buffer. The C++ original builds this string but never returns
// it — a bug flagged in the design notes; here the contract is fixed:
// callers get the string they asked for.
func (b *Buffer) RetrieveAllToStr() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// Append copies p onto the writable region, growing or compacting first
// if needed.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.EnsureWritable(len(p))
	copy(b.buf[b.writePos:], p)
	b.writePos += len(p)
}

// AppendString is Append for a string, avoiding a caller-side conversion.
func (b *Buffer) AppendString(s string) {
	b.Append([]byte(s))
}

// EnsureWritable guarantees Writable() >= n, either by compacting the
// readable region to offset 0 or, if that is insufficient, growing the
// backing array.
func (b *Buffer) EnsureWritable(n int) {
	if b.Writable() >= n {
		return
	}
	if b.Writable()+b.Prependable() < n {
		b.makeSpace(n)
		return
	}
	readable := b.Readable()
	copy(b.buf, b.buf[b.readPos:b.writePos])
	b.readPos = 0
	b.writePos = readable
}

func (b *Buffer) makeSpace(n int) {
	newCap := b.writePos + n + 1
	newBuf := make([]byte, newCap)
	copy(newBuf, b.buf[b.readPos:b.writePos])
	readable := b.Readable()
	b.buf = newBuf
	b.readPos = 0
	b.writePos = readable
}

// ReadFrom refills the buffer from fd using a two-slot scatter read: the
// first slot is the current writable region, the second is a bounded
// overflow scratch area. This keeps the per-call syscall count at one
// while still accepting arbitrarily large reads.
func (b *Buffer) ReadFrom(fd int) (int, error) {
	var overflow [overflowSize]byte
	b.EnsureWritable(1)
	iov := [][]byte{b.buf[b.writePos:], overflow[:]}
	n, err := unix.Readv(fd, iov)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	if n <= 0 {
		return n, nil
	}
	writable := b.Writable()
	if n <= writable {
		b.writePos += n
	} else {
		b.writePos += writable
		b.Append(overflow[:n-writable])
	}
	return n, nil
}

// WriteTo drains the readable region to fd with a single write syscall
// and advances the read cursor by the number of bytes actually written.
func (b *Buffer) WriteTo(fd int) (int, error) {
	if b.Readable() == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.Retrieve(n)
	}
	if err != nil {
		if err == unix.EAGAIN {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}
