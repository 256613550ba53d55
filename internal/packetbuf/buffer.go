// Package packetbuf implements the sliding window that sits between the
// input recording and the output file. Bytes enter at the end of the
// window, are examined and rewritten in place at the consume cursor, and
// leave through Flush once consumed. Refills shift the unwritten tail to the
// front so nothing is lost or written twice.
package packetbuf

import (
	"errors"
	"fmt"
	"io"
)

// unitSize is the transport stream packet length the buffer is sized for.
const unitSize = 188

// Default I/O sizes.
const (
	DefaultReadSize  = unitSize * 1024
	DefaultWriteSize = unitSize * 1024
	DefaultCapacity  = DefaultReadSize * 8
)

// Sentinel errors for buffer misuse.
var (
	ErrCapacity = errors.New("packetbuf: capacity too small")
	ErrBounds   = errors.New("packetbuf: access beyond valid data")
	ErrReleased = errors.New("packetbuf: buffer released")
)

// Options configures a Buffer. Zero fields take the defaults.
type Options struct {
	Capacity  int
	ReadSize  int
	WriteSize int
}

func (o Options) withDefaults() Options {
	if o.ReadSize <= 0 {
		o.ReadSize = DefaultReadSize
	}
	if o.WriteSize <= 0 {
		o.WriteSize = DefaultWriteSize
	}
	if o.Capacity <= 0 {
		o.Capacity = max(DefaultCapacity, o.WriteSize+3*unitSize)
	}
	return o
}

// Validate reports whether the options leave room for one write chunk of
// unflushed output plus the three-packet sync lookahead.
func (o Options) Validate() error {
	o = o.withDefaults()
	if need := o.WriteSize + 3*unitSize; o.Capacity < need {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrCapacity, o.Capacity, need)
	}
	return nil
}

// Buffer is a fixed-capacity window over an input reader and an output
// writer. The cursors satisfy 0 <= start <= pos <= end <= len(buf):
// [start,pos) is consumed but not yet written, [pos,end) is read but not
// yet consumed.
type Buffer struct {
	r io.Reader
	w io.Writer

	buf   []byte
	start int
	pos   int
	end   int
	eof   bool

	readSize  int
	writeSize int

	bytesRead    int64
	bytesWritten int64
}

// New allocates a Buffer reading from r and writing to w.
func New(r io.Reader, w io.Writer, opts Options) (*Buffer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	return &Buffer{
		r:         r,
		w:         w,
		buf:       make([]byte, opts.Capacity),
		readSize:  opts.ReadSize,
		writeSize: opts.WriteSize,
	}, nil
}

// Capacity returns the size of the backing region.
func (b *Buffer) Capacity() int { return len(b.buf) }

// Available returns the number of read bytes not yet consumed.
func (b *Buffer) Available() int { return b.end - b.pos }

// Pending returns the number of consumed bytes not yet written out.
func (b *Buffer) Pending() int { return b.pos - b.start }

// EOF reports whether the input has been exhausted.
func (b *Buffer) EOF() bool { return b.eof }

// BytesRead returns the total number of bytes read from the input.
func (b *Buffer) BytesRead() int64 { return b.bytesRead }

// BytesWritten returns the total number of bytes written to the output.
func (b *Buffer) BytesWritten() int64 { return b.bytesWritten }

// Window returns the n unconsumed bytes at the consume cursor. The slice
// aliases the buffer and is invalidated by Fill and Flush.
func (b *Buffer) Window(n int) ([]byte, error) {
	if n < 0 || n > b.Available() {
		return nil, fmt.Errorf("%w: window of %d, %d available", ErrBounds, n, b.Available())
	}
	return b.buf[b.pos : b.pos+n], nil
}

// At returns the unconsumed byte off bytes past the consume cursor.
func (b *Buffer) At(off int) (byte, bool) {
	if off < 0 || off >= b.Available() {
		return 0, false
	}
	return b.buf[b.pos+off], true
}

// Advance moves the consume cursor forward by n bytes. The bytes become
// pending output.
func (b *Buffer) Advance(n int) error {
	if n < 0 || n > b.Available() {
		return fmt.Errorf("%w: advance %d, %d available", ErrBounds, n, b.Available())
	}
	b.pos += n
	return nil
}

// Fill compacts the window and reads from the input until the buffer is
// full or the input ends. A short read marks the end of input.
func (b *Buffer) Fill() error {
	if b.buf == nil {
		return ErrReleased
	}
	b.compact()

	for !b.eof && b.end < len(b.buf) {
		n := min(b.readSize, len(b.buf)-b.end)
		got, err := io.ReadFull(b.r, b.buf[b.end:b.end+n])
		b.end += got
		b.bytesRead += int64(got)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				b.eof = true
				return nil
			}
			return fmt.Errorf("packetbuf: read: %w", err)
		}
	}
	return nil
}

// Flush writes consumed bytes to the output in write-size chunks. When
// final is set the remainder smaller than one chunk is written as well.
// The window is compacted afterwards.
func (b *Buffer) Flush(final bool) error {
	if b.buf == nil {
		return ErrReleased
	}
	for b.pos-b.start >= b.writeSize {
		if err := b.write(b.writeSize); err != nil {
			return err
		}
	}
	if final && b.pos > b.start {
		if err := b.write(b.pos - b.start); err != nil {
			return err
		}
	}
	b.compact()
	return nil
}

func (b *Buffer) write(n int) error {
	got, err := b.w.Write(b.buf[b.start : b.start+n])
	b.start += got
	b.bytesWritten += int64(got)
	if err != nil {
		return fmt.Errorf("packetbuf: write: %w", err)
	}
	if got < n {
		return fmt.Errorf("packetbuf: write: %w", io.ErrShortWrite)
	}
	return nil
}

// compact moves [start,end) to the front of the buffer.
func (b *Buffer) compact() {
	if b.start == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.start:b.end])
	b.pos -= b.start
	b.end = n
	b.start = 0
}

// Release wipes and drops the backing region. The Buffer cannot be used
// afterwards.
func (b *Buffer) Release() {
	clear(b.buf)
	b.buf = nil
	b.start, b.pos, b.end = 0, 0, 0
}
