package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// CountingReader wraps an io.Reader, tallying bytes read. It mirrors
// github.com/gokrazy/rsync/internal/rsyncwire.CountingReader. No caller in
// this module wraps a connection with it; the terminal Done summary's Bytes
// is counted by the Receiver from each committed file's written size.
type CountingReader struct {
	R     io.Reader
	Bytes int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.Bytes += int64(n)
	return n, err
}

// CountingWriter is CountingReader's write-side counterpart.
type CountingWriter struct {
	W     io.Writer
	Bytes int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.Bytes += int64(n)
	return n, err
}

// flusher is implemented by writers (e.g. *bufio.Writer) that buffer and
// need an explicit flush at protocol handoff points.
type flusher interface {
	Flush() error
}

// Conn is a framed duplex connection: Hello, FileEntry, Data, and so on are
// read and written as whole frames, never as raw bytes, by any caller
// outside this package.
type Conn struct {
	Reader io.Reader
	Writer io.Writer
}

// Flush flushes the underlying writer if it buffers, a no-op otherwise.
// Call at the handoff points named in spec §4.1: after the Hello response,
// after DestFileEnd, and before reading the peer's terminal Done.
func (c *Conn) Flush() error {
	if f, ok := c.Writer.(flusher); ok {
		return f.Flush()
	}
	return nil
}

// Frame is a decoded, not-yet-unmarshaled message: a type byte and its raw
// payload.
type Frame struct {
	Type    byte
	Payload []byte
}

// ReadFrame reads one frame, rejecting any length header above
// MaxFrameSize before allocating a payload buffer.
func (c *Conn) ReadFrame() (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.Reader, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return Frame{}, fatalf(ErrFrameTooLarge, "frame length %d exceeds max %d", length, MaxFrameSize)
	}

	var typeBuf [1]byte
	if _, err := io.ReadFull(c.Reader, typeBuf[:]); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(c.Reader, payload); err != nil {
			return Frame{}, fmt.Errorf("reading %s payload (%d bytes): %w", typeName(typeBuf[0]), length, err)
		}
	}
	return Frame{Type: typeBuf[0], Payload: payload}, nil
}

// WriteFrame writes a single prebuilt frame: the caller has already encoded
// payload, so length is known up front and no intermediate reallocation is
// needed.
func (c *Conn) WriteFrame(typ byte, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fatalf(ErrFrameTooLarge, "refusing to write %s frame of %d bytes", typeName(typ), len(payload))
	}
	buf := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	buf[4] = typ
	copy(buf[5:], payload)
	_, err := c.Writer.Write(buf)
	return err
}
