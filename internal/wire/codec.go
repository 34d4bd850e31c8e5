package wire

import (
	"encoding/binary"
)

// encoder builds a message payload. Every encoder method appends; Bytes
// returns the finished payload. Length is always known up front from the
// caller's perspective (Conn.WriteFrame takes the finished slice), so there
// is no need to pre-size here beyond normal append growth.
type encoder struct {
	buf []byte
}

func (e *encoder) u8(v byte)   { e.buf = append(e.buf, v) }
func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) i64(v int64) { e.u64(uint64(v)) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

// str writes len:u16 | utf8-bytes.
func (e *encoder) str(s string) {
	e.u16(uint16(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder reads a message payload, bounds-checking every field before
// advancing, so a truncated or crafted payload never reads past its end.
type decoder struct {
	b   []byte
	off int
	typ string // for error messages
}

func newDecoder(typ string, b []byte) *decoder {
	return &decoder{b: b, typ: typ}
}

func (d *decoder) need(n int) error {
	if d.off+n > len(d.b) {
		return fatalf(ErrTruncated, "%s: need %d bytes at offset %d, have %d", d.typ, n, d.off, len(d.b))
	}
	return nil
}

func (d *decoder) u8() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.b[d.off]
	d.off++
	return v, nil
}

func (d *decoder) u16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.b[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.b[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.b[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decoder) boolean() (bool, error) {
	v, err := d.u8()
	return v != 0, err
}

// str reads len:u16 | utf8-bytes, validating the length against the
// remaining buffer before slicing.
func (d *decoder) str() (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}
	if err := d.need(int(n)); err != nil {
		return "", err
	}
	s := string(d.b[d.off : d.off+int(n)])
	d.off += int(n)
	return s, nil
}

// bytesN reads exactly n raw bytes.
func (d *decoder) bytesN(n int) ([]byte, error) {
	if err := d.need(n); err != nil {
		return nil, err
	}
	v := d.b[d.off : d.off+n]
	d.off += n
	return v, nil
}

// remaining reports how many bytes are left unconsumed.
func (d *decoder) remaining() int { return len(d.b) - d.off }

func errUnknownType(t byte) error {
	return fatalf(ErrUnknownType, "unknown message type 0x%02x", t)
}
