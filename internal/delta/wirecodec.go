package delta

import (
	"encoding/binary"
	"fmt"

	"github.com/Xiechengqi/sy/internal/wire"
)

// Wire tags for one opcode inside a delta Data payload (spec §4.3):
// 0x00 | offset:u64 | size:u32 for Copy; 0x01 | size:u32 | bytes for
// Insert.
const (
	opTagCopy   byte = 0x00
	opTagInsert byte = 0x01
)

// MaxOpSize bounds a single Copy's size or a single Insert's literal
// length, independent of the frame that carries it (spec §4.4's per-opcode
// bounds check, same cap as wire.MaxOpaqueSize).
const MaxOpSize = wire.MaxOpaqueSize

// EncodeOp returns the wire form of a single op.
func EncodeOp(op Op) []byte {
	switch op.Kind {
	case KindCopy:
		b := make([]byte, 1+8+4)
		b[0] = opTagCopy
		binary.BigEndian.PutUint64(b[1:9], op.Offset)
		binary.BigEndian.PutUint32(b[9:13], op.Size)
		return b
	default: // KindInsert
		b := make([]byte, 1+4+len(op.Data))
		b[0] = opTagInsert
		binary.BigEndian.PutUint32(b[1:5], uint32(len(op.Data)))
		copy(b[5:], op.Data)
		return b
	}
}

// OpDecoder reads a sequence of ops out of one or more concatenated delta
// Data payloads, bounds-checking every field the way internal/wire does
// for frame-level fields.
type OpDecoder struct {
	buf []byte
	off int
}

// NewOpDecoder returns an empty decoder. Feed it each delta Data message's
// Data field with Append as the messages for one file arrive.
func NewOpDecoder() *OpDecoder { return &OpDecoder{} }

// Append adds another payload's worth of bytes to decode, used when a
// single file's delta stream spans multiple Data frames.
func (d *OpDecoder) Append(b []byte) {
	d.buf = append(d.buf[d.off:], b...)
	d.off = 0
}

// Next decodes one Op, or returns (Op{}, false, nil) if the buffer is
// exhausted (a clean boundary, not an error -- more bytes may arrive in a
// subsequent Data frame).
func (d *OpDecoder) Next() (Op, bool, error) {
	if d.off >= len(d.buf) {
		return Op{}, false, nil
	}
	tag := d.buf[d.off]
	switch tag {
	case opTagCopy:
		if d.off+1+8+4 > len(d.buf) {
			return Op{}, false, nil // wait for more bytes
		}
		offset := binary.BigEndian.Uint64(d.buf[d.off+1 : d.off+9])
		size := binary.BigEndian.Uint32(d.buf[d.off+9 : d.off+13])
		if size > MaxOpSize {
			return Op{}, false, fmt.Errorf("delta: Copy size %d exceeds max %d", size, MaxOpSize)
		}
		d.off += 1 + 8 + 4
		return Op{Kind: KindCopy, Offset: offset, Size: size}, true, nil
	case opTagInsert:
		if d.off+1+4 > len(d.buf) {
			return Op{}, false, nil
		}
		size := binary.BigEndian.Uint32(d.buf[d.off+1 : d.off+5])
		if size > MaxOpSize {
			return Op{}, false, fmt.Errorf("delta: Insert size %d exceeds max %d", size, MaxOpSize)
		}
		if d.off+1+4+int(size) > len(d.buf) {
			return Op{}, false, nil
		}
		data := d.buf[d.off+5 : d.off+5+int(size)]
		d.off += 1 + 4 + int(size)
		return Op{Kind: KindInsert, Data: data}, true, nil
	default:
		return Op{}, false, fmt.Errorf("delta: unknown opcode tag 0x%02x", tag)
	}
}
