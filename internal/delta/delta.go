// Package delta implements the rsync-class delta engine described in spec
// §4.5: given a source file and the destination's block-checksum table, it
// produces an ordered stream of Copy/Insert operations that reconstruct the
// source byte-for-byte when applied against the destination.
package delta

import (
	"bufio"
	"io"

	"github.com/Xiechengqi/sy/internal/checksum"
)

// Op is one delta operation: either Copy (reuse destination bytes) or
// Insert (literal bytes transmitted from the source).
type Op struct {
	Kind   Kind
	Offset uint64 // meaningful for Copy
	Size   uint32 // meaningful for Copy
	Data   []byte // meaningful for Insert
}

type Kind byte

const (
	KindCopy Kind = iota
	KindInsert
)

// Block is the engine-internal form of a destination block checksum,
// carrying the block's actual size -- the last block in a file is
// typically shorter than BlockSize (spec §4.3's "translate the received
// BlockChecksum table into an engine-internal form that records the actual
// size of each block").
type Block struct {
	Offset uint64
	Size   uint32
	Weak   uint32
	Strong uint64
}

// BlocksFromSizes builds the engine-internal Block list from a destination
// file's size and a block size, assuming contiguous blocks (the wire
// invariant DestFileEntry already guarantees). weak/strong are supplied
// per-index, as decoded off the wire.
func BlocksFromSizes(destSize uint64, blockSize uint32, weak []uint32, strong []uint64) []Block {
	count := len(weak)
	blocks := make([]Block, count)
	for i := 0; i < count; i++ {
		offset := uint64(i) * uint64(blockSize)
		size := blockSize
		if remaining := destSize - offset; remaining < uint64(blockSize) {
			size = uint32(remaining)
		}
		blocks[i] = Block{Offset: offset, Size: size, Weak: weak[i], Strong: strong[i]}
	}
	return blocks
}

// index is a hash table from weak checksum to candidate blocks sharing that
// weak sum, per spec §4.5 step 1.
type index struct {
	table map[uint32][]Block
}

func buildIndex(blocks []Block) *index {
	idx := &index{table: make(map[uint32][]Block, len(blocks))}
	for _, b := range blocks {
		idx.table[b.Weak] = append(idx.table[b.Weak], b)
	}
	return idx
}

func (idx *index) candidates(weak uint32) []Block {
	return idx.table[weak]
}

// OpWriter receives Ops as the engine produces them, so a caller (the
// Sender) can start transmitting before the scan finishes -- the engine
// itself is a push producer rather than a buffered slice-builder, matching
// spec §4.5's "streaming iterator."
type OpWriter interface {
	WriteOp(Op) error
}

// Compute scans src against blocks (the destination's block-checksum
// table) and pushes the resulting Copy/Insert operations to out, in order.
// blockSize must match the size blocks were built with.
func Compute(src io.Reader, blocks []Block, blockSize uint32, out OpWriter) error {
	idx := buildIndex(blocks)
	br := bufio.NewReaderSize(src, 1<<20)

	window := make([]byte, 0, blockSize)
	var pending []byte // literal bytes not yet matched, flushed as Insert
	var roller *checksum.Roller

	flushPending := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := out.WriteOp(Op{Kind: KindInsert, Data: pending}); err != nil {
			return err
		}
		pending = nil
		return nil
	}

	emitCopy := func(b Block) error {
		if err := flushPending(); err != nil {
			return err
		}
		return out.WriteOp(Op{Kind: KindCopy, Offset: b.Offset, Size: b.Size})
	}

	// refill tops window back up to blockSize bytes (or EOF), used both
	// for the initial fill and after a Copy match jumps the cursor
	// forward by the matched block's size.
	refill := func() error {
		window = window[:0]
		buf := make([]byte, blockSize)
		n, err := io.ReadFull(br, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return err
		}
		window = append(window, buf[:n]...)
		return nil
	}

	if err := refill(); err != nil {
		return err
	}
	if len(window) > 0 {
		roller = checksum.NewRoller(window)
	}

	for len(window) > 0 {
		matched, err := tryMatch(window, roller.Sum(), idx)
		if err != nil {
			return err
		}
		if matched != nil {
			if err := emitCopy(*matched); err != nil {
				return err
			}
			if err := refill(); err != nil {
				return err
			}
			if len(window) == 0 {
				break
			}
			roller = checksum.NewRoller(window)
			continue
		}

		// No match: the byte at the window's head joins the pending
		// literal, and the window advances by one byte.
		pending = append(pending, window[0])
		if len(pending) >= MaxOpSize {
			if err := flushPending(); err != nil {
				return err
			}
		}
		next := make([]byte, 1)
		n, err := br.Read(next)
		if err != nil && err != io.EOF {
			return err
		}
		if n == 0 {
			// EOF: drain the rest of the window as literal bytes too.
			if len(pending)+len(window)-1 > MaxOpSize {
				if err := flushPending(); err != nil {
					return err
				}
			}
			pending = append(pending, window[1:]...)
			window = nil
			break
		}
		roller.Roll(window[0], next[0])
		window = append(window[1:], next[0])
	}

	return flushPending()
}

func tryMatch(window []byte, weak uint32, idx *index) (*Block, error) {
	cands := idx.candidates(weak)
	if len(cands) == 0 {
		return nil, nil
	}
	strong := checksum.Strong(window)
	for i := range cands {
		if cands[i].Strong == strong && int(cands[i].Size) == len(window) {
			b := cands[i]
			return &b, nil
		}
	}
	return nil, nil
}

// Coalesce merges consecutive Copy ops referring to contiguous destination
// offsets, and merges consecutive Insert ops, per spec §4.5. It is applied
// as a post-processing pass on a fully materialized op slice; streaming
// callers (the Sender) that want coalescing without buffering the whole
// stream should use CoalescingWriter instead.
func Coalesce(ops []Op) []Op {
	if len(ops) == 0 {
		return ops
	}
	out := make([]Op, 0, len(ops))
	for _, op := range ops {
		if len(out) == 0 {
			out = append(out, op)
			continue
		}
		last := &out[len(out)-1]
		switch op.Kind {
		case KindCopy:
			if last.Kind == KindCopy && last.Offset+uint64(last.Size) == op.Offset {
				last.Size += op.Size
				continue
			}
		case KindInsert:
			if last.Kind == KindInsert {
				last.Data = append(last.Data, op.Data...)
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

// CoalescingWriter wraps an OpWriter, merging adjacent compatible ops
// before forwarding them, without buffering the entire stream: at most one
// pending op is held back waiting to see whether the next op merges with
// it. A merge that would grow an op past MaxOpSize is not made.
type CoalescingWriter struct {
	Next    OpWriter
	pending *Op
}

func (c *CoalescingWriter) WriteOp(op Op) error {
	if c.pending == nil {
		c.pending = &op
		return nil
	}
	switch op.Kind {
	case KindCopy:
		if c.pending.Kind == KindCopy && c.pending.Offset+uint64(c.pending.Size) == op.Offset &&
			uint64(c.pending.Size)+uint64(op.Size) <= MaxOpSize {
			c.pending.Size += op.Size
			return nil
		}
	case KindInsert:
		if c.pending.Kind == KindInsert && len(c.pending.Data)+len(op.Data) <= MaxOpSize {
			c.pending.Data = append(c.pending.Data, op.Data...)
			return nil
		}
	}
	if err := c.Next.WriteOp(*c.pending); err != nil {
		return err
	}
	c.pending = &op
	return nil
}

// Flush forwards any held-back op. Callers must call this once after the
// last WriteOp.
func (c *CoalescingWriter) Flush() error {
	if c.pending == nil {
		return nil
	}
	err := c.Next.WriteOp(*c.pending)
	c.pending = nil
	return err
}
