// Package checksum implements the two checksums the delta engine is built
// on: a weak, O(1)-updatable rolling checksum (the rsync-class adler-style
// window sum) and a strong, collision-resistant checksum used to confirm a
// weak hit.
//
// The strong checksum is 64 bits wide per spec §3 ("strong checksum
// (u64)"), so it is built on xxhash64 rather than the teacher's whole-file
// MD4 (a 128-bit digest used there for a different purpose, see
// DESIGN.md).
package checksum

import "github.com/cespare/xxhash/v2"

// charOffset matches rsync's own rolling checksum constant: a per-byte bias
// added before summing, which avoids the all-zero blocks family of weak
// collisions that a plain sum would have.
const charOffset = 31

// Weak computes the rolling checksum of a single block from scratch. It
// returns the two half-sums packed as (a, b) along with the combined
// uint32, since Roll needs both halves to slide the window by one byte.
func Weak(block []byte) (sum uint32, a, b uint32) {
	var s1, s2 uint32
	n := uint32(len(block))
	for i, c := range block {
		s1 += uint32(c) + charOffset
		s2 += (n - uint32(i)) * (uint32(c) + charOffset)
	}
	return s1&0xffff | (s2 << 16), s1, s2
}

// Roller maintains a rolling checksum over a sliding window of fixed size,
// updated in O(1) per byte as the window advances one byte at a time
// (spec §4.5 step 2).
type Roller struct {
	blockSize int
	s1, s2    uint32
}

// NewRoller seeds a Roller from the initial window's bytes.
func NewRoller(initial []byte) *Roller {
	_, a, b := Weak(initial)
	return &Roller{blockSize: len(initial), s1: a, s2: b}
}

// Sum returns the current combined weak checksum.
func (r *Roller) Sum() uint32 {
	return r.s1&0xffff | (r.s2 << 16)
}

// Roll advances the window by one byte: out leaves the window, in enters
// it. Both s1 and s2 are updated in constant time.
func (r *Roller) Roll(out, in byte) {
	n := uint32(r.blockSize)
	r.s1 = r.s1 - (uint32(out) + charOffset) + (uint32(in) + charOffset)
	r.s2 = r.s2 - n*(uint32(out)+charOffset) + r.s1
}

// Strong computes the 64-bit strong checksum of block.
func Strong(block []byte) uint64 {
	return xxhash.Sum64(block)
}
