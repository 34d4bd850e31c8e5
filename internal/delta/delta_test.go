package delta

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/Xiechengqi/sy/internal/checksum"
)

func blockChecksums(dest []byte, blockSize int) []Block {
	var blocks []Block
	for off := 0; off < len(dest); off += blockSize {
		end := off + blockSize
		if end > len(dest) {
			end = len(dest)
		}
		block := dest[off:end]
		weak, _, _ := checksum.Weak(block)
		blocks = append(blocks, Block{
			Offset: uint64(off),
			Size:   uint32(end - off),
			Weak:   weak,
			Strong: checksum.Strong(block),
		})
	}
	return blocks
}

func TestDeltaRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		dest, src []byte
		blockSize int
	}{
		{"identical", repeat("hello world ", 100), repeat("hello world ", 100), 16},
		{"insert-at-end", repeat("abcdefgh", 50), append(repeat("abcdefgh", 50), []byte("TAIL")...), 16},
		{"middle-changed", middleChanged(), middleChanged2(), 4096},
		{"empty-dest", nil, []byte("brand new content"), 16},
		{"empty-src", []byte("old content"), nil, 16},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blocks := blockChecksums(tc.dest, tc.blockSize)
			w := &sliceOpWriter{}
			if err := Compute(bytes.NewReader(tc.src), blocks, uint32(tc.blockSize), w); err != nil {
				t.Fatalf("Compute: %v", err)
			}
			got, err := Apply(bytes.NewReader(tc.dest), w.Ops)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if !bytes.Equal(got, tc.src) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(tc.src))
			}
		})
	}
}

func TestCoalesce(t *testing.T) {
	ops := []Op{
		{Kind: KindCopy, Offset: 0, Size: 10},
		{Kind: KindCopy, Offset: 10, Size: 10},
		{Kind: KindInsert, Data: []byte("ab")},
		{Kind: KindInsert, Data: []byte("cd")},
		{Kind: KindCopy, Offset: 100, Size: 5},
	}
	got := Coalesce(ops)
	if len(got) != 3 {
		t.Fatalf("expected 3 ops after coalescing, got %d: %+v", len(got), got)
	}
	if got[0].Size != 20 {
		t.Errorf("expected merged copy size 20, got %d", got[0].Size)
	}
	if string(got[1].Data) != "abcd" {
		t.Errorf("expected merged insert %q, got %q", "abcd", got[1].Data)
	}
}

func repeat(s string, n int) []byte {
	return bytes.Repeat([]byte(s), n)
}

func middleChanged() []byte {
	r := rand.New(rand.NewSource(1))
	buf := make([]byte, 256*1024)
	r.Read(buf)
	return buf
}

func middleChanged2() []byte {
	buf := append([]byte(nil), middleChanged()...)
	for i := 120 * 1024; i < 124*1024; i++ {
		buf[i] = byte(i)
	}
	return buf
}
