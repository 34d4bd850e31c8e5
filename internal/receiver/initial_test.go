package receiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Xiechengqi/sy/internal/scan"
	"github.com/Xiechengqi/sy/internal/wire"
)

type collectEmitter struct {
	msgs []wire.Message
}

func (c *collectEmitter) Emit(ctx context.Context, m wire.Message) error {
	c.msgs = append(c.msgs, m)
	return nil
}

func TestScanDestinationAttachesChecksumsAboveThreshold(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 20000)
	for i := range big {
		big[i] = byte(i)
	}
	if err := os.WriteFile(filepath.Join(dir, "big.bin"), big, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "small.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := &collectEmitter{}
	w := scan.NewWalker(scan.Options{})
	if err := ScanDestination(context.Background(), w, dir, 4096, 1000, e); err != nil {
		t.Fatalf("ScanDestination: %v", err)
	}

	var sawEnd bool
	entriesByPath := map[string]wire.DestFileEntry{}
	for _, m := range e.msgs {
		switch v := m.(type) {
		case wire.DestFileEntry:
			entriesByPath[v.Path] = v
		case wire.DestFileEnd:
			sawEnd = true
		}
	}
	if !sawEnd {
		t.Fatal("expected a DestFileEnd message")
	}

	big1, ok := entriesByPath["big.bin"]
	if !ok {
		t.Fatal("missing DestFileEntry for big.bin")
	}
	if big1.Flags&wire.DestFlagHasChecksums == 0 {
		t.Error("expected big.bin to carry checksums")
	}
	wantBlocks := (len(big) + 4095) / 4096
	if len(big1.Checksums) != wantBlocks {
		t.Errorf("len(Checksums) = %d, want %d", len(big1.Checksums), wantBlocks)
	}

	small, ok := entriesByPath["small.txt"]
	if !ok {
		t.Fatal("missing DestFileEntry for small.txt")
	}
	if small.Flags&wire.DestFlagHasChecksums != 0 {
		t.Error("expected small.txt not to carry checksums")
	}
}
