package receiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Xiechengqi/sy/internal/delta"
	"github.com/Xiechengqi/sy/internal/wire"
)

func TestFileTransferCommitsAtomically(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	ctx := context.Background()

	if err := r.Handle(ctx, wire.FileEntry{Path: "a.txt", Size: 5, Mode: 0o644}); err != nil {
		t.Fatalf("FileEntry: %v", err)
	}
	if err := r.Handle(ctx, wire.Data{Path: "a.txt", Offset: 0, Data: []byte("hello")}); err != nil {
		t.Fatalf("Data: %v", err)
	}
	if err := r.Handle(ctx, wire.DataEnd{Path: "a.txt", Status: wire.StatusOK}); err != nil {
		t.Fatalf("DataEnd: %v", err)
	}

	final := filepath.Join(dir, "a.txt")
	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("reading final file: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("final content = %q, want %q", got, "hello")
	}
	if _, err := os.Stat(final + tmpSuffix); !os.IsNotExist(err) {
		t.Errorf("expected %s not to exist after commit, stat err = %v", final+tmpSuffix, err)
	}

	stats := r.Stats()
	if stats.FilesOK != 1 || stats.FilesFull != 1 || stats.Bytes != 5 {
		t.Errorf("stats = %+v, want FilesOK=1 FilesFull=1 Bytes=5", stats)
	}
}

func TestAbortedTransferLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	ctx := context.Background()

	if err := r.Handle(ctx, wire.FileEntry{Path: "a.txt", Size: 5, Mode: 0o644}); err != nil {
		t.Fatalf("FileEntry: %v", err)
	}
	if err := r.Handle(ctx, wire.Data{Path: "a.txt", Offset: 0, Data: []byte("hell")}); err != nil {
		t.Fatalf("Data: %v", err)
	}
	if err := r.Handle(ctx, wire.DataEnd{Path: "a.txt", Status: wire.StatusError}); err != nil {
		t.Fatalf("DataEnd: %v", err)
	}

	final := filepath.Join(dir, "a.txt")
	if _, err := os.Stat(final); !os.IsNotExist(err) {
		t.Errorf("expected no final file after an aborted transfer, stat err = %v", err)
	}
	if _, err := os.Stat(final + tmpSuffix); !os.IsNotExist(err) {
		t.Errorf("expected no leftover %s after an aborted transfer, stat err = %v", tmpSuffix, err)
	}
	if got := r.Stats().FilesErr; got != 1 {
		t.Errorf("FilesErr = %d, want 1", got)
	}
}

func TestAbortSweepsInProgressFiles(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	ctx := context.Background()

	if err := r.Handle(ctx, wire.FileEntry{Path: "a.txt", Size: 5, Mode: 0o644}); err != nil {
		t.Fatalf("FileEntry(a.txt): %v", err)
	}
	if err := r.Handle(ctx, wire.Data{Path: "a.txt", Offset: 0, Data: []byte("hell")}); err != nil {
		t.Fatalf("Data(a.txt): %v", err)
	}
	if err := r.Handle(ctx, wire.FileEntry{Path: "b.txt", Size: 3, Mode: 0o644}); err != nil {
		t.Fatalf("FileEntry(b.txt): %v", err)
	}

	// Simulate a dropped connection: neither file ever sees its DataEnd.
	r.Abort()

	for _, name := range []string{"a.txt", "b.txt"} {
		final := filepath.Join(dir, name)
		if _, err := os.Stat(final); !os.IsNotExist(err) {
			t.Errorf("%s: expected no final file after Abort, stat err = %v", name, err)
		}
		if _, err := os.Stat(final + tmpSuffix); !os.IsNotExist(err) {
			t.Errorf("%s: expected no leftover %s after Abort, stat err = %v", name, tmpSuffix, err)
		}
	}
}

func TestPathTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	ctx := context.Background()

	err := r.Handle(ctx, wire.FileEntry{Path: "../evil.txt", Size: 3, Mode: 0o644})
	if err == nil {
		t.Fatal("expected an error for a path-traversal FileEntry")
	}
	var pe *wire.ProtocolError
	if !asProtocolError(err, &pe) {
		t.Fatalf("expected *wire.ProtocolError, got %T: %v", err, err)
	}
	if pe.Code != wire.ErrPathTraversal {
		t.Errorf("Code = %d, want ErrPathTraversal", pe.Code)
	}

	escaped := filepath.Join(filepath.Dir(dir), "evil.txt")
	if _, err := os.Stat(escaped); !os.IsNotExist(err) {
		t.Errorf("expected nothing written outside root, stat err = %v", err)
	}
}

func TestDeltaTransferReplaysCopyAndInsert(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "big.bin")
	existing := []byte("AAAABBBBCCCCDDDD")
	if err := os.WriteFile(final, existing, 0o644); err != nil {
		t.Fatal(err)
	}

	r := New(dir, nil)
	ctx := context.Background()
	if err := r.Handle(ctx, wire.FileEntry{Path: "big.bin", Size: 16, Mode: 0o644}); err != nil {
		t.Fatalf("FileEntry: %v", err)
	}

	ops := []delta.Op{
		{Kind: delta.KindCopy, Offset: 0, Size: 4},  // "AAAA"
		{Kind: delta.KindInsert, Data: []byte("ZZZZ")},
		{Kind: delta.KindCopy, Offset: 8, Size: 8}, // "CCCCDDDD"
	}
	var payload []byte
	for _, op := range ops {
		payload = append(payload, delta.EncodeOp(op)...)
	}
	if err := r.Handle(ctx, wire.Data{Path: "big.bin", Flags: wire.DataFlagDelta, Data: payload}); err != nil {
		t.Fatalf("Data: %v", err)
	}
	if err := r.Handle(ctx, wire.DataEnd{Path: "big.bin", Status: wire.StatusOK}); err != nil {
		t.Fatalf("DataEnd: %v", err)
	}

	got, err := os.ReadFile(final)
	if err != nil {
		t.Fatal(err)
	}
	want := "AAAAZZZZCCCCDDDD"
	if string(got) != want {
		t.Errorf("reconstructed content = %q, want %q", got, want)
	}
	if stats := r.Stats(); stats.FilesDelta != 1 {
		t.Errorf("FilesDelta = %d, want 1", stats.FilesDelta)
	}
}

func TestHardlinkRelink(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	ctx := context.Background()

	if err := r.Handle(ctx, wire.FileEntry{Path: "first", Size: 5, Mode: 0o644}); err != nil {
		t.Fatalf("FileEntry(first): %v", err)
	}
	if err := r.Handle(ctx, wire.Data{Path: "first", Data: []byte("hello")}); err != nil {
		t.Fatalf("Data(first): %v", err)
	}
	if err := r.Handle(ctx, wire.DataEnd{Path: "first", Status: wire.StatusOK}); err != nil {
		t.Fatalf("DataEnd(first): %v", err)
	}

	if err := r.Handle(ctx, wire.FileEntry{Path: "second", Flags: wire.FileFlagHardlink, HardlinkTarget: "first"}); err != nil {
		t.Fatalf("FileEntry(second): %v", err)
	}
	if err := r.Handle(ctx, wire.DataEnd{Path: "second", Status: wire.StatusOK}); err != nil {
		t.Fatalf("DataEnd(second): %v", err)
	}

	fi1, err := os.Stat(filepath.Join(dir, "first"))
	if err != nil {
		t.Fatal(err)
	}
	fi2, err := os.Stat(filepath.Join(dir, "second"))
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(fi1, fi2) {
		t.Error("expected \"second\" to be hard-linked to \"first\"")
	}
}

func asProtocolError(err error, target **wire.ProtocolError) bool {
	pe, ok := err.(*wire.ProtocolError)
	if !ok {
		return false
	}
	*target = pe
	return true
}
