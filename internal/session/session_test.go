package session

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Xiechengqi/sy/internal/wire"
)

// TestDestBodyAbortsOnConnectionDrop drives destBody directly: the dest
// side completes Initial Exchange, opens a file, then the peer vanishes
// mid-transfer (no DataEnd ever arrives). destBody must sweep its
// in-progress file instead of leaving a ".sy.tmp" artifact behind (spec
// §8's atomicity property, §5's cancellation guarantee).
func TestDestBodyAbortsOnConnectionDrop(t *testing.T) {
	destDir := t.TempDir()
	c1, c2 := net.Pipe()
	defer c1.Close()

	conn := &wire.Conn{Reader: c1, Writer: c1}
	peer := &wire.Conn{Reader: c2, Writer: c2}

	peerDone := make(chan struct{})
	go func() {
		defer close(peerDone)
		for {
			m, err := peer.ReadMessage()
			if err != nil {
				return
			}
			if _, ok := m.(wire.DestFileEnd); ok {
				break
			}
		}
		if err := peer.WriteMessage(wire.FileEntry{Path: "a.txt", Size: 5, Mode: 0o644}); err != nil {
			return
		}
		if err := peer.WriteMessage(wire.Data{Path: "a.txt", Offset: 0, Data: []byte("hell")}); err != nil {
			return
		}
		c2.Close() // drop the connection before DataEnd ever arrives
	}()

	opts := Options{Root: destDir}.withDefaults()
	_, err := destBody(context.Background(), conn, opts, nil)
	<-peerDone
	if err == nil {
		t.Fatal("expected destBody to return an error when the connection drops mid-transfer")
	}

	if _, statErr := os.Stat(filepath.Join(destDir, "a.txt")); !os.IsNotExist(statErr) {
		t.Errorf("expected no final a.txt after a dropped connection, stat err = %v", statErr)
	}
	leftover, globErr := filepath.Glob(filepath.Join(destDir, "*.sy.tmp"))
	if globErr != nil {
		t.Fatal(globErr)
	}
	if len(leftover) != 0 {
		t.Errorf("expected no leftover .sy.tmp files, found %v", leftover)
	}
}

func runPair(t *testing.T, srcRoot, destRoot string, opts Options) (wire.Done, wire.Done) {
	t.Helper()
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	srcConn := &wire.Conn{Reader: c1, Writer: c1}
	destConn := &wire.Conn{Reader: c2, Writer: c2}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		done wire.Done
		err  error
	}
	srcCh := make(chan result, 1)
	destCh := make(chan result, 1)

	srcOpts := opts
	srcOpts.Root = srcRoot
	destOpts := opts
	destOpts.Root = destRoot

	go func() {
		d, err := Run(ctx, srcConn, SideClient, RoleSource, srcOpts, nil)
		srcCh <- result{d, err}
	}()
	go func() {
		d, err := Run(ctx, destConn, SideServer, RoleDest, destOpts, nil)
		destCh <- result{d, err}
	}()

	srcRes := <-srcCh
	destRes := <-destCh
	if srcRes.err != nil {
		t.Fatalf("source side: %v", srcRes.err)
	}
	if destRes.err != nil {
		t.Fatalf("dest side: %v", destRes.err)
	}
	return srcRes.done, destRes.done
}

func TestFreshTransferOfTwoFiles(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "b.txt"), []byte("world"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, destDone := runPair(t, src, dest, Options{})

	if destDone.FilesOK != 2 {
		t.Errorf("FilesOK = %d, want 2", destDone.FilesOK)
	}
	if destDone.FilesFull != 2 {
		t.Errorf("FilesFull = %d, want 2", destDone.FilesFull)
	}

	gotA, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	if err != nil || string(gotA) != "hello" {
		t.Errorf("a.txt = %q, %v, want %q", gotA, err, "hello")
	}
	gotB, err := os.ReadFile(filepath.Join(dest, "b.txt"))
	if err != nil || string(gotB) != "world" {
		t.Errorf("b.txt = %q, %v, want %q", gotB, err, "world")
	}
}

func TestUnchangedFileIsSkipped(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	content := []byte("stable")
	srcPath := filepath.Join(src, "a.txt")
	destPath := filepath.Join(dest, "a.txt")
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(destPath, content, 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-time.Hour)
	if err := os.Chtimes(srcPath, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(destPath, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	srcDone, destDone := runPair(t, src, dest, Options{})

	if srcDone.FilesSkipped != 1 {
		t.Errorf("source FilesSkipped = %d, want 1", srcDone.FilesSkipped)
	}
	if destDone.FilesOK != 0 {
		t.Errorf("dest FilesOK = %d, want 0 (file should have been skipped)", destDone.FilesOK)
	}
}

func TestDeleteEnabledRemovesStaleDestFile(t *testing.T) {
	src := t.TempDir()
	dest := t.TempDir()
	if err := os.WriteFile(filepath.Join(dest, "stale.txt"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	runPair(t, src, dest, Options{DeleteEnabled: true})

	if _, err := os.Stat(filepath.Join(dest, "stale.txt")); !os.IsNotExist(err) {
		t.Errorf("expected stale.txt to be deleted, stat err = %v", err)
	}
}
