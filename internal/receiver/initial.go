package receiver

import (
	"context"
	"fmt"
	"os"

	"github.com/Xiechengqi/sy/internal/checksum"
	"github.com/Xiechengqi/sy/internal/scan"
	"github.com/Xiechengqi/sy/internal/wire"
)

// Emitter writes an encoded wire.Message out. The session orchestrator
// wires this to a connEmitter that writes each message as one frame to
// the connection; tests can supply an in-memory collector.
type Emitter interface {
	Emit(ctx context.Context, m wire.Message) error
}

// ScanDestination walks root and streams one DestFileEntry per entry,
// followed by a single DestFileEnd, implementing the destination side of
// Initial Exchange (spec §4.1). Files at or above minChecksumSize get a
// full block-checksum table attached so the Generator can consider a delta
// transfer; smaller files and directories/symlinks do not.
//
// Batching DestFileEntry messages into ≥64KB writes before they hit the
// wire is the job of the Conn behind out (session.destBody gives it a
// 64 KiB bufio.Writer and flushes it after DestFileEnd), not this
// function's -- ScanDestination just emits one message per entry in
// stream order.
func ScanDestination(ctx context.Context, scanner scan.Scanner, root string, blockSize uint32, minChecksumSize uint64, out Emitter) error {
	entries, err := scanner.Scan(root)
	if err != nil {
		return fmt.Errorf("scanning destination %s: %w", root, err)
	}

	for _, e := range entries {
		entry := wire.DestFileEntry{
			Path:  e.Path,
			Size:  e.Size,
			Mtime: e.Mtime,
			Mode:  e.Mode,
		}
		if e.Kind == scan.KindDir {
			entry.Flags |= wire.DestFlagDir
		}

		if e.Kind == scan.KindFile && e.Size >= minChecksumSize {
			checksums, err := blockChecksums(root, e, blockSize)
			if err != nil {
				return fmt.Errorf("checksumming %s: %w", e.Path, err)
			}
			entry.Flags |= wire.DestFlagHasChecksums
			entry.BlockSize = blockSize
			entry.Checksums = checksums
		}

		if err := out.Emit(ctx, entry); err != nil {
			return err
		}
	}

	return out.Emit(ctx, wire.DestFileEnd{})
}

// blockChecksums computes the weak+strong checksum of every blockSize-sized
// (the last one possibly shorter) block of a destination file, in offset
// order, per spec §4.1's table built "offset: 0, blockSize, 2*blockSize...".
func blockChecksums(root string, e scan.Entry, blockSize uint32) ([]wire.BlockChecksum, error) {
	path := root + "/" + e.Path
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []wire.BlockChecksum
	buf := make([]byte, blockSize)
	var offset uint64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			block := buf[:n]
			weak, _, _ := checksum.Weak(block)
			strong := checksum.Strong(block)
			out = append(out, wire.BlockChecksum{Offset: offset, Weak: weak, Strong: strong})
			offset += uint64(n)
		}
		if err != nil {
			break
		}
	}
	return out, nil
}
