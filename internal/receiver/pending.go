package receiver

import (
	"fmt"
	"os"
)

// tmpSuffix is the normative, spec-mandated suffix (spec §6): the only
// on-disk artifact this program ever leaves outside the synced tree.
const tmpSuffix = ".sy.tmp"

// PendingFile is the receiver-side in-progress write described in spec §3:
// an open handle to "<final>.sy.tmp", guarded so that if it is abandoned
// before a successful atomic rename -- an error, a dropped connection, a
// cancelled context -- the temp file does not survive it.
//
// This mirrors the teacher's own newPendingFile/CloseAtomicallyReplace/
// Cleanup shape (internal/receiver/receiver.go), implemented directly
// rather than through github.com/google/renameio/v2: that library's
// temp-file names carry an internal random suffix for concurrent-writer
// safety, which this protocol doesn't need (spec invariant 6: "at most one
// in-flight file per path") and which would violate the literal ".sy.tmp"
// artifact spec §6 names as normative. See DESIGN.md.
type PendingFile struct {
	final   string
	tmp     string
	f       *os.File
	armed   bool // true until the guard is defused by a successful rename
	written int64
}

// NewPendingFile creates final+".sy.tmp", truncating any stale leftover
// from a previous aborted run, and returns a PendingFile ready to receive
// writes. The guard starts armed: Cleanup will unlink the temp file unless
// Commit succeeds first. No finalizer is installed, so a PendingFile that is
// dropped without Cleanup or Commit leaves its temp file on disk; the
// Receiver calls Cleanup on error and from Abort.
func NewPendingFile(final string, mode os.FileMode) (*PendingFile, error) {
	tmp := final + tmpSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", tmp, err)
	}
	return &PendingFile{final: final, tmp: tmp, f: f, armed: true}, nil
}

// WriteAt writes b at a specific offset, used for raw (non-delta) Data
// messages (spec §4.4).
func (p *PendingFile) WriteAt(b []byte, offset int64) (int, error) {
	n, err := p.f.WriteAt(b, offset)
	if int64(offset)+int64(n) > p.written {
		p.written = offset + int64(n)
	}
	return n, err
}

// Append writes b at the current end of the temp file, used while
// replaying delta ops (spec §4.4: "append to the temp file").
func (p *PendingFile) Append(b []byte) (int, error) {
	n, err := p.f.WriteAt(b, p.written)
	p.written += int64(n)
	return n, err
}

// Written returns the number of bytes written to the pending file so far.
func (p *PendingFile) Written() int64 { return p.written }

// Commit flushes and fsyncs the temp file, then atomically renames it to
// its final name and defuses the guard (spec invariant 4). Called only
// after DataEnd(status=OK).
func (p *PendingFile) Commit() error {
	if err := p.f.Sync(); err != nil {
		p.f.Close()
		return fmt.Errorf("fsync %s: %w", p.tmp, err)
	}
	if err := p.f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", p.tmp, err)
	}
	if err := os.Rename(p.tmp, p.final); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", p.tmp, p.final, err)
	}
	p.armed = false
	return nil
}

// Cleanup unlinks the temp file if the guard is still armed (Commit was
// never called, or the caller is aborting after a per-file error). It is
// idempotent and safe to call after a successful Commit.
func (p *PendingFile) Cleanup() {
	if !p.armed {
		return
	}
	p.armed = false
	p.f.Close()
	os.Remove(p.tmp)
}
