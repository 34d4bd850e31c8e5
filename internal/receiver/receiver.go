// Package receiver implements the Receiver task of spec §4.4: it applies
// the message stream a Sender produces, one relative path at a time, and is
// the only task that ever touches the destination filesystem during a
// transfer.
package receiver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Xiechengqi/sy/internal/compress"
	"github.com/Xiechengqi/sy/internal/delta"
	"github.com/Xiechengqi/sy/internal/pathsafety"
	"github.com/Xiechengqi/sy/internal/rsynclog"
	"github.com/Xiechengqi/sy/internal/wire"
)

// Stats accumulates the Receiver's view of a transfer. FilesSkipped is
// carried in from the wire.FileEnd message (SPEC_FULL §C): the Generator is
// the only task that knows the quick-check skip count, so it rides along
// on FileEnd for whichever side assembles the terminal Done message.
type Stats struct {
	FilesOK      uint32
	FilesErr     uint32
	Bytes        uint64
	FilesFull    uint32
	FilesDelta   uint32
	FilesSkipped uint32
}

// Done returns the terminal summary message for this transfer.
func (r *Receiver) Done() wire.Done {
	return wire.Done{
		FilesOK:      r.stats.FilesOK,
		FilesErr:     r.stats.FilesErr,
		Bytes:        r.stats.Bytes,
		FilesSkipped: r.stats.FilesSkipped,
		FilesFull:    r.stats.FilesFull,
		FilesDelta:   r.stats.FilesDelta,
	}
}

// fileState tracks one path between its FileEntry and its DataEnd.
type fileState struct {
	path  string
	final string

	pending *PendingFile // nil for a hardlink re-link (no data transfer)
	isDelta bool
	ops     *delta.OpDecoder
	destF   *os.File // pre-existing destination file, opened lazily for delta Copy ops

	hardlinkSource string // non-empty iff this entry re-links a completed path
}

// Receiver applies one transfer's worth of wire messages against Root.
type Receiver struct {
	Root   string
	Logger rsynclog.Logger

	inProgress map[string]*fileState
	completed  map[string]string // path -> absolute final path, for hardlink re-linking

	stats Stats
}

// New returns a Receiver rooted at root. logger may be nil.
func New(root string, logger rsynclog.Logger) *Receiver {
	if logger == nil {
		logger = rsynclog.Discard
	}
	return &Receiver{
		Root:       root,
		Logger:     logger,
		inProgress: make(map[string]*fileState),
		completed:  make(map[string]string),
	}
}

// Stats returns a snapshot of the Receiver's accounting so far.
func (r *Receiver) Stats() Stats { return r.stats }

// Abort sweeps every path still mid-transfer and releases its guard,
// unlinking any ".sy.tmp" artifact: the dest-side counterpart to a
// dropped connection or a hard protocol error, called where a transfer
// ends without every FileEntry reaching its DataEnd (spec §5, §8).
func (r *Receiver) Abort() {
	for path, st := range r.inProgress {
		if st.destF != nil {
			st.destF.Close()
		}
		if st.pending != nil {
			st.pending.Cleanup()
		}
		delete(r.inProgress, path)
	}
}

// Handle dispatches one decoded message to the matching handler. Only
// ProtocolError-class failures are returned; per-file I/O errors are
// recorded in Stats and logged instead of aborting the session (spec §4.4:
// "one file's failure doesn't abort the transfer").
func (r *Receiver) Handle(ctx context.Context, m wire.Message) error {
	switch v := m.(type) {
	case wire.FileEntry:
		return r.handleFileEntry(v)
	case wire.Data:
		return r.handleData(v)
	case wire.DataEnd:
		return r.handleDataEnd(v)
	case wire.Mkdir:
		return r.handleMkdir(v)
	case wire.Symlink:
		return r.handleSymlink(v)
	case wire.Delete:
		return r.handleDelete(v)
	case wire.FileEnd:
		r.stats.FilesSkipped = v.FilesSkipped
		return nil
	case wire.DeleteEnd:
		return nil // informational
	default:
		return &wire.ProtocolError{Code: wire.ErrProtocol, Message: fmt.Sprintf("receiver: unexpected message %T during transfer", m)}
	}
}

func (r *Receiver) handleFileEntry(m wire.FileEntry) error {
	if err := pathsafety.Validate(m.Path); err != nil {
		return err
	}
	final, err := pathsafety.Join(r.Root, m.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("receiver: mkdir parent of %s: %w", final, err)
	}

	st := &fileState{path: m.Path, final: final}

	if m.Flags&wire.FileFlagHardlink != 0 {
		src, ok := r.completed[m.HardlinkTarget]
		if !ok {
			return &wire.ProtocolError{Code: wire.ErrProtocol,
				Message: fmt.Sprintf("FileEntry %q: hardlink target %q has not completed", m.Path, m.HardlinkTarget)}
		}
		st.hardlinkSource = src
		r.inProgress[m.Path] = st
		return nil // no Data follows; DataEnd performs the re-link
	}

	pf, err := NewPendingFile(final, os.FileMode(m.Mode))
	if err != nil {
		return fmt.Errorf("receiver: %w", err)
	}
	st.pending = pf
	r.inProgress[m.Path] = st
	return nil
}

func (r *Receiver) handleData(m wire.Data) error {
	st, ok := r.inProgress[m.Path]
	if !ok {
		return &wire.ProtocolError{Code: wire.ErrProtocol, Message: fmt.Sprintf("Data for %q with no open FileEntry", m.Path)}
	}
	if st.hardlinkSource != "" {
		return &wire.ProtocolError{Code: wire.ErrProtocol, Message: fmt.Sprintf("Data for %q: a hardlink re-link carries no data", m.Path)}
	}

	payload := m.Data
	if m.Flags&wire.DataFlagCompressed != 0 {
		decompressed, err := compress.Decompress(payload)
		if err != nil {
			return fmt.Errorf("receiver: decompressing %s: %w", m.Path, err)
		}
		payload = decompressed
	}

	if m.Flags&wire.DataFlagDelta == 0 {
		_, err := st.pending.WriteAt(payload, int64(m.Offset))
		if err != nil {
			return fmt.Errorf("receiver: writing %s: %w", m.Path, err)
		}
		return nil
	}

	st.isDelta = true
	if st.ops == nil {
		st.ops = delta.NewOpDecoder()
	}
	if st.destF == nil {
		f, err := os.Open(st.final)
		if err != nil {
			return &wire.ProtocolError{Code: wire.ErrProtocol,
				Message: fmt.Sprintf("delta Data for %q: no existing destination file to copy from: %v", m.Path, err)}
		}
		st.destF = f
	}
	st.ops.Append(payload)
	for {
		op, ok, err := st.ops.Next()
		if err != nil {
			return fmt.Errorf("receiver: decoding delta ops for %s: %w", m.Path, err)
		}
		if !ok {
			return nil
		}
		switch op.Kind {
		case delta.KindCopy:
			buf := make([]byte, op.Size)
			if _, err := st.destF.ReadAt(buf, int64(op.Offset)); err != nil {
				return fmt.Errorf("receiver: replaying Copy for %s: %w", m.Path, err)
			}
			if _, err := st.pending.Append(buf); err != nil {
				return fmt.Errorf("receiver: appending to %s: %w", m.Path, err)
			}
		case delta.KindInsert:
			if _, err := st.pending.Append(op.Data); err != nil {
				return fmt.Errorf("receiver: appending to %s: %w", m.Path, err)
			}
		}
	}
}

func (r *Receiver) handleDataEnd(m wire.DataEnd) error {
	st, ok := r.inProgress[m.Path]
	if !ok {
		return &wire.ProtocolError{Code: wire.ErrProtocol, Message: fmt.Sprintf("DataEnd for %q with no open FileEntry", m.Path)}
	}
	delete(r.inProgress, m.Path)

	if st.hardlinkSource != "" {
		if m.Status != wire.StatusOK {
			r.stats.FilesErr++
			return nil
		}
		if err := os.Link(st.hardlinkSource, st.final); err != nil {
			r.Logger.Printf("receiver: linking %s -> %s: %v", st.hardlinkSource, st.final, err)
			r.stats.FilesErr++
			return nil
		}
		r.completed[st.path] = st.final
		r.stats.FilesOK++
		return nil
	}

	if st.destF != nil {
		st.destF.Close()
	}

	if m.Status != wire.StatusOK {
		st.pending.Cleanup()
		r.stats.FilesErr++
		return nil
	}

	if err := st.pending.Commit(); err != nil {
		r.Logger.Printf("receiver: committing %s: %v", st.path, err)
		r.stats.FilesErr++
		return nil
	}

	r.completed[st.path] = st.final
	r.stats.FilesOK++
	r.stats.Bytes += uint64(st.pending.Written())
	if st.isDelta {
		r.stats.FilesDelta++
	} else {
		r.stats.FilesFull++
	}
	return nil
}

func (r *Receiver) handleMkdir(m wire.Mkdir) error {
	if err := pathsafety.Validate(m.Path); err != nil {
		return err
	}
	final, err := pathsafety.Join(r.Root, m.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(final, os.FileMode(m.Mode)); err != nil {
		r.Logger.Printf("receiver: mkdir %s: %v", final, err)
	}
	return nil
}

func (r *Receiver) handleSymlink(m wire.Symlink) error {
	if err := pathsafety.ValidateSymlinkTarget(r.Root, m.Path, m.Target); err != nil {
		return err
	}
	final, err := pathsafety.Join(r.Root, m.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("receiver: mkdir parent of %s: %w", final, err)
	}
	os.Remove(final) // replace whatever (if anything) is already there
	if err := os.Symlink(m.Target, final); err != nil {
		r.Logger.Printf("receiver: symlink %s -> %s: %v", final, m.Target, err)
	}
	return nil
}

func (r *Receiver) handleDelete(m wire.Delete) error {
	if err := pathsafety.Validate(m.Path); err != nil {
		return err
	}
	final, err := pathsafety.Join(r.Root, m.Path)
	if err != nil {
		return err
	}
	var delErr error
	if m.IsDir {
		delErr = os.RemoveAll(final)
	} else {
		delErr = os.Remove(final)
	}
	if delErr != nil && !os.IsNotExist(delErr) {
		r.Logger.Printf("receiver: deleting %s: %v", final, delErr)
	}
	return nil
}
