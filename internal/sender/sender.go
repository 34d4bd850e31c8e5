// Package sender implements the Sender task of spec §4.3: it consumes
// Generator work items in order and turns each into FileEntry/Data/DataEnd
// (or Mkdir/Symlink/Delete/FileEnd/DeleteEnd) frames.
package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Xiechengqi/sy/internal/compress"
	"github.com/Xiechengqi/sy/internal/delta"
	"github.com/Xiechengqi/sy/internal/generator"
	"github.com/Xiechengqi/sy/internal/rsynclog"
	"github.com/Xiechengqi/sy/internal/wire"
)

// Default chunk sizes, spec §6.
const (
	DataChunkSize  = 256 << 10 // full-transfer read chunk
	DeltaChunkSize = 16 << 20  // delta op payload cap
)

// Emitter writes encoded wire.Message values out. In production this is
// the session's connEmitter, which writes each message to the connection
// as one frame on the calling goroutine; tests can supply an in-memory
// collector.
type Emitter interface {
	Emit(ctx context.Context, m wire.Message) error
}

// Options configures one Sender run.
type Options struct {
	DataChunkSize  int
	DeltaChunkSize int
	Root           string // source root, for opening files named by relative path
	Compress       bool   // zstd-compress Data payloads, negotiated via Hello.flags & COMPRESSION
}

// Sender consumes generator.Work items from a channel and emits the
// corresponding wire messages to out.
type Sender struct {
	Opts   Options
	Logger rsynclog.Logger
	Out    Emitter

	// LastFileEnd records the totals from the most recent WorkFileEnd item,
	// including the quick-check skip count (SPEC_FULL §C). The same values
	// are sent to the peer in wire.FileEnd; the Receiver, not this field, is
	// what feeds them into the terminal Done message.
	LastFileEnd struct {
		TotalFiles uint32
		TotalBytes uint64
		Skipped    uint32
	}
}

func New(opts Options, logger rsynclog.Logger, out Emitter) *Sender {
	if opts.DataChunkSize == 0 {
		opts.DataChunkSize = DataChunkSize
	}
	if opts.DeltaChunkSize == 0 {
		opts.DeltaChunkSize = DeltaChunkSize
	}
	if logger == nil {
		logger = rsynclog.Discard
	}
	return &Sender{Opts: opts, Logger: logger, Out: out}
}

// Run drains work until the channel closes or ctx is cancelled, translating
// each item into frames. Blocking work (file I/O, delta computation) runs
// synchronously here, and the session orchestrator runs the whole Sender
// task on its own goroutine within the pipeline's errgroup, apart from the
// Generator. There is no separate drain task: each frame is written to the
// Emitter on this same goroutine, so file reads and transport writes for a
// session take turns rather than overlapping.
func (s *Sender) Run(ctx context.Context, work <-chan generator.Work) error {
	for {
		select {
		case w, ok := <-work:
			if !ok {
				return nil
			}
			if err := s.handle(ctx, w); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Sender) handle(ctx context.Context, w generator.Work) error {
	switch w.Kind {
	case generator.WorkMkdir:
		return s.Out.Emit(ctx, wire.Mkdir{Path: w.Mkdir.Path, Mode: w.Mkdir.Mode})
	case generator.WorkSymlink:
		return s.Out.Emit(ctx, wire.Symlink{Path: w.Symlink.Path, Target: w.Symlink.Target})
	case generator.WorkDelete:
		return s.Out.Emit(ctx, wire.Delete{Path: w.Delete.Path, IsDir: w.Delete.IsDir})
	case generator.WorkFileEnd:
		s.LastFileEnd.TotalFiles = w.FileEnd.TotalFiles
		s.LastFileEnd.TotalBytes = w.FileEnd.TotalBytes
		s.LastFileEnd.Skipped = w.FileEnd.Skipped
		return s.Out.Emit(ctx, wire.FileEnd{
			TotalFiles:   w.FileEnd.TotalFiles,
			TotalBytes:   w.FileEnd.TotalBytes,
			FilesSkipped: w.FileEnd.Skipped,
		})
	case generator.WorkDeleteEnd:
		return s.Out.Emit(ctx, wire.DeleteEnd{Count: w.DeleteEnd.Count})
	case generator.WorkFile:
		return s.sendFile(ctx, w.File)
	default:
		return fmt.Errorf("sender: unknown work kind %d", w.Kind)
	}
}

func (s *Sender) sendFile(ctx context.Context, job generator.FileJob) error {
	flags := byte(0)
	entry := wire.FileEntry{
		Path:  job.Path,
		Size:  job.Size,
		Mtime: job.Mtime,
		Mode:  job.Mode,
		Inode: job.Inode,
	}
	if job.HardlinkTarget != "" {
		flags |= wire.FileFlagHardlink
		entry.HardlinkTarget = job.HardlinkTarget
	}
	entry.Flags = flags
	if err := s.Out.Emit(ctx, entry); err != nil {
		return err
	}

	if job.HardlinkTarget != "" {
		// No data follows a hardlink re-link; the receiver links the
		// path to an already-completed file instead (SPEC_FULL §C).
		return s.Out.Emit(ctx, wire.DataEnd{Path: job.Path, Status: wire.StatusOK})
	}

	path := job.Path
	if s.Opts.Root != "" {
		path = s.Opts.Root + "/" + job.Path
	}

	f, err := os.Open(path)
	if err != nil {
		s.Logger.Printf("sender: open %s: %v", path, err)
		return s.Out.Emit(ctx, wire.DataEnd{Path: job.Path, Status: wire.StatusError})
	}
	defer f.Close()

	var sendErr error
	if job.NeedDelta && job.Delta != nil {
		sendErr = s.sendDelta(ctx, job, f)
	} else {
		sendErr = s.sendFull(ctx, job, f)
	}

	status := wire.StatusOK
	if sendErr != nil {
		s.Logger.Printf("sender: transferring %s: %v", job.Path, sendErr)
		status = wire.StatusError
	}
	return s.Out.Emit(ctx, wire.DataEnd{Path: job.Path, Status: status})
}

func (s *Sender) sendFull(ctx context.Context, job generator.FileJob, f *os.File) error {
	buf := make([]byte, s.Opts.DataChunkSize)
	var cursor uint64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			msg := wire.Data{Path: job.Path, Offset: cursor, Data: chunk}
			if s.Opts.Compress {
				compressed, cerr := compress.Compress(chunk)
				if cerr != nil {
					return fmt.Errorf("sender: compressing %s: %w", job.Path, cerr)
				}
				msg.Data = compressed
				msg.Flags |= wire.DataFlagCompressed
			}
			if emitErr := s.Out.Emit(ctx, msg); emitErr != nil {
				return emitErr
			}
			cursor += uint64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// deltaFrameWriter serializes delta.Op values into 16MiB-capped Data
// frames, flushing a frame and starting a new buffer whenever appending an
// op would exceed the cap (spec §4.3).
type deltaFrameWriter struct {
	ctx    context.Context
	sender *Sender
	path   string
	cap    int
	buf    bytes.Buffer
}

func (d *deltaFrameWriter) WriteOp(op delta.Op) error {
	enc := delta.EncodeOp(op)
	if d.buf.Len() > 0 && d.buf.Len()+len(enc) > d.cap {
		if err := d.flush(); err != nil {
			return err
		}
	}
	d.buf.Write(enc)
	return nil
}

func (d *deltaFrameWriter) flush() error {
	if d.buf.Len() == 0 {
		return nil
	}
	payload := append([]byte(nil), d.buf.Bytes()...)
	d.buf.Reset()
	flags := byte(wire.DataFlagDelta)
	if d.sender.Opts.Compress {
		compressed, err := compress.Compress(payload)
		if err != nil {
			return fmt.Errorf("sender: compressing delta ops for %s: %w", d.path, err)
		}
		payload = compressed
		flags |= wire.DataFlagCompressed
	}
	return d.sender.Out.Emit(d.ctx, wire.Data{Path: d.path, Flags: flags, Data: payload})
}

func (s *Sender) sendDelta(ctx context.Context, job generator.FileJob, f *os.File) error {
	blocks := delta.BlocksFromSizes(job.Delta.DestSize, job.Delta.BlockSize, job.Delta.Weak, job.Delta.Strong)

	fw := &deltaFrameWriter{ctx: ctx, sender: s, path: job.Path, cap: s.Opts.DeltaChunkSize}
	coalescer := &delta.CoalescingWriter{Next: fw}

	if err := delta.Compute(f, blocks, job.Delta.BlockSize, coalescer); err != nil {
		return err
	}
	if err := coalescer.Flush(); err != nil {
		return err
	}
	return fw.flush()
}
