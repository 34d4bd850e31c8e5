// Package generator implements the Generator task of spec §4.2: it scans
// the source, joins each entry against the destination index built during
// Initial Exchange, and emits work items for the Sender to consume.
package generator

import (
	"context"
	"fmt"

	"github.com/Xiechengqi/sy/internal/scan"
	"github.com/Xiechengqi/sy/internal/wire"
)

// DeltaInfo carries the destination's block-checksum table through to the
// Sender when a file job should attempt a delta transfer.
type DeltaInfo struct {
	BlockSize uint32
	DestSize  uint64
	Weak      []uint32
	Strong    []uint64
}

// FileJob is the Generator's "need to transfer this file" work item. It is
// passed by value rather than by an Arc-like shared handle
// (spec §3's "Arc-shared relative path") since Go's garbage collector
// already makes that sharing free; callers that need to retain the path
// across goroutines just keep the FileJob around.
type FileJob struct {
	Path           string
	Size           uint64
	Mtime          int64
	Mode           uint32
	Inode          uint64
	NeedDelta      bool
	Delta          *DeltaInfo
	HardlinkTarget string // non-empty iff this entry re-links a prior path
}

// WorkKind tags the variant of a generator message, mirroring spec §4.2's
// tagged union (File | Mkdir | Symlink | Delete | FileEnd | DeleteEnd).
type WorkKind int

const (
	WorkFile WorkKind = iota
	WorkMkdir
	WorkSymlink
	WorkDelete
	WorkFileEnd
	WorkDeleteEnd
)

// Work is one Generator->Sender message. Exactly one of the type-specific
// fields is meaningful, selected by Kind.
type Work struct {
	Kind WorkKind

	File    FileJob
	Mkdir   struct {
		Path string
		Mode uint32
	}
	Symlink struct {
		Path   string
		Target string
	}
	Delete struct {
		Path  string
		IsDir bool
	}
	FileEnd struct {
		TotalFiles uint32
		TotalBytes uint64
		// Skipped counts quick-check hits (SPEC_FULL §C accounting
		// supplement). The Sender carries it across the wire as
		// wire.FileEnd.FilesSkipped, and the Receiver copies it into the
		// terminal Done message.
		Skipped uint32
	}
	DeleteEnd struct {
		Count uint32
	}
}

// DestState is the destination-side knowledge the Generator joins each
// source entry against, built from the DestFileEntry stream during Initial
// Exchange.
type DestState struct {
	Size      uint64
	Mtime     int64
	Mode      uint32
	IsDir     bool
	BlockSize uint32
	Weak      []uint32
	Strong    []uint64
}

func (d *DestState) hasChecksums() bool { return d != nil && len(d.Weak) > 0 }

// Index is the destination index of spec §3: a map of relative path to
// dest-state, with entries removed as the source scan matches them. After
// Generate returns, whatever remains in the index is the delete set.
type Index struct {
	m map[string]*DestState
}

// NewIndex returns an empty index; Add fills it from the DestFileEntry
// stream decoded during Initial Exchange.
func NewIndex() *Index {
	return &Index{m: make(map[string]*DestState)}
}

// Add records one DestFileEntry. Called by the Initial Exchange reader as
// messages arrive, before Generate is invoked.
func (idx *Index) Add(m wire.DestFileEntry) {
	d := &DestState{
		Size:  m.Size,
		Mtime: m.Mtime,
		Mode:  m.Mode,
		IsDir: m.Flags&wire.DestFlagDir != 0,
	}
	if m.Flags&wire.DestFlagHasChecksums != 0 {
		d.BlockSize = m.BlockSize
		d.Weak = make([]uint32, len(m.Checksums))
		d.Strong = make([]uint64, len(m.Checksums))
		for i, c := range m.Checksums {
			d.Weak[i] = c.Weak
			d.Strong[i] = c.Strong
		}
	}
	idx.m[m.Path] = d
}

// remove pops and returns path's DestState, or nil if the destination
// never had it.
func (idx *Index) remove(path string) *DestState {
	d := idx.m[path]
	delete(idx.m, path)
	return d
}

// Remaining returns the delete set: everything left in the index after the
// source scan has matched and removed its entries. It is the index's own
// map, so ranging over it yields Delete items in no particular order.
func (idx *Index) Remaining() map[string]*DestState {
	return idx.m
}

// Options configures one Generate call.
type Options struct {
	DeleteEnabled bool
	// DeltaMinSize is the smallest file size that attempts a delta
	// transfer; smaller files always go full (spec §6's DELTA_MIN_SIZE).
	DeltaMinSize uint64
}

const DefaultDeltaMinSize = 64 << 10 // 64 KiB, spec §6

// Sink receives Work items. The Generator writes to a Sink rather than
// returning a slice, so its output can be a bounded channel (spec §5's
// capacity-1024 Generator->Sender channel) without buffering an entire
// tree scan in memory.
type Sink interface {
	Send(ctx context.Context, w Work) error
}

// Generate scans root with scanner, joins against idx, and sends work
// items to sink in the order spec §4.2 describes: per-entry Mkdir/
// Symlink/File items during the scan, then one FileEnd, then (if enabled)
// one Delete per surviving index entry and one DeleteEnd.
//
// The scan itself is a blocking operation; spec §4.2 calls for it to run
// "off the async executor." Go has no such distinction -- Generate simply
// runs on whatever goroutine the caller scheduled it on, and the session
// orchestrator (internal/session) is responsible for giving it one of its
// own so it doesn't stall anything else.
func Generate(ctx context.Context, scanner scan.Scanner, root string, idx *Index, sink Sink, opts Options) error {
	entries, err := scanner.Scan(root)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", root, err)
	}

	minDelta := opts.DeltaMinSize
	if minDelta == 0 {
		minDelta = DefaultDeltaMinSize
	}

	firstPathByInode := make(map[uint64]string)

	var totalFiles uint32
	var totalBytes uint64
	var skippedFiles uint32

	for _, e := range entries {
		if e.Path == "" {
			continue
		}
		dest := idx.remove(e.Path)

		if e.Kind == scan.KindFile && dest != nil && !dest.IsDir &&
			dest.Size == e.Size && dest.Mtime == e.Mtime {
			skippedFiles++
			continue // quick-check: unchanged, skip entirely
		}

		switch e.Kind {
		case scan.KindDir:
			w := Work{Kind: WorkMkdir}
			w.Mkdir.Path = e.Path
			w.Mkdir.Mode = e.Mode
			if err := sink.Send(ctx, w); err != nil {
				return err
			}
			continue
		case scan.KindSymlink:
			w := Work{Kind: WorkSymlink}
			w.Symlink.Path = e.Path
			w.Symlink.Target = e.SymlinkTarget
			if err := sink.Send(ctx, w); err != nil {
				return err
			}
			continue
		}

		job := FileJob{
			Path:  e.Path,
			Size:  e.Size,
			Mtime: e.Mtime,
			Mode:  e.Mode,
			Inode: e.Inode,
		}

		if e.Nlink > 1 {
			if first, ok := firstPathByInode[e.Inode]; ok {
				job.HardlinkTarget = first
			} else {
				firstPathByInode[e.Inode] = e.Path
			}
		}

		if job.HardlinkTarget == "" {
			job.NeedDelta = e.Size >= minDelta && dest.hasChecksums()
			if job.NeedDelta {
				job.Delta = &DeltaInfo{
					BlockSize: dest.BlockSize,
					DestSize:  dest.Size,
					Weak:      dest.Weak,
					Strong:    dest.Strong,
				}
			}
		}

		totalFiles++
		totalBytes += e.Size

		w := Work{Kind: WorkFile, File: job}
		if err := sink.Send(ctx, w); err != nil {
			return err
		}
	}

	end := Work{Kind: WorkFileEnd}
	end.FileEnd.TotalFiles = totalFiles
	end.FileEnd.TotalBytes = totalBytes
	end.FileEnd.Skipped = skippedFiles
	if err := sink.Send(ctx, end); err != nil {
		return err
	}

	if opts.DeleteEnabled {
		var count uint32
		for path, d := range idx.Remaining() {
			w := Work{Kind: WorkDelete}
			w.Delete.Path = path
			w.Delete.IsDir = d.IsDir
			if err := sink.Send(ctx, w); err != nil {
				return err
			}
			count++
		}
		de := Work{Kind: WorkDeleteEnd}
		de.DeleteEnd.Count = count
		if err := sink.Send(ctx, de); err != nil {
			return err
		}
	}

	return nil
}
