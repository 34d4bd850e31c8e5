// Package scan defines the contract of the file-system scanner spec.md
// treats as an external collaborator ("out of scope... assumed to yield an
// ordered stream of entries") and provides one concrete implementation of
// it, grounded in the teacher's filepath.Walk-based directory walk
// (internal/rsyncd.sendFileList, internal/receiver/do.go's deleteFiles).
//
// The Generator and the Receiver's Initial Exchange both consume a
// Scanner; neither cares how entries are produced, only that they arrive
// in a stable order with the fields below populated.
package scan

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind distinguishes the three entry shapes the protocol cares about.
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// Entry is one scanned filesystem object, in the shape the Generator and
// the Receiver's Initial Exchange both expect (spec §2).
type Entry struct {
	Path          string // relative, forward-slash joined, never "."
	Size          uint64
	Mtime         int64
	Mode          uint32
	Kind          Kind
	SymlinkTarget string
	Inode         uint64
	Nlink         uint64
}

// Scanner yields an ordered stream of Entry for everything under a root,
// excluding the root itself. Implementations may enumerate lazily (a
// database-backed or cloud-backed scanner, entirely out of spec.md's
// scope) or eagerly (the Walker below); callers only rely on ordering
// being stable within one call.
type Scanner interface {
	Scan(root string) ([]Entry, error)
}

// Options configures the default Walker.
type Options struct {
	IncludeHidden  bool
	FollowSymlinks bool
}

// Walker is the default Scanner: a straightforward recursive directory
// walk using filepath.WalkDir, the same mechanism the teacher's
// sendFileList and deleteFiles use (filepath.Walk there; WalkDir here,
// its non-deprecated, lower-allocation successor).
type Walker struct {
	Opts Options
}

func NewWalker(opts Options) *Walker {
	return &Walker{Opts: opts}
}

func (w *Walker) Scan(root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		base := filepath.Base(path)
		if !w.Opts.IncludeHidden && strings.HasPrefix(base, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		e := Entry{
			Path:  rel,
			Mtime: info.ModTime().Unix(),
			Mode:  uint32(info.Mode().Perm()),
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0 && !w.Opts.FollowSymlinks:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			e.Kind = KindSymlink
			e.SymlinkTarget = target
		case d.IsDir():
			e.Kind = KindDir
		default:
			e.Kind = KindFile
			e.Size = uint64(info.Size())
		}

		if sys := statSys(info); sys != nil {
			e.Inode = sys.Inode
			e.Nlink = sys.Nlink
		}

		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
