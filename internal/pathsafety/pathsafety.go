// Package pathsafety implements the path validation required by spec §4.4
// and §8: every relative path arriving over the wire is checked before it
// touches the filesystem, so a crafted peer cannot escape the sync root.
package pathsafety

import (
	"fmt"
	"path"
	"strings"

	"github.com/Xiechengqi/sy/internal/wire"
)

// Validate rejects an empty path, an absolute path, or any path containing
// a ".." component. It never touches the filesystem; it is a pure string
// check, matching spec §4.4's "no file-system access required."
func Validate(rel string) error {
	if rel == "" {
		return fatal("empty path")
	}
	if path.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return fatal("absolute path %q not allowed", rel)
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return fatal("path %q contains a \"..\" component", rel)
		}
	}
	return nil
}

// Join validates rel and returns the absolute path obtained by joining it
// under root, after folding "." and ".." components with path.Clean and
// verifying the result still lives under root. It never touches the
// filesystem.
func Join(root, rel string) (string, error) {
	if err := Validate(rel); err != nil {
		return "", err
	}
	cleanRoot := path.Clean(root)
	joined := path.Join(cleanRoot, rel)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+"/") {
		return "", fatal("path %q escapes root %q", rel, root)
	}
	return joined, nil
}

// ValidateSymlinkTarget additionally checks that a symlink's target,
// resolved relative to the symlink's own parent directory, stays within
// root. target must itself be a relative path; an absolute symlink target
// is rejected outright.
func ValidateSymlinkTarget(root, linkRel, target string) error {
	if path.IsAbs(target) || strings.HasPrefix(target, "/") {
		return fatal("symlink %q: absolute target %q not allowed", linkRel, target)
	}
	linkDir := path.Dir(linkRel)
	resolved := path.Join(linkDir, target)
	if strings.HasPrefix(resolved, "../") || resolved == ".." {
		return fatal("symlink %q: target %q resolves outside root", linkRel, target)
	}
	// resolved is now a root-relative path; Join re-validates it lands
	// under root once joined with the real root.
	if _, err := Join(root, resolved); err != nil {
		return fatal("symlink %q: target %q resolves outside root: %v", linkRel, target, err)
	}
	return nil
}

func fatal(format string, a ...interface{}) error {
	// wire.ProtocolError is what the session/receiver layer checks for to
	// decide "send Fatal, abort session."
	return &wire.ProtocolError{Code: wire.ErrPathTraversal, Message: fmt.Sprintf(format, a...)}
}
