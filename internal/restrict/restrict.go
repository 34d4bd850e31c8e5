// Package restrict confines a --server process's filesystem access to its
// sync root before the Receiver touches any path, as defense-in-depth
// layered on top of (not instead of) internal/pathsafety's string-level
// validation.
package restrict

// ToRoot is implemented per-platform: restrict_linux.go installs a landlock
// ruleset; restrict_other.go is a no-op everywhere else, mirroring the
// teacher's restrict_linux.go / restrictdefault_others.go split.
var ToRoot func(root string) error = toRoot
