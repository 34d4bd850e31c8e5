//go:build !linux

package restrict

// toRoot is a no-op on platforms without landlock; path safety still comes
// from internal/pathsafety.
func toRoot(root string) error { return nil }
