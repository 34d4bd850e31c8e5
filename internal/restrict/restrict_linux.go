//go:build linux

package restrict

import (
	"fmt"

	"github.com/landlock-lsm/go-landlock/landlock"
)

// toRoot restricts the process to read-write access under root and nothing
// else, via Linux's landlock LSM. Unlike the teacher's MaybeFileSystem
// (which also carves out DNS/user-lookup/ssh paths for an rsync client
// process that still needs to resolve hosts and shell out), a --server
// process here has already had its subprocess spawned -- it only ever
// touches paths under root -- so the ruleset is a single RWDirs rule.
func toRoot(root string) error {
	err := landlock.V3.BestEffort().RestrictPaths(
		landlock.RWDirs(root).WithRefer(),
	)
	if err != nil {
		return fmt.Errorf("restrict: landlock: %w", err)
	}
	return nil
}
