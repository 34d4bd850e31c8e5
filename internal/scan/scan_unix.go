//go:build unix

package scan

import (
	"io/fs"
	"syscall"
)

type sysInfo struct {
	Inode uint64
	Nlink uint64
}

func statSys(info fs.FileInfo) *sysInfo {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	return &sysInfo{Inode: uint64(st.Ino), Nlink: uint64(st.Nlink)}
}
