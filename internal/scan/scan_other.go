//go:build !unix

package scan

import "io/fs"

type sysInfo struct {
	Inode uint64
	Nlink uint64
}

func statSys(info fs.FileInfo) *sysInfo {
	return nil
}
