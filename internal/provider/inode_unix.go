// file: internal/provider/inode_unix.go
// version: 1.1.0
// guid: 1c511883-d0dd-4209-847f-99d89716dd97

//go:build !windows

package provider

import (
	"io/fs"
	"syscall"
)

// fileIdentity returns the device and inode of a file so a rename inside the
// synced folder keeps the record's id. Zero means unknown.
func fileIdentity(info fs.FileInfo) uint64 {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st.Ino == 0 {
		return 0
	}
	return uint64(st.Dev)<<48 ^ uint64(st.Ino)
}
