//go:build linux

package device

import (
	"golang.org/x/sys/unix"

	"github.com/hupe1980/bcache/internal/fs"
)

// datasync flushes file data without forcing a metadata update when the
// file is backed by a descriptor.
func datasync(f fs.File) error {
	if fd, ok := f.(interface{ Fd() uintptr }); ok {
		return unix.Fdatasync(int(fd.Fd()))
	}
	return f.Sync()
}
