//go:build !linux

package device

import "github.com/hupe1980/bcache/internal/fs"

func datasync(f fs.File) error {
	return f.Sync()
}
