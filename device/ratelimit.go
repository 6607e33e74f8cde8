package device

import (
	"context"

	"github.com/hupe1980/bcache/resource"
)

// rateLimited charges every block transfer against a resource controller's
// IO budget before passing it on.
type rateLimited struct {
	dev Device
	rc  *resource.Controller
}

// RateLimited wraps dev so that reads and writes wait for IO budget from rc.
// A nil rc returns dev unchanged.
func RateLimited(dev Device, rc *resource.Controller) Device {
	if rc == nil {
		return dev
	}
	return &rateLimited{dev: dev, rc: rc}
}

func (r *rateLimited) ReadBlock(ctx context.Context, dev ID, block BlockNo, buf []byte) error {
	if err := r.rc.AcquireIO(ctx, len(buf)); err != nil {
		return err
	}
	return r.dev.ReadBlock(ctx, dev, block, buf)
}

func (r *rateLimited) WriteBlock(ctx context.Context, dev ID, block BlockNo, buf []byte) error {
	if err := r.rc.AcquireIO(ctx, len(buf)); err != nil {
		return err
	}
	return r.dev.WriteBlock(ctx, dev, block, buf)
}

// Sync forwards to the wrapped device when it is a Syncer.
func (r *rateLimited) Sync() error {
	if s, ok := r.dev.(Syncer); ok {
		return s.Sync()
	}
	return nil
}
