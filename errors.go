package bcache

import (
	"errors"
	"fmt"

	"github.com/hupe1980/bcache/internal/bufpool"
)

var (
	// ErrNoBuffers is returned by Acquire when every slot is referenced.
	// A cache assumes the blocks held or pinned at once never exceed its
	// buffer count; this error means that assumption was broken. No lock is
	// held when it is returned and the cache remains usable.
	ErrNoBuffers = bufpool.ErrNoBuffers

	// ErrInvalidBlock is returned for the reserved block number NoBlock.
	ErrInvalidBlock = bufpool.ErrInvalidBlock

	// ErrInvalidConfig is returned by New for unusable options.
	ErrInvalidConfig = bufpool.ErrInvalidConfig

	// ErrDevice matches every *DeviceError.
	ErrDevice = errors.New("bcache: device error")

	// ErrClosed is returned by operations on a closed Cache.
	ErrClosed = errors.New("bcache: cache closed")
)

// DeviceError reports a failed device transfer.
//
// It matches ErrDevice with errors.Is; the device's own error can be
// accessed via errors.Unwrap.
type DeviceError struct {
	Op     string // "read" or "write"
	Device DeviceID
	Block  BlockNo
	cause  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("bcache: device %s of %d/%d: %v", e.Op, e.Device, e.Block, e.cause)
}

func (e *DeviceError) Unwrap() error { return e.cause }

// Is makes errors.Is(err, ErrDevice) succeed.
func (e *DeviceError) Is(target error) bool { return target == ErrDevice }
