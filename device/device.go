package device

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ID identifies a block device.
type ID uint32

// BlockNo is a block number on a device.
type BlockNo uint32

// NoBlock marks a cache slot that has never held a block.
// It is not a valid block number for any device.
const NoBlock BlockNo = math.MaxUint32

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 1024

// ErrShortBuffer is returned when a buffer does not match the device block size.
var ErrShortBuffer = errors.New("device: buffer is not one block")

// Device is a synchronous block device.
//
// ReadBlock fills buf with the contents of block on dev. WriteBlock stores buf
// as the contents of block on dev. Both operate on exactly one block; buf must
// be one block long. Implementations must be safe for concurrent use.
type Device interface {
	ReadBlock(ctx context.Context, dev ID, block BlockNo, buf []byte) error
	WriteBlock(ctx context.Context, dev ID, block BlockNo, buf []byte) error
}

// Syncer is implemented by devices that buffer writes below the cache.
type Syncer interface {
	Sync() error
}

// Stats counts device operations.
type Stats struct {
	Reads  int64
	Writes int64
	Syncs  int64
}

func checkBuf(buf []byte, blockSize int) error {
	if len(buf) != blockSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortBuffer, len(buf), blockSize)
	}
	return nil
}
