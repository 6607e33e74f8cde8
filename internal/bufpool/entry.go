package bufpool

import (
	"fmt"

	"github.com/hupe1980/bcache/device"
	"github.com/hupe1980/bcache/internal/sleeplock"
)

// nilSlot terminates a bucket list.
const nilSlot int32 = -1

// Key identifies a cached block.
type Key struct {
	Dev   device.ID
	Block device.BlockNo
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.Dev, k.Block)
}

// Entry is one cache slot.
//
// Data and Valid may only be used by the goroutine holding the entry, that is
// between a successful Get and the matching Release.
type Entry struct {
	slot int32

	// Guarded by the owning bucket's lock, or by the pool lock while the
	// entry is not a member of any bucket.
	key    Key
	valid  bool
	refcnt uint32
	bucket int32
	prev   int32
	next   int32

	lock *sleeplock.Lock
	data []byte
}

// Slot returns the entry's fixed index in the pool.
func (e *Entry) Slot() int { return int(e.slot) }

// Key returns the block currently assigned to the entry.
func (e *Entry) Key() Key { return e.key }

// DeviceID returns the device of the cached block.
func (e *Entry) DeviceID() device.ID { return e.key.Dev }

// BlockNo returns the block number of the cached block.
func (e *Entry) BlockNo() device.BlockNo { return e.key.Block }

// Data returns the block contents. The slice aliases the pool's arena.
func (e *Entry) Data() []byte { return e.data }

// Valid reports whether Data holds the block's device contents.
func (e *Entry) Valid() bool { return e.valid }

// Held reports whether the entry's exclusive lock is held.
func (e *Entry) Held() bool { return e.lock.Held() }

func (e *Entry) unused() bool {
	return e.key.Block == device.NoBlock
}

func (e *Entry) member() bool {
	return e.bucket != nilSlot
}
