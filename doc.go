// Package bcache provides a fixed-capacity, concurrent cache of disk blocks.
//
// A Cache sits between callers and a slow synchronous block device. It keeps
// a fixed number of block-sized buffers, each identified by a
// (device, block number) pair, and guarantees that at most one buffer holds
// a given block. Whoever acquires a buffer has exclusive access to it until
// they release it, so concurrent users of the same block see a serialized
// view of its contents.
//
// # Quick Start
//
//	dev := device.NewMemoryDevice(bcache.DefaultBlockSize)
//	c, _ := bcache.New(dev)
//
//	b, err := c.Acquire(ctx, 1, 42) // read-through on miss
//	if err != nil {
//	    return err
//	}
//	b.Data()[0] = 0x7f
//	err = c.Persist(ctx, b) // write-through
//	c.Release(b)
//
// # Buffers
//
// Acquire returns a *Buf with its exclusive lock held. Data is only valid
// until Release. Writes are never deferred: a modified buffer reaches the
// device only through Persist.
//
// Pin keeps a buffer resident across Acquire/Release cycles without
// holding its lock. Every Pin must be matched by an Unpin.
//
// # Eviction
//
// On a miss the cache first uses slots that never held a block, then
// reuses the first unreferenced slot in fixed slot order. This is not LRU.
// When every slot is referenced, Acquire returns ErrNoBuffers.
//
// # Locking
//
// A pool-wide mutex serializes misses. Each hash bucket has its own mutex,
// and hits take only their bucket's. When two bucket locks are needed they
// are taken in bucket index order, so no pair of misses can deadlock. No
// mutex is held while waiting for a buffer's exclusive lock or while the
// device is busy.
//
// # Misuse
//
// Releasing a buffer that is not locked, persisting without the lock,
// and unpinning below zero are programming errors and panic.
package bcache
