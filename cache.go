package bcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/bcache/device"
	"github.com/hupe1980/bcache/internal/bufpool"
	"github.com/hupe1980/bcache/resource"
)

type (
	// DeviceID identifies a block device.
	DeviceID = device.ID
	// BlockNo is a block number on a device.
	BlockNo = device.BlockNo
	// Key identifies a cached block.
	Key = bufpool.Key
	// Buf is a cache slot handed out by Acquire. Its Data is only valid
	// while the caller holds it.
	Buf = bufpool.Entry
)

// NoBlock is reserved and cannot be acquired.
const NoBlock = device.NoBlock

// Cache is a fixed-capacity block cache over a Device.
type Cache struct {
	pool    *bufpool.Pool
	dev     device.Device
	metrics MetricsCollector
	logger  *Logger
	rc      *resource.Controller

	reserved int64
	closed   atomic.Bool

	hits         atomic.Int64
	misses       atomic.Int64
	deviceReads  atomic.Int64
	deviceWrites atomic.Int64
	deviceErrors atomic.Int64
}

// New creates a cache in front of dev. All slots are allocated up front;
// with a resource controller the arena is charged to its memory budget.
func New(dev device.Device, optFns ...Option) (*Cache, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidConfig)
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg := bufpool.Config{
		NumBuffers: opts.numBuffers,
		NumBuckets: opts.numBuckets,
		BlockSize:  opts.blockSize,
	}

	reserved := int64(cfg.NumBuffers) * int64(cfg.BlockSize)
	if reserved > 0 {
		if err := opts.rc.AcquireMemory(reserved); err != nil {
			return nil, fmt.Errorf("bcache: reserve arena: %w", err)
		}
	}

	pool, err := bufpool.New(cfg)
	if err != nil {
		if reserved > 0 {
			opts.rc.ReleaseMemory(reserved)
		}
		return nil, err
	}

	return &Cache{
		pool:     pool,
		dev:      dev,
		metrics:  opts.metricsCollector,
		logger:   opts.logger,
		rc:       opts.rc,
		reserved: reserved,
	}, nil
}

// Acquire returns the buffer for block on dev with its exclusive lock held,
// reading it from the device if it is not already cached. It waits while
// another caller holds the buffer.
//
// On a device error the buffer is released before returning and the error
// matches ErrDevice. When every slot is referenced it returns ErrNoBuffers.
func (c *Cache) Acquire(ctx context.Context, dev DeviceID, block BlockNo) (*Buf, error) {
	start := time.Now()
	key := Key{Dev: dev, Block: block}

	b, hit, err := c.acquire(ctx, key)

	c.metrics.RecordAcquire(hit, time.Since(start), err)
	if err == nil {
		c.logger.LogAcquire(ctx, key, hit, b.Slot(), nil)
	}
	return b, err
}

func (c *Cache) acquire(ctx context.Context, key Key) (*Buf, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}

	b, out, err := c.pool.Get(ctx, key)
	if out.Evicted {
		c.metrics.RecordEviction()
		if b != nil {
			c.logger.LogEviction(ctx, b.Slot(), out.Victim, key)
		}
	}
	if err != nil {
		if errors.Is(err, ErrNoBuffers) {
			c.logger.LogCapacityExhausted(ctx, key, c.pool.Config().NumBuffers)
		} else {
			c.logger.LogAcquire(ctx, key, out.Hit, -1, err)
		}
		return nil, out.Hit, err
	}

	if out.Hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}

	if b.Valid() {
		return b, out.Hit, nil
	}

	if err := c.read(ctx, b); err != nil {
		c.pool.Release(b)
		return nil, out.Hit, err
	}
	c.pool.SetValid(b)
	return b, out.Hit, nil
}

func (c *Cache) read(ctx context.Context, b *Buf) error {
	start := time.Now()
	err := c.dev.ReadBlock(ctx, b.DeviceID(), b.BlockNo(), b.Data())
	c.metrics.RecordDeviceRead(time.Since(start), err)
	c.deviceReads.Add(1)
	if err != nil {
		c.deviceErrors.Add(1)
		c.logger.LogDeviceError(ctx, "read", b.Key(), err)
		return &DeviceError{Op: "read", Device: b.DeviceID(), Block: b.BlockNo(), cause: err}
	}
	return nil
}

// Persist writes b's data to the device and waits for the write to finish.
// The caller must hold b. Persist does not release b.
//
// Persist panics if b is not locked, but it cannot tell which goroutine
// holds the lock: a call from a goroutine that does not hold b passes the
// check while another goroutine holds it.
func (c *Cache) Persist(ctx context.Context, b *Buf) error {
	if !b.Held() {
		panic(fmt.Sprintf("bcache: persist: %s is not locked", b.Key()))
	}

	start := time.Now()
	err := c.dev.WriteBlock(ctx, b.DeviceID(), b.BlockNo(), b.Data())
	d := time.Since(start)
	c.metrics.RecordDeviceWrite(d, err)
	c.deviceWrites.Add(1)
	if err != nil {
		c.deviceErrors.Add(1)
		err = &DeviceError{Op: "write", Device: b.DeviceID(), Block: b.BlockNo(), cause: err}
	}
	c.logger.LogPersist(ctx, b.Key(), d, err)
	return err
}

// Release gives up the caller's hold on b. b must not be used afterwards.
func (c *Cache) Release(b *Buf) {
	c.pool.Release(b)
}

// Pin keeps b cached until the matching Unpin, whether or not anyone
// holds it.
func (c *Cache) Pin(b *Buf) {
	c.pool.Pin(b)
}

// Unpin undoes one Pin.
func (c *Cache) Unpin(b *Buf) {
	c.pool.Unpin(b)
}

// Prefetch loads blocks into the cache without holding them. Loads run
// concurrently, bounded by the resource controller's background workers.
// Blocks already cached are not read again.
func (c *Cache) Prefetch(ctx context.Context, dev DeviceID, blocks ...BlockNo) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.rc.MaxBackgroundWorkers())

	for _, block := range blocks {
		g.Go(func() error {
			if err := c.rc.AcquireBackground(ctx); err != nil {
				return err
			}
			defer c.rc.ReleaseBackground()

			b, err := c.Acquire(ctx, dev, block)
			if err != nil {
				return err
			}
			c.Release(b)
			return nil
		})
	}

	err := g.Wait()
	c.logger.LogPrefetch(ctx, dev, len(blocks), err)
	return err
}

// Stats is a snapshot of cache activity and slot usage.
type Stats struct {
	Slots        int
	Unused       int
	Resident     int
	Referenced   int
	Hits         int64
	Misses       int64
	Evictions    int64
	DeviceReads  int64
	DeviceWrites int64
	DeviceErrors int64
	BucketLens   []int
}

// Stats returns current counters and slot usage.
func (c *Cache) Stats() Stats {
	ps := c.pool.Stats()
	return Stats{
		Slots:        ps.Slots,
		Unused:       ps.Unused,
		Resident:     ps.Resident,
		Referenced:   ps.Referenced,
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Evictions:    ps.Evictions,
		DeviceReads:  c.deviceReads.Load(),
		DeviceWrites: c.deviceWrites.Load(),
		DeviceErrors: c.deviceErrors.Load(),
		BucketLens:   ps.BucketLens,
	}
}

// Refcount returns the outstanding holds and pins on b.
func (c *Cache) Refcount(b *Buf) int {
	return int(c.pool.Refcount(b))
}

// Close rejects further Acquires, returns the arena reservation and syncs
// the device if it buffers writes. Buffers already held may still be
// persisted and released.
func (c *Cache) Close() error {
	if c == nil || !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.rc.ReleaseMemory(c.reserved)

	if s, ok := c.dev.(device.Syncer); ok {
		if err := s.Sync(); err != nil {
			return fmt.Errorf("bcache: sync device: %w", err)
		}
	}
	return nil
}
