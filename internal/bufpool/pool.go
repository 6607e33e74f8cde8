package bufpool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/bcache/device"
	"github.com/hupe1980/bcache/internal/lockorder"
	"github.com/hupe1980/bcache/internal/mem"
	"github.com/hupe1980/bcache/internal/sleeplock"
)

// Arenas for page-multiple block sizes are page aligned.
const pageSize = 4096

var (
	// ErrNoBuffers is returned when every slot is referenced and no block
	// can be evicted.
	ErrNoBuffers = errors.New("bufpool: no buffers")

	// ErrInvalidConfig is returned by New for unusable sizes.
	ErrInvalidConfig = errors.New("bufpool: invalid config")

	// ErrInvalidBlock is returned when the reserved block number is requested.
	ErrInvalidBlock = errors.New("bufpool: invalid block number")
)

// Config sizes a Pool.
type Config struct {
	NumBuffers int // NBUF
	NumBuckets int // NQUEUE
	BlockSize  int
}

func (c Config) validate() error {
	switch {
	case c.NumBuffers <= 0:
		return fmt.Errorf("%w: NumBuffers must be positive, got %d", ErrInvalidConfig, c.NumBuffers)
	case c.NumBuckets <= 0:
		return fmt.Errorf("%w: NumBuckets must be positive, got %d", ErrInvalidConfig, c.NumBuckets)
	case c.BlockSize <= 0:
		return fmt.Errorf("%w: BlockSize must be positive, got %d", ErrInvalidConfig, c.BlockSize)
	case c.NumBuffers > math.MaxInt32:
		return fmt.Errorf("%w: NumBuffers too large: %d", ErrInvalidConfig, c.NumBuffers)
	}
	return nil
}

// Outcome describes how Get satisfied a request.
type Outcome struct {
	// Hit is true when the block was already cached.
	Hit bool
	// Evicted is true when a previously used slot was reassigned.
	Evicted bool
	// Victim is the key the reassigned slot held before.
	Victim Key
}

// Pool is a fixed set of cache slots partitioned into hash buckets.
type Pool struct {
	mu      sync.Mutex
	entries []Entry
	buckets []bucket
	cfg     Config

	evictions atomic.Int64
}

// New allocates every slot up front. All slots start unused.
func New(cfg Config) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		entries: make([]Entry, cfg.NumBuffers),
		buckets: make([]bucket, cfg.NumBuckets),
		cfg:     cfg,
	}

	for i := range p.buckets {
		p.buckets[i].index = int32(i)
		p.buckets[i].head = nilSlot
	}

	align := mem.Alignment
	if cfg.BlockSize%pageSize == 0 {
		align = pageSize
	}
	arena := mem.AllocAlignedTo(cfg.NumBuffers*cfg.BlockSize, align)
	for i := range p.entries {
		off := i * cfg.BlockSize
		p.entries[i] = Entry{
			slot:   int32(i),
			key:    Key{Block: device.NoBlock},
			bucket: nilSlot,
			prev:   nilSlot,
			next:   nilSlot,
			lock:   sleeplock.New(),
			data:   arena[off : off+cfg.BlockSize : off+cfg.BlockSize],
		}
	}

	return p, nil
}

// Config returns the pool's sizing.
func (p *Pool) Config() Config { return p.cfg }

// Get returns the entry for key with its exclusive lock held and one
// reference taken. The entry's data is valid only if Valid reports true.
//
// Get blocks until the entry's lock is free. If ctx ends first, the reference
// is dropped and the context error returned.
func (p *Pool) Get(ctx context.Context, key Key) (*Entry, Outcome, error) {
	if key.Block == device.NoBlock {
		return nil, Outcome{}, ErrInvalidBlock
	}

	target := p.bucketFor(key.Block)

	var out Outcome
	e := p.find(target, key)
	if e != nil {
		out.Hit = true
	} else {
		var err error
		e, out, err = p.allocate(key, target)
		if err != nil {
			return nil, out, err
		}
	}

	if err := e.lock.Lock(ctx); err != nil {
		p.unref(e, "get")
		return nil, out, err
	}
	return e, out, nil
}

// allocate handles a lookup miss: it claims an unused slot or evicts an
// unreferenced one and inserts it into target under the pool lock.
func (p *Pool) allocate(key Key, target *bucket) (*Entry, Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	target.Lock()

	// Insertions happen only under the pool lock, so a concurrent miss on
	// the same key has either inserted it already or will see ours.
	if e := p.lookupLocked(target, key); e != nil {
		e.refcnt++
		target.Unlock()
		return e, Outcome{Hit: true}, nil
	}

	for i := range p.entries {
		if e := &p.entries[i]; e.unused() {
			p.assign(e, key, target)
			target.Unlock()
			return e, Outcome{}, nil
		}
	}

	for i := range p.entries {
		e := &p.entries[i]
		owner := p.bucketFor(e.key.Block)
		pair := lockorder.Both(target, owner)

		if e.refcnt == 0 {
			victim := e.key
			p.assign(e, key, target)
			pair.Release()
			p.evictions.Add(1)
			return e, Outcome{Evicted: true, Victim: victim}, nil
		}

		pair.ReleaseOther()
	}

	target.Unlock()
	return nil, Outcome{}, fmt.Errorf("%w: all %d slots referenced", ErrNoBuffers, len(p.entries))
}

// assign rebinds e to key at the head of target. The pool lock, target's
// lock and e's current bucket lock (if any) must be held.
func (p *Pool) assign(e *Entry, key Key, target *bucket) {
	p.unlink(e)
	e.key = key
	e.valid = false
	e.refcnt = 1
	p.pushFront(target, e)
}

// SetValid marks e's data as loaded. The caller must hold e.
func (p *Pool) SetValid(e *Entry) {
	p.mustHold(e, "setvalid")
	e.valid = true
}

// Release drops the caller's exclusive lock on e, then its reference.
func (p *Pool) Release(e *Entry) {
	p.mustHold(e, "release")
	e.lock.Unlock()
	p.unref(e, "release")
}

// Pin takes an extra reference on e so it stays resident across
// Get/Release cycles. It does not touch the exclusive lock.
func (p *Pool) Pin(e *Entry) {
	b := p.lockOwner(e, "pin")
	e.refcnt++
	b.Unlock()
}

// Unpin drops a reference taken by Pin.
func (p *Pool) Unpin(e *Entry) {
	p.unref(e, "unpin")
}

// Refcount returns the number of outstanding references on e.
func (p *Pool) Refcount(e *Entry) uint32 {
	if e.unused() {
		return 0
	}
	b := p.lockOwner(e, "refcount")
	defer b.Unlock()
	return e.refcnt
}

// Evictions returns how many used slots have been reassigned.
func (p *Pool) Evictions() int64 {
	return p.evictions.Load()
}

func (p *Pool) unref(e *Entry, op string) {
	b := p.lockOwner(e, op)
	if e.refcnt == 0 {
		b.Unlock()
		panic(fmt.Sprintf("bufpool: %s: refcount underflow on slot %d (%s)", op, e.slot, e.key))
	}
	e.refcnt--
	b.Unlock()
}

// lockOwner locks and returns the bucket e belongs to. It panics if e is not
// a member of one.
func (p *Pool) lockOwner(e *Entry, op string) *bucket {
	if e.unused() {
		panic(fmt.Sprintf("bufpool: %s: slot %d was never assigned", op, e.slot))
	}
	b := p.bucketFor(e.key.Block)
	b.Lock()
	if e.bucket != b.index {
		b.Unlock()
		panic(fmt.Sprintf("bufpool: %s: slot %d is not in its bucket", op, e.slot))
	}
	return b
}

func (p *Pool) mustHold(e *Entry, op string) {
	if !e.lock.Held() {
		panic(fmt.Sprintf("bufpool: %s: slot %d is not locked", op, e.slot))
	}
}
