package bufpool

import (
	"context"
	"encoding/binary"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bcache/device"
	"github.com/hupe1980/bcache/internal/mem"
	"github.com/hupe1980/bcache/testutil"
)

func newTestPool(t *testing.T, buffers, buckets int) *Pool {
	t.Helper()
	p, err := New(Config{NumBuffers: buffers, NumBuckets: buckets, BlockSize: 64})
	require.NoError(t, err)
	return p
}

func get(t *testing.T, p *Pool, dev device.ID, block device.BlockNo) (*Entry, Outcome) {
	t.Helper()
	e, out, err := p.Get(context.Background(), Key{Dev: dev, Block: block})
	require.NoError(t, err)
	return e, out
}

func TestNew_InvalidConfig(t *testing.T) {
	cases := []Config{
		{NumBuffers: 0, NumBuckets: 1, BlockSize: 1},
		{NumBuffers: 1, NumBuckets: 0, BlockSize: 1},
		{NumBuffers: 1, NumBuckets: 1, BlockSize: 0},
	}
	for _, cfg := range cases {
		_, err := New(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestNew_AllSlotsUnused(t *testing.T) {
	p := newTestPool(t, 4, 3)

	s := p.Stats()
	assert.Equal(t, 4, s.Slots)
	assert.Equal(t, 4, s.Unused)
	assert.Equal(t, 0, s.Resident)
	assert.Equal(t, []int{0, 0, 0}, s.BucketLens)
	require.NoError(t, p.CheckInvariants())
}

func TestNew_AlignedBuffers(t *testing.T) {
	p, err := New(Config{NumBuffers: 3, NumBuckets: 1, BlockSize: 4096})
	require.NoError(t, err)
	for i := range p.entries {
		assert.True(t, mem.IsAligned(p.entries[i].Data(), 4096), "slot %d", i)
		assert.Len(t, p.entries[i].Data(), 4096)
	}

	p = newTestPool(t, 3, 1)
	assert.True(t, mem.IsAligned(p.entries[0].Data(), mem.Alignment))
}

func TestGet_InvalidBlock(t *testing.T) {
	p := newTestPool(t, 4, 3)
	_, _, err := p.Get(context.Background(), Key{Dev: 1, Block: device.NoBlock})
	assert.ErrorIs(t, err, ErrInvalidBlock)
}

func TestGet_SequentialHit(t *testing.T) {
	p := newTestPool(t, 4, 3)

	e, out := get(t, p, 1, 10)
	assert.False(t, out.Hit)
	assert.False(t, e.Valid())
	assert.True(t, e.Held())
	assert.Equal(t, uint32(1), p.Refcount(e))
	assert.Equal(t, Key{Dev: 1, Block: 10}, e.Key())

	p.SetValid(e)
	p.Release(e)
	assert.Equal(t, uint32(0), p.Refcount(e))
	assert.False(t, e.Held())

	again, out := get(t, p, 1, 10)
	assert.True(t, out.Hit)
	assert.Same(t, e, again)
	assert.True(t, again.Valid(), "hit must keep loaded contents")
	assert.Equal(t, uint32(1), p.Refcount(again))
	p.Release(again)

	require.NoError(t, p.CheckInvariants())
}

func TestGet_DeviceIsPartOfKey(t *testing.T) {
	p := newTestPool(t, 4, 3)

	a, _ := get(t, p, 1, 10)
	b, out := get(t, p, 2, 10)
	assert.False(t, out.Hit)
	assert.NotSame(t, a, b)

	p.Release(a)
	p.Release(b)
	require.NoError(t, p.CheckInvariants())
}

func TestGet_UsesFreshSlotsBeforeEvicting(t *testing.T) {
	p := newTestPool(t, 4, 3)

	for blk := range device.BlockNo(4) {
		e, out := get(t, p, 1, blk)
		assert.False(t, out.Evicted)
		assert.Equal(t, int(blk), e.Slot(), "fresh slots are claimed in index order")
		p.Release(e)
	}

	s := p.Stats()
	assert.Equal(t, 0, s.Unused)
	assert.Equal(t, 4, s.Resident)
	assert.Equal(t, int64(0), s.Evictions)
}

func TestGet_EvictsFirstUnreferencedSlot(t *testing.T) {
	p := newTestPool(t, 4, 3)

	for blk := range device.BlockNo(4) {
		e, _ := get(t, p, 1, blk)
		p.SetValid(e)
		p.Release(e)
	}

	e, out := get(t, p, 1, 99)
	assert.False(t, out.Hit)
	assert.True(t, out.Evicted)
	assert.Equal(t, Key{Dev: 1, Block: 0}, out.Victim)
	assert.Equal(t, 0, e.Slot())
	assert.False(t, e.Valid(), "reassigned slot must be reloaded")
	p.Release(e)

	assert.Equal(t, int64(1), p.Evictions())
	require.NoError(t, p.CheckInvariants())

	// The evicted block is gone; the others are still cached.
	_, out = get(t, p, 1, 2)
	assert.True(t, out.Hit)
}

func TestGet_SkipsReferencedSlots(t *testing.T) {
	p := newTestPool(t, 4, 3)

	held := make([]*Entry, 0, 2)
	for blk := range device.BlockNo(4) {
		e, _ := get(t, p, 1, blk)
		if blk < 2 {
			held = append(held, e)
			continue
		}
		p.Release(e)
	}

	e, out := get(t, p, 1, 50)
	assert.True(t, out.Evicted)
	assert.Equal(t, Key{Dev: 1, Block: 2}, out.Victim)
	assert.Equal(t, 2, e.Slot())
	p.Release(e)

	for _, h := range held {
		p.Release(h)
	}
	require.NoError(t, p.CheckInvariants())
}

func TestGet_CapacityExhausted(t *testing.T) {
	p := newTestPool(t, 4, 3)

	held := make([]*Entry, 0, 4)
	for blk := range device.BlockNo(4) {
		e, _ := get(t, p, 1, blk)
		held = append(held, e)
	}

	testutil.Within(t, 5*time.Second, func() {
		_, _, err := p.Get(context.Background(), Key{Dev: 1, Block: 99})
		assert.ErrorIs(t, err, ErrNoBuffers)
	})

	// No pool or bucket lock may be left held.
	testutil.Within(t, 5*time.Second, func() {
		assert.NoError(t, p.CheckInvariants())
		p.Pin(held[1])
		p.Unpin(held[1])
	})

	p.Release(held[3])
	testutil.Within(t, 5*time.Second, func() {
		e, out, err := p.Get(context.Background(), Key{Dev: 1, Block: 99})
		if assert.NoError(t, err) {
			assert.True(t, out.Evicted)
			assert.Equal(t, 3, e.Slot())
			p.Release(e)
		}
	})

	for _, h := range held[:3] {
		p.Release(h)
	}
}

func TestPin_KeepsEntryResident(t *testing.T) {
	p := newTestPool(t, 1, 1)

	e, _ := get(t, p, 1, 7)
	p.Pin(e)
	p.Release(e)
	assert.Equal(t, uint32(1), p.Refcount(e))

	_, _, err := p.Get(context.Background(), Key{Dev: 1, Block: 8})
	assert.ErrorIs(t, err, ErrNoBuffers, "pinned entry must not be evicted")

	p.Unpin(e)
	assert.Equal(t, uint32(0), p.Refcount(e))

	other, out := get(t, p, 1, 8)
	assert.True(t, out.Evicted)
	assert.Same(t, e, other)
	p.Release(other)
}

func TestPin_WhileOthersHoldLock(t *testing.T) {
	p := newTestPool(t, 2, 1)

	e, _ := get(t, p, 1, 3)
	testutil.Within(t, time.Second, func() {
		p.Pin(e)
	})
	assert.Equal(t, uint32(2), p.Refcount(e))
	assert.True(t, e.Held(), "pin must not touch the exclusive lock")

	p.Unpin(e)
	p.Release(e)
}

func TestMisuse_Panics(t *testing.T) {
	p := newTestPool(t, 2, 1)

	t.Run("release unlocked", func(t *testing.T) {
		e, _ := get(t, p, 1, 1)
		p.Release(e)
		assert.Panics(t, func() { p.Release(e) })
	})

	t.Run("unpin below zero", func(t *testing.T) {
		e, _ := get(t, p, 1, 2)
		p.Release(e)
		assert.Panics(t, func() { p.Unpin(e) })
	})

	t.Run("pin unassigned", func(t *testing.T) {
		fresh := newTestPool(t, 1, 1)
		assert.Panics(t, func() { fresh.Pin(&fresh.entries[0]) })
		assert.Panics(t, func() { fresh.Unpin(&fresh.entries[0]) })
	})

	t.Run("set valid unlocked", func(t *testing.T) {
		e, _ := get(t, p, 1, 1)
		p.Release(e)
		assert.Panics(t, func() { p.SetValid(e) })
	})

	// Panics release the bucket lock they checked under.
	testutil.Within(t, time.Second, func() {
		assert.NoError(t, p.CheckInvariants())
	})
}

func TestGet_ContextCanceledWhileWaiting(t *testing.T) {
	p := newTestPool(t, 2, 1)

	e, _ := get(t, p, 1, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, out, err := p.Get(ctx, Key{Dev: 1, Block: 5})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, out.Hit)
	assert.Equal(t, uint32(1), p.Refcount(e), "abandoned wait must drop its reference")

	p.Release(e)
}

func TestGet_ExclusiveAccessSerializesHolders(t *testing.T) {
	p := newTestPool(t, 2, 1)

	const goroutines = 8
	const iterations = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				e, _, err := p.Get(context.Background(), Key{Dev: 1, Block: 1})
				if err != nil {
					t.Error(err)
					return
				}
				n := binary.LittleEndian.Uint64(e.Data())
				binary.LittleEndian.PutUint64(e.Data(), n+1)
				p.Release(e)
			}
		}()
	}
	wg.Wait()

	e, _ := get(t, p, 1, 1)
	assert.Equal(t, uint64(goroutines*iterations), binary.LittleEndian.Uint64(e.Data()))
	p.Release(e)
}

func TestGet_ConcurrentMissesShareOneEntry(t *testing.T) {
	for round := range 50 {
		p := newTestPool(t, 8, 3)
		key := Key{Dev: 1, Block: device.BlockNo(round)}

		const goroutines = 8
		slots := make([]int, goroutines)
		start := make(chan struct{})

		var wg sync.WaitGroup
		wg.Add(goroutines)
		for g := range goroutines {
			go func() {
				defer wg.Done()
				<-start
				e, _, err := p.Get(context.Background(), key)
				if err != nil {
					t.Error(err)
					return
				}
				slots[g] = e.Slot()
				p.Release(e)
			}()
		}
		close(start)
		wg.Wait()

		for _, s := range slots {
			require.Equal(t, slots[0], s, "one key must map to one slot")
		}
		require.NoError(t, p.CheckInvariants())
	}
}

func TestPool_Stress(t *testing.T) {
	const (
		buffers    = 16
		buckets    = 5
		goroutines = 8 // each holds at most two entries
		iterations = 2000
		keySpace   = 64
	)
	p := newTestPool(t, buffers, buckets)

	stamp := func(e *Entry) {
		binary.LittleEndian.PutUint32(e.Data()[0:], uint32(e.Key().Dev))
		binary.LittleEndian.PutUint32(e.Data()[4:], uint32(e.Key().Block))
	}
	check := func(e *Entry) bool {
		return binary.LittleEndian.Uint32(e.Data()[0:]) == uint32(e.Key().Dev) &&
			binary.LittleEndian.Uint32(e.Data()[4:]) == uint32(e.Key().Block)
	}
	acquire := func(key Key) *Entry {
		e, _, err := p.Get(context.Background(), key)
		if err != nil {
			t.Error(err)
			return nil
		}
		if e.Valid() {
			if !check(e) {
				t.Errorf("slot %d holds stale data for %s", e.Slot(), key)
			}
		} else {
			stamp(e)
			p.SetValid(e)
		}
		return e
	}

	testutil.Within(t, 60*time.Second, func() {
		var wg sync.WaitGroup
		wg.Add(goroutines)
		for g := range goroutines {
			go func() {
				defer wg.Done()
				rng := rand.New(rand.NewPCG(uint64(g), 42))
				for range iterations {
					k := Key{Dev: device.ID(rng.IntN(2)), Block: device.BlockNo(rng.IntN(keySpace))}
					e := acquire(k)
					if e == nil {
						return
					}
					switch rng.IntN(4) {
					case 0:
						p.Pin(e)
						p.Release(e)
						p.Unpin(e)
					case 1:
						// Holders of two blocks take them in block order.
						k2 := Key{Dev: k.Dev, Block: k.Block + 1 + device.BlockNo(rng.IntN(keySpace))}
						if e2 := acquire(k2); e2 != nil {
							p.Release(e2)
						}
						p.Release(e)
					default:
						p.Release(e)
					}
				}
			}()
		}
		wg.Wait()
	})

	s := p.Stats()
	assert.Equal(t, 0, s.Referenced)
	assert.Equal(t, uint64(0), s.Refs)
	require.NoError(t, p.CheckInvariants())
}
