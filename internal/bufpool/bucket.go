package bufpool

import (
	"sync"

	"github.com/hupe1980/bcache/device"
)

// bucket is one hash partition of the live entries.
type bucket struct {
	sync.Mutex
	index int32
	head  int32
	size  int
}

// Order ranks buckets by index for lockorder.
func (b *bucket) Order() uint64 { return uint64(b.index) }

func (p *Pool) bucketFor(block device.BlockNo) *bucket {
	return &p.buckets[uint32(block)%uint32(len(p.buckets))]
}

// lookupLocked returns the member of b holding key, or nil.
// b must be locked.
func (p *Pool) lookupLocked(b *bucket, key Key) *Entry {
	for i := b.head; i != nilSlot; i = p.entries[i].next {
		if e := &p.entries[i]; e.key == key {
			return e
		}
	}
	return nil
}

// find is the fast path: it takes a reference on a cached entry using only
// the bucket lock.
func (p *Pool) find(b *bucket, key Key) *Entry {
	b.Lock()
	defer b.Unlock()

	e := p.lookupLocked(b, key)
	if e == nil {
		return nil
	}
	if e.bucket != b.index {
		panic("bufpool: find: entry on list of foreign bucket")
	}
	e.refcnt++
	return e
}

// pushFront inserts e at the head of b. b must be locked and e must not be a
// member of any bucket.
func (p *Pool) pushFront(b *bucket, e *Entry) {
	e.prev = nilSlot
	e.next = b.head
	if b.head != nilSlot {
		p.entries[b.head].prev = e.slot
	}
	b.head = e.slot
	e.bucket = b.index
	b.size++
}

// unlink removes e from its bucket, if any. The bucket must be locked.
func (p *Pool) unlink(e *Entry) {
	if !e.member() {
		return
	}
	b := &p.buckets[e.bucket]
	if e.prev != nilSlot {
		p.entries[e.prev].next = e.next
	} else {
		b.head = e.next
	}
	if e.next != nilSlot {
		p.entries[e.next].prev = e.prev
	}
	e.prev, e.next, e.bucket = nilSlot, nilSlot, nilSlot
	b.size--
}
