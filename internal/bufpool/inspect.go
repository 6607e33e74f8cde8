package bufpool

import (
	"errors"
	"fmt"
)

// Stats is a point-in-time view of slot usage.
type Stats struct {
	Slots      int
	Unused     int
	Resident   int
	Referenced int
	Refs       uint64
	Evictions  int64
	BucketLens []int
}

// lockAll takes the pool lock and every bucket lock in rank order.
func (p *Pool) lockAll() func() {
	p.mu.Lock()
	for i := range p.buckets {
		p.buckets[i].Lock()
	}
	return func() {
		for i := len(p.buckets) - 1; i >= 0; i-- {
			p.buckets[i].Unlock()
		}
		p.mu.Unlock()
	}
}

// Stats returns a consistent snapshot. It briefly stops all lookups.
func (p *Pool) Stats() Stats {
	unlock := p.lockAll()
	defer unlock()

	s := Stats{
		Slots:      len(p.entries),
		Evictions:  p.evictions.Load(),
		BucketLens: make([]int, len(p.buckets)),
	}
	for i := range p.entries {
		e := &p.entries[i]
		if e.unused() {
			s.Unused++
			continue
		}
		s.Resident++
		if e.refcnt > 0 {
			s.Referenced++
			s.Refs += uint64(e.refcnt)
		}
	}
	for i := range p.buckets {
		s.BucketLens[i] = p.buckets[i].size
	}
	return s
}

// CheckInvariants verifies the membership rules: unused slots belong to no
// bucket, every used slot is on exactly the list its key hashes to, lists
// are well linked, and no key is cached twice.
func (p *Pool) CheckInvariants() error {
	unlock := p.lockAll()
	defer unlock()

	var errs []error
	seen := make(map[int32]int32, len(p.entries))
	keys := make(map[Key]int32, len(p.entries))

	for bi := range p.buckets {
		b := &p.buckets[bi]
		n := 0
		prev := nilSlot
		for i := b.head; i != nilSlot; i = p.entries[i].next {
			e := &p.entries[i]
			if other, dup := seen[i]; dup {
				errs = append(errs, fmt.Errorf("slot %d on buckets %d and %d", i, other, b.index))
				break
			}
			seen[i] = b.index

			if e.prev != prev {
				errs = append(errs, fmt.Errorf("slot %d: prev %d, want %d", i, e.prev, prev))
			}
			if e.bucket != b.index {
				errs = append(errs, fmt.Errorf("slot %d: bucket field %d, on list %d", i, e.bucket, b.index))
			}
			if e.unused() {
				errs = append(errs, fmt.Errorf("slot %d: unused but on bucket %d", i, b.index))
			} else if want := p.bucketFor(e.key.Block).index; want != b.index {
				errs = append(errs, fmt.Errorf("slot %d: key %s hashes to %d, on %d", i, e.key, want, b.index))
			}
			if other, dup := keys[e.key]; dup {
				errs = append(errs, fmt.Errorf("key %s cached in slots %d and %d", e.key, other, i))
			}
			keys[e.key] = i

			prev = i
			n++
			if n > len(p.entries) {
				errs = append(errs, fmt.Errorf("bucket %d: cycle", b.index))
				break
			}
		}
		if n != b.size {
			errs = append(errs, fmt.Errorf("bucket %d: size %d, counted %d", b.index, b.size, n))
		}
	}

	for i := range p.entries {
		e := &p.entries[i]
		_, listed := seen[e.slot]
		if !e.unused() && !listed {
			errs = append(errs, fmt.Errorf("slot %d: key %s on no bucket", i, e.key))
		}
		if e.unused() && e.member() {
			errs = append(errs, fmt.Errorf("slot %d: unused with bucket %d", i, e.bucket))
		}
	}

	return errors.Join(errs...)
}
