// Package lockorder acquires pairs of locks in a fixed global order.
//
// Every lock that may be held together with another carries a unique rank.
// When two locks are held at the same time, the lower-ranked one is always
// acquired first, so no two goroutines can wait on each other in a cycle.
package lockorder

import (
	"fmt"
	"sync"
)

// Orderable is a lock with a stable rank in the global lock order.
// Distinct locks must have distinct ranks.
type Orderable interface {
	sync.Locker
	Order() uint64
}

// Pair is a guard for two held locks. When both handles refer to the same
// lock, it is held once.
type Pair struct {
	held  Orderable
	other Orderable
}

// Both acquires other while the caller already holds held.
//
// If other ranks below held, held is released, other is acquired, and held is
// reacquired. Anything held protects may change during that window. If other
// is held itself, Both does nothing.
func Both(held, other Orderable) Pair {
	if held == other {
		return Pair{held: held}
	}

	ho, oo := held.Order(), other.Order()
	switch {
	case ho == oo:
		panic(fmt.Sprintf("lockorder: distinct locks share rank %d", ho))
	case oo < ho:
		held.Unlock()
		other.Lock()
		held.Lock()
	default:
		other.Lock()
	}

	return Pair{held: held, other: other}
}

// Distinct reports whether the pair holds two different locks.
func (p Pair) Distinct() bool {
	return p.other != nil
}

// ReleaseOther releases the second lock, leaving the first held.
func (p *Pair) ReleaseOther() {
	if p.other != nil {
		p.other.Unlock()
		p.other = nil
	}
}

// Release releases every lock in the pair.
func (p *Pair) Release() {
	p.ReleaseOther()
	if p.held != nil {
		p.held.Unlock()
		p.held = nil
	}
}
