// Package bufpool implements the concurrency and eviction engine of the
// block buffer cache.
//
// # Layout
//
// A Pool owns a fixed arena of Entries, a fixed array of buckets and one
// coarse lock. Entries are addressed by slot index; bucket membership is an
// intrusive doubly linked list of slot indices, so inserting and unlinking
// are O(1) and no entry is ever freed.
//
//	┌────────────────────────── Pool ───────────────────────────┐
//	│ mu (coarse, allocation/eviction only)                     │
//	│                                                           │
//	│ buckets:  [0] ─▶ 5 ─▶ 2        [1] ─▶ 7     [2] ─▶ (empty)│
//	│ entries:  [0] [1] [2] ... [NBUF-1]                        │
//	└───────────────────────────────────────────────────────────┘
//
// # Locking
//
//   - A bucket lock guards its list and the key, refcount and valid flag of
//     every member entry.
//   - The pool lock is taken only on a lookup miss and serializes every
//     insertion into a bucket. It always ranks before bucket locks.
//   - When two bucket locks are needed, lockorder.Both acquires them in
//     bucket index order.
//   - An entry's sleep lock guards its data. It is never acquired while a
//     pool or bucket lock is held.
//
// # Eviction
//
// A miss first claims a never-used slot. Once none remain, slots are scanned
// in index order and the first one with a zero refcount is reassigned. There
// is no recency ordering.
package bufpool
