// Package mem provides memory allocation utilities.
//
// # Aligned Allocation
//
// Buffer arenas are allocated cache-line aligned, or page aligned for
// block sizes that are a multiple of the page size, so each block buffer
// starts on a boundary that direct I/O and the CPU caches favor.
package mem
