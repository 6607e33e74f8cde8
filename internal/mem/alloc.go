package mem

import (
	"unsafe"
)

// Alignment is the default byte alignment: one cache line.
const Alignment = 64

// AllocAligned allocates a byte slice of the given size with Alignment-byte
// alignment. It returns nil for sizes <= 0.
func AllocAligned(size int) []byte {
	return AllocAlignedTo(size, Alignment)
}

// AllocAlignedTo allocates a byte slice of the given size whose first byte
// sits at an address divisible by align, which must be a power of two.
//
// The function allocates up to align-1 extra bytes. The underlying array is
// kept alive by the returned slice.
func AllocAlignedTo(size, align int) []byte {
	if size <= 0 {
		return nil
	}
	if align <= 0 || align&(align-1) != 0 {
		panic("mem: alignment must be a power of two")
	}

	buf := make([]byte, size+align)

	addr := uintptr(unsafe.Pointer(&buf[0])) //nolint:gosec // unsafe is required for memory alignment
	offset := int((uintptr(align) - (addr & uintptr(align-1))) & uintptr(align-1))

	return buf[offset : offset+size : offset+size]
}

// IsAligned reports whether b starts at an address divisible by align.
func IsAligned(b []byte, align int) bool {
	if len(b) == 0 {
		return true
	}
	addr := uintptr(unsafe.Pointer(&b[0])) //nolint:gosec // unsafe is required for memory alignment
	return addr&uintptr(align-1) == 0
}
