// Package hash provides the checksum used to detect corrupt stored blocks.
//
// # CRC32-Castagnoli (CRC32C)
//
// CRC32C is hardware accelerated on x86 (SSE4.2) and ARM (CRC extension)
// and detects all single-bit, double-bit and odd-bit errors, plus burst
// errors up to 32 bits.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(block)
//
// For streaming checksums:
//
//	h := hash.NewCRC32C()
//	h.Write(header)
//	h.Write(block)
//	checksum := h.Sum32()
package hash
