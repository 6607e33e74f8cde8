package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/bcache/internal/hash"
)

// Compression selects how blob-backed blocks are encoded.
type Compression uint8

const (
	// CompressionNone stores blocks verbatim.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast, good for hot data).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD (better ratio, good for cold data).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a name from String back to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	}
	return 0, fmt.Errorf("device: unknown compression %q", s)
}

// ErrCorruptBlock is returned when an encoded block cannot be decoded.
var ErrCorruptBlock = errors.New("device: corrupt block")

// Encoded block layout:
//
//	[Compression uint8][RawSize uint32][CRC32C of raw uint32][payload...]
//
// A block that does not shrink is stored with CompressionNone.
const headerSize = 9

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return dec
}

func encodeBlock(c Compression, raw []byte) ([]byte, error) {
	var payload []byte

	switch c {
	case CompressionNone:
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, err
		}
		// n == 0 means incompressible.
		if n > 0 {
			payload = dst[:n]
		}
	case CompressionZSTD:
		enc := getZstdEncoder()
		payload = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("device: unknown compression %d", c)
	}

	if payload == nil || len(payload) >= len(raw) {
		c, payload = CompressionNone, raw
	}

	out := make([]byte, headerSize+len(payload))
	out[0] = byte(c)
	binary.LittleEndian.PutUint32(out[1:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(out[5:], hash.CRC32C(raw))
	copy(out[headerSize:], payload)
	return out, nil
}

// decodeBlock decodes data into dst, which must be exactly the raw size.
func decodeBlock(data, dst []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("%w: %d byte header", ErrCorruptBlock, len(data))
	}
	c := Compression(data[0])
	size := int(binary.LittleEndian.Uint32(data[1:]))
	sum := binary.LittleEndian.Uint32(data[5:])
	payload := data[headerSize:]
	if size != len(dst) {
		return fmt.Errorf("%w: raw size %d, block size %d", ErrCorruptBlock, size, len(dst))
	}

	switch c {
	case CompressionNone:
		if len(payload) != size {
			return fmt.Errorf("%w: payload %d bytes, want %d", ErrCorruptBlock, len(payload), size)
		}
		copy(dst, payload)
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptBlock, err)
		}
		if n != size {
			return fmt.Errorf("%w: lz4 produced %d bytes, want %d", ErrCorruptBlock, n, size)
		}
	case CompressionZSTD:
		dec := getZstdDecoder()
		out, err := dec.DecodeAll(payload, dst[:0])
		zstdDecoderPool.Put(dec)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCorruptBlock, err)
		}
		if len(out) != size {
			return fmt.Errorf("%w: zstd produced %d bytes, want %d", ErrCorruptBlock, len(out), size)
		}
		// DecodeAll may have reallocated if dst was too small.
		if &out[0] != &dst[0] {
			copy(dst, out)
		}
	default:
		return fmt.Errorf("%w: unknown compression %d", ErrCorruptBlock, c)
	}

	if got := hash.CRC32C(dst); got != sum {
		return fmt.Errorf("%w: checksum %08x, want %08x", ErrCorruptBlock, got, sum)
	}
	return nil
}
