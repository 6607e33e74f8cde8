package device

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bcache/blobstore"
	"github.com/hupe1980/bcache/internal/fs"
	"github.com/hupe1980/bcache/resource"
)

const testBlockSize = 64

func pattern(seed byte) []byte {
	buf := make([]byte, testBlockSize)
	for i := range buf {
		buf[i] = seed + byte(i%7)
	}
	return buf
}

// exercise runs the behavior every Device must share.
func exercise(t *testing.T, d Device) {
	t.Helper()
	ctx := t.Context()
	buf := make([]byte, testBlockSize)

	// Unwritten blocks read as zeros.
	buf[0] = 0xff
	require.NoError(t, d.ReadBlock(ctx, 1, 5, buf))
	assert.Equal(t, make([]byte, testBlockSize), buf)

	require.NoError(t, d.WriteBlock(ctx, 1, 5, pattern(1)))
	require.NoError(t, d.WriteBlock(ctx, 2, 5, pattern(2)))

	require.NoError(t, d.ReadBlock(ctx, 1, 5, buf))
	assert.Equal(t, pattern(1), buf)
	require.NoError(t, d.ReadBlock(ctx, 2, 5, buf))
	assert.Equal(t, pattern(2), buf)

	// Overwrite.
	require.NoError(t, d.WriteBlock(ctx, 1, 5, pattern(9)))
	require.NoError(t, d.ReadBlock(ctx, 1, 5, buf))
	assert.Equal(t, pattern(9), buf)

	// Wrong buffer sizes are rejected.
	assert.ErrorIs(t, d.ReadBlock(ctx, 1, 5, make([]byte, testBlockSize-1)), ErrShortBuffer)
	assert.ErrorIs(t, d.WriteBlock(ctx, 1, 5, make([]byte, testBlockSize+1)), ErrShortBuffer)
}

func TestMemoryDevice(t *testing.T) {
	d := NewMemoryDevice(testBlockSize)
	exercise(t, d)

	assert.Equal(t, 3, d.Reads(1, 5))
	assert.Equal(t, 2, d.Writes(1, 5))
	assert.Equal(t, []BlockNo{5}, d.Written(1))
	assert.Nil(t, d.Written(7))
	assert.Equal(t, Stats{Reads: 4, Writes: 3}, d.Stats())
}

func TestMemoryDevice_CanceledContext(t *testing.T) {
	d := NewMemoryDevice(testBlockSize)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, d.ReadBlock(ctx, 1, 1, make([]byte, testBlockSize)), context.Canceled)
	assert.ErrorIs(t, d.WriteBlock(ctx, 1, 1, make([]byte, testBlockSize)), context.Canceled)
	assert.Zero(t, d.Stats().Reads)
}

func TestFileDevice(t *testing.T) {
	dir := t.TempDir()
	d := NewFileDevice(testBlockSize)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Open(1, filepath.Join(dir, "one", "disk.img")))
	require.NoError(t, d.Open(2, filepath.Join(dir, "two.img")))

	exercise(t, d)
	require.NoError(t, d.Sync())

	st := d.Stats()
	assert.Equal(t, int64(1), st.Syncs)
	assert.Equal(t, int64(3), st.Writes)

	// Block 5 lands at its offset; the hole before it is zero.
	raw, err := os.ReadFile(filepath.Join(dir, "one", "disk.img"))
	require.NoError(t, err)
	require.Len(t, raw, 6*testBlockSize)
	assert.Equal(t, make([]byte, 5*testBlockSize), raw[:5*testBlockSize])
	assert.Equal(t, pattern(9), raw[5*testBlockSize:])
}

func TestFileDevice_Reopen(t *testing.T) {
	p := filepath.Join(t.TempDir(), "disk.img")

	d := NewFileDevice(testBlockSize)
	require.NoError(t, d.Open(3, p))
	require.NoError(t, d.WriteBlock(t.Context(), 3, 2, pattern(4)))
	require.NoError(t, d.Close())

	d = NewFileDevice(testBlockSize)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Open(3, p))

	buf := make([]byte, testBlockSize)
	require.NoError(t, d.ReadBlock(t.Context(), 3, 2, buf))
	assert.Equal(t, pattern(4), buf)
}

func TestFileDevice_UnknownDevice(t *testing.T) {
	d := NewFileDevice(testBlockSize)
	buf := make([]byte, testBlockSize)

	assert.ErrorIs(t, d.ReadBlock(t.Context(), 9, 0, buf), ErrUnknownDevice)
	assert.ErrorIs(t, d.WriteBlock(t.Context(), 9, 0, buf), ErrUnknownDevice)
}

func TestFileDevice_Faults(t *testing.T) {
	ctx := t.Context()
	ffs := fs.NewFaultyFS(nil)
	d := newFileDevice(ffs, testBlockSize)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Open(1, filepath.Join(t.TempDir(), "bad.img")))

	require.NoError(t, d.WriteBlock(ctx, 1, 0, pattern(1)))

	ffs.AddRule("bad.img", fs.Fault{FailReads: true, FailAfterBytes: -1})
	assert.ErrorIs(t, d.ReadBlock(ctx, 1, 0, make([]byte, testBlockSize)), fs.ErrInjected)

	ffs.AddRule("bad.img", fs.Fault{FailAfterBytes: testBlockSize, FailOnSync: true})
	assert.ErrorIs(t, d.WriteBlock(ctx, 1, 1, pattern(2)), fs.ErrInjected)
	assert.ErrorIs(t, d.Sync(), fs.ErrInjected)

	ffs.ClearRules()
	buf := make([]byte, testBlockSize)
	require.NoError(t, d.ReadBlock(ctx, 1, 0, buf))
	assert.Equal(t, pattern(1), buf)
	require.NoError(t, d.Sync())
}

func TestBlobDevice(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			store := blobstore.NewMemoryStore()
			d := NewBlobDevice(store, BlobOptions{BlockSize: testBlockSize, Compression: c})
			exercise(t, d)

			assert.Equal(t, 2, store.Len())
			assert.Equal(t, uint64(1), d.Blocks(1))
			assert.Equal(t, int64(1), d.SkippedReads())
			assert.Equal(t, int64(3), d.Stats().Reads)

			names, err := store.List(t.Context(), "")
			require.NoError(t, err)
			assert.Equal(t, []string{"dev-1/00000005.blk", "dev-2/00000005.blk"}, names)
		})
	}
}

func TestBlobDevice_CompressesRepetitiveBlocks(t *testing.T) {
	for _, c := range []Compression{CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			d := NewBlobDevice(blobstore.NewMemoryStore(), BlobOptions{BlockSize: 4096, Compression: c})

			block := bytes.Repeat([]byte("abcd"), 1024)
			require.NoError(t, d.WriteBlock(t.Context(), 1, 0, block))
			assert.Less(t, d.CompressionRatio(), 0.5)

			buf := make([]byte, 4096)
			require.NoError(t, d.ReadBlock(t.Context(), 1, 0, buf))
			assert.Equal(t, block, buf)
		})
	}
}

func TestBlobDevice_Load(t *testing.T) {
	ctx := t.Context()
	store := blobstore.NewLocalStore(t.TempDir())

	d := NewBlobDevice(store, BlobOptions{BlockSize: testBlockSize, Compression: CompressionLZ4})
	require.NoError(t, d.WriteBlock(ctx, 4, 0x1234, pattern(3)))
	require.NoError(t, store.Put(ctx, "dev-4/notes.txt", []byte("ignored")))

	// A fresh device knows nothing until it loads the store.
	d = NewBlobDevice(store, BlobOptions{BlockSize: testBlockSize, Compression: CompressionLZ4})
	buf := make([]byte, testBlockSize)
	require.NoError(t, d.ReadBlock(ctx, 4, 0x1234, buf))
	assert.Equal(t, make([]byte, testBlockSize), buf)

	require.NoError(t, d.Load(ctx))
	assert.Equal(t, uint64(1), d.Blocks(4))
	require.NoError(t, d.ReadBlock(ctx, 4, 0x1234, buf))
	assert.Equal(t, pattern(3), buf)
}

func TestBlobDevice_CorruptBlob(t *testing.T) {
	store := blobstore.NewMemoryStore()
	d := NewBlobDevice(store, BlobOptions{BlockSize: testBlockSize})
	require.NoError(t, d.WriteBlock(t.Context(), 1, 1, pattern(1)))
	require.NoError(t, store.Put(t.Context(), blobName(1, 1), []byte{0, 1}))

	err := d.ReadBlock(t.Context(), 1, 1, make([]byte, testBlockSize))
	assert.ErrorIs(t, err, ErrCorruptBlock)
}

func TestParseBlobName(t *testing.T) {
	dev, block, ok := parseBlobName(blobName(12, 0xdeadbeef))
	require.True(t, ok)
	assert.Equal(t, ID(12), dev)
	assert.Equal(t, BlockNo(0xdeadbeef), block)

	for _, name := range []string{"dev-1/xyz.blk", "dev-x/00000001.blk", "other/00000001.blk", "dev-1/00000001.dat"} {
		_, _, ok := parseBlobName(name)
		assert.False(t, ok, name)
	}
}

func TestCodec_Roundtrip(t *testing.T) {
	inputs := map[string][]byte{
		"zeros":  make([]byte, 512),
		"random": pattern(17),
		"text":   bytes.Repeat([]byte("block cache "), 40),
	}
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		for name, raw := range inputs {
			t.Run(c.String()+"/"+name, func(t *testing.T) {
				enc, err := encodeBlock(c, raw)
				require.NoError(t, err)

				dst := make([]byte, len(raw))
				require.NoError(t, decodeBlock(enc, dst))
				assert.Equal(t, raw, dst)
			})
		}
	}
}

func TestCodec_DetectsBitFlip(t *testing.T) {
	enc, err := encodeBlock(CompressionNone, pattern(5))
	require.NoError(t, err)
	enc[headerSize+3] ^= 0x10

	assert.ErrorIs(t, decodeBlock(enc, make([]byte, testBlockSize)), ErrCorruptBlock)
}

func TestCodec_SizeMismatch(t *testing.T) {
	enc, err := encodeBlock(CompressionZSTD, make([]byte, 128))
	require.NoError(t, err)
	assert.ErrorIs(t, decodeBlock(enc, make([]byte, 64)), ErrCorruptBlock)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
}

func TestRateLimited(t *testing.T) {
	mem := NewMemoryDevice(testBlockSize)
	assert.Same(t, Device(mem), RateLimited(mem, nil))

	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: testBlockSize})
	d := RateLimited(mem, rc)

	require.NoError(t, d.WriteBlock(t.Context(), 1, 1, pattern(1)))
	assert.Equal(t, int64(testBlockSize), rc.IOBytes())

	// Budget is spent; the read cannot be admitted before the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, d.ReadBlock(ctx, 1, 1, make([]byte, testBlockSize)))
	assert.Zero(t, mem.Reads(1, 1))

	s, ok := d.(Syncer)
	require.True(t, ok)
	assert.NoError(t, s.Sync())
}
