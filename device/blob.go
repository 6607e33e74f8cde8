package device

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/bcache/blobstore"
)

// BlobOptions configures a BlobDevice.
type BlobOptions struct {
	// BlockSize is the device block size. Defaults to DefaultBlockSize.
	BlockSize int

	// Compression is the codec applied to written blocks.
	Compression Compression
}

// BlobDevice stores each block as one object in a blob store under
// "dev-<id>/<block as 8 hex digits>.blk".
//
// A roaring bitmap per device records which blocks exist, so reads of
// blocks never written return zeros without a round trip to the store.
// Call Load to rebuild the bitmaps from an existing store.
type BlobDevice struct {
	store blobstore.BlobStore
	opts  BlobOptions

	mu      sync.RWMutex
	present map[ID]*roaring.Bitmap

	reads     atomic.Int64
	writes    atomic.Int64
	skipped   atomic.Int64
	stored    atomic.Int64 // encoded bytes written
	rawStored atomic.Int64 // block bytes written
}

// NewBlobDevice returns a device backed by store.
func NewBlobDevice(store blobstore.BlobStore, opts BlobOptions) *BlobDevice {
	if opts.BlockSize <= 0 {
		opts.BlockSize = DefaultBlockSize
	}
	return &BlobDevice{
		store:   store,
		opts:    opts,
		present: make(map[ID]*roaring.Bitmap),
	}
}

func blobName(dev ID, block BlockNo) string {
	return fmt.Sprintf("dev-%d/%08x.blk", dev, uint32(block))
}

// parseBlobName is the inverse of blobName.
func parseBlobName(name string) (ID, BlockNo, bool) {
	dir, file := path.Split(name)
	dir = strings.TrimSuffix(dir, "/")
	if !strings.HasPrefix(dir, "dev-") || !strings.HasSuffix(file, ".blk") {
		return 0, 0, false
	}
	dev, err := strconv.ParseUint(strings.TrimPrefix(dir, "dev-"), 10, 32)
	if err != nil {
		return 0, 0, false
	}
	block, err := strconv.ParseUint(strings.TrimSuffix(file, ".blk"), 16, 32)
	if err != nil {
		return 0, 0, false
	}
	return ID(dev), BlockNo(block), true
}

// Load rebuilds the presence bitmaps from the blobs already in the store.
// Names that are not block objects are ignored.
func (d *BlobDevice) Load(ctx context.Context) error {
	names, err := d.store.List(ctx, "dev-")
	if err != nil {
		return fmt.Errorf("device: list blobs: %w", err)
	}

	present := make(map[ID]*roaring.Bitmap)
	for _, name := range names {
		dev, block, ok := parseBlobName(name)
		if !ok {
			continue
		}
		bm, ok := present[dev]
		if !ok {
			bm = roaring.New()
			present[dev] = bm
		}
		bm.Add(uint32(block))
	}

	d.mu.Lock()
	d.present = present
	d.mu.Unlock()
	return nil
}

func (d *BlobDevice) isPresent(dev ID, block BlockNo) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	bm, ok := d.present[dev]
	return ok && bm.Contains(uint32(block))
}

func (d *BlobDevice) markPresent(dev ID, block BlockNo) {
	d.mu.Lock()
	defer d.mu.Unlock()

	bm, ok := d.present[dev]
	if !ok {
		bm = roaring.New()
		d.present[dev] = bm
	}
	bm.Add(uint32(block))
}

// ReadBlock implements Device.
func (d *BlobDevice) ReadBlock(ctx context.Context, dev ID, block BlockNo, buf []byte) error {
	if err := checkBuf(buf, d.opts.BlockSize); err != nil {
		return err
	}
	if !d.isPresent(dev, block) {
		d.skipped.Add(1)
		clear(buf)
		return nil
	}

	data, err := d.store.Get(ctx, blobName(dev, block))
	d.reads.Add(1)
	if errors.Is(err, blobstore.ErrNotFound) {
		// Deleted behind our back.
		clear(buf)
		return nil
	}
	if err != nil {
		return err
	}
	return decodeBlock(data, buf)
}

// WriteBlock implements Device.
func (d *BlobDevice) WriteBlock(ctx context.Context, dev ID, block BlockNo, buf []byte) error {
	if err := checkBuf(buf, d.opts.BlockSize); err != nil {
		return err
	}

	data, err := encodeBlock(d.opts.Compression, buf)
	if err != nil {
		return err
	}
	if err := d.store.Put(ctx, blobName(dev, block), data); err != nil {
		return err
	}

	d.markPresent(dev, block)
	d.writes.Add(1)
	d.stored.Add(int64(len(data)))
	d.rawStored.Add(int64(len(buf)))
	return nil
}

// Blocks returns the number of stored blocks on dev.
func (d *BlobDevice) Blocks(dev ID) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if bm, ok := d.present[dev]; ok {
		return bm.GetCardinality()
	}
	return 0
}

// Stats returns operation totals. Reads counts store round trips only.
func (d *BlobDevice) Stats() Stats {
	return Stats{
		Reads:  d.reads.Load(),
		Writes: d.writes.Load(),
	}
}

// SkippedReads returns reads answered from the presence bitmap.
func (d *BlobDevice) SkippedReads() int64 {
	return d.skipped.Load()
}

// CompressionRatio returns encoded bytes over raw bytes written, or 0
// before the first write.
func (d *BlobDevice) CompressionRatio() float64 {
	raw := d.rawStored.Load()
	if raw == 0 {
		return 0
	}
	return float64(d.stored.Load()) / float64(raw)
}

// BlockSize returns the device block size.
func (d *BlobDevice) BlockSize() int {
	return d.opts.BlockSize
}
