package device

import (
	"context"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// MemoryDevice keeps blocks in memory. Blocks never written read as zeros.
// It counts reads and writes per block, which makes it useful in tests.
type MemoryDevice struct {
	blockSize int

	mu      sync.Mutex
	blocks  map[key][]byte
	written map[ID]*roaring.Bitmap
	reads   map[key]int
	writes  map[key]int
	stats   Stats
}

type key struct {
	dev   ID
	block BlockNo
}

// NewMemoryDevice returns an empty device with the given block size.
func NewMemoryDevice(blockSize int) *MemoryDevice {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &MemoryDevice{
		blockSize: blockSize,
		blocks:    make(map[key][]byte),
		written:   make(map[ID]*roaring.Bitmap),
		reads:     make(map[key]int),
		writes:    make(map[key]int),
	}
}

// ReadBlock implements Device.
func (m *MemoryDevice) ReadBlock(ctx context.Context, dev ID, block BlockNo, buf []byte) error {
	if err := checkBuf(buf, m.blockSize); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{dev, block}
	m.reads[k]++
	m.stats.Reads++
	if data, ok := m.blocks[k]; ok {
		copy(buf, data)
	} else {
		clear(buf)
	}
	return nil
}

// WriteBlock implements Device.
func (m *MemoryDevice) WriteBlock(ctx context.Context, dev ID, block BlockNo, buf []byte) error {
	if err := checkBuf(buf, m.blockSize); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{dev, block}
	m.writes[k]++
	m.stats.Writes++
	data, ok := m.blocks[k]
	if !ok {
		data = make([]byte, m.blockSize)
		m.blocks[k] = data
	}
	copy(data, buf)

	bm, ok := m.written[dev]
	if !ok {
		bm = roaring.New()
		m.written[dev] = bm
	}
	bm.Add(uint32(block))
	return nil
}

// Reads returns how often block was read.
func (m *MemoryDevice) Reads(dev ID, block BlockNo) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads[key{dev, block}]
}

// Writes returns how often block was written.
func (m *MemoryDevice) Writes(dev ID, block BlockNo) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[key{dev, block}]
}

// Written returns the sorted block numbers ever written on dev.
func (m *MemoryDevice) Written(dev ID) []BlockNo {
	m.mu.Lock()
	defer m.mu.Unlock()

	bm, ok := m.written[dev]
	if !ok {
		return nil
	}
	out := make([]BlockNo, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, BlockNo(it.Next()))
	}
	return out
}

// Stats returns operation totals.
func (m *MemoryDevice) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// BlockSize returns the device block size.
func (m *MemoryDevice) BlockSize() int {
	return m.blockSize
}
