package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllocAligned(t *testing.T) {
	sizes := []int{1, 10, 63, 64, 65, 100, 1024}

	for _, size := range sizes {
		buf := AllocAligned(size)
		assert.Len(t, buf, size)
		assert.Equal(t, size, cap(buf))
		assert.True(t, IsAligned(buf, Alignment), "size %d", size)
	}

	assert.Nil(t, AllocAligned(0))
	assert.Nil(t, AllocAligned(-1))
}

func TestAllocAlignedTo(t *testing.T) {
	for _, align := range []int{1, 8, 512, 4096} {
		buf := AllocAlignedTo(3*align+1, align)
		assert.Len(t, buf, 3*align+1)
		assert.True(t, IsAligned(buf, align), "align %d", align)
	}

	assert.Panics(t, func() { AllocAlignedTo(10, 3) })
	assert.Panics(t, func() { AllocAlignedTo(10, 0) })
}
