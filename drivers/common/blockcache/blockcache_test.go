package blockcache_test

import (
	"bytes"
	"testing"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/common/blockcache"
	flatdisktest "github.com/dargueta/flatdisk/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache__ReadThrough(t *testing.T) {
	backing, image := flatdisktest.CreateMemoryDevice(t, 8)
	copy(image[2*flatdisk.BlockSize:], bytes.Repeat([]byte{0x5a}, flatdisk.BlockSize))

	cache := blockcache.New(backing)
	assert.Equal(t, 8, cache.TotalBlocks())

	buf := make([]byte, flatdisk.BlockSize)
	require.NoError(t, cache.ReadBlock(2, buf))
	assert.Equal(t, bytes.Repeat([]byte{0x5a}, flatdisk.BlockSize), buf)
}

func TestCache__WriteBack(t *testing.T) {
	backing, image := flatdisktest.CreateMemoryDevice(t, 8)
	cache := blockcache.New(backing)

	data := flatdisktest.RandomBytes(t, flatdisk.BlockSize)
	require.NoError(t, cache.WriteBlock(5, data))
	assert.Equal(t, 1, cache.DirtyBlocks())

	assert.Equal(
		t,
		make([]byte, flatdisk.BlockSize),
		image[5*flatdisk.BlockSize:6*flatdisk.BlockSize],
		"write reached the backing device before a flush",
	)

	readBack := make([]byte, flatdisk.BlockSize)
	require.NoError(t, cache.ReadBlock(5, readBack))
	assert.Equal(t, data, readBack)

	require.NoError(t, cache.Sync())
	assert.Equal(t, 0, cache.DirtyBlocks())
	assert.Equal(t, data, image[5*flatdisk.BlockSize:6*flatdisk.BlockSize])
}

func TestCache__BadArguments(t *testing.T) {
	backing, _ := flatdisktest.CreateMemoryDevice(t, 4)
	cache := blockcache.New(backing)

	err := cache.ReadBlock(4, make([]byte, flatdisk.BlockSize))
	assert.ErrorIs(t, err, flatdisk.ErrArgumentOutOfRange)

	err = cache.WriteBlock(0, make([]byte, 10))
	assert.ErrorIs(t, err, flatdisk.ErrInvalidArgument)
	assert.Equal(t, 0, cache.DirtyBlocks())
}

func TestCache__CloseFlushes(t *testing.T) {
	backing, image := flatdisktest.CreateMemoryDevice(t, 4)
	cache := blockcache.New(backing)

	require.NoError(t, cache.WriteBlock(1, bytes.Repeat([]byte{1}, flatdisk.BlockSize)))
	require.NoError(t, cache.Close())
	assert.Equal(t, bytes.Repeat([]byte{1}, flatdisk.BlockSize), image[flatdisk.BlockSize:2*flatdisk.BlockSize])
}
