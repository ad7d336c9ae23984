package common_test

import (
	"bytes"
	"testing"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGooseDevice__SectorsShareDiskBlock(t *testing.T) {
	// 20 blocks need three goose blocks; the last one is only partly used.
	device := common.NewGooseMemoryDevice(20)
	assert.Equal(t, 20, device.TotalBlocks())

	for block := 0; block < 20; block++ {
		data := bytes.Repeat([]byte{byte(block + 1)}, flatdisk.BlockSize)
		require.NoError(t, device.WriteBlock(block, data), "writing block %d", block)
	}

	buf := make([]byte, flatdisk.BlockSize)
	for block := 0; block < 20; block++ {
		require.NoError(t, device.ReadBlock(block, buf))
		assert.Equal(
			t,
			bytes.Repeat([]byte{byte(block + 1)}, flatdisk.BlockSize),
			buf,
			"block %d clobbered by a neighbor",
			block,
		)
	}
	assert.NoError(t, device.Sync())
}

func TestGooseDevice__OutOfBounds(t *testing.T) {
	device := common.NewGooseMemoryDevice(8)
	buf := make([]byte, flatdisk.BlockSize)
	assert.ErrorIs(t, device.ReadBlock(8, buf), flatdisk.ErrArgumentOutOfRange)
	assert.ErrorIs(t, device.WriteBlock(8, buf), flatdisk.ErrArgumentOutOfRange)
}

func TestGooseFileDevice__RequiresSize(t *testing.T) {
	_, err := common.NewGooseFileDevice(t.TempDir()+"/disk.img", 0)
	assert.ErrorIs(t, err, flatdisk.ErrInvalidArgument)
}

func TestGooseDevice__Close(t *testing.T) {
	device := common.NewGooseMemoryDevice(8)
	require.NoError(t, device.Close())

	buf := make([]byte, flatdisk.BlockSize)
	assert.ErrorIs(t, device.ReadBlock(0, buf), flatdisk.ErrIOFailed)
	assert.ErrorIs(t, device.WriteBlock(0, buf), flatdisk.ErrIOFailed)
	assert.ErrorIs(t, device.Sync(), flatdisk.ErrIOFailed)
	assert.ErrorIs(t, device.Close(), flatdisk.ErrIOFailed, "second close hid the sync failure")
}

func TestGooseFileDevice__CloseAndReopen(t *testing.T) {
	path := t.TempDir() + "/disk.img"
	data := bytes.Repeat([]byte{0x5a}, flatdisk.BlockSize)

	device, err := common.NewGooseFileDevice(path, 16)
	require.NoError(t, err)
	require.NoError(t, device.WriteBlock(9, data))
	require.NoError(t, device.Close())

	reopened, err := common.NewGooseFileDevice(path, 16)
	require.NoError(t, err)
	defer reopened.Close()

	buf := make([]byte, flatdisk.BlockSize)
	require.NoError(t, reopened.ReadBlock(9, buf))
	assert.Equal(t, data, buf)
}
