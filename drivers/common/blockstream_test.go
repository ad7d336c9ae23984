package common_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockStream__ReadWrite__Basic(t *testing.T) {
	image := make([]byte, 4*flatdisk.BlockSize)
	device := common.NewMemoryDeviceFromBytes(image)
	assert.Equal(t, 4, device.TotalBlocks())

	data := bytes.Repeat([]byte{0xa5}, flatdisk.BlockSize)
	require.NoError(t, device.WriteBlock(2, data))

	assert.Equal(
		t,
		data,
		image[2*flatdisk.BlockSize:3*flatdisk.BlockSize],
		"write didn't land in the backing image",
	)

	readBack := make([]byte, flatdisk.BlockSize)
	require.NoError(t, device.ReadBlock(2, readBack))
	assert.Equal(t, data, readBack)

	require.NoError(t, device.ReadBlock(1, readBack))
	assert.Equal(t, make([]byte, flatdisk.BlockSize), readBack, "neighbor block modified")
}

func TestBlockStream__OutOfBounds(t *testing.T) {
	device := common.NewMemoryDevice(4)
	buf := make([]byte, flatdisk.BlockSize)

	assert.ErrorIs(t, device.ReadBlock(4, buf), flatdisk.ErrArgumentOutOfRange)
	assert.ErrorIs(t, device.WriteBlock(-1, buf), flatdisk.ErrArgumentOutOfRange)
	assert.ErrorIs(t, device.ReadBlock(0, buf[:10]), flatdisk.ErrInvalidArgument)
}

func TestBlockStream__StartOffset(t *testing.T) {
	image := make([]byte, 3*flatdisk.BlockSize)
	device := common.NewMemoryDeviceFromBytes(image)
	device.StartOffset = flatdisk.BlockSize

	offset, err := device.BlockIDToFileOffset(1)
	require.NoError(t, err)
	assert.EqualValues(t, 2*flatdisk.BlockSize, offset)
}

func TestFileDevice__CreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")

	device, err := common.NewFileDevice(path, 8)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("flat"), flatdisk.BlockSize/4)
	require.NoError(t, device.WriteBlock(7, data))
	require.NoError(t, device.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 8*flatdisk.BlockSize, info.Size())

	reopened, err := common.NewFileDevice(path, 0)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 8, reopened.TotalBlocks())

	readBack := make([]byte, flatdisk.BlockSize)
	require.NoError(t, reopened.ReadBlock(7, readBack))
	assert.Equal(t, data, readBack)
}

func TestFileDevice__EmptyWithoutSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	_, err := common.NewFileDevice(path, 0)
	assert.ErrorIs(t, err, flatdisk.ErrInvalidArgument)
}
