// Package testing contains helpers shared by the tests of multiple packages.
package testing

import (
	"crypto/rand"
	"testing"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/common"
	"github.com/stretchr/testify/require"
)

// CreateMemoryDevice creates a zero-filled in-memory block device along with
// its backing image, so tests can inspect raw bytes.
func CreateMemoryDevice(t *testing.T, totalBlocks int) (*common.BlockStream, []byte) {
	require.Greater(t, totalBlocks, 0, "device must have at least one block")

	image := make([]byte, totalBlocks*flatdisk.BlockSize)
	return common.NewMemoryDeviceFromBytes(image), image
}

// RandomBytes returns `size` random bytes. It's guaranteed to either return a
// valid slice or fail the test and abort.
func RandomBytes(t *testing.T, size int) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoErrorf(t, err, "failed to generate %d random bytes", size)
	return data
}

// ReadRawBlock reads one block straight off the device, bypassing any file
// system structures.
func ReadRawBlock(t *testing.T, device flatdisk.BlockDevice, block int) []byte {
	buf := make([]byte, flatdisk.BlockSize)
	require.NoErrorf(t, device.ReadBlock(block, buf), "failed to read block %d", block)
	return buf
}
