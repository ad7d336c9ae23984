package flatfs_test

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/common"
	"github.com/dargueta/flatdisk/drivers/flatfs"
	flatdisktest "github.com/dargueta/flatdisk/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstDataBlock(t *testing.T) {
	// Whole number of inode blocks
	assert.Equal(t, 2, flatfs.FirstDataBlock(16))
	assert.Equal(t, 3, flatfs.FirstDataBlock(32))
	assert.Equal(t, 5, flatfs.FirstDataBlock(64))
	// Partially filled last inode block
	assert.Equal(t, 2, flatfs.FirstDataBlock(1))
	assert.Equal(t, 2, flatfs.FirstDataBlock(8))
	assert.Equal(t, 3, flatfs.FirstDataBlock(17))
}

func TestSuperBlock__FormatThenInitialize(t *testing.T) {
	device, _ := flatdisktest.CreateMemoryDevice(t, 100)

	sb, err := flatfs.LoadSuperBlock(device, 32, discardLogger())
	require.NoError(t, err, "blank device should be formatted")
	assert.Equal(t, 100, sb.TotalBlocks())
	assert.Equal(t, 32, sb.TotalInodes())
	assert.Equal(t, 3, sb.FirstDataBlock())
	assert.Equal(t, 3, sb.FreeListHead())

	// A different default must be ignored now that the header is valid.
	reloaded, err := flatfs.LoadSuperBlock(device, 64, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, sb.TotalBlocks(), reloaded.TotalBlocks())
	assert.Equal(t, sb.TotalInodes(), reloaded.TotalInodes())
	assert.Equal(t, sb.FreeListHead(), reloaded.FreeListHead())
}

func TestSuperBlock__HeaderFollowsFreeList(t *testing.T) {
	device, _ := flatdisktest.CreateMemoryDevice(t, 50)
	sb, err := flatfs.LoadSuperBlock(device, 16, discardLogger())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = sb.GetFreeBlock()
		require.NoError(t, err)
	}

	reloaded, err := flatfs.LoadSuperBlock(device, 16, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, sb.FreeListHead(), reloaded.FreeListHead())
	assert.Equal(t, 7, reloaded.FreeListHead())
}

func TestSuperBlock__MismatchedCapacityReformats(t *testing.T) {
	small, smallImage := flatdisktest.CreateMemoryDevice(t, 40)
	_, err := flatfs.LoadSuperBlock(small, 16, discardLogger())
	require.NoError(t, err)

	bigImage := make([]byte, 80*flatdisk.BlockSize)
	copy(bigImage, smallImage)
	big := common.NewMemoryDeviceFromBytes(bigImage)

	sb, err := flatfs.LoadSuperBlock(big, 32, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 80, sb.TotalBlocks())
	assert.Equal(t, 32, sb.TotalInodes(), "disk wasn't reformatted")
}

func TestSuperBlock__FreeListLayout(t *testing.T) {
	device, _ := flatdisktest.CreateMemoryDevice(t, 20)
	sb, err := flatfs.LoadSuperBlock(device, 16, discardLogger())
	require.NoError(t, err)

	for block := sb.FirstDataBlock(); block < 20; block++ {
		raw := flatdisktest.ReadRawBlock(t, device, block)
		assert.EqualValues(
			t, block+1, binary.LittleEndian.Uint32(raw), "wrong link in block %d", block)
	}
}

func TestSuperBlock__GetAndReturn__NoCycles(t *testing.T) {
	const totalBlocks = 64

	device, _ := flatdisktest.CreateMemoryDevice(t, totalBlocks)
	sb, err := flatfs.LoadSuperBlock(device, 16, discardLogger())
	require.NoError(t, err)
	dataBlocks := totalBlocks - sb.FirstDataBlock()

	taken := map[int]bool{}
	for {
		block, err := sb.GetFreeBlock()
		if err != nil {
			require.ErrorIs(t, err, flatdisk.ErrNoSpaceOnDevice)
			break
		}
		require.False(t, taken[block], "block %d handed out twice", block)
		require.GreaterOrEqual(t, block, sb.FirstDataBlock())
		taken[block] = true
	}
	assert.Len(t, taken, dataBlocks)
	assert.Equal(t, totalBlocks, sb.FreeListHead(), "exhausted list should hold the sentinel")

	order := make([]int, 0, len(taken))
	for block := range taken {
		order = append(order, block)
	}
	rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	for i, block := range order {
		require.NoError(t, sb.ReturnBlock(block))
		count, err := sb.CountFreeBlocks()
		require.NoError(t, err, "free list damaged after %d returns", i+1)
		require.Equal(t, i+1, count)
	}

	seen := map[int]bool{}
	for i := 0; i < dataBlocks; i++ {
		block, err := sb.GetFreeBlock()
		require.NoError(t, err)
		require.False(t, seen[block], "block %d handed out twice", block)
		seen[block] = true
	}
	_, err = sb.GetFreeBlock()
	assert.ErrorIs(t, err, flatdisk.ErrNoSpaceOnDevice)
}

func TestSuperBlock__ReturnBlock__OutOfRange(t *testing.T) {
	device, _ := flatdisktest.CreateMemoryDevice(t, 20)
	sb, err := flatfs.LoadSuperBlock(device, 16, discardLogger())
	require.NoError(t, err)

	head := sb.FreeListHead()
	assert.ErrorIs(t, sb.ReturnBlock(0), flatdisk.ErrArgumentOutOfRange, "header block")
	assert.ErrorIs(t, sb.ReturnBlock(1), flatdisk.ErrArgumentOutOfRange, "inode block")
	assert.ErrorIs(t, sb.ReturnBlock(20), flatdisk.ErrArgumentOutOfRange, "past the end")
	assert.Equal(t, head, sb.FreeListHead(), "failed return changed the list")
}

func TestSuperBlock__CorruptLink(t *testing.T) {
	device, _ := flatdisktest.CreateMemoryDevice(t, 20)
	sb, err := flatfs.LoadSuperBlock(device, 16, discardLogger())
	require.NoError(t, err)

	head := sb.FreeListHead()
	raw := flatdisktest.ReadRawBlock(t, device, head)
	binary.LittleEndian.PutUint32(raw, 1)
	require.NoError(t, device.WriteBlock(head, raw))

	_, err = sb.GetFreeBlock()
	assert.ErrorIs(t, err, flatdisk.ErrFileSystemCorrupted)
	assert.Equal(t, head, sb.FreeListHead())
}

func TestSuperBlock__Format__Invalid(t *testing.T) {
	device, _ := flatdisktest.CreateMemoryDevice(t, 10)
	sb, err := flatfs.LoadSuperBlock(device, 16, discardLogger())
	require.NoError(t, err)

	assert.ErrorIs(t, sb.Format(0), flatdisk.ErrInvalidArgument)
	assert.ErrorIs(t, sb.Format(-3), flatdisk.ErrInvalidArgument)
	// 160 inodes need blocks 1-10, which is the entire disk.
	assert.ErrorIs(t, sb.Format(160), flatdisk.ErrNoSpaceOnDevice)
	assert.Equal(t, 16, sb.TotalInodes(), "failed format changed the header")
}
