package common_test

import (
	"testing"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockMap__Claim(t *testing.T) {
	blockMap := common.NewBlockMap(16)

	require.NoError(t, blockMap.Claim(3))
	assert.True(t, blockMap.IsClaimed(3))
	assert.False(t, blockMap.IsClaimed(4))

	err := blockMap.Claim(3)
	assert.ErrorIs(t, err, flatdisk.ErrFileSystemCorrupted, "double claim not detected")
	assert.True(t, blockMap.IsClaimed(3))
}

func TestBlockMap__OutOfRange(t *testing.T) {
	blockMap := common.NewBlockMap(16)
	assert.ErrorIs(t, blockMap.Claim(16), flatdisk.ErrArgumentOutOfRange)
	assert.ErrorIs(t, blockMap.Claim(-1), flatdisk.ErrArgumentOutOfRange)
	assert.False(t, blockMap.IsClaimed(99))
}

func TestBlockMap__Release(t *testing.T) {
	blockMap := common.NewBlockMap(16)
	require.NoError(t, blockMap.Claim(5))
	require.NoError(t, blockMap.Release(5))
	assert.False(t, blockMap.IsClaimed(5))
	assert.ErrorIs(t, blockMap.Release(5), flatdisk.ErrInvalidArgument)
}

func TestBlockMap__Unclaimed(t *testing.T) {
	blockMap := common.NewBlockMap(10)
	require.NoError(t, blockMap.ClaimRange(0, 4))
	require.NoError(t, blockMap.Claim(6))

	assert.Equal(t, []int{4, 5, 7, 8, 9}, blockMap.Unclaimed(0, 10))
	assert.Equal(t, []int{5}, blockMap.Unclaimed(5, 7))
	assert.Equal(t, 5, blockMap.CountClaimed(0, 10))
	assert.Equal(t, 2, blockMap.CountClaimed(3, 7))
}
