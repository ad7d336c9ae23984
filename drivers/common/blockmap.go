package common

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/flatdisk"
)

// BlockMap records which blocks of a device have been claimed by something,
// e.g. the free list or a file. It's used to detect blocks that belong to two
// owners at once, and blocks that belong to none.
type BlockMap struct {
	claimed     bitmap.Bitmap
	totalBlocks int
}

// NewBlockMap creates a map for a device of `totalBlocks` blocks with nothing
// claimed.
func NewBlockMap(totalBlocks int) *BlockMap {
	return &BlockMap{
		claimed:     bitmap.New(totalBlocks),
		totalBlocks: totalBlocks,
	}
}

func (m *BlockMap) checkRange(block int) error {
	if block < 0 || block >= m.totalBlocks {
		return flatdisk.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("invalid block %d: not in range [0, %d)", block, m.totalBlocks),
		)
	}
	return nil
}

// Claim marks a block as owned. Claiming a block that's already owned fails
// with [flatdisk.ErrFileSystemCorrupted] and leaves the map unchanged.
func (m *BlockMap) Claim(block int) error {
	err := m.checkRange(block)
	if err != nil {
		return err
	}
	if m.claimed.Get(block) {
		return flatdisk.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("block %d is claimed more than once", block),
		)
	}
	m.claimed.Set(block, true)
	return nil
}

// ClaimRange claims every block in [start, end).
func (m *BlockMap) ClaimRange(start, end int) error {
	for block := start; block < end; block++ {
		err := m.Claim(block)
		if err != nil {
			return err
		}
	}
	return nil
}

// Release marks a claimed block as unowned again. Releasing a block that isn't
// claimed fails.
func (m *BlockMap) Release(block int) error {
	err := m.checkRange(block)
	if err != nil {
		return err
	}
	if !m.claimed.Get(block) {
		return flatdisk.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("block %d is already unclaimed", block),
		)
	}
	m.claimed.Set(block, false)
	return nil
}

// IsClaimed returns true if the block has been claimed. Out-of-range blocks are
// never claimed.
func (m *BlockMap) IsClaimed(block int) bool {
	if m.checkRange(block) != nil {
		return false
	}
	return m.claimed.Get(block)
}

// Unclaimed returns the blocks in [start, end) that nothing has claimed, in
// ascending order.
func (m *BlockMap) Unclaimed(start, end int) []int {
	result := []int{}
	for block := start; block < end && block < m.totalBlocks; block++ {
		if !m.claimed.Get(block) {
			result = append(result, block)
		}
	}
	return result
}

// CountClaimed returns the number of claimed blocks in [start, end).
func (m *BlockMap) CountClaimed(start, end int) int {
	count := 0
	for block := start; block < end && block < m.totalBlocks; block++ {
		if m.claimed.Get(block) {
			count++
		}
	}
	return count
}

func (m *BlockMap) TotalBlocks() int {
	return m.totalBlocks
}
