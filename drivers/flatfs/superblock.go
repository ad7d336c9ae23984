package flatfs

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dargueta/flatdisk"
	"github.com/tchajed/marshal"
)

// SuperBlock owns the disk header and the free-block list. Every method takes
// the superblock's own lock, so getting and returning blocks is safe from any
// number of goroutines.
type SuperBlock struct {
	device      flatdisk.BlockDevice
	logger      *slog.Logger
	lock        sync.Mutex
	totalBlocks int
	totalInodes int
	freeList    int
}

// LoadSuperBlock reads the header of `device`. If the header doesn't describe
// a valid file system on a disk of this size, the device is formatted with
// `defaultInodes` inodes.
func LoadSuperBlock(
	device flatdisk.BlockDevice, defaultInodes int, logger *slog.Logger,
) (*SuperBlock, error) {
	sb := &SuperBlock{
		device: device,
		logger: logger,
	}
	err := sb.initialize(device.TotalBlocks(), defaultInodes)
	if err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *SuperBlock) initialize(capacity int, defaultInodes int) error {
	buf := make([]byte, flatdisk.BlockSize)
	err := sb.device.ReadBlock(headerBlock, buf)
	if err != nil {
		return err
	}

	dec := marshal.NewDec(buf)
	totalBlocks := int64(dec.GetInt())
	totalInodes := int64(dec.GetInt())
	freeList := int64(dec.GetInt())

	if headerIsSane(capacity, totalBlocks, totalInodes, freeList) {
		sb.lock.Lock()
		sb.totalBlocks = int(totalBlocks)
		sb.totalInodes = int(totalInodes)
		sb.freeList = int(freeList)
		sb.lock.Unlock()

		sb.logger.Debug(
			"loaded existing file system",
			"totalBlocks", totalBlocks,
			"totalInodes", totalInodes,
			"freeList", freeList,
		)
		return nil
	}

	sb.logger.Info(
		"disk header not recognized, formatting",
		"capacity", capacity,
		"inodes", defaultInodes,
	)
	return sb.Format(defaultInodes)
}

func headerIsSane(capacity int, totalBlocks, totalInodes, freeList int64) bool {
	if totalBlocks != int64(capacity) || totalInodes <= 0 || totalBlocks > MaxTotalBlocks {
		return false
	}
	if totalInodes >= totalBlocks*InodesPerBlock {
		return false
	}
	firstData := int64(FirstDataBlock(int(totalInodes)))
	return firstData < totalBlocks && freeList >= firstData && freeList <= totalBlocks
}

// Format wipes the inode region, allocates `inodeCount` fresh inodes, and
// chains every data block into the free list. The previous contents of the
// disk are lost.
func (sb *SuperBlock) Format(inodeCount int) error {
	capacity := sb.device.TotalBlocks()
	if capacity > MaxTotalBlocks {
		return flatdisk.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"disk has %d blocks, can't address more than %d",
				capacity,
				MaxTotalBlocks,
			),
		)
	}
	if inodeCount <= 0 {
		return flatdisk.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("inode count must be positive, got %d", inodeCount),
		)
	}

	firstData := FirstDataBlock(inodeCount)
	if firstData >= capacity {
		return flatdisk.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf(
				"%d inodes need %d blocks, leaving no data blocks on a %d-block disk",
				inodeCount,
				firstData,
				capacity,
			),
		)
	}

	sb.lock.Lock()
	defer sb.lock.Unlock()

	// Every slot in the inode region is written, including the tail of a
	// partially used last block.
	buf := make([]byte, flatdisk.BlockSize)
	blank := NewInode()
	blank.State = StateUnused
	for offset := 0; offset < flatdisk.BlockSize; offset += InodeSize {
		err := encodeInode(buf[offset:offset+InodeSize], blank)
		if err != nil {
			return err
		}
	}
	for block := 1; block < firstData; block++ {
		err := sb.device.WriteBlock(block, buf)
		if err != nil {
			return err
		}
	}

	// Block i points to i+1. The last one points to `capacity`, which is out of
	// range and so terminates the list.
	clear(buf)
	for block := firstData; block < capacity; block++ {
		binary.LittleEndian.PutUint32(buf, uint32(block+1))
		err := sb.device.WriteBlock(block, buf)
		if err != nil {
			return err
		}
	}

	sb.totalBlocks = capacity
	sb.totalInodes = inodeCount
	sb.freeList = firstData

	sb.logger.Info(
		"formatted disk",
		"totalBlocks", capacity,
		"totalInodes", inodeCount,
		"firstDataBlock", firstData,
	)
	return sb.writeHeader()
}

// writeHeader persists the header. The caller must hold the lock.
func (sb *SuperBlock) writeHeader() error {
	enc := marshal.NewEnc(flatdisk.BlockSize)
	enc.PutInt(uint64(sb.totalBlocks))
	enc.PutInt(uint64(sb.totalInodes))
	enc.PutInt(uint64(sb.freeList))
	return sb.device.WriteBlock(headerBlock, enc.Finish())
}

// Sync writes the header to disk and flushes the device.
func (sb *SuperBlock) Sync() error {
	sb.lock.Lock()
	defer sb.lock.Unlock()

	err := sb.writeHeader()
	if err != nil {
		return err
	}
	return sb.device.Sync()
}

func (sb *SuperBlock) firstDataBlock() int {
	return FirstDataBlock(sb.totalInodes)
}

func (sb *SuperBlock) isDataBlock(block int) bool {
	return block >= sb.firstDataBlock() && block < sb.totalBlocks
}

// readLink returns the "next" pointer stored in free block `block`. Pointers
// that are neither a data block nor the terminating value mean the list is
// damaged. The caller must hold the lock.
func (sb *SuperBlock) readLink(block int) (int, error) {
	buf := make([]byte, flatdisk.BlockSize)
	err := sb.device.ReadBlock(block, buf)
	if err != nil {
		return NoBlock, err
	}

	next := int(int32(binary.LittleEndian.Uint32(buf)))
	if next != sb.totalBlocks && !sb.isDataBlock(next) {
		return NoBlock, flatdisk.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"free block %d links to %d, outside the data region [%d, %d)",
				block,
				next,
				sb.firstDataBlock(),
				sb.totalBlocks,
			),
		)
	}
	return next, nil
}

// GetFreeBlock removes the first block from the free list and returns it. Its
// contents are left as they were; the caller is expected to overwrite them.
func (sb *SuperBlock) GetFreeBlock() (int, error) {
	sb.lock.Lock()
	defer sb.lock.Unlock()

	if !sb.isDataBlock(sb.freeList) {
		return NoBlock, flatdisk.ErrNoSpaceOnDevice
	}

	block := sb.freeList
	next, err := sb.readLink(block)
	if err != nil {
		return NoBlock, err
	}

	sb.freeList = next
	err = sb.writeHeader()
	if err != nil {
		sb.freeList = block
		return NoBlock, err
	}
	return block, nil
}

// ReturnBlock puts `block` at the front of the free list. The block must not
// already be free or owned by a file.
func (sb *SuperBlock) ReturnBlock(block int) error {
	sb.lock.Lock()
	defer sb.lock.Unlock()

	if !sb.isDataBlock(block) {
		return flatdisk.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"can't free block %d: not in data region [%d, %d)",
				block,
				sb.firstDataBlock(),
				sb.totalBlocks,
			),
		)
	}

	buf := make([]byte, flatdisk.BlockSize)
	binary.LittleEndian.PutUint32(buf, uint32(sb.freeList))
	err := sb.device.WriteBlock(block, buf)
	if err != nil {
		return err
	}

	previous := sb.freeList
	sb.freeList = block
	err = sb.writeHeader()
	if err != nil {
		sb.freeList = previous
	}
	return err
}

// walkFreeList calls `visit` on every block of the free list, in order. It
// stops at the first error, either from `visit` or from a damaged list. A list
// that's longer than the data region must contain a cycle, and is reported as
// corrupted.
func (sb *SuperBlock) walkFreeList(visit func(block int) error) error {
	sb.lock.Lock()
	defer sb.lock.Unlock()

	limit := sb.totalBlocks - sb.firstDataBlock()
	steps := 0
	for block := sb.freeList; sb.isDataBlock(block); steps++ {
		if steps >= limit {
			return flatdisk.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("free list has a cycle through block %d", block),
			)
		}

		err := visit(block)
		if err != nil {
			return err
		}

		block, err = sb.readLink(block)
		if err != nil {
			return err
		}
	}
	return nil
}

// CountFreeBlocks walks the free list and returns its length.
func (sb *SuperBlock) CountFreeBlocks() (int, error) {
	count := 0
	err := sb.walkFreeList(func(int) error {
		count++
		return nil
	})
	return count, err
}

func (sb *SuperBlock) TotalBlocks() int {
	sb.lock.Lock()
	defer sb.lock.Unlock()
	return sb.totalBlocks
}

func (sb *SuperBlock) TotalInodes() int {
	sb.lock.Lock()
	defer sb.lock.Unlock()
	return sb.totalInodes
}

// FreeListHead returns the first block of the free list. If there are no free
// blocks this is [SuperBlock.TotalBlocks].
func (sb *SuperBlock) FreeListHead() int {
	sb.lock.Lock()
	defer sb.lock.Unlock()
	return sb.freeList
}

func (sb *SuperBlock) FirstDataBlock() int {
	sb.lock.Lock()
	defer sb.lock.Unlock()
	return sb.firstDataBlock()
}
