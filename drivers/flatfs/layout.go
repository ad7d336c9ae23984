package flatfs

import (
	"math"

	"github.com/dargueta/flatdisk"
)

const (
	// InodeSize is the size of one on-disk inode, in bytes.
	InodeSize = 32
	// InodesPerBlock is the number of inodes packed into one block.
	InodesPerBlock = flatdisk.BlockSize / InodeSize
	// DirectPointers is the number of block pointers stored in the inode itself.
	DirectPointers = 11
	// PointersPerIndirect is the number of block pointers in an indirect block.
	PointersPerIndirect = flatdisk.BlockSize / 2
	// NoBlock marks an unused block pointer.
	NoBlock = -1

	// DefaultInodeCount is the number of inodes used when formatting a blank or
	// unrecognized disk.
	DefaultInodeCount = 64
	// MaxNameLength is the longest file name, in bytes.
	MaxNameLength = 30

	// RootInumber is the inode of the root directory. Its contents are the
	// serialized directory table.
	RootInumber = 0
	// RootPath is the reserved name of the root directory.
	RootPath = "/"

	// MaxFileSize is the largest file that can be addressed through the direct
	// and indirect pointers.
	MaxFileSize = (DirectPointers + PointersPerIndirect) * flatdisk.BlockSize
	// MaxTotalBlocks is the largest disk a block pointer can address.
	MaxTotalBlocks = math.MaxInt16

	headerBlock = 0
)

// FirstDataBlock returns the number of the first block after the inode region
// of a disk with `inodeCount` inodes. A partially filled inode block still
// takes up a whole block.
func FirstDataBlock(inodeCount int) int {
	return (inodeCount+InodesPerBlock-1)/InodesPerBlock + 1
}

// inodeLocation gives the block an inode is stored in and its byte offset
// within that block.
func inodeLocation(inumber int) (int, int) {
	return 1 + inumber/InodesPerBlock, (inumber % InodesPerBlock) * InodeSize
}
