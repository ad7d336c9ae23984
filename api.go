package flatdisk

import "fmt"

// BlockSize is the size of a single block on the device, in bytes. Every
// structure on disk is laid out in units of this size.
const BlockSize = 512

// BlockDevice is a synchronous, fixed-size block store. Reads and writes always
// transfer exactly [BlockSize] bytes; `buf` must be at least that long.
//
// Implementations must be safe to call from multiple goroutines. Each call
// completes before returning; there is no overlap of in-flight operations.
type BlockDevice interface {
	// ReadBlock copies block number `block` into the first [BlockSize] bytes of
	// `buf`.
	ReadBlock(block int, buf []byte) error
	// WriteBlock writes the first [BlockSize] bytes of `buf` to block number
	// `block`.
	WriteBlock(block int, buf []byte) error
	// TotalBlocks returns the capacity of the device, in blocks.
	TotalBlocks() int
	// Sync flushes anything buffered by the backing storage. Devices without
	// any buffering return nil.
	Sync() error
}

// ValidateBlockArgs is a helper for BlockDevice implementations that checks a
// block number and buffer before any I/O happens.
func ValidateBlockArgs(block int, buf []byte, totalBlocks int) error {
	if block < 0 || block >= totalBlocks {
		return ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("invalid block %d: not in range [0, %d)", block, totalBlocks),
		)
	}
	if len(buf) < BlockSize {
		return ErrInvalidArgument.WithMessage(
			fmt.Sprintf("buffer must be at least %d bytes, got %d", BlockSize, len(buf)),
		)
	}
	return nil
}
