package common

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dargueta/flatdisk"
	"github.com/xaionaro-go/bytesextra"
)

// BlockStream is an abstraction layer around a stream to make it look like a
// block device, i.e. something that can only be read from or written to one
// [flatdisk.BlockSize] block at a time.
//
// Seeking and the subsequent transfer happen under one lock, so a BlockStream
// can be shared by any number of goroutines.
type BlockStream struct {
	// StartOffset is an offset from the beginning of the stream, in bytes, that
	// will be considered the beginning of block 0 for the device. This is useful
	// for skipping over MBRs or other volumes stored on the same image.
	StartOffset int64
	totalBlocks int
	stream      io.ReadWriteSeeker
	lock        sync.Mutex
}

var _ flatdisk.BlockDevice = (*BlockStream)(nil)

func NewBlockStream(
	stream io.ReadWriteSeeker, totalBlocks int, startOffset int64,
) *BlockStream {
	return &BlockStream{
		StartOffset: startOffset,
		totalBlocks: totalBlocks,
		stream:      stream,
	}
}

// NewMemoryDevice creates a zero-filled in-memory device of `totalBlocks`
// blocks.
func NewMemoryDevice(totalBlocks int) *BlockStream {
	return NewMemoryDeviceFromBytes(make([]byte, totalBlocks*flatdisk.BlockSize))
}

// NewMemoryDeviceFromBytes creates a device backed by an existing image. Writes
// go directly to `image`. Trailing bytes that don't make up a full block are
// ignored.
func NewMemoryDeviceFromBytes(image []byte) *BlockStream {
	return NewBlockStream(
		bytesextra.NewReadWriteSeeker(image),
		len(image)/flatdisk.BlockSize,
		0,
	)
}

// NewFileDevice opens (creating if necessary) a disk image at `path`. If
// `totalBlocks` is positive the image is resized to exactly that many blocks;
// otherwise the size is determined from the existing file.
func NewFileDevice(path string, totalBlocks int) (*BlockStream, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, flatdisk.ErrIOFailed.Wrap(err)
	}

	if totalBlocks > 0 {
		err = file.Truncate(int64(totalBlocks) * flatdisk.BlockSize)
		if err != nil {
			file.Close()
			return nil, flatdisk.ErrIOFailed.Wrap(err)
		}
	} else {
		totalBlocks, err = DetermineBlockCount(file)
		if err != nil {
			file.Close()
			return nil, err
		}
		if totalBlocks == 0 {
			file.Close()
			return nil, flatdisk.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("image %q is empty and no size was given", path),
			)
		}
	}

	return NewBlockStream(file, totalBlocks, 0), nil
}

// DetermineBlockCount gives the total number of blocks in a stream, rounded down
// to the nearest block.
func DetermineBlockCount(stream io.Seeker) (int, error) {
	offset, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, flatdisk.ErrIOFailed.Wrap(err)
	}
	return int(offset / flatdisk.BlockSize), nil
}

// BlockIDToFileOffset converts a block number into a byte offset into the
// backing I/O stream.
func (device *BlockStream) BlockIDToFileOffset(block int) (int64, error) {
	if block < 0 || block >= device.totalBlocks {
		return -1, flatdisk.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"invalid block ID %d: not in range [0, %d)",
				block,
				device.totalBlocks,
			),
		)
	}
	return device.StartOffset + (int64(block) * flatdisk.BlockSize), nil
}

// seekToBlock positions the stream pointer at the byte offset where the given
// block starts. The caller must hold the lock.
func (device *BlockStream) seekToBlock(block int) error {
	offset, err := device.BlockIDToFileOffset(block)
	if err != nil {
		return err
	}
	_, err = device.stream.Seek(offset, io.SeekStart)
	if err != nil {
		return flatdisk.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (device *BlockStream) ReadBlock(block int, buf []byte) error {
	err := flatdisk.ValidateBlockArgs(block, buf, device.totalBlocks)
	if err != nil {
		return err
	}

	device.lock.Lock()
	defer device.lock.Unlock()

	err = device.seekToBlock(block)
	if err != nil {
		return err
	}

	_, err = io.ReadFull(device.stream, buf[:flatdisk.BlockSize])
	if err != nil {
		return flatdisk.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (device *BlockStream) WriteBlock(block int, buf []byte) error {
	err := flatdisk.ValidateBlockArgs(block, buf, device.totalBlocks)
	if err != nil {
		return err
	}

	device.lock.Lock()
	defer device.lock.Unlock()

	err = device.seekToBlock(block)
	if err != nil {
		return err
	}

	_, err = device.stream.Write(buf[:flatdisk.BlockSize])
	if err != nil {
		return flatdisk.ErrIOFailed.Wrap(err)
	}
	return nil
}

func (device *BlockStream) TotalBlocks() int {
	return device.totalBlocks
}

// Sync flushes the backing stream if it supports it, e.g. an [os.File].
func (device *BlockStream) Sync() error {
	syncer, ok := device.stream.(interface{ Sync() error })
	if !ok {
		return nil
	}

	device.lock.Lock()
	defer device.lock.Unlock()
	return flatdisk.CastToDriverError(syncer.Sync())
}

// Close syncs and closes the backing stream if it's closeable.
func (device *BlockStream) Close() error {
	err := device.Sync()
	if err != nil {
		return err
	}

	closer, ok := device.stream.(io.Closer)
	if !ok {
		return nil
	}
	return flatdisk.CastToDriverError(closer.Close())
}
