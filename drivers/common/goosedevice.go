package common

import (
	"fmt"
	"sync"

	"github.com/dargueta/flatdisk"
	"github.com/tchajed/goose/machine/disk"
)

// sectorsPerDiskBlock is the number of file system blocks that fit in one
// block of the goose disk.
const sectorsPerDiskBlock = disk.BlockSize / flatdisk.BlockSize

// GooseDevice exposes a goose [disk.Disk] as a [flatdisk.BlockDevice]. The
// goose disk works in 4 KiB blocks, so every file system block is a slice of
// one of them and writes are read-modify-write.
type GooseDevice struct {
	d           disk.Disk
	totalBlocks int
	lock        sync.Mutex
	closed      bool
}

var _ flatdisk.BlockDevice = (*GooseDevice)(nil)

// NewGooseDevice wraps an existing goose disk. The disk must have room for at
// least `totalBlocks` file system blocks.
func NewGooseDevice(d disk.Disk, totalBlocks int) *GooseDevice {
	return &GooseDevice{
		d:           d,
		totalBlocks: totalBlocks,
	}
}

// diskBlocksFor returns how many goose blocks are needed to hold `totalBlocks`
// file system blocks.
func diskBlocksFor(totalBlocks int) uint64 {
	return (uint64(totalBlocks) + sectorsPerDiskBlock - 1) / sectorsPerDiskBlock
}

// NewGooseMemoryDevice creates a device on top of a goose in-memory disk.
func NewGooseMemoryDevice(totalBlocks int) *GooseDevice {
	return NewGooseDevice(disk.NewMemDisk(diskBlocksFor(totalBlocks)), totalBlocks)
}

// NewGooseFileDevice creates a device on top of a goose file-backed disk at
// `path`, creating the file if it doesn't exist.
func NewGooseFileDevice(path string, totalBlocks int) (*GooseDevice, error) {
	if totalBlocks <= 0 {
		return nil, flatdisk.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("goose devices need an explicit size, got %d blocks", totalBlocks),
		)
	}

	fileDisk, err := disk.NewFileDisk(path, diskBlocksFor(totalBlocks))
	if err != nil {
		return nil, flatdisk.ErrIOFailed.Wrap(err)
	}
	return NewGooseDevice(fileDisk, totalBlocks), nil
}

func (device *GooseDevice) locate(block int) (uint64, uint64) {
	return uint64(block) / sectorsPerDiskBlock,
		(uint64(block) % sectorsPerDiskBlock) * flatdisk.BlockSize
}

// checkOpen fails once the device has been closed, since the goose disk panics
// on a released file. The caller must hold the lock.
func (device *GooseDevice) checkOpen() error {
	if device.closed {
		return flatdisk.ErrIOFailed.WithMessage("goose device is closed")
	}
	return nil
}

func (device *GooseDevice) ReadBlock(block int, buf []byte) error {
	err := flatdisk.ValidateBlockArgs(block, buf, device.totalBlocks)
	if err != nil {
		return err
	}

	addr, offset := device.locate(block)

	device.lock.Lock()
	err = device.checkOpen()
	if err != nil {
		device.lock.Unlock()
		return err
	}
	data := device.d.Read(addr)
	device.lock.Unlock()

	copy(buf[:flatdisk.BlockSize], data[offset:offset+flatdisk.BlockSize])
	return nil
}

func (device *GooseDevice) WriteBlock(block int, buf []byte) error {
	err := flatdisk.ValidateBlockArgs(block, buf, device.totalBlocks)
	if err != nil {
		return err
	}

	addr, offset := device.locate(block)

	device.lock.Lock()
	defer device.lock.Unlock()

	err = device.checkOpen()
	if err != nil {
		return err
	}
	data := device.d.Read(addr)
	copy(data[offset:offset+flatdisk.BlockSize], buf[:flatdisk.BlockSize])
	device.d.Write(addr, data)
	return nil
}

func (device *GooseDevice) TotalBlocks() int {
	return device.totalBlocks
}

// Sync issues a barrier on the goose disk.
func (device *GooseDevice) Sync() error {
	device.lock.Lock()
	defer device.lock.Unlock()

	err := device.checkOpen()
	if err != nil {
		return err
	}
	device.d.Barrier()
	return nil
}

// Close syncs the disk and releases it if the disk supports closing. If the
// sync fails the disk is left open.
func (device *GooseDevice) Close() error {
	err := device.Sync()
	if err != nil {
		return err
	}

	device.lock.Lock()
	defer device.lock.Unlock()

	closer, ok := device.d.(interface{ Close() })
	if ok {
		closer.Close()
	}
	device.closed = true
	return nil
}
