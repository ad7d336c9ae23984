// Package blockcache provides a write-back cache that sits in front of a block
// device. Blocks are loaded on first access and kept in memory; writes only
// reach the backing device when the cache is flushed.
package blockcache

import (
	"fmt"
	"io"
	"sync"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/flatdisk"
	"github.com/hashicorp/go-multierror"
)

type Device struct {
	backing     flatdisk.BlockDevice
	totalBlocks int
	lock        sync.Mutex
	loaded      bitmap.Bitmap
	dirty       bitmap.Bitmap
	data        []byte
}

var _ flatdisk.BlockDevice = (*Device)(nil)

// New creates a cache covering the whole of `backing`. Nothing is read until
// it's needed.
func New(backing flatdisk.BlockDevice) *Device {
	totalBlocks := backing.TotalBlocks()
	return &Device{
		backing:     backing,
		totalBlocks: totalBlocks,
		loaded:      bitmap.New(totalBlocks),
		dirty:       bitmap.New(totalBlocks),
		data:        make([]byte, totalBlocks*flatdisk.BlockSize),
	}
}

func (cache *Device) slice(block int) []byte {
	start := block * flatdisk.BlockSize
	return cache.data[start : start+flatdisk.BlockSize]
}

// load makes sure `block` is present. The caller must hold the lock.
func (cache *Device) load(block int) error {
	if cache.loaded.Get(block) {
		return nil
	}

	err := cache.backing.ReadBlock(block, cache.slice(block))
	if err != nil {
		return fmt.Errorf("failed to load block %d: %w", block, err)
	}
	cache.loaded.Set(block, true)
	return nil
}

func (cache *Device) ReadBlock(block int, buf []byte) error {
	err := flatdisk.ValidateBlockArgs(block, buf, cache.totalBlocks)
	if err != nil {
		return err
	}

	cache.lock.Lock()
	defer cache.lock.Unlock()

	err = cache.load(block)
	if err != nil {
		return err
	}
	copy(buf[:flatdisk.BlockSize], cache.slice(block))
	return nil
}

// WriteBlock updates the cached copy of the block and marks it dirty.
func (cache *Device) WriteBlock(block int, buf []byte) error {
	err := flatdisk.ValidateBlockArgs(block, buf, cache.totalBlocks)
	if err != nil {
		return err
	}

	cache.lock.Lock()
	defer cache.lock.Unlock()

	copy(cache.slice(block), buf[:flatdisk.BlockSize])
	cache.loaded.Set(block, true)
	cache.dirty.Set(block, true)
	return nil
}

func (cache *Device) TotalBlocks() int {
	return cache.totalBlocks
}

// DirtyBlocks returns the number of blocks that haven't been written back yet.
func (cache *Device) DirtyBlocks() int {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	count := 0
	for block := 0; block < cache.totalBlocks; block++ {
		if cache.dirty.Get(block) {
			count++
		}
	}
	return count
}

// Flush writes every dirty block to the backing device. Blocks that fail to
// write stay dirty, and the remaining blocks are still attempted.
func (cache *Device) Flush() error {
	cache.lock.Lock()
	defer cache.lock.Unlock()

	var result *multierror.Error
	for block := 0; block < cache.totalBlocks; block++ {
		if !cache.dirty.Get(block) {
			continue
		}

		err := cache.backing.WriteBlock(block, cache.slice(block))
		if err != nil {
			result = multierror.Append(
				result, fmt.Errorf("failed to flush block %d: %w", block, err),
			)
			continue
		}
		cache.dirty.Set(block, false)
	}
	return result.ErrorOrNil()
}

// Sync flushes the cache, then syncs the backing device.
func (cache *Device) Sync() error {
	err := cache.Flush()
	if err != nil {
		return err
	}
	return cache.backing.Sync()
}

// Close flushes the cache and closes the backing device if it can be closed.
func (cache *Device) Close() error {
	err := cache.Sync()
	if closer, ok := cache.backing.(io.Closer); ok {
		return multierror.Append(err, closer.Close()).ErrorOrNil()
	}
	return err
}
