package flatfs

import (
	"errors"
	"io"

	"github.com/dargueta/flatdisk"
)

// Read reads up to len(buf) bytes from the handle's current position and
// advances it by the number of bytes read.
//
// A short read with a nil error means the end of the file was reached, or the
// block map ended early. [io.EOF] is only returned when nothing could be read
// because the position is already at the end of the file.
func (fs *FileSystem) Read(entry *FileTableEntry, buf []byte) (int, error) {
	err := entry.acquire()
	if err != nil {
		return 0, err
	}
	defer entry.release()

	if !entry.mode.CanRead() {
		return 0, flatdisk.ErrPermissionDenied.WithMessage(
			"handle opened in mode " + entry.mode.String() + " can't read",
		)
	}

	total := 0
	atEOF := false
	for total < len(buf) {
		n, err := fs.readChunk(entry, buf[total:])
		total += n
		if err == io.EOF {
			atEOF = true
			break
		} else if err != nil {
			return total, err
		} else if n == 0 {
			break
		}
	}

	if total == 0 && atEOF && len(buf) > 0 {
		return 0, io.EOF
	}
	return total, nil
}

// readChunk reads from at most one block. It returns 0 bytes and no error if
// the block map has no valid block at the current position, and [io.EOF] if the
// position is at the end of the file.
func (fs *FileSystem) readChunk(entry *FileTableEntry, buf []byte) (int, error) {
	inode := entry.inode
	inode.lock.Lock()
	defer inode.lock.Unlock()

	position := entry.seekPtr
	if position >= inode.Length {
		return 0, io.EOF
	}

	block, err := inode.FindTargetBlock(fs.device, position)
	if err != nil {
		return 0, err
	}
	if block < fs.sb.FirstDataBlock() || block >= fs.sb.TotalBlocks() {
		fs.logger.Warn(
			"read stopped at unmapped block",
			"inumber", entry.inumber,
			"offset", position,
			"block", block,
		)
		return 0, nil
	}

	offset := position % flatdisk.BlockSize
	size := min(flatdisk.BlockSize-offset, len(buf), inode.Length-position)

	scratch := make([]byte, flatdisk.BlockSize)
	err = fs.device.ReadBlock(block, scratch)
	if err != nil {
		return 0, err
	}

	copy(buf[:size], scratch[offset:offset+size])
	entry.seekPtr += size
	return size, nil
}

// Write writes `buf` at the handle's current position, allocating blocks as
// needed, and advances the position by the number of bytes written. Append
// handles always write at the end of the file.
//
// The file is write-locked for the duration. If the disk fills up, the write
// stops, the file is marked for deletion, and the number of bytes written so
// far is returned along with [flatdisk.ErrNoSpaceOnDevice].
func (fs *FileSystem) Write(entry *FileTableEntry, buf []byte) (int, error) {
	err := entry.acquire()
	if err != nil {
		return 0, err
	}
	defer entry.release()

	if !entry.mode.CanWrite() {
		return 0, flatdisk.ErrPermissionDenied.WithMessage(
			"handle opened in mode " + entry.mode.String() + " can't write",
		)
	}

	err = fs.table.beginWrite(entry)
	if err != nil {
		return 0, err
	}

	if entry.mode.Appends() {
		entry.inode.lock.Lock()
		entry.seekPtr = entry.inode.Length
		entry.inode.lock.Unlock()
	}

	total := 0
	exhausted := false
	var writeErr error
	for total < len(buf) {
		n, err := fs.writeChunk(entry, buf[total:])
		total += n
		if err != nil {
			exhausted = errors.Is(err, flatdisk.ErrNoSpaceOnDevice)
			writeErr = err
			break
		}
	}

	err = fs.table.endWrite(entry, exhausted)
	if writeErr != nil {
		return total, writeErr
	}
	return total, err
}

// writeChunk writes to at most one block, allocating it first if needed, and
// persists the inode afterwards.
func (fs *FileSystem) writeChunk(entry *FileTableEntry, data []byte) (int, error) {
	inode := entry.inode
	inode.lock.Lock()
	defer inode.lock.Unlock()

	position := entry.seekPtr
	if position >= MaxFileSize {
		return 0, flatdisk.ErrFileTooLarge.WithMessage(
			"file can't grow past the last indirect pointer",
		)
	}

	block, err := inode.FindTargetBlock(fs.device, position)
	if err != nil {
		return 0, err
	}
	if block == NoBlock {
		block, err = fs.attachNewBlock(inode, position)
		if err != nil {
			// Promoting to an indirect block may have changed the inode even
			// though the write failed.
			storeErr := fs.inodes.Store(entry.inumber, inode)
			if storeErr != nil {
				fs.logger.Error("failed to persist inode", "inumber", entry.inumber, "error", storeErr)
			}
			return 0, err
		}
	}

	offset := position % flatdisk.BlockSize
	size := min(flatdisk.BlockSize-offset, len(data))

	scratch := make([]byte, flatdisk.BlockSize)
	err = fs.device.ReadBlock(block, scratch)
	if err != nil {
		return 0, err
	}
	copy(scratch[offset:offset+size], data[:size])
	err = fs.device.WriteBlock(block, scratch)
	if err != nil {
		return 0, err
	}

	entry.seekPtr += size
	if entry.seekPtr > inode.Length {
		inode.Length = entry.seekPtr
	}
	return size, fs.inodes.Store(entry.inumber, inode)
}

// attachNewBlock takes a block off the free list and maps it at `offset`. If
// the direct pointers are full, a second block is taken for the indirect block
// first. The caller must hold the inode's lock.
func (fs *FileSystem) attachNewBlock(inode *Inode, offset int) (int, error) {
	block, err := fs.sb.GetFreeBlock()
	if err != nil {
		return NoBlock, err
	}

	err = inode.AttachBlock(fs.device, offset, block)
	if errors.Is(err, errNeedsIndirect) {
		err = fs.promote(inode)
		if err == nil {
			err = inode.AttachBlock(fs.device, offset, block)
		}
	}

	if err != nil {
		returnErr := fs.sb.ReturnBlock(block)
		if returnErr != nil {
			fs.logger.Error("failed to return block", "block", block, "error", returnErr)
		}
		return NoBlock, err
	}
	return block, nil
}

// promote gives the inode an indirect block. The caller must hold the inode's
// lock.
func (fs *FileSystem) promote(inode *Inode) error {
	indirect, err := fs.sb.GetFreeBlock()
	if err != nil {
		return err
	}

	err = inode.PromoteToIndirect(fs.device, indirect)
	if err != nil {
		returnErr := fs.sb.ReturnBlock(indirect)
		if returnErr != nil {
			fs.logger.Error("failed to return block", "block", indirect, "error", returnErr)
		}
		return err
	}

	fs.logger.Debug("promoted to indirect block", "block", indirect)
	return nil
}
