package flatfs

import (
	"sync"

	"github.com/dargueta/flatdisk"
	"github.com/google/uuid"
)

// FileTableEntry is an open handle. The seek pointer and mode belong to the
// handle alone, while the inode is shared with every other handle on the same
// file.
type FileTableEntry struct {
	ID      uuid.UUID
	inode   *Inode
	inumber int
	mode    flatdisk.OpenMode

	// lock serializes operations on this handle, and guards everything below.
	lock    sync.Mutex
	seekPtr int
	closed  bool
}

func newFileTableEntry(inumber int, inode *Inode, mode flatdisk.OpenMode) *FileTableEntry {
	entry := &FileTableEntry{
		ID:      uuid.New(),
		inode:   inode,
		inumber: inumber,
		mode:    mode,
	}
	if mode.Appends() {
		entry.seekPtr = inode.Length
	}
	return entry
}

func (entry *FileTableEntry) Mode() flatdisk.OpenMode {
	return entry.mode
}

func (entry *FileTableEntry) Inumber() int {
	return entry.inumber
}

// SeekPointer returns the current position of the handle.
func (entry *FileTableEntry) SeekPointer() int {
	entry.lock.Lock()
	defer entry.lock.Unlock()
	return entry.seekPtr
}

// acquire locks the handle for one operation. It fails if the handle is nil or
// has been closed; on failure the lock is not held.
func (entry *FileTableEntry) acquire() error {
	if entry == nil || entry.inode == nil {
		return flatdisk.ErrInvalidFileDescriptor.WithMessage("handle has no inode")
	}

	entry.lock.Lock()
	if entry.closed {
		entry.lock.Unlock()
		return flatdisk.ErrInvalidFileDescriptor.WithMessage(
			"handle " + entry.ID.String() + " is closed",
		)
	}
	return nil
}

func (entry *FileTableEntry) release() {
	entry.lock.Unlock()
}
