package flatfs

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dargueta/flatdisk"
	"github.com/google/uuid"
)

// FileTable holds every open handle and decides when a new handle may attach
// to a file.
//
// Readers are admitted unless a write is in progress, and hold the file
// read-locked until the last of them closes. Writers are admitted only when
// the file isn't locked at all; otherwise they wait. A file pending deletion
// admits nobody.
type FileTable struct {
	lock    sync.Mutex
	changed *sync.Cond
	entries map[uuid.UUID]*FileTableEntry
	// live holds the shared in-memory inode of every file with open handles.
	live map[int]*Inode
	// reclaiming counts files whose last reference is gone but whose blocks
	// haven't been returned to the free list yet.
	reclaiming int
	dir        *Directory
	inodes     *InodeStore
	logger     *slog.Logger
}

func NewFileTable(dir *Directory, inodes *InodeStore, logger *slog.Logger) *FileTable {
	table := &FileTable{
		entries: make(map[uuid.UUID]*FileTableEntry),
		live:    make(map[int]*Inode),
		dir:     dir,
		inodes:  inodes,
		logger:  logger,
	}
	table.changed = sync.NewCond(&table.lock)
	return table
}

func admits(state State, mode flatdisk.OpenMode) bool {
	switch state {
	case StateUnused, StateUsed:
		return true
	case StateReadLocked:
		return mode == flatdisk.ModeRead
	default:
		return false
	}
}

// Allocate opens `name` in the given mode and returns the new handle. If the
// file doesn't exist it's created, unless `mode` is read-only. This blocks as
// long as the file is locked in a way incompatible with `mode`.
func (table *FileTable) Allocate(name string, mode flatdisk.OpenMode) (*FileTableEntry, error) {
	if !mode.IsValid() {
		return nil, flatdisk.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid open mode %d", int(mode)),
		)
	}

	table.lock.Lock()
	defer table.lock.Unlock()

	for {
		inumber, inode, err := table.resolve(name, mode)
		if err != nil {
			return nil, err
		}

		if inode.State == StatePendingDelete {
			if inode.Count == 0 {
				delete(table.live, inumber)
			}
			return nil, flatdisk.ErrNotFound.WithMessage(
				fmt.Sprintf("%q is pending deletion", name),
			)
		}

		if admits(inode.State, mode) {
			return table.attach(inumber, inode, mode)
		}

		table.logger.Debug(
			"waiting for admission",
			"name", name,
			"mode", mode.String(),
			"state", inode.State.String(),
		)
		table.changed.Wait()
	}
}

// resolve finds or creates the inode for `name`. The caller must hold the
// table lock.
func (table *FileTable) resolve(name string, mode flatdisk.OpenMode) (int, *Inode, error) {
	inumber, found := table.dir.Resolve(name)
	if !found {
		if mode == flatdisk.ModeRead {
			return 0, nil, flatdisk.ErrNotFound.WithMessage(name)
		}
		return table.create(name)
	}

	inode, err := table.liveInode(inumber)
	if err != nil {
		return 0, nil, err
	}
	return inumber, inode, nil
}

// liveInode returns the shared inode for `inumber`, loading it from disk if no
// handle has it open. The caller must hold the table lock.
func (table *FileTable) liveInode(inumber int) (*Inode, error) {
	inode, ok := table.live[inumber]
	if ok {
		return inode, nil
	}

	inode, err := table.inodes.Load(inumber)
	if err != nil {
		return nil, err
	}

	// Nothing has this file open, so any lock or reference count on disk is
	// left over from an earlier session.
	if inode.State.IsLocked() {
		inode.State = StateUsed
	}
	inode.Count = 0

	table.live[inumber] = inode
	return inode, nil
}

func (table *FileTable) create(name string) (int, *Inode, error) {
	inumber, err := table.dir.Allocate(name)
	if err != nil {
		return 0, nil, err
	}

	inode := NewInode()
	err = table.inodes.Store(inumber, inode)
	if err != nil {
		table.dir.Free(inumber)
		return 0, nil, err
	}

	table.logger.Debug("created file", "name", name, "inumber", inumber)
	table.live[inumber] = inode
	return inumber, inode, nil
}

// attach registers a new handle on an inode that has already been admitted.
// The caller must hold the table lock.
func (table *FileTable) attach(
	inumber int, inode *Inode, mode flatdisk.OpenMode,
) (*FileTableEntry, error) {
	inode.lock.Lock()
	defer inode.lock.Unlock()

	priorState, priorCount, priorReaders := inode.State, inode.Count, inode.readers

	if inode.State == StateUnused {
		inode.State = StateUsed
	}
	if mode == flatdisk.ModeRead {
		err := inode.transition(StateReadLocked)
		if err != nil {
			return nil, err
		}
		inode.readers++
	}
	inode.Count++

	err := table.inodes.Store(inumber, inode)
	if err != nil {
		inode.State, inode.Count, inode.readers = priorState, priorCount, priorReaders
		if inode.Count == 0 {
			delete(table.live, inumber)
		}
		return nil, err
	}

	entry := newFileTableEntry(inumber, inode, mode)
	table.entries[entry.ID] = entry

	table.logger.Debug(
		"opened handle",
		"handle", entry.ID,
		"inumber", inumber,
		"mode", mode.String(),
		"count", inode.Count,
	)
	return entry, nil
}

// Free removes a handle from the table. Freeing a handle that isn't in the
// table does nothing. Returns true if this was the last handle on a file that
// is pending deletion, in which case the caller must reclaim the file and then
// call finishReclaim.
func (table *FileTable) Free(entry *FileTableEntry) (bool, error) {
	if entry == nil {
		return false, flatdisk.ErrInvalidFileDescriptor
	}

	table.lock.Lock()
	defer table.lock.Unlock()

	if _, ok := table.entries[entry.ID]; !ok {
		return false, nil
	}
	delete(table.entries, entry.ID)

	inode := entry.inode
	inode.lock.Lock()
	defer inode.lock.Unlock()

	prior := inode.State
	if inode.Count <= 0 {
		inode.Count = 0
		if prior != StatePendingDelete {
			inode.State = StateUnused
		}
	} else {
		inode.Count--
	}

	if entry.mode == flatdisk.ModeRead && inode.readers > 0 {
		inode.readers--
		if inode.readers == 0 && inode.State == StateReadLocked {
			inode.State = StateUsed
		}
	}

	reclaim := inode.State == StatePendingDelete && inode.Count == 0
	if reclaim {
		table.reclaiming++
	}
	if inode.Count == 0 {
		delete(table.live, entry.inumber)
	}

	if prior.IsLocked() || inode.State != prior {
		table.changed.Broadcast()
	}

	table.logger.Debug(
		"closed handle",
		"handle", entry.ID,
		"inumber", entry.inumber,
		"count", inode.Count,
		"state", inode.State.String(),
	)

	return reclaim, table.inodes.Store(entry.inumber, inode)
}

// IsEmpty returns true if no handles are open.
func (table *FileTable) IsEmpty() bool {
	table.lock.Lock()
	defer table.lock.Unlock()
	return len(table.entries) == 0
}

// Len returns the number of open handles.
func (table *FileTable) Len() int {
	table.lock.Lock()
	defer table.lock.Unlock()
	return len(table.entries)
}

// beginWrite write-locks the handle's inode for the duration of one write. A
// write never waits: if the file is locked or pending deletion it fails.
func (table *FileTable) beginWrite(entry *FileTableEntry) error {
	table.lock.Lock()
	defer table.lock.Unlock()

	inode := entry.inode
	inode.lock.Lock()
	defer inode.lock.Unlock()

	switch inode.State {
	case StateReadLocked, StateWriteLocked, StatePendingDelete:
		return flatdisk.ErrBusy.WithMessage(
			fmt.Sprintf("inode %d is %s", entry.inumber, inode.State),
		)
	}

	err := inode.transition(StateWriteLocked)
	if err != nil {
		return err
	}
	return table.inodes.Store(entry.inumber, inode)
}

// endWrite releases the write lock taken by beginWrite. If the write ran out of
// space the file is marked for deletion instead.
func (table *FileTable) endWrite(entry *FileTableEntry, exhausted bool) error {
	table.lock.Lock()
	defer table.lock.Unlock()

	inode := entry.inode
	inode.lock.Lock()
	defer inode.lock.Unlock()

	next := StateUsed
	if exhausted {
		next = StatePendingDelete
		table.logger.Warn(
			"disk full, file marked for deletion",
			"inumber", entry.inumber,
			"length", inode.Length,
		)
	}

	// The file may have been deleted while the write was in progress.
	if inode.State != StatePendingDelete {
		err := inode.transition(next)
		if err != nil {
			return err
		}
	}

	table.changed.Broadcast()
	return table.inodes.Store(entry.inumber, inode)
}

// Unlink removes `name` from the directory. If the file is open it's marked
// for deletion and reclaimed when the last handle closes, and this returns nil.
// Otherwise this returns the file's inode, which the caller must reclaim right
// away and then call finishReclaim; its directory slot stays reserved until
// then.
func (table *FileTable) Unlink(name string) (int, *Inode, error) {
	table.lock.Lock()
	defer table.lock.Unlock()

	inumber, found := table.dir.Resolve(name)
	if !found {
		return 0, nil, flatdisk.ErrNotFound.WithMessage(name)
	}
	if inumber == RootInumber {
		return 0, nil, flatdisk.ErrPermissionDenied.WithMessage(
			"the root directory can't be deleted",
		)
	}

	inode, err := table.liveInode(inumber)
	if err != nil {
		return 0, nil, err
	}

	if inode.Count == 0 {
		delete(table.live, inumber)
		table.dir.Unlink(inumber)
		table.reclaiming++
		return inumber, inode, nil
	}

	inode.lock.Lock()
	defer inode.lock.Unlock()

	err = inode.transition(StatePendingDelete)
	if err != nil {
		return 0, nil, flatdisk.ErrBusy.Wrap(err)
	}

	err = table.inodes.Store(inumber, inode)
	if err != nil {
		return 0, nil, err
	}

	table.dir.Unlink(inumber)
	table.changed.Broadcast()
	table.logger.Debug(
		"deletion deferred until last close",
		"name", name,
		"inumber", inumber,
		"count", inode.Count,
	)
	return inumber, nil, nil
}

// Stat returns a copy of the metadata of the file called `name`.
func (table *FileTable) Stat(name string) (InodeInfo, error) {
	table.lock.Lock()
	defer table.lock.Unlock()

	inumber, found := table.dir.Resolve(name)
	if !found {
		return InodeInfo{}, flatdisk.ErrNotFound.WithMessage(name)
	}

	inode, err := table.liveInode(inumber)
	if err != nil {
		return InodeInfo{}, err
	}
	if inode.Count == 0 {
		delete(table.live, inumber)
	}

	inode.lock.Lock()
	defer inode.lock.Unlock()
	return inode.info(inumber), nil
}

// finishReclaim marks one reclaim started by Free or Unlink as done.
func (table *FileTable) finishReclaim() {
	table.lock.Lock()
	defer table.lock.Unlock()

	table.reclaiming--
	if table.reclaiming == 0 {
		table.changed.Broadcast()
	}
}

// exclusive runs `fn` with the table locked, provided no handles are open.
// Reclaims already under way are waited for first. Nothing can be opened until
// `fn` returns.
func (table *FileTable) exclusive(fn func() error) error {
	table.lock.Lock()
	defer table.lock.Unlock()

	for table.reclaiming > 0 {
		table.logger.Debug("waiting for reclaims", "count", table.reclaiming)
		table.changed.Wait()
	}

	if len(table.entries) > 0 {
		return flatdisk.ErrBusy.WithMessage(
			fmt.Sprintf("%d files are still open", len(table.entries)),
		)
	}

	err := fn()
	table.live = make(map[int]*Inode)
	return err
}
