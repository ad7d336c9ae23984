package flatfs

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dargueta/flatdisk"
)

// Options controls how a [FileSystem] is mounted.
type Options struct {
	// DefaultInodes is the number of inodes to format with if the device
	// doesn't already contain a file system. Defaults to [DefaultInodeCount].
	DefaultInodes int
	// KeepIndirectBlock makes block deallocation free the blocks an indirect
	// block points to but not the indirect block itself, which then leaks.
	// This matches disks written by older implementations of this format.
	KeepIndirectBlock bool
	// StrictWhence makes Seek reject unknown origins instead of treating them as
	// an absolute offset.
	StrictWhence bool
	// Logger receives diagnostic output. Defaults to discarding everything.
	Logger *slog.Logger
}

// FileSystem implements file operations on top of a block device.
type FileSystem struct {
	device  flatdisk.BlockDevice
	options Options
	logger  *slog.Logger
	sb      *SuperBlock
	inodes  *InodeStore
	dir     *Directory
	table   *FileTable
}

// NewFileSystem mounts the file system on `device`, formatting it first if it
// doesn't contain one. The directory is loaded from the root file, and files
// that were pending deletion when the disk was last used are reclaimed.
func NewFileSystem(device flatdisk.BlockDevice, options Options) (*FileSystem, error) {
	if options.DefaultInodes == 0 {
		options.DefaultInodes = DefaultInodeCount
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	sb, err := LoadSuperBlock(device, options.DefaultInodes, options.Logger)
	if err != nil {
		return nil, err
	}

	inodes := NewInodeStore(device, sb)
	dir := NewDirectory(sb.TotalInodes())
	fs := &FileSystem{
		device:  device,
		options: options,
		logger:  options.Logger,
		sb:      sb,
		inodes:  inodes,
		dir:     dir,
		table:   NewFileTable(dir, inodes, options.Logger),
	}

	err = fs.loadDirectory()
	if err != nil {
		return nil, err
	}
	err = fs.reclaimOrphans()
	if err != nil {
		return nil, err
	}
	return fs, nil
}

// loadDirectory reads the directory image stored as the contents of the root
// file. An empty root means an empty directory.
func (fs *FileSystem) loadDirectory() error {
	root, err := fs.Open(RootPath, flatdisk.ModeRead)
	if err != nil {
		return err
	}

	size, err := fs.FileSize(root)
	if err != nil {
		fs.Close(root)
		return err
	}

	image := make([]byte, size)
	total := 0
	for total < size {
		n, err := fs.Read(root, image[total:])
		total += n
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			break
		} else if err != nil {
			fs.Close(root)
			return err
		}
	}

	err = fs.Close(root)
	if err != nil {
		return err
	}

	if size == 0 {
		return nil
	}
	if total != size {
		return flatdisk.ErrFileSystemCorrupted.WithMessage(
			"root directory is shorter than its recorded length",
		)
	}
	return fs.dir.UnmarshalBinary(image)
}

// reclaimOrphans frees every file that was pending deletion when the disk was
// last unmounted.
func (fs *FileSystem) reclaimOrphans() error {
	total := fs.sb.TotalInodes()
	for inumber := RootInumber + 1; inumber < total; inumber++ {
		inode, err := fs.inodes.Load(inumber)
		if err != nil {
			return err
		}
		if inode.State != StatePendingDelete {
			continue
		}

		fs.logger.Info("reclaiming orphaned file", "inumber", inumber)
		err = fs.reclaim(inumber, inode)
		if err != nil {
			return err
		}
	}
	return nil
}

// Open opens a file. Opening in [flatdisk.ModeWrite] truncates it.
func (fs *FileSystem) Open(name string, mode flatdisk.OpenMode) (*FileTableEntry, error) {
	entry, err := fs.table.Allocate(name, mode)
	if err != nil {
		return nil, err
	}

	if mode.Truncates() {
		err = fs.deallocAllBlocks(entry)
		if err != nil {
			fs.Close(entry)
			return nil, err
		}
	}
	return entry, nil
}

// Close releases a handle. If it was the last handle on a file that's pending
// deletion, the file's blocks and inode are reclaimed.
func (fs *FileSystem) Close(entry *FileTableEntry) error {
	err := entry.acquire()
	if err != nil {
		return err
	}
	defer entry.release()

	entry.closed = true
	reclaim, err := fs.table.Free(entry)
	if err != nil {
		return err
	}
	if reclaim {
		defer fs.table.finishReclaim()
		return fs.reclaim(entry.inumber, entry.inode)
	}
	return nil
}

// reclaim releases all blocks of a file nobody has open, resets its inode, and
// frees its directory slot.
func (fs *FileSystem) reclaim(inumber int, inode *Inode) error {
	inode.lock.Lock()
	defer inode.lock.Unlock()

	freeErr := fs.freeBlocks(inode)
	inode.reset()
	err := fs.inodes.Store(inumber, inode)
	fs.dir.Free(inumber)

	fs.logger.Debug("reclaimed file", "inumber", inumber)
	if freeErr != nil {
		return freeErr
	}
	return err
}

// FileSize returns the length of the file a handle refers to.
func (fs *FileSystem) FileSize(entry *FileTableEntry) (int, error) {
	err := entry.acquire()
	if err != nil {
		return 0, err
	}
	defer entry.release()

	entry.inode.lock.Lock()
	defer entry.inode.lock.Unlock()
	return entry.inode.Length, nil
}

// Delete removes a file. If it's open, its name disappears immediately but its
// contents stay available to existing handles until the last one is closed.
func (fs *FileSystem) Delete(name string) error {
	inumber, inode, err := fs.table.Unlink(name)
	if err != nil {
		return err
	}
	if inode == nil {
		return nil
	}
	defer fs.table.finishReclaim()
	return fs.reclaim(inumber, inode)
}

// Format erases the disk and creates a new file system with `inodeCount`
// inodes. It fails with [flatdisk.ErrBusy] if any files are open.
func (fs *FileSystem) Format(inodeCount int) error {
	return fs.table.exclusive(func() error {
		err := fs.sb.Format(inodeCount)
		if err != nil {
			return err
		}
		fs.dir.Reset(inodeCount)
		return nil
	})
}

// Sync writes the directory into the root file, then persists the header and
// flushes the device. It must be called before the device is detached.
//
// The directory image has a fixed size for a given inode count, so once it has
// been written it's overwritten in place and no blocks are allocated. When the
// root has to be rewritten from scratch, Sync first makes sure the free list
// can hold the whole image, so that running out of space doesn't destroy the
// image already on disk.
func (fs *FileSystem) Sync() error {
	image, err := fs.dir.MarshalBinary()
	if err != nil {
		return err
	}

	root, err := fs.Open(RootPath, flatdisk.ModeReadWrite)
	if err != nil {
		return err
	}

	err = fs.prepareRoot(root, len(image))
	if err == nil {
		_, err = fs.Write(root, image)
	}
	if err != nil {
		fs.Close(root)
		return err
	}

	err = fs.Close(root)
	if err != nil {
		return err
	}
	return fs.sb.Sync()
}

// prepareRoot empties the root file unless it already has the length of the
// directory image. It fails with [flatdisk.ErrNoSpaceOnDevice] without touching
// the root if the image wouldn't fit.
func (fs *FileSystem) prepareRoot(root *FileTableEntry, imageSize int) error {
	size, err := fs.FileSize(root)
	if err != nil || size == imageSize {
		return err
	}

	root.inode.lock.Lock()
	owned, err := root.inode.OwnedBlocks(fs.device)
	keptIndirect := fs.options.KeepIndirectBlock && root.inode.Indirect != NoBlock
	root.inode.lock.Unlock()
	if err != nil {
		return err
	}

	free, err := fs.sb.CountFreeBlocks()
	if err != nil {
		return err
	}

	available := free + len(owned)
	if keptIndirect {
		available--
	}
	needed := blocksForLength(imageSize)
	if needed > available {
		return flatdisk.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf(
				"directory needs %d blocks, only %d available",
				needed,
				available,
			),
		)
	}
	return fs.deallocAllBlocks(root)
}

// blocksForLength returns the number of blocks a file of `length` bytes
// occupies, including its indirect block if it needs one.
func blocksForLength(length int) int {
	blocks := (length + flatdisk.BlockSize - 1) / flatdisk.BlockSize
	if blocks > DirectPointers {
		blocks++
	}
	return blocks
}

// FileInfo describes one file.
type FileInfo struct {
	Name string
	InodeInfo
}

// Stat returns information about the file called `name`.
func (fs *FileSystem) Stat(name string) (FileInfo, error) {
	info, err := fs.table.Stat(name)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Name: name, InodeInfo: info}, nil
}

// List returns information about every file except the root, ordered by inode
// number.
func (fs *FileSystem) List() ([]FileInfo, error) {
	entries := fs.dir.Entries()
	result := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := fs.Stat(entry.Name)
		if errors.Is(err, flatdisk.ErrNotFound) {
			// Deleted since we got the listing.
			continue
		} else if err != nil {
			return nil, err
		}
		result = append(result, info)
	}
	return result, nil
}

// FSStat summarizes the state of the whole file system.
type FSStat struct {
	TotalBlocks    int
	TotalInodes    int
	FirstDataBlock int
	FreeBlocks     int
	OpenHandles    int
}

func (fs *FileSystem) FSStat() (FSStat, error) {
	free, err := fs.sb.CountFreeBlocks()
	if err != nil {
		return FSStat{}, err
	}
	return FSStat{
		TotalBlocks:    fs.sb.TotalBlocks(),
		TotalInodes:    fs.sb.TotalInodes(),
		FirstDataBlock: fs.sb.FirstDataBlock(),
		FreeBlocks:     free,
		OpenHandles:    fs.table.Len(),
	}, nil
}
