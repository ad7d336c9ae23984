package flatfs

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dargueta/flatdisk"
)

// directorySlotSize is the number of bytes one slot takes up in the serialized
// directory: a 4-byte name length plus the name itself.
const directorySlotSize = 4 + MaxNameLength

// DirectoryEntry is one named file.
type DirectoryEntry struct {
	Name    string
	Inumber int
}

// Directory maps file names to inodes. There's one slot per inode, and the
// slot number is the inode number. Slot 0 always holds the root directory.
//
// A slot is either free, named, or reserved. Reserved slots have lost their
// name but their inode is still in use by an open handle, so the inode number
// can't be handed out again until the slot is freed.
type Directory struct {
	lock     sync.Mutex
	names    []string
	reserved []bool
}

// NewDirectory creates a directory with `size` slots, all free except for the
// root.
func NewDirectory(size int) *Directory {
	dir := &Directory{}
	dir.reset(size)
	return dir
}

func (dir *Directory) reset(size int) {
	dir.names = make([]string, size)
	dir.reserved = make([]bool, size)
	if size > 0 {
		dir.names[RootInumber] = RootPath
	}
}

// Reset frees every slot and resizes the directory to `size` slots.
func (dir *Directory) Reset(size int) {
	dir.lock.Lock()
	defer dir.lock.Unlock()
	dir.reset(size)
}

func validateName(name string) error {
	if name == "" {
		return flatdisk.ErrInvalidArgument.WithMessage("file name can't be empty")
	}
	if len(name) > MaxNameLength {
		return flatdisk.ErrNameTooLong.WithMessage(
			fmt.Sprintf("%q is %d bytes, limit is %d", name, len(name), MaxNameLength),
		)
	}
	return nil
}

// Resolve returns the inode number for `name`.
func (dir *Directory) Resolve(name string) (int, bool) {
	dir.lock.Lock()
	defer dir.lock.Unlock()
	return dir.resolve(name)
}

func (dir *Directory) resolve(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for inumber, existing := range dir.names {
		if existing == name {
			return inumber, true
		}
	}
	return 0, false
}

// Allocate gives `name` the lowest free slot and returns its inode number.
func (dir *Directory) Allocate(name string) (int, error) {
	err := validateName(name)
	if err != nil {
		return 0, err
	}

	dir.lock.Lock()
	defer dir.lock.Unlock()

	if _, exists := dir.resolve(name); exists {
		return 0, flatdisk.ErrExists.WithMessage(name)
	}

	for inumber := RootInumber + 1; inumber < len(dir.names); inumber++ {
		if dir.names[inumber] == "" && !dir.reserved[inumber] {
			dir.names[inumber] = name
			return inumber, nil
		}
	}
	return 0, flatdisk.ErrNoSpaceOnDevice.WithMessage(
		fmt.Sprintf("all %d inodes are in use", len(dir.names)),
	)
}

// Unlink removes the name from a slot but keeps it reserved. Returns false if
// the slot had no name. The root can't be unlinked.
func (dir *Directory) Unlink(inumber int) bool {
	dir.lock.Lock()
	defer dir.lock.Unlock()

	if inumber <= RootInumber || inumber >= len(dir.names) || dir.names[inumber] == "" {
		return false
	}
	dir.names[inumber] = ""
	dir.reserved[inumber] = true
	return true
}

// Free releases a slot, whether it's named or reserved. Returns false if it
// was already free. The root can't be freed.
func (dir *Directory) Free(inumber int) bool {
	dir.lock.Lock()
	defer dir.lock.Unlock()

	if inumber <= RootInumber || inumber >= len(dir.names) {
		return false
	}
	if dir.names[inumber] == "" && !dir.reserved[inumber] {
		return false
	}
	dir.names[inumber] = ""
	dir.reserved[inumber] = false
	return true
}

// NameOf returns the name in slot `inumber`, if it has one.
func (dir *Directory) NameOf(inumber int) (string, bool) {
	dir.lock.Lock()
	defer dir.lock.Unlock()

	if inumber < 0 || inumber >= len(dir.names) || dir.names[inumber] == "" {
		return "", false
	}
	return dir.names[inumber], true
}

// Entries returns every named slot except the root, ordered by inode number.
func (dir *Directory) Entries() []DirectoryEntry {
	dir.lock.Lock()
	defer dir.lock.Unlock()

	entries := []DirectoryEntry{}
	for inumber, name := range dir.names {
		if inumber != RootInumber && name != "" {
			entries = append(entries, DirectoryEntry{Name: name, Inumber: inumber})
		}
	}
	return entries
}

// Size returns the number of slots.
func (dir *Directory) Size() int {
	dir.lock.Lock()
	defer dir.lock.Unlock()
	return len(dir.names)
}

// MarshalBinary serializes the directory: first the length of every name as a
// 32-bit integer, then every name padded to [MaxNameLength] bytes. Reserved
// slots are written as empty.
func (dir *Directory) MarshalBinary() ([]byte, error) {
	dir.lock.Lock()
	defer dir.lock.Unlock()

	count := len(dir.names)
	data := make([]byte, count*directorySlotSize)
	nameRegion := data[count*4:]

	for i, name := range dir.names {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(len(name)))
		copy(nameRegion[i*MaxNameLength:(i+1)*MaxNameLength], name)
	}
	return data, nil
}

// UnmarshalBinary replaces the directory's contents with a serialized image
// made by [Directory.MarshalBinary]. The image must have exactly as many slots
// as the directory. The root is always restored, whatever the image says.
func (dir *Directory) UnmarshalBinary(data []byte) error {
	dir.lock.Lock()
	defer dir.lock.Unlock()

	count := len(dir.names)
	if len(data) != count*directorySlotSize {
		return flatdisk.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"directory image is %d bytes, expected %d for %d slots",
				len(data),
				count*directorySlotSize,
				count,
			),
		)
	}

	names := make([]string, count)
	nameRegion := data[count*4:]
	for i := range names {
		length := int(binary.LittleEndian.Uint32(data[i*4:]))
		if length > MaxNameLength {
			return flatdisk.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("directory slot %d has a name of %d bytes", i, length),
			)
		}
		start := i * MaxNameLength
		names[i] = string(nameRegion[start : start+length])
	}

	names[RootInumber] = RootPath
	dir.names = names
	dir.reserved = make([]bool, count)
	return nil
}
