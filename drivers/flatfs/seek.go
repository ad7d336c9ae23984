package flatfs

import (
	"fmt"

	"github.com/dargueta/flatdisk"
)

// Seek moves the handle's position to `offset` relative to `whence` and returns
// the new position. The result is clamped to [0, length of the file], so a
// handle can never point past the end of its file.
//
// Origins other than SeekSet, SeekCur, and SeekEnd are handled by
// [legacyWhenceTarget] unless the file system was mounted with
// [Options.StrictWhence], in which case they're rejected.
func (fs *FileSystem) Seek(entry *FileTableEntry, offset int, whence flatdisk.Whence) (int, error) {
	err := entry.acquire()
	if err != nil {
		return 0, err
	}
	defer entry.release()

	entry.inode.lock.Lock()
	length := entry.inode.Length
	entry.inode.lock.Unlock()

	var target int
	switch whence {
	case flatdisk.SeekSet:
		target = offset
	case flatdisk.SeekCur:
		target = entry.seekPtr + offset
	case flatdisk.SeekEnd:
		target = length + offset
	default:
		if fs.options.StrictWhence {
			return entry.seekPtr, flatdisk.ErrInvalidArgument.WithMessage(
				fmt.Sprintf("unrecognized seek origin %d", int(whence)),
			)
		}
		target = legacyWhenceTarget(offset)
		fs.logger.Warn(
			"unrecognized seek origin, treating offset as absolute",
			"whence", int(whence),
			"offset", offset,
		)
	}

	entry.seekPtr = max(0, min(target, length))
	return entry.seekPtr, nil
}

// legacyWhenceTarget is where an unrecognized seek origin lands before
// clamping: `offset` bytes from the start of the file, regardless of the
// current position.
func legacyWhenceTarget(offset int) int {
	return offset
}
