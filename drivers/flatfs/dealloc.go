package flatfs

import (
	"fmt"

	"github.com/dargueta/flatdisk"
	"github.com/hashicorp/go-multierror"
)

// deallocAllBlocks empties the file a handle refers to, returning all of its
// blocks to the free list. It refuses if any other handle has the file open,
// since that handle could still be using the blocks.
func (fs *FileSystem) deallocAllBlocks(entry *FileTableEntry) error {
	inode := entry.inode
	inode.lock.Lock()
	defer inode.lock.Unlock()

	if inode.Count > 1 {
		return flatdisk.ErrBusy.WithMessage(
			fmt.Sprintf(
				"can't truncate inode %d, it has %d open handles",
				entry.inumber,
				inode.Count,
			),
		)
	}

	freeErr := fs.freeBlocks(inode)
	err := fs.inodes.Store(entry.inumber, inode)
	if freeErr != nil {
		return freeErr
	}
	return err
}

// freeBlocks returns every block the inode owns to the free list, clears its
// block map, and sets its length to 0. Failures don't stop the rest of the
// blocks from being freed; all of them are reported together. The caller must
// hold the inode's lock.
//
// Every direct pointer is checked, not only the ones below the file's length,
// and all entries of the indirect block are scanned. The indirect block itself
// is freed too unless [Options.KeepIndirectBlock] is set.
func (fs *FileSystem) freeBlocks(inode *Inode) error {
	var result *multierror.Error

	for i, block := range inode.Direct {
		if block == NoBlock {
			continue
		}
		err := fs.sb.ReturnBlock(block)
		if err != nil {
			result = multierror.Append(result, err)
		}
		inode.Direct[i] = NoBlock
	}

	if inode.Indirect != NoBlock {
		entries, err := inode.IndirectEntries(fs.device)
		if err != nil {
			result = multierror.Append(result, err)
		}
		for _, block := range entries {
			if block == NoBlock {
				continue
			}
			err = fs.sb.ReturnBlock(block)
			if err != nil {
				result = multierror.Append(result, err)
			}
		}

		if fs.options.KeepIndirectBlock {
			fs.logger.Debug("leaving indirect block allocated", "block", inode.Indirect)
		} else {
			err = fs.sb.ReturnBlock(inode.Indirect)
			if err != nil {
				result = multierror.Append(result, err)
			}
		}
		inode.Indirect = NoBlock
	}

	inode.Length = 0
	return result.ErrorOrNil()
}
