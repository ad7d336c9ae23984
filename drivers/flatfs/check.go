package flatfs

import (
	"fmt"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/common"
	"github.com/hashicorp/go-multierror"
)

// CheckReport is the result of a consistency check.
type CheckReport struct {
	TotalBlocks    int
	FirstDataBlock int
	// FreeBlocks is the length of the free list.
	FreeBlocks int
	// OwnedBlocks is the number of blocks referenced by inodes, including
	// indirect blocks.
	OwnedBlocks int
	// Leaked lists data blocks that are neither free nor owned by any inode.
	Leaked []int
}

// Check verifies that every data block is either on the free list or owned by
// exactly one inode, that the free list has no cycles, and that no file is
// longer than the blocks it has mapped. Leaked blocks are reported but aren't
// an error. Problems are all collected into one error wrapping
// [flatdisk.ErrFileSystemCorrupted].
//
// Check fails with [flatdisk.ErrBusy] if any files are open.
func (fs *FileSystem) Check() (CheckReport, error) {
	var report CheckReport
	var problems *multierror.Error

	err := fs.table.exclusive(func() error {
		var err error
		report, problems, err = fs.check()
		return err
	})
	if err != nil {
		return report, err
	}

	if problems.ErrorOrNil() != nil {
		return report, flatdisk.ErrFileSystemCorrupted.Wrap(problems)
	}
	return report, nil
}

func (fs *FileSystem) check() (CheckReport, *multierror.Error, error) {
	report := CheckReport{
		TotalBlocks:    fs.sb.TotalBlocks(),
		FirstDataBlock: fs.sb.FirstDataBlock(),
	}
	var problems *multierror.Error

	blockMap := common.NewBlockMap(report.TotalBlocks)
	err := blockMap.ClaimRange(0, report.FirstDataBlock)
	if err != nil {
		return report, nil, err
	}

	err = fs.sb.walkFreeList(func(block int) error {
		claimErr := blockMap.Claim(block)
		if claimErr != nil {
			return claimErr
		}
		report.FreeBlocks++
		return nil
	})
	if err != nil {
		problems = multierror.Append(problems, fmt.Errorf("free list: %w", err))
	}

	totalInodes := fs.sb.TotalInodes()
	for inumber := 0; inumber < totalInodes; inumber++ {
		inode, err := fs.inodes.Load(inumber)
		if err != nil {
			problems = multierror.Append(problems, err)
			continue
		}
		problems = multierror.Append(problems, fs.checkInode(inumber, inode, blockMap, &report)...)
	}

	report.Leaked = blockMap.Unclaimed(report.FirstDataBlock, report.TotalBlocks)
	if len(report.Leaked) > 0 {
		fs.logger.Warn("found leaked blocks", "count", len(report.Leaked))
	}
	return report, problems, nil
}

func (fs *FileSystem) checkInode(
	inumber int, inode *Inode, blockMap *common.BlockMap, report *CheckReport,
) []error {
	problems := []error{}

	owned, err := inode.OwnedBlocks(fs.device)
	if err != nil {
		problems = append(problems, fmt.Errorf("inode %d: %w", inumber, err))
	}

	for _, block := range owned {
		if block < report.FirstDataBlock || block >= report.TotalBlocks {
			problems = append(
				problems,
				fmt.Errorf(
					"inode %d: block %d is outside the data region [%d, %d)",
					inumber,
					block,
					report.FirstDataBlock,
					report.TotalBlocks,
				),
			)
			continue
		}

		err = blockMap.Claim(block)
		if err != nil {
			problems = append(problems, fmt.Errorf("inode %d: %w", inumber, err))
			continue
		}
		report.OwnedBlocks++
	}

	for offset := 0; offset < inode.Length; offset += flatdisk.BlockSize {
		block, err := inode.FindTargetBlock(fs.device, offset)
		if err != nil {
			problems = append(problems, fmt.Errorf("inode %d: %w", inumber, err))
			break
		}
		if block == NoBlock {
			problems = append(
				problems,
				fmt.Errorf(
					"inode %d: length is %d but offset %d has no block",
					inumber,
					inode.Length,
					offset,
				),
			)
			break
		}
	}
	return problems
}
