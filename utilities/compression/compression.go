package compression

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/dargueta/flatdisk"
)

// ExportDevice writes a compressed snapshot of every block on `device` to
// `output`, and returns the number of blocks written.
func ExportDevice(device flatdisk.BlockDevice, output io.Writer) (int, error) {
	// The images aren't that large, so the speed difference between the
	// default and the best compression level doesn't matter.
	gzWriter, err := gzip.NewWriterLevel(output, gzip.BestCompression)
	if err != nil {
		return 0, err
	}
	encoder := newRLE8Writer(gzWriter)

	buffer := make([]byte, flatdisk.BlockSize)
	totalBlocks := device.TotalBlocks()
	for block := 0; block < totalBlocks; block++ {
		err = device.ReadBlock(block, buffer)
		if err != nil {
			gzWriter.Close()
			return block, err
		}
		_, err = encoder.Write(buffer)
		if err != nil {
			gzWriter.Close()
			return block, flatdisk.ErrIOFailed.Wrap(err)
		}
	}

	err = encoder.Close()
	if err != nil {
		gzWriter.Close()
		return totalBlocks, flatdisk.ErrIOFailed.Wrap(err)
	}
	err = gzWriter.Close()
	if err != nil {
		return totalBlocks, flatdisk.ErrIOFailed.Wrap(err)
	}
	return totalBlocks, nil
}

// ImportDevice restores a snapshot made by [ExportDevice] onto `device`, and
// returns the number of blocks written. A snapshot smaller than the device
// leaves the remaining blocks untouched; one that's larger is an error.
func ImportDevice(input io.Reader, device flatdisk.BlockDevice) (int, error) {
	gzReader, err := gzip.NewReader(input)
	if err != nil {
		return 0, flatdisk.ErrInvalidArgument.Wrap(err)
	}
	defer gzReader.Close()
	decoder := newRLE8Reader(gzReader)

	buffer := make([]byte, flatdisk.BlockSize)
	totalBlocks := device.TotalBlocks()
	block := 0
	for ; block < totalBlocks; block++ {
		_, err = io.ReadFull(decoder, buffer)
		if errors.Is(err, io.EOF) {
			return block, device.Sync()
		} else if err != nil {
			return block, flatdisk.ErrFileSystemCorrupted.Wrap(
				fmt.Errorf("snapshot ends in the middle of block %d: %w", block, err),
			)
		}

		err = device.WriteBlock(block, buffer)
		if err != nil {
			return block, err
		}
	}

	n, err := decoder.Read(buffer[:1])
	if n > 0 {
		return block, flatdisk.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf("snapshot is larger than the device's %d blocks", totalBlocks),
		)
	} else if err != nil && !errors.Is(err, io.EOF) {
		return block, flatdisk.ErrFileSystemCorrupted.Wrap(err)
	}
	return block, device.Sync()
}
