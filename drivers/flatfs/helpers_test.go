package flatfs_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/common"
	"github.com/dargueta/flatdisk/drivers/flatfs"
	flatdisktest "github.com/dargueta/flatdisk/testing"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mountBlank creates a zeroed in-memory device and mounts a new file system on
// it, which formats it with `inodes` inodes.
func mountBlank(
	t *testing.T, totalBlocks, inodes int, options flatfs.Options,
) (*flatfs.FileSystem, *common.BlockStream) {
	device, _ := flatdisktest.CreateMemoryDevice(t, totalBlocks)
	options.DefaultInodes = inodes
	fs, err := flatfs.NewFileSystem(device, options)
	require.NoError(t, err, "failed to mount blank device")
	return fs, device
}

// writeFile creates or truncates `name` and writes `data` to it.
func writeFile(t *testing.T, fs *flatfs.FileSystem, name string, data []byte) {
	entry, err := fs.Open(name, flatdisk.ModeWrite)
	require.NoErrorf(t, err, "failed to open %q for writing", name)

	n, err := fs.Write(entry, data)
	require.NoErrorf(t, err, "failed to write %d bytes to %q", len(data), name)
	require.Equal(t, len(data), n, "short write")
	require.NoError(t, fs.Close(entry))
}

// readFile reads the entire contents of `name`.
func readFile(t *testing.T, fs *flatfs.FileSystem, name string) []byte {
	entry, err := fs.Open(name, flatdisk.ModeRead)
	require.NoErrorf(t, err, "failed to open %q for reading", name)
	defer fs.Close(entry)

	size, err := fs.FileSize(entry)
	require.NoError(t, err)

	data := make([]byte, size)
	n, err := fs.Read(entry, data)
	if size > 0 {
		require.NoError(t, err)
	}
	require.Equal(t, size, n, "short read")
	return data
}

func freeBlocks(t *testing.T, fs *flatfs.FileSystem) int {
	stat, err := fs.FSStat()
	require.NoError(t, err)
	return stat.FreeBlocks
}
