package flatfs_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/dargueta/flatdisk"
	"github.com/dargueta/flatdisk/drivers/flatfs"
	flatdisktest "github.com/dargueta/flatdisk/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFile__CopyInAndOut(t *testing.T) {
	fs, _ := mountBlank(t, 200, 16, flatfs.Options{})
	data := flatdisktest.RandomBytes(t, 9000)

	file, err := fs.OpenFile("/copy.bin", flatdisk.ModeWrite)
	require.NoError(t, err)
	assert.Equal(t, "/copy.bin", file.Name())

	written, err := io.Copy(file, bytes.NewReader(data))
	require.NoError(t, err)
	assert.EqualValues(t, len(data), written)
	require.NoError(t, file.Close())

	file, err = fs.OpenFile("/copy.bin", flatdisk.ModeRead)
	require.NoError(t, err)
	defer file.Close()

	size, err := file.Size()
	require.NoError(t, err)
	assert.EqualValues(t, len(data), size)

	var output bytes.Buffer
	read, err := io.Copy(&output, file)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), read)
	assert.Equal(t, data, output.Bytes())
}

func TestFile__SeekAndTell(t *testing.T) {
	fs, _ := mountBlank(t, 20, 8, flatfs.Options{})

	file, err := fs.OpenFile("/f", flatdisk.ModeReadWrite)
	require.NoError(t, err)
	defer file.Close()

	n, err := file.WriteString("0123456789")
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.EqualValues(t, 10, file.Tell())

	position, err := file.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 6, position)

	buf := make([]byte, 2)
	_, err = io.ReadFull(file, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("67"), buf)
	assert.EqualValues(t, 8, file.Tell())

	position, err = file.Seek(-3, io.SeekCurrent)
	require.NoError(t, err)
	assert.EqualValues(t, 5, position)

	position, err = file.Seek(100, io.SeekStart)
	require.NoError(t, err)
	assert.EqualValues(t, 10, position, "seek past the end should clamp")
}

func TestFile__ReadAll(t *testing.T) {
	fs, _ := mountBlank(t, 20, 8, flatfs.Options{})
	writeFile(t, fs, "/f", []byte("the whole thing"))

	file, err := fs.OpenFile("/f", flatdisk.ModeRead)
	require.NoError(t, err)
	defer file.Close()

	contents, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, []byte("the whole thing"), contents)
}

func TestFile__CloseTwice(t *testing.T) {
	fs, _ := mountBlank(t, 20, 8, flatfs.Options{})
	file, err := fs.OpenFile("/f", flatdisk.ModeWrite)
	require.NoError(t, err)

	require.NoError(t, file.Close())
	assert.ErrorIs(t, file.Close(), flatdisk.ErrInvalidFileDescriptor)
}
