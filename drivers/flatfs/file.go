package flatfs

import (
	"io"

	"github.com/dargueta/flatdisk"
)

// File is a file-like wrapper around an open handle that emulates a subset of
// the functionality provided by an [os.File] instance.
type File struct {
	// Interfaces
	io.Closer
	io.ReaderFrom
	io.ReadWriteSeeker
	io.StringWriter
	io.WriterTo

	// Fields
	name  string
	fs    *FileSystem
	entry *FileTableEntry
}

// OpenFile opens `name` and wraps the handle in a [File].
func (fs *FileSystem) OpenFile(name string, mode flatdisk.OpenMode) (*File, error) {
	entry, err := fs.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return &File{
		name:  name,
		fs:    fs,
		entry: entry,
	}, nil
}

func (file *File) Name() string {
	return file.name
}

// Handle returns the underlying handle.
func (file *File) Handle() *FileTableEntry {
	return file.entry
}

func (file *File) Close() error {
	return file.fs.Close(file.entry)
}

func (file *File) Read(buffer []byte) (int, error) {
	return file.fs.Read(file.entry, buffer)
}

func (file *File) Write(buffer []byte) (int, error) {
	return file.fs.Write(file.entry, buffer)
}

// WriteString writes a string to the file.
func (file *File) WriteString(s string) (int, error) {
	return file.Write([]byte(s))
}

// Seek resets the file position to `offset` bytes from the origin specified in
// `whence`, one of [io.SeekStart], [io.SeekCurrent], or [io.SeekEnd]. Unlike
// [os.File], the position is clamped to the bounds of the file rather than
// failing or seeking past the end.
func (file *File) Seek(offset int64, whence int) (int64, error) {
	position, err := file.fs.Seek(file.entry, int(offset), flatdisk.Whence(whence))
	return int64(position), err
}

// Size returns the size of the file, in bytes.
func (file *File) Size() (int64, error) {
	size, err := file.fs.FileSize(file.entry)
	return int64(size), err
}

// Tell returns the current file position. It's a more concise way of calling
// `Seek(0, io.SeekCurrent)`.
func (file *File) Tell() int64 {
	return int64(file.entry.SeekPointer())
}

// ReadFrom writes everything from `r` into the file, one block at a time.
func (file *File) ReadFrom(r io.Reader) (int64, error) {
	buffer := make([]byte, flatdisk.BlockSize)
	totalWritten := int64(0)

	for {
		readSize, readErr := r.Read(buffer)
		if readSize > 0 {
			written, writeErr := file.Write(buffer[:readSize])
			totalWritten += int64(written)
			if writeErr != nil {
				return totalWritten, writeErr
			}
		}

		if readErr == io.EOF {
			return totalWritten, nil
		} else if readErr != nil {
			return totalWritten, readErr
		}
	}
}

// WriteTo copies the rest of the file into `w`.
func (file *File) WriteTo(w io.Writer) (int64, error) {
	buffer := make([]byte, flatdisk.BlockSize)
	totalWritten := int64(0)

	for {
		readSize, readErr := file.Read(buffer)

		// Always write the data we've read in regardless of whether an error
		// occurred or not.
		if readSize > 0 {
			written, writeErr := w.Write(buffer[:readSize])
			totalWritten += int64(written)
			if writeErr != nil {
				return totalWritten, writeErr
			}
		}

		if readErr == io.EOF {
			return totalWritten, nil
		} else if readErr != nil {
			return totalWritten, readErr
		} else if readSize == 0 {
			// The block map ended before the file did.
			return totalWritten, nil
		}
	}
}
