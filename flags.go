package flatdisk

import "fmt"

// OpenMode is the access mode of an open handle. It's fixed for the lifetime
// of the handle.
type OpenMode int

const (
	// ModeWrite opens a file for writing, discarding its existing contents.
	ModeWrite OpenMode = iota
	// ModeReadWrite opens a file for reading and writing without truncating it.
	ModeReadWrite
	// ModeAppend opens a file for writing with the stream pointer at the end.
	ModeAppend
	// ModeRead opens an existing file for reading only.
	ModeRead
)

var modeStrings = map[OpenMode]string{
	ModeWrite:     "w",
	ModeReadWrite: "w+",
	ModeAppend:    "a",
	ModeRead:      "r",
}

// ParseOpenMode converts one of "w", "w+", "a", or "r" into an OpenMode.
func ParseOpenMode(mode string) (OpenMode, error) {
	for value, name := range modeStrings {
		if name == mode {
			return value, nil
		}
	}
	return ModeRead, ErrInvalidArgument.WithMessage(
		fmt.Sprintf("unrecognized open mode %q", mode),
	)
}

func (mode OpenMode) String() string {
	name, ok := modeStrings[mode]
	if !ok {
		return fmt.Sprintf("OpenMode(%d)", int(mode))
	}
	return name
}

// IsValid returns true if `mode` is one of the defined modes.
func (mode OpenMode) IsValid() bool {
	_, ok := modeStrings[mode]
	return ok
}

// CanRead returns true if a handle opened with this mode may be read from.
// Write and append handles are write-only.
func (mode OpenMode) CanRead() bool {
	return mode == ModeRead || mode == ModeReadWrite
}

// CanWrite returns true if a handle opened with this mode may be written to.
func (mode OpenMode) CanWrite() bool {
	return mode == ModeWrite || mode == ModeReadWrite || mode == ModeAppend
}

// Truncates returns true if opening a file in this mode discards its contents.
func (mode OpenMode) Truncates() bool {
	return mode == ModeWrite
}

// Appends returns true if the stream pointer starts at the end of the file.
func (mode OpenMode) Appends() bool {
	return mode == ModeAppend
}

// Whence is the origin of a seek operation.
type Whence int

const (
	SeekSet Whence = 0
	SeekCur Whence = 1
	SeekEnd Whence = 2
)

func (whence Whence) String() string {
	switch whence {
	case SeekSet:
		return "SEEK_SET"
	case SeekCur:
		return "SEEK_CUR"
	case SeekEnd:
		return "SEEK_END"
	default:
		return fmt.Sprintf("Whence(%d)", int(whence))
	}
}
