package compression

import (
	"bufio"
	"fmt"
	"io"
)

// maxRunLength is the longest run one RLE8 triple can represent.
const maxRunLength = 257

// rle8Writer run-length encodes everything written to it. Close must be called
// to flush the final run; it doesn't close the underlying writer.
type rle8Writer struct {
	output  io.Writer
	current byte
	length  int
}

func newRLE8Writer(output io.Writer) *rle8Writer {
	return &rle8Writer{output: output}
}

func (w *rle8Writer) Write(data []byte) (int, error) {
	for i, b := range data {
		if w.length > 0 && b == w.current && w.length < maxRunLength {
			w.length++
			continue
		}

		err := w.flush()
		if err != nil {
			return i, err
		}
		w.current = b
		w.length = 1
	}
	return len(data), nil
}

func (w *rle8Writer) flush() error {
	var encoded []byte
	switch w.length {
	case 0:
		return nil
	case 1:
		encoded = []byte{w.current}
	default:
		encoded = []byte{w.current, w.current, byte(w.length - 2)}
	}

	w.length = 0
	_, err := w.output.Write(encoded)
	return err
}

func (w *rle8Writer) Close() error {
	return w.flush()
}

// rle8Reader decodes an RLE8 stream.
type rle8Reader struct {
	input *bufio.Reader
	// previous is the last literal byte read, or -1 right after a run ended.
	previous int
	pending  byte
	repeat   int
}

func newRLE8Reader(input io.Reader) *rle8Reader {
	return &rle8Reader{
		input:    bufio.NewReader(input),
		previous: -1,
	}
}

func (r *rle8Reader) Read(buffer []byte) (int, error) {
	n := 0
	for n < len(buffer) {
		if r.repeat > 0 {
			buffer[n] = r.pending
			n++
			r.repeat--
			continue
		}

		b, err := r.input.ReadByte()
		if err == io.EOF && n > 0 {
			return n, nil
		} else if err != nil {
			return n, err
		}

		buffer[n] = b
		n++

		if int(b) != r.previous {
			r.previous = int(b)
			continue
		}

		// Second byte of a run; the next one is the repeat count.
		count, err := r.input.ReadByte()
		if err == io.EOF {
			return n, fmt.Errorf(
				"%w: missing repeat count after two %02x bytes", io.ErrUnexpectedEOF, b,
			)
		} else if err != nil {
			return n, err
		}
		r.pending = b
		r.repeat = int(count)
		r.previous = -1
	}
	return n, nil
}
