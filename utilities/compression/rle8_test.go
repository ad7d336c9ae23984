package compression

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeRLE8(t *testing.T, data []byte) []byte {
	var output bytes.Buffer
	writer := newRLE8Writer(&output)
	n, err := writer.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, writer.Close())
	return output.Bytes()
}

func decodeRLE8(t *testing.T, encoded []byte) []byte {
	decoded, err := io.ReadAll(newRLE8Reader(bytes.NewReader(encoded)))
	require.NoError(t, err)
	return decoded
}

func TestRLE8__Encode(t *testing.T) {
	cases := []struct {
		name     string
		input    []byte
		expected []byte
	}{
		{"empty", []byte{}, []byte{}},
		{"single", []byte("W"), []byte("W")},
		{"pair", []byte("ZZ"), []byte("ZZ\x00")},
		{"mixed", []byte("WXXXXXXXXXXXXXXXYZZ"), []byte("WXX\x0dYZZ\x00")},
		{"max run", bytes.Repeat([]byte{0}, 257), []byte{0, 0, 255}},
		{"split run", bytes.Repeat([]byte("X"), 300), []byte("XX\xffXX\x29")},
		{"split leaves one", bytes.Repeat([]byte("X"), 258), []byte("XX\xffX")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := encodeRLE8(t, tc.input)
			assert.Equal(t, tc.expected, append([]byte{}, encoded...))
			assert.Equal(t, tc.input, append([]byte{}, decodeRLE8(t, encoded)...))
		})
	}
}

func TestRLE8__WritesAcrossCalls(t *testing.T) {
	var output bytes.Buffer
	writer := newRLE8Writer(&output)
	for i := 0; i < 10; i++ {
		_, err := writer.Write([]byte{7})
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	assert.Equal(t, []byte{7, 7, 8}, output.Bytes())
}

func TestRLE8__SmallReads(t *testing.T) {
	original := append(bytes.Repeat([]byte{1}, 600), []byte("abcdd")...)
	reader := newRLE8Reader(bytes.NewReader(encodeRLE8(t, original)))

	decoded := []byte{}
	buffer := make([]byte, 7)
	for {
		n, err := reader.Read(buffer)
		decoded = append(decoded, buffer[:n]...)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, original, decoded)
}

func TestRLE8__TruncatedRun(t *testing.T) {
	_, err := io.ReadAll(newRLE8Reader(bytes.NewReader([]byte("abb"))))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
