// Package compression saves and restores whole block devices as compressed
// snapshots.
//
// Most of a freshly formatted disk is zero bytes, so the raw image is first
// run-length encoded and then gzipped. The run-length encoding is RLE8, the
// one used by the BMP file format: a byte that occurs N >= 2 times in a row is
// written twice, followed by an unsigned byte giving the number of additional
// repetitions. Runs longer than 257 bytes are split.
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
package compression
