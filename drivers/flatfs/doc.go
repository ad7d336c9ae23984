// Package flatfs implements a minimal single-disk file system with a flat
// namespace.
//
// # Disk layout
//
// Block 0 holds the header: the total number of blocks, the number of inodes,
// and the head of the free list. The inodes come next, packed 16 to a block.
// Every block after that is a data block, and is either owned by exactly one
// file or is a node on the free list. The first four bytes of a free block
// give the number of the next free block.
//
// A file's blocks are found through 11 direct pointers and, for larger files,
// one indirect block holding up to 256 more pointers.
//
// # Concurrency
//
// A [FileSystem] may be used from any number of goroutines. Opening a file goes
// through the [FileTable], which makes writers wait until no handle is reading
// the file. Writing to a file that's being read or written by another handle
// fails immediately with [flatdisk.ErrBusy].
//
// Locks are always taken in this order: a handle, the file table, an inode,
// then the superblock or the inode store. The device has its own lock.
package flatfs
