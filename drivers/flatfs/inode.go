package flatfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dargueta/flatdisk"
	"github.com/noxer/bytewriter"
)

// State is the lifecycle state of an inode.
type State int16

const (
	// StateUnused means no file currently claims the inode.
	StateUnused State = iota
	// StateUsed is an idle file.
	StateUsed
	// StateReadLocked means at least one read-only handle is open. Writers must
	// wait until all of them are closed.
	StateReadLocked
	// StateWriteLocked means a write is in progress.
	StateWriteLocked
	// StatePendingDelete means the file is to be reclaimed once its last handle
	// is closed. No new handles may be opened on it.
	StatePendingDelete
)

var stateNames = map[State]string{
	StateUnused:        "unused",
	StateUsed:          "used",
	StateReadLocked:    "read-locked",
	StateWriteLocked:   "write-locked",
	StatePendingDelete: "pending-delete",
}

var legalTransitions = map[State][]State{
	StateUnused:        {StateUsed, StateReadLocked},
	StateUsed:          {StateUnused, StateReadLocked, StateWriteLocked, StatePendingDelete},
	StateReadLocked:    {StateUnused, StateUsed, StatePendingDelete},
	StateWriteLocked:   {StateUsed, StatePendingDelete},
	StatePendingDelete: {StateUnused},
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return fmt.Sprintf("State(%d)", int16(s))
	}
	return name
}

func (s State) IsValid() bool {
	_, ok := stateNames[s]
	return ok
}

// IsLocked returns true if a read or write lock is held.
func (s State) IsLocked() bool {
	return s == StateReadLocked || s == StateWriteLocked
}

// CanTransitionTo returns true if an inode may go directly from state `s` to
// `next`. Staying in the same state is always allowed.
func (s State) CanTransitionTo(next State) bool {
	if s == next {
		return true
	}
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Inode is the in-memory form of a file's metadata.
//
// All handles on the same file share one Inode. Its fields may only be changed
// while holding its lock.
type Inode struct {
	Length   int
	Count    int
	State    State
	Direct   [DirectPointers]int
	Indirect int

	// readers is the number of open read-only handles. It isn't persisted.
	readers int
	lock    sync.Mutex
}

// InodeInfo is a point-in-time copy of an inode's metadata.
type InodeInfo struct {
	Inumber  int
	Length   int
	Count    int
	State    State
	Direct   [DirectPointers]int
	Indirect int
}

// info copies the inode's metadata. The caller must hold the inode's lock.
func (inode *Inode) info(inumber int) InodeInfo {
	return InodeInfo{
		Inumber:  inumber,
		Length:   inode.Length,
		Count:    inode.Count,
		State:    inode.State,
		Direct:   inode.Direct,
		Indirect: inode.Indirect,
	}
}

// rawInode is the exact on-disk layout of an inode.
type rawInode struct {
	Length   int32
	Count    int16
	State    int16
	Direct   [DirectPointers]int16
	Indirect int16
}

// NewInode returns an empty inode in the [StateUsed] state with no blocks.
func NewInode() *Inode {
	inode := &Inode{State: StateUsed}
	inode.clearPointers()
	return inode
}

func (inode *Inode) clearPointers() {
	for i := range inode.Direct {
		inode.Direct[i] = NoBlock
	}
	inode.Indirect = NoBlock
}

// transition moves the inode to state `next`, refusing changes that aren't in
// the transition table.
func (inode *Inode) transition(next State) error {
	if !inode.State.CanTransitionTo(next) {
		return flatdisk.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("illegal inode state change: %s -> %s", inode.State, next),
		)
	}
	inode.State = next
	return nil
}

// reset puts the inode back into the same state as a freshly formatted one.
func (inode *Inode) reset() {
	inode.Length = 0
	inode.Count = 0
	inode.State = StateUnused
	inode.readers = 0
	inode.clearPointers()
}

func encodeInode(slot []byte, inode *Inode) error {
	raw := rawInode{
		Length:   int32(inode.Length),
		Count:    int16(inode.Count),
		State:    int16(inode.State),
		Indirect: int16(inode.Indirect),
	}
	for i, block := range inode.Direct {
		raw.Direct[i] = int16(block)
	}

	writer := bytewriter.New(slot)
	return binary.Write(writer, binary.LittleEndian, &raw)
}

func decodeInode(slot []byte, inumber int) (*Inode, error) {
	var raw rawInode
	err := binary.Read(bytes.NewReader(slot), binary.LittleEndian, &raw)
	if err != nil {
		return nil, flatdisk.ErrFileSystemCorrupted.Wrap(err)
	}

	inode := &Inode{
		Length:   int(raw.Length),
		Count:    int(raw.Count),
		State:    State(raw.State),
		Indirect: int(raw.Indirect),
	}
	for i, block := range raw.Direct {
		inode.Direct[i] = int(block)
	}

	if !inode.State.IsValid() || inode.Length < 0 || inode.Length > MaxFileSize {
		return nil, flatdisk.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"inode %d is invalid: state=%d length=%d",
				inumber,
				raw.State,
				raw.Length,
			),
		)
	}
	return inode, nil
}

// blockIndex converts a byte offset into the index of the block holding it.
func blockIndex(offset int) int {
	return offset / flatdisk.BlockSize
}

// FindTargetBlock returns the number of the block holding byte `offset` of
// the file, or [NoBlock] if nothing is mapped there.
func (inode *Inode) FindTargetBlock(device flatdisk.BlockDevice, offset int) (int, error) {
	if offset < 0 {
		return NoBlock, nil
	}

	index := blockIndex(offset)
	if index < DirectPointers {
		return inode.Direct[index], nil
	}

	index -= DirectPointers
	if index >= PointersPerIndirect || inode.Indirect == NoBlock {
		return NoBlock, nil
	}

	entries, err := inode.IndirectEntries(device)
	if err != nil {
		return NoBlock, err
	}
	return entries[index], nil
}

// errNeedsIndirect is returned by AttachBlock when the direct pointers are used
// up and the inode doesn't have an indirect block yet.
var errNeedsIndirect = flatdisk.ErrNotSupported.WithMessage(
	"direct pointers exhausted, indirect block required",
)

// AttachBlock maps `block` as the block holding byte `offset` of the file.
func (inode *Inode) AttachBlock(device flatdisk.BlockDevice, offset int, block int) error {
	if offset < 0 || offset >= MaxFileSize {
		return flatdisk.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("offset %d is past the maximum file size %d", offset, MaxFileSize),
		)
	}

	index := blockIndex(offset)
	if index < DirectPointers {
		if inode.Direct[index] != NoBlock {
			return flatdisk.ErrExists.WithMessage(
				fmt.Sprintf("direct pointer %d already maps block %d", index, inode.Direct[index]),
			)
		}
		inode.Direct[index] = block
		return nil
	}

	if inode.Indirect == NoBlock {
		return errNeedsIndirect
	}

	index -= DirectPointers
	buf := make([]byte, flatdisk.BlockSize)
	err := device.ReadBlock(inode.Indirect, buf)
	if err != nil {
		return err
	}

	current := int16(binary.LittleEndian.Uint16(buf[index*2:]))
	if current != NoBlock {
		return flatdisk.ErrExists.WithMessage(
			fmt.Sprintf("indirect pointer %d already maps block %d", index, current),
		)
	}

	binary.LittleEndian.PutUint16(buf[index*2:], uint16(int16(block)))
	return device.WriteBlock(inode.Indirect, buf)
}

// PromoteToIndirect initializes `block` as an empty indirect block and attaches
// it to the inode.
func (inode *Inode) PromoteToIndirect(device flatdisk.BlockDevice, block int) error {
	if inode.Indirect != NoBlock {
		return flatdisk.ErrExists.WithMessage(
			fmt.Sprintf("inode already has indirect block %d", inode.Indirect),
		)
	}

	// 0xffff is -1 as a 16-bit integer.
	err := device.WriteBlock(block, bytes.Repeat([]byte{0xff}, flatdisk.BlockSize))
	if err != nil {
		return err
	}
	inode.Indirect = block
	return nil
}

// IndirectEntries returns all pointers stored in the indirect block, including
// unused ones. If there's no indirect block it returns nil.
func (inode *Inode) IndirectEntries(device flatdisk.BlockDevice) ([]int, error) {
	if inode.Indirect == NoBlock {
		return nil, nil
	}

	buf := make([]byte, flatdisk.BlockSize)
	err := device.ReadBlock(inode.Indirect, buf)
	if err != nil {
		return nil, err
	}

	entries := make([]int, PointersPerIndirect)
	for i := range entries {
		entries[i] = int(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	}
	return entries, nil
}

// OwnedBlocks returns every block the inode references, data blocks and the
// indirect block alike.
func (inode *Inode) OwnedBlocks(device flatdisk.BlockDevice) ([]int, error) {
	owned := []int{}
	for _, block := range inode.Direct {
		if block != NoBlock {
			owned = append(owned, block)
		}
	}

	entries, err := inode.IndirectEntries(device)
	if err != nil {
		return owned, err
	}
	for _, block := range entries {
		if block != NoBlock {
			owned = append(owned, block)
		}
	}

	if inode.Indirect != NoBlock {
		owned = append(owned, inode.Indirect)
	}
	return owned, nil
}

// -----------------------------------------------------------------------------

// InodeStore reads and writes inodes in the inode region of a device. Inodes
// share blocks, so all updates go through a lock here.
type InodeStore struct {
	device flatdisk.BlockDevice
	sb     *SuperBlock
	lock   sync.Mutex
}

func NewInodeStore(device flatdisk.BlockDevice, sb *SuperBlock) *InodeStore {
	return &InodeStore{
		device: device,
		sb:     sb,
	}
}

func (store *InodeStore) checkInumber(inumber int) error {
	total := store.sb.TotalInodes()
	if inumber < 0 || inumber >= total {
		return flatdisk.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("invalid inode %d: not in range [0, %d)", inumber, total),
		)
	}
	return nil
}

// Load reads inode `inumber` from disk.
func (store *InodeStore) Load(inumber int) (*Inode, error) {
	err := store.checkInumber(inumber)
	if err != nil {
		return nil, err
	}

	block, offset := inodeLocation(inumber)
	buf := make([]byte, flatdisk.BlockSize)

	store.lock.Lock()
	err = store.device.ReadBlock(block, buf)
	store.lock.Unlock()
	if err != nil {
		return nil, err
	}

	return decodeInode(buf[offset:offset+InodeSize], inumber)
}

// Store writes `inode` to slot `inumber` on disk. The caller must hold the
// inode's lock, or otherwise guarantee nobody else is changing it.
func (store *InodeStore) Store(inumber int, inode *Inode) error {
	err := store.checkInumber(inumber)
	if err != nil {
		return err
	}

	block, offset := inodeLocation(inumber)
	buf := make([]byte, flatdisk.BlockSize)

	store.lock.Lock()
	defer store.lock.Unlock()

	err = store.device.ReadBlock(block, buf)
	if err != nil {
		return err
	}
	err = encodeInode(buf[offset:offset+InodeSize], inode)
	if err != nil {
		return err
	}
	return store.device.WriteBlock(block, buf)
}
