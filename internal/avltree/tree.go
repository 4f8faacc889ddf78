package avltree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/natstore/internal/datafile"
	"github.com/hupe1980/natstore/internal/fs"
	"github.com/hupe1980/natstore/internal/mmap"
)

const (
	headerSize = 64
	slotSize   = 48
	tagSize    = 32
	version    = 1

	// DefaultAllocationLot is the default number of slots the file grows by.
	DefaultAllocationLot = 4096

	// MaxRow is the largest row identifier.
	MaxRow = math.MaxUint32 - 1

	slotLive uint8 = 1
)

var magic = [8]byte{'N', 'S', 'A', 'V', 'L', 0, 1, 0}

var (
	// ErrBadMagic is returned when the file is not an index file.
	ErrBadMagic = errors.New("avltree: bad magic")
	// ErrCorrupt is returned when the stored tree is inconsistent.
	ErrCorrupt = errors.New("avltree: corrupt index")
	// ErrInvalidRow is returned for row 0 or rows beyond MaxRow.
	ErrInvalidRow = errors.New("avltree: invalid row")
	// ErrRowInUse is returned when inserting a row that is already linked.
	ErrRowInUse = errors.New("avltree: row already linked")
	// ErrRowVacant is returned when deleting a row that is not linked.
	ErrRowVacant = errors.New("avltree: row not linked")
	// ErrStalePosition is returned when a Found no longer matches the tree.
	ErrStalePosition = errors.New("avltree: stale insert position")
)

// FlagNumeric marks a Value whose Num field caches the parsed number.
const FlagNumeric uint32 = 1 << 0

// Value is the payload of an index entry.
type Value struct {
	Loc   datafile.Location
	Flags uint32
	Num   float64
}

// Numeric reports whether Num is valid.
func (v Value) Numeric() bool {
	return v.Flags&FlagNumeric != 0
}

// Same reports whether v and o share one content location.
func (v Value) Same(o Value) bool {
	return v.Loc == o.Loc
}

// Found is the result of Search: the position a new entry would take at the
// end of its run of order-equal entries.
type Found struct {
	// Parent is the node the new entry attaches to, 0 for an empty tree.
	Parent uint32
	// Left reports whether the entry becomes Parent's left child.
	Left bool
	// Twin is the last order-equal row, 0 if there is none.
	Twin uint32
}

// Options configures a Tree.
type Options struct {
	// FS is the file system used to open the file. Defaults to fs.Default.
	FS fs.FileSystem
	// AllocationLot is the number of slots the file grows by.
	AllocationLot uint32
	// Tag is stored in a new file and reported by Tag on reopen.
	Tag string
}

// Tree is an open index file.
type Tree struct {
	file     fs.File
	m        *mmap.Mapping
	lot      uint32
	capacity uint32 // slots covered by the mapping, including slot 0

	live *roaring.Bitmap
	free *roaring.Bitmap
}

// Open opens or creates the index file at path.
func Open(path string, optFns ...func(*Options)) (*Tree, error) {
	opts := Options{
		FS:            fs.Default,
		AllocationLot: DefaultAllocationLot,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.AllocationLot == 0 {
		opts.AllocationLot = DefaultAllocationLot
	}
	if len(opts.Tag) > tagSize {
		return nil, fmt.Errorf("avltree: tag %q longer than %d bytes", opts.Tag, tagSize)
	}

	f, err := opts.FS.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	t, err := open(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return t, nil
}

func open(f fs.File, opts Options) (*Tree, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()

	t := &Tree{
		file: f,
		live: roaring.New(),
		free: roaring.New(),
	}

	created := size == 0
	if created {
		t.lot = opts.AllocationLot
		size = fileSize(t.lot)
		if err := f.Truncate(size); err != nil {
			return nil, err
		}
	} else if size < headerSize {
		return nil, ErrBadMagic
	}

	if int64(int(size)) != size {
		return nil, mmap.ErrInvalidSize
	}
	m, err := mmap.Map(f, int(size), true)
	if err != nil {
		return nil, err
	}
	t.m = m
	// Tree walks jump between slots; read-ahead only pollutes the cache.
	_ = m.Advise(mmap.AdviceRandom)
	t.capacity = uint32((size - headerSize) / slotSize)

	hdr := m.Bytes()[:headerSize]
	if created {
		copy(hdr[0:8], magic[:])
		binary.LittleEndian.PutUint32(hdr[8:], version)
		binary.LittleEndian.PutUint32(hdr[24:], t.lot)
		copy(hdr[32:32+tagSize], opts.Tag)
		return t, nil
	}

	if [8]byte(hdr[0:8]) != magic {
		_ = m.Close()
		return nil, ErrBadMagic
	}
	t.lot = binary.LittleEndian.Uint32(hdr[24:])
	if t.lot == 0 {
		t.lot = opts.AllocationLot
	}
	if err := t.load(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return t, nil
}

func fileSize(slots uint32) int64 {
	return headerSize + int64(slots)*slotSize
}

// load rebuilds the live and free bitmaps from the slots.
func (t *Tree) load() error {
	maxRow := t.maxRow()
	if maxRow >= t.capacity {
		return fmt.Errorf("%w: max row %d beyond capacity %d", ErrCorrupt, maxRow, t.capacity)
	}
	for row := uint32(1); row <= maxRow; row++ {
		if t.slot(row)[13]&slotLive != 0 {
			t.live.Add(row)
		} else {
			t.free.Add(row)
		}
	}
	if got := uint32(t.live.GetCardinality()); got != t.header32(16) {
		return fmt.Errorf("%w: header counts %d rows, found %d", ErrCorrupt, t.header32(16), got)
	}
	if root := t.Root(); root != 0 && !t.live.Contains(root) {
		return fmt.Errorf("%w: root %d is not linked", ErrCorrupt, root)
	}
	return nil
}

func (t *Tree) header32(off int) uint32 {
	return binary.LittleEndian.Uint32(t.m.Bytes()[off:])
}

func (t *Tree) setHeader32(off int, v uint32) {
	binary.LittleEndian.PutUint32(t.m.Bytes()[off:], v)
}

// Tag returns the tag stored in the file header.
func (t *Tree) Tag() string {
	raw := t.m.Bytes()[32 : 32+tagSize]
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}

// Root returns the root row, 0 for an empty tree.
func (t *Tree) Root() uint32 { return t.header32(12) }

func (t *Tree) setRoot(row uint32) { t.setHeader32(12, row) }

// Len returns the number of linked rows.
func (t *Tree) Len() int { return int(t.header32(16)) }

func (t *Tree) maxRow() uint32 { return t.header32(20) }

// MaxRow returns the highest row that is or was linked and not yet trimmed.
func (t *Tree) MaxRow() uint32 { return t.maxRow() }

// AllocationLot returns the growth step in slots.
func (t *Tree) AllocationLot() uint32 { return t.lot }

// NextRow returns the row a new entry should use: the smallest vacant row, or
// one past the max row.
func (t *Tree) NextRow() uint32 {
	if !t.free.IsEmpty() {
		return t.free.Minimum()
	}
	return t.maxRow() + 1
}

// Contains reports whether row is linked.
func (t *Tree) Contains(row uint32) bool {
	return t.live.Contains(row)
}

// Rows returns a copy of the set of linked rows.
func (t *Tree) Rows() *roaring.Bitmap {
	return t.live.Clone()
}

// Get returns the value of row.
func (t *Tree) Get(row uint32) (Value, bool) {
	if !t.live.Contains(row) {
		return Value{}, false
	}
	return t.value(row), true
}

// Search locates the position of a probe. cmp orders the entry at row against
// the probe: negative if the entry sorts before it, zero if equal, positive
// if after.
func (t *Tree) Search(cmp func(row uint32, v Value) int) Found {
	var f Found
	for cur := t.Root(); cur != 0; {
		c := cmp(cur, t.value(cur))
		f.Parent = cur
		if c > 0 {
			f.Left = true
			cur = t.left(cur)
			continue
		}
		f.Left = false
		if c == 0 {
			f.Twin = cur
		}
		cur = t.right(cur)
	}
	return f
}

// LowerBound returns the first row whose entry does not sort before the
// probe, 0 if there is none.
func (t *Tree) LowerBound(cmp func(row uint32, v Value) int) uint32 {
	var res uint32
	for cur := t.Root(); cur != 0; {
		if cmp(cur, t.value(cur)) >= 0 {
			res = cur
			cur = t.left(cur)
		} else {
			cur = t.right(cur)
		}
	}
	return res
}

// UpperBound returns the first row whose entry sorts after the probe, 0 if
// there is none.
func (t *Tree) UpperBound(cmp func(row uint32, v Value) int) uint32 {
	var res uint32
	for cur := t.Root(); cur != 0; {
		if cmp(cur, t.value(cur)) > 0 {
			res = cur
			cur = t.left(cur)
		} else {
			cur = t.right(cur)
		}
	}
	return res
}

// Insert links row with value v at the position f returned by Search.
func (t *Tree) Insert(row uint32, v Value, f Found) error {
	if row == 0 || row > MaxRow {
		return fmt.Errorf("%w: %d", ErrInvalidRow, row)
	}
	if t.live.Contains(row) {
		return fmt.Errorf("%w: %d", ErrRowInUse, row)
	}
	switch {
	case f.Parent == 0:
		if t.Root() != 0 {
			return ErrStalePosition
		}
	case !t.live.Contains(f.Parent):
		return ErrStalePosition
	case f.Left && t.left(f.Parent) != 0, !f.Left && t.right(f.Parent) != 0:
		return ErrStalePosition
	}
	if err := t.ensure(row); err != nil {
		return err
	}

	s := t.slot(row)
	clear(s)
	t.setParent(row, f.Parent)
	t.setHeight(row, 1)
	s[13] = slotLive
	t.setValue(row, v)

	switch {
	case f.Parent == 0:
		t.setRoot(row)
	case f.Left:
		t.setLeft(f.Parent, row)
	default:
		t.setRight(f.Parent, row)
	}
	t.rebalance(f.Parent)

	if maxRow := t.maxRow(); row > maxRow {
		if row > maxRow+1 {
			t.free.AddRange(uint64(maxRow)+1, uint64(row))
		}
		t.setHeader32(20, row)
	}
	t.free.Remove(row)
	t.live.Add(row)
	t.setHeader32(16, t.header32(16)+1)
	return nil
}

// Delete unlinks row and vacates its slot.
func (t *Tree) Delete(row uint32) error {
	if !t.live.Contains(row) {
		return fmt.Errorf("%w: %d", ErrRowVacant, row)
	}

	parent, left, right := t.parent(row), t.left(row), t.right(row)
	var from uint32
	switch {
	case left != 0 && right != 0:
		s := t.min(right)
		if sp := t.parent(s); sp != row {
			sr := t.right(s)
			t.setLeft(sp, sr)
			if sr != 0 {
				t.setParent(sr, sp)
			}
			t.setRight(s, right)
			t.setParent(right, s)
			from = sp
		} else {
			from = s
		}
		t.setLeft(s, left)
		t.setParent(left, s)
		t.setParent(s, parent)
		t.replaceChild(parent, row, s)
		t.setHeight(s, t.height(row))
	default:
		child := left
		if child == 0 {
			child = right
		}
		if child != 0 {
			t.setParent(child, parent)
		}
		t.replaceChild(parent, row, child)
		from = parent
	}
	t.rebalance(from)

	clear(t.slot(row))
	t.live.Remove(row)
	t.free.Add(row)
	t.setHeader32(16, t.header32(16)-1)

	// Trim vacant rows off the top so NextRow stays dense.
	maxRow := t.maxRow()
	for maxRow > 0 && t.free.Contains(maxRow) {
		t.free.Remove(maxRow)
		maxRow--
	}
	t.setHeader32(20, maxRow)
	return nil
}

// HasTwin reports whether another linked row shares row's content location.
// Order-equal entries are adjacent, so only the in-order neighbours are
// probed.
func (t *Tree) HasTwin(row uint32) bool {
	if !t.live.Contains(row) {
		return false
	}
	v := t.value(row)
	if p := t.Prev(row); p != 0 && t.value(p).Same(v) {
		return true
	}
	if n := t.Next(row); n != 0 && t.value(n).Same(v) {
		return true
	}
	return false
}

// First returns the smallest row in order, 0 for an empty tree.
func (t *Tree) First() uint32 {
	if root := t.Root(); root != 0 {
		return t.min(root)
	}
	return 0
}

// Last returns the largest row in order, 0 for an empty tree.
func (t *Tree) Last() uint32 {
	if root := t.Root(); root != 0 {
		return t.max(root)
	}
	return 0
}

// Next returns the in-order successor of row, 0 at the end.
func (t *Tree) Next(row uint32) uint32 {
	if r := t.right(row); r != 0 {
		return t.min(r)
	}
	for p := t.parent(row); p != 0; row, p = p, t.parent(p) {
		if t.left(p) == row {
			return p
		}
	}
	return 0
}

// Prev returns the in-order predecessor of row, 0 at the start.
func (t *Tree) Prev(row uint32) uint32 {
	if l := t.left(row); l != 0 {
		return t.max(l)
	}
	for p := t.parent(row); p != 0; row, p = p, t.parent(p) {
		if t.right(p) == row {
			return p
		}
	}
	return 0
}

func (t *Tree) min(row uint32) uint32 {
	for l := t.left(row); l != 0; l = t.left(row) {
		row = l
	}
	return row
}

func (t *Tree) max(row uint32) uint32 {
	for r := t.right(row); r != 0; r = t.right(row) {
		row = r
	}
	return row
}

// ensure grows the file so that slot row is mapped.
func (t *Tree) ensure(row uint32) error {
	if row < t.capacity {
		return nil
	}
	slots := (uint64(row)/uint64(t.lot) + 1) * uint64(t.lot)
	if slots > uint64(MaxRow)+1 {
		slots = uint64(MaxRow) + 1
	}
	size := headerSize + int64(slots)*slotSize
	if int64(int(size)) != size {
		return mmap.ErrInvalidSize
	}
	if err := t.m.Sync(); err != nil {
		return err
	}
	if err := t.file.Truncate(size); err != nil {
		return err
	}
	if err := t.m.Remap(t.file, int(size)); err != nil {
		return err
	}
	t.capacity = uint32(slots)
	return nil
}

// Sync flushes the mapping and the file.
func (t *Tree) Sync() error {
	if err := t.m.Sync(); err != nil {
		return err
	}
	return t.file.Sync()
}

// Close unmaps and closes the file.
func (t *Tree) Close() error {
	err := t.m.Close()
	if cerr := t.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
