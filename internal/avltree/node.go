package avltree

import (
	"encoding/binary"
	"math"

	"github.com/hupe1980/natstore/internal/datafile"
)

func (t *Tree) slot(row uint32) []byte {
	off := headerSize + int(row)*slotSize
	return t.m.Bytes()[off : off+slotSize : off+slotSize]
}

func (t *Tree) parent(row uint32) uint32 { return binary.LittleEndian.Uint32(t.slot(row)[0:]) }
func (t *Tree) left(row uint32) uint32   { return binary.LittleEndian.Uint32(t.slot(row)[4:]) }
func (t *Tree) right(row uint32) uint32  { return binary.LittleEndian.Uint32(t.slot(row)[8:]) }

func (t *Tree) setParent(row, p uint32) { binary.LittleEndian.PutUint32(t.slot(row)[0:], p) }
func (t *Tree) setLeft(row, l uint32)   { binary.LittleEndian.PutUint32(t.slot(row)[4:], l) }
func (t *Tree) setRight(row, r uint32)  { binary.LittleEndian.PutUint32(t.slot(row)[8:], r) }

// height of row; the empty subtree (row 0) has height 0.
func (t *Tree) height(row uint32) int {
	if row == 0 {
		return 0
	}
	return int(t.slot(row)[12])
}

func (t *Tree) setHeight(row uint32, h int) { t.slot(row)[12] = uint8(h) }

func (t *Tree) value(row uint32) Value {
	s := t.slot(row)
	return Value{
		Loc: datafile.Location{
			Offset: binary.LittleEndian.Uint64(s[16:]),
			Length: binary.LittleEndian.Uint32(s[24:]),
		},
		Flags: binary.LittleEndian.Uint32(s[28:]),
		Num:   math.Float64frombits(binary.LittleEndian.Uint64(s[32:])),
	}
}

func (t *Tree) setValue(row uint32, v Value) {
	s := t.slot(row)
	binary.LittleEndian.PutUint64(s[16:], v.Loc.Offset)
	binary.LittleEndian.PutUint32(s[24:], v.Loc.Length)
	binary.LittleEndian.PutUint32(s[28:], v.Flags)
	binary.LittleEndian.PutUint64(s[32:], math.Float64bits(v.Num))
}

func (t *Tree) replaceChild(parent, old, child uint32) {
	switch {
	case parent == 0:
		t.setRoot(child)
	case t.left(parent) == old:
		t.setLeft(parent, child)
	default:
		t.setRight(parent, child)
	}
}

func (t *Tree) updateHeight(row uint32) {
	t.setHeight(row, 1+max(t.height(t.left(row)), t.height(t.right(row))))
}

func (t *Tree) balance(row uint32) int {
	return t.height(t.left(row)) - t.height(t.right(row))
}

// rebalance restores heights and the AVL balance from row up to the root.
func (t *Tree) rebalance(row uint32) {
	for row != 0 {
		t.updateHeight(row)
		switch b := t.balance(row); {
		case b > 1:
			if t.balance(t.left(row)) < 0 {
				t.rotateLeft(t.left(row))
			}
			row = t.rotateRight(row)
		case b < -1:
			if t.balance(t.right(row)) > 0 {
				t.rotateRight(t.right(row))
			}
			row = t.rotateLeft(row)
		}
		row = t.parent(row)
	}
}

func (t *Tree) rotateLeft(x uint32) uint32 {
	y := t.right(x)
	p := t.parent(x)
	yl := t.left(y)

	t.setRight(x, yl)
	if yl != 0 {
		t.setParent(yl, x)
	}
	t.setLeft(y, x)
	t.setParent(x, y)
	t.setParent(y, p)
	t.replaceChild(p, x, y)

	t.updateHeight(x)
	t.updateHeight(y)
	return y
}

func (t *Tree) rotateRight(x uint32) uint32 {
	y := t.left(x)
	p := t.parent(x)
	yr := t.right(y)

	t.setLeft(x, yr)
	if yr != 0 {
		t.setParent(yr, x)
	}
	t.setRight(y, x)
	t.setParent(x, y)
	t.setParent(y, p)
	t.replaceChild(p, x, y)

	t.updateHeight(x)
	t.updateHeight(y)
	return y
}
