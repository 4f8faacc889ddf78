package avltree

import (
	"fmt"
	"iter"
)

// All yields linked rows and their values in order.
func (t *Tree) All() iter.Seq2[uint32, Value] {
	return func(yield func(uint32, Value) bool) {
		for row := t.First(); row != 0; row = t.Next(row) {
			if !yield(row, t.value(row)) {
				return
			}
		}
	}
}

// Check verifies links, heights and balance of every node, and that the
// number of reachable nodes matches Len.
func (t *Tree) Check() error {
	root := t.Root()
	if root != 0 && t.parent(root) != 0 {
		return fmt.Errorf("%w: root %d has parent %d", ErrCorrupt, root, t.parent(root))
	}
	n, _, err := t.checkNode(root)
	if err != nil {
		return err
	}
	if n != t.Len() || uint64(n) != t.live.GetCardinality() {
		return fmt.Errorf("%w: reachable %d, len %d, live %d", ErrCorrupt, n, t.Len(), t.live.GetCardinality())
	}
	return nil
}

func (t *Tree) checkNode(row uint32) (count, height int, err error) {
	if row == 0 {
		return 0, 0, nil
	}
	if !t.live.Contains(row) {
		return 0, 0, fmt.Errorf("%w: row %d reachable but vacant", ErrCorrupt, row)
	}
	l, r := t.left(row), t.right(row)
	for _, c := range []uint32{l, r} {
		if c != 0 && t.parent(c) != row {
			return 0, 0, fmt.Errorf("%w: row %d has parent %d, expected %d", ErrCorrupt, c, t.parent(c), row)
		}
	}
	lc, lh, err := t.checkNode(l)
	if err != nil {
		return 0, 0, err
	}
	rc, rh, err := t.checkNode(r)
	if err != nil {
		return 0, 0, err
	}
	h := 1 + max(lh, rh)
	if t.height(row) != h {
		return 0, 0, fmt.Errorf("%w: row %d height %d, expected %d", ErrCorrupt, row, t.height(row), h)
	}
	if d := lh - rh; d > 1 || d < -1 {
		return 0, 0, fmt.Errorf("%w: row %d unbalanced (%d)", ErrCorrupt, row, d)
	}
	return lc + rc + 1, h, nil
}
