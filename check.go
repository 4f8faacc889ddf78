package natstore

import (
	"fmt"

	"github.com/hupe1980/natstore/internal/avltree"
)

// Check verifies the column: the index structure, that every entry resolves
// to intact bytes, that entries are in order, and that order-equal entries
// share one location while distinct values do not.
func (c *Column) Check() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	if err := c.tree.Check(); err != nil {
		return translateError(fmt.Errorf("natstore: check index: %w", err))
	}

	r := &resolver{data: c.data}
	var (
		prevRow  uint32
		prev     avltree.Value
		distinct int
	)
	for row, v := range c.tree.All() {
		if err := c.data.Verify(v.Loc); err != nil {
			return translateError(c.checkErr(row, err))
		}
		if prevRow == 0 {
			distinct++
			prevRow, prev = row, v
			continue
		}
		content := r.Resolve(v.Loc)
		cmp := c.kind.Compare(r, prev, c.kind.Derive(v.Loc, content), content)
		switch {
		case r.err != nil:
			return c.checkErr(row, r.err)
		case cmp > 0:
			return c.checkErr(row, fmt.Errorf("out of order after row %d", prevRow))
		case cmp == 0 && !v.Same(prev):
			return c.checkErr(row, fmt.Errorf("equal to row %d but stored separately", prevRow))
		case cmp < 0 && v.Same(prev):
			return c.checkErr(row, fmt.Errorf("shares location %s with unequal row %d", v.Loc, prevRow))
		}
		if cmp < 0 {
			distinct++
		}
		prevRow, prev = row, v
	}

	if live := c.data.Stats().LiveRecords; live != distinct {
		return fmt.Errorf("%w: %d distinct values indexed, %d stored", ErrCorrupt, distinct, live)
	}
	return nil
}

func (c *Column) checkErr(row uint32, cause error) error {
	return fmt.Errorf("%w: %w", ErrCorrupt, &ErrInvariant{Op: "check", Row: row, cause: cause})
}
