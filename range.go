package natstore

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/natstore/internal/avltree"
)

// Bound limits one end of a range. The zero Bound is unbounded.
type Bound struct {
	value     []byte
	set       bool
	exclusive bool
}

// Unbounded returns an open range end.
func Unbounded() Bound { return Bound{} }

// Inclusive returns a range end that includes values equal to v.
func Inclusive(v []byte) Bound { return Bound{value: v, set: true} }

// Exclusive returns a range end that excludes values equal to v.
func Exclusive(v []byte) Bound { return Bound{value: v, set: true, exclusive: true} }

// IsUnbounded reports whether b is an open end.
func (b Bound) IsUnbounded() bool { return !b.set }

// Ascend yields all rows and their values in ascending order.
func (c *Column) Ascend() iter.Seq2[uint32, []byte] {
	return c.Range(Unbounded(), Unbounded())
}

// Descend yields all rows and their values in descending order.
func (c *Column) Descend() iter.Seq2[uint32, []byte] {
	return c.DescendRange(Unbounded(), Unbounded())
}

// Range yields the rows whose values lie between lo and hi in ascending
// order. The yielded slice borrows the data file and is only valid until
// the next iteration; copy it to retain it. The column is read-locked while
// the loop runs.
//
// A row whose value cannot be resolved ends the loop early after the
// *ErrInvariant is logged, which looks like the end of the range. Use Walk
// when the error itself is needed.
func (c *Column) Range(lo, hi Bound) iter.Seq2[uint32, []byte] {
	return func(yield func(uint32, []byte) bool) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			return
		}

		r := &resolver{data: c.data}
		var row uint32
		switch {
		case lo.IsUnbounded():
			row = c.tree.First()
		case lo.exclusive:
			row = c.tree.UpperBound(c.probe(r, lo.value))
		default:
			row = c.tree.LowerBound(c.probe(r, lo.value))
		}
		var past func(uint32, avltree.Value) int
		if !hi.IsUnbounded() {
			past = c.probe(r, hi.value)
		}

		for ; row != 0; row = c.tree.Next(row) {
			v, _ := c.tree.Get(row)
			if past != nil {
				cmp := past(row, v)
				if cmp > 0 || (cmp == 0 && hi.exclusive) {
					return
				}
			}
			b := r.Resolve(v.Loc)
			if r.err != nil {
				c.invariant("range", row, r.err)
				return
			}
			if !yield(row, b) {
				return
			}
		}
	}
}

// DescendRange yields the rows whose values lie between lo and hi in
// descending order, with the same borrowing and error rules as Range.
func (c *Column) DescendRange(lo, hi Bound) iter.Seq2[uint32, []byte] {
	return func(yield func(uint32, []byte) bool) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.closed {
			return
		}

		r := &resolver{data: c.data}
		var next uint32
		switch {
		case hi.IsUnbounded():
		case hi.exclusive:
			next = c.tree.LowerBound(c.probe(r, hi.value))
		default:
			next = c.tree.UpperBound(c.probe(r, hi.value))
		}
		row := c.tree.Last()
		if next != 0 {
			row = c.tree.Prev(next)
		}
		var before func(uint32, avltree.Value) int
		if !lo.IsUnbounded() {
			before = c.probe(r, lo.value)
		}

		for ; row != 0; row = c.tree.Prev(row) {
			v, _ := c.tree.Get(row)
			if before != nil {
				cmp := before(row, v)
				if cmp < 0 || (cmp == 0 && lo.exclusive) {
					return
				}
			}
			b := r.Resolve(v.Loc)
			if r.err != nil {
				c.invariant("descend range", row, r.err)
				return
			}
			if !yield(row, b) {
				return
			}
		}
	}
}

// RowsBetween returns the rows whose values lie between lo and hi.
func (c *Column) RowsBetween(lo, hi Bound) *roaring.Bitmap {
	rows := roaring.New()
	for row := range c.Range(lo, hi) {
		rows.Add(row)
	}
	return rows
}

// Walk calls fn for every row in ascending value order under the read lock.
// Unlike Ascend it reports why a traversal stopped: ErrClosed, an
// *ErrInvariant, or the first error returned by fn. The value passed to fn
// is borrowed as with Range.
func (c *Column) Walk(fn func(row uint32, value []byte) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	r := &resolver{data: c.data}
	for row := c.tree.First(); row != 0; row = c.tree.Next(row) {
		v, _ := c.tree.Get(row)
		b := r.Resolve(v.Loc)
		if r.err != nil {
			return c.invariant("walk", row, r.err)
		}
		if err := fn(row, b); err != nil {
			return err
		}
	}
	return nil
}
