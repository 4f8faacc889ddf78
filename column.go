package natstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/natstore/internal/avltree"
	"github.com/hupe1980/natstore/internal/datafile"
	"golang.org/x/sync/errgroup"
)

const (
	// IndexFile is the name of the index file inside a column directory.
	IndexFile = ".i"
	// DataFile is the name of the data file inside a column directory.
	DataFile = ".d"
)

// Column maps rows to byte strings, keeps the rows ordered by value and
// stores each distinct value once.
//
// A Column allows one writer or many readers at a time. Readers include
// range loops over Ascend, Descend, Range and DescendRange; calling a writer
// from inside such a loop deadlocks.
type Column struct {
	mu     sync.RWMutex
	path   string
	tree   *avltree.Tree
	data   *datafile.File
	kind   ValueKind
	opts   options
	logger *Logger
	closed bool

	released uint64
}

// Stats describes a column.
type Stats struct {
	Rows           int
	DistinctValues int
	MaxRow         uint32
	// Released counts distinct values freed since the column was opened.
	Released  uint64
	DataBytes int64
	FreeBytes int64
	Kind      string
}

// Open opens the column stored in directory path, creating it if needed.
func Open(path string, optFns ...Option) (*Column, error) {
	opts := applyOptions(optFns)
	logger := opts.logger.WithPath(path).WithKind(opts.kind.Name())

	c, err := open(path, opts, logger)
	if err != nil {
		logger.LogOpen(0, err)
		return nil, err
	}
	logger.LogOpen(c.tree.Len(), nil)
	return c, nil
}

func open(path string, opts options, logger *Logger) (*Column, error) {
	if err := opts.fs.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("natstore: open: %w", err)
	}

	tree, err := avltree.Open(filepath.Join(path, IndexFile), func(o *avltree.Options) {
		o.FS = opts.fs
		o.AllocationLot = opts.allocationLot
		o.Tag = opts.kind.Name()
	})
	if err != nil {
		return nil, translateError(fmt.Errorf("natstore: open index: %w", err))
	}
	if tag := tree.Tag(); tag != opts.kind.Name() {
		_ = tree.Close()
		return nil, fmt.Errorf("%w: column is %q, opened as %q", ErrKindMismatch, tag, opts.kind.Name())
	}

	data, err := datafile.Open(filepath.Join(path, DataFile), func(o *datafile.Options) {
		o.FS = opts.fs
		o.Growth = opts.dataGrowth
	})
	if err != nil {
		_ = tree.Close()
		return nil, translateError(fmt.Errorf("natstore: open data: %w", err))
	}

	c := &Column{
		path:   path,
		tree:   tree,
		data:   data,
		kind:   opts.kind,
		opts:   opts,
		logger: logger,
	}
	if opts.verifyOnOpen {
		if err := c.Check(); err != nil {
			_ = c.closeFiles()
			return nil, err
		}
	}
	return c, nil
}

// Path returns the column directory.
func (c *Column) Path() string { return c.path }

// Kind returns the column's value kind.
func (c *Column) Kind() ValueKind { return c.kind }

// resolver resolves locations for comparisons and keeps the first failure.
type resolver struct {
	data *datafile.File
	err  error
}

func (r *resolver) Resolve(loc datafile.Location) []byte {
	b, err := r.data.Bytes(loc)
	if err != nil {
		if r.err == nil {
			r.err = err
		}
		return nil
	}
	return b
}

// probe returns the comparison of stored entries against content.
func (c *Column) probe(r *resolver, content []byte) func(uint32, avltree.Value) int {
	pv := c.kind.Derive(datafile.Location{}, content)
	return func(_ uint32, v avltree.Value) int {
		return c.kind.Compare(r, v, pv, content)
	}
}

func (c *Column) search(op string, content []byte) (avltree.Found, error) {
	r := &resolver{data: c.data}
	f := c.tree.Search(c.probe(r, content))
	if r.err != nil {
		return f, c.invariant(op, 0, r.err)
	}
	return f, nil
}

func (c *Column) invariant(op string, row uint32, cause error) error {
	err := &ErrInvariant{Op: op, Row: row, cause: cause}
	c.logger.WithRow(row).Error("index and data file out of sync", "op", op, "error", cause)
	return err
}

func checkRow(row uint32) error {
	if row == 0 || row > avltree.MaxRow {
		return fmt.Errorf("%w: %d", ErrInvalidRow, row)
	}
	return nil
}

// Lookup returns a copy of the value of row.
//
// Lookup reports false both for an empty row and for an *ErrInvariant,
// which is only logged. Use View to tell the two apart.
func (c *Column) Lookup(row uint32) ([]byte, bool) {
	var out []byte
	err := c.View(row, func(b []byte) error {
		out = bytes.Clone(b)
		if out == nil {
			out = []byte{}
		}
		return nil
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

// View calls fn with the value of row. The slice borrows the data file and
// must not be retained after fn returns. View returns ErrNotFound if row
// holds no value.
func (c *Column) View(row uint32, fn func(value []byte) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}

	v, ok := c.tree.Get(row)
	c.opts.metricsCollector.RecordLookup(ok)
	if !ok {
		return ErrNotFound
	}
	b, err := c.data.Bytes(v.Loc)
	if err != nil {
		return c.invariant("view", row, err)
	}
	return fn(b)
}

// FindOrInsert returns a row holding content. If an equal value is stored
// already its row is returned; otherwise content is stored under the
// smallest free row.
func (c *Column) FindOrInsert(ctx context.Context, content []byte) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	start := time.Now()

	c.mu.Lock()
	row, hit, err := c.findOrInsert(content)
	c.mu.Unlock()

	err = translateError(err)
	c.opts.metricsCollector.RecordFindOrInsert(hit, time.Since(start), err)
	c.logger.LogFindOrInsert(ctx, row, hit, err)
	return row, err
}

func (c *Column) findOrInsert(content []byte) (uint32, bool, error) {
	if c.closed {
		return 0, false, ErrClosed
	}
	f, err := c.search("find or insert", content)
	if err != nil {
		return 0, false, err
	}
	if f.Twin != 0 {
		return f.Twin, true, nil
	}

	row := c.tree.NextRow()
	if err := checkRow(row); err != nil {
		return 0, false, err
	}
	loc, err := c.data.Insert(content)
	if err != nil {
		return 0, false, fmt.Errorf("natstore: insert value: %w", err)
	}
	if err := c.tree.Insert(row, c.kind.Derive(loc, content), f); err != nil {
		return 0, false, errors.Join(
			fmt.Errorf("natstore: link row %d: %w", row, err),
			c.data.Delete(loc),
		)
	}
	return row, false, nil
}

// Set binds row to content. Setting the value a row already holds is a
// no-op. The row's previous value is released if no other row holds it.
func (c *Column) Set(ctx context.Context, row uint32, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	c.mu.Lock()
	err := c.set(row, content)
	c.mu.Unlock()

	err = translateError(err)
	c.opts.metricsCollector.RecordSet(time.Since(start), err)
	c.logger.LogSet(ctx, row, err)
	return err
}

func (c *Column) set(row uint32, content []byte) error {
	if c.closed {
		return ErrClosed
	}
	if err := checkRow(row); err != nil {
		return err
	}

	old, had := c.tree.Get(row)
	if had {
		b, err := c.data.Bytes(old.Loc)
		if err != nil {
			return c.invariant("set", row, err)
		}
		if bytes.Equal(b, content) {
			return nil
		}
	}

	// Resolve the new location first: reuse an equal value or store content.
	f, err := c.search("set", content)
	if err != nil {
		return err
	}
	var (
		v     avltree.Value
		fresh bool
	)
	if f.Twin != 0 {
		v, _ = c.tree.Get(f.Twin)
	} else {
		loc, err := c.data.Insert(content)
		if err != nil {
			return fmt.Errorf("natstore: insert value: %w", err)
		}
		v, fresh = c.kind.Derive(loc, content), true
	}

	release := func(err error) error {
		if fresh {
			return errors.Join(err, c.data.Delete(v.Loc))
		}
		return err
	}

	if had {
		if _, err := c.detach("set", row, old); err != nil {
			return release(err)
		}
	}

	// Detaching restructured the tree, so search again.
	if f, err = c.search("set", content); err != nil {
		return release(err)
	}
	if err := c.tree.Insert(row, v, f); err != nil {
		return release(fmt.Errorf("natstore: link row %d: %w", row, err))
	}
	return nil
}

// Remove releases row. It returns ErrNotFound if row holds no value.
func (c *Column) Remove(ctx context.Context, row uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	c.mu.Lock()
	freed, err := c.remove(row)
	c.mu.Unlock()

	err = translateError(err)
	c.opts.metricsCollector.RecordRemove(freed, time.Since(start), err)
	c.logger.LogRemove(ctx, row, freed, err)
	return err
}

func (c *Column) remove(row uint32) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	old, ok := c.tree.Get(row)
	if !ok {
		return false, fmt.Errorf("%w: row %d", ErrNotFound, row)
	}
	return c.detach("remove", row, old)
}

// detach unlinks row, whose entry is old, and frees its bytes when no other
// row shares them. The free and the unlink touch disjoint files and run
// concurrently. If only the free fails the row is linked again.
func (c *Column) detach(op string, row uint32, old avltree.Value) (bool, error) {
	unique := !c.tree.HasTwin(row)

	var (
		g                  errgroup.Group
		freeErr, unlinkErr error
	)
	if unique {
		g.Go(func() error {
			freeErr = c.data.Delete(old.Loc)
			return freeErr
		})
	}
	g.Go(func() error {
		unlinkErr = c.tree.Delete(row)
		return unlinkErr
	})
	if err := g.Wait(); err != nil {
		switch {
		case unlinkErr == nil:
			// The bytes are intact; restore the binding.
			if rerr := c.relink(op, row, old); rerr != nil {
				return false, errors.Join(err, rerr)
			}
			return false, fmt.Errorf("natstore: free value of row %d: %w", row, err)
		case unique && freeErr == nil:
			return false, c.invariant(op, row, fmt.Errorf("row still linked to freed value: %w", unlinkErr))
		default:
			return false, fmt.Errorf("natstore: unlink row %d: %w", row, err)
		}
	}

	if unique {
		c.released++
		c.kind.OnUniqueRemoval(old)
	}
	return unique, nil
}

func (c *Column) relink(op string, row uint32, v avltree.Value) error {
	content, err := c.data.Bytes(v.Loc)
	if err != nil {
		return c.invariant(op, row, err)
	}
	f, err := c.search(op, content)
	if err != nil {
		return err
	}
	if err := c.tree.Insert(row, v, f); err != nil {
		return c.invariant(op, row, err)
	}
	return nil
}

// Search returns the rows whose value equals content, in traversal order.
func (c *Column) Search(content []byte) ([]uint32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}

	f, err := c.search("search", content)
	if err != nil || f.Twin == 0 {
		return nil, err
	}
	v, _ := c.tree.Get(f.Twin)
	rows := []uint32{f.Twin}
	for p := c.tree.Prev(f.Twin); p != 0; p = c.tree.Prev(p) {
		if pv, _ := c.tree.Get(p); !pv.Same(v) {
			break
		}
		rows = append(rows, p)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// Rows returns the set of rows holding a value.
func (c *Column) Rows() *roaring.Bitmap {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return roaring.New()
	}
	return c.tree.Rows()
}

// Len returns the number of rows holding a value.
func (c *Column) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	return c.tree.Len()
}

// MaxRow returns the highest row in use, 0 for an empty column.
func (c *Column) MaxRow() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	return c.tree.MaxRow()
}

// Stats returns row and space statistics.
func (c *Column) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Stats{Kind: c.kind.Name()}
	}
	ds := c.data.Stats()
	return Stats{
		Rows:           c.tree.Len(),
		DistinctValues: ds.LiveRecords,
		MaxRow:         c.tree.MaxRow(),
		Released:       c.released,
		DataBytes:      ds.FileSize,
		FreeBytes:      ds.FreeBytes,
		Kind:           c.kind.Name(),
	}
}
