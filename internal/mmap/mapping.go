package mmap

import (
	"io"
	"os"
	"sync/atomic"
)

// Fder is the part of an open file needed to map it.
type Fder interface {
	Fd() uintptr
}

// Mapping is a MAP_SHARED mapping of the first Size bytes of a file.
//
// Writes through a writable mapping land in the page cache and reach the
// file on Sync or whenever the kernel writes the pages back. A Mapping is not
// safe for concurrent Remap; callers serialize growth with their own lock.
type Mapping struct {
	data     []byte
	writable bool
	advice   Advice
	closed   atomic.Bool
}

// Map maps size bytes of f. A size of zero yields an empty mapping that can
// later grow with Remap.
func Map(f Fder, size int, writable bool) (*Mapping, error) {
	if size < 0 {
		return nil, ErrInvalidSize
	}
	m := &Mapping{writable: writable}
	if size > 0 {
		data, err := osMap(f.Fd(), size, writable)
		if err != nil {
			return nil, err
		}
		m.data = data
	}
	return m, nil
}

// Open maps the whole file at path read-only. The file descriptor is closed
// before Open returns; the mapping stays valid.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if int64(int(size)) != size {
		return nil, ErrInvalidSize
	}
	return Map(f, int(size), false)
}

// Remap replaces the mapping with one covering size bytes of f and applies
// the current advice to it. Slices obtained from Bytes before the call must
// not be used afterwards. On error the old mapping is kept.
func (m *Mapping) Remap(f Fder, size int) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if size < 0 {
		return ErrInvalidSize
	}

	var next []byte
	if size > 0 {
		var err error
		if next, err = osMap(f.Fd(), size, m.writable); err != nil {
			return err
		}
	}
	if m.data != nil {
		if err := osUnmap(m.data); err != nil {
			if next != nil {
				_ = osUnmap(next)
			}
			return err
		}
	}
	m.data = next
	if m.advice != AdviceNormal {
		return osAdvise(m.data, m.advice)
	}
	return nil
}

// Advise records advice and passes it to the kernel.
func (m *Mapping) Advise(advice Advice) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.advice = advice
	return osAdvise(m.data, advice)
}

// Bytes returns the mapped memory, nil once closed.
// The slice is valid until the next Remap or Close.
func (m *Mapping) Bytes() []byte {
	if m.closed.Load() {
		return nil
	}
	return m.data
}

// Size returns the mapped length in bytes.
func (m *Mapping) Size() int {
	if m.closed.Load() {
		return 0
	}
	return len(m.data)
}

// Writable reports whether the mapping was created writable.
func (m *Mapping) Writable() bool { return m.writable }

// Sync flushes dirty pages to the file. It is a no-op for read-only mappings.
func (m *Mapping) Sync() error {
	if m.closed.Load() {
		return ErrClosed
	}
	if !m.writable || len(m.data) == 0 {
		return nil
	}
	return osSync(m.data)
}

// ReadAt implements io.ReaderAt over the mapped bytes.
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the memory. Closing twice is a no-op.
func (m *Mapping) Close() error {
	if m.closed.Swap(true) || m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return osUnmap(data)
}
