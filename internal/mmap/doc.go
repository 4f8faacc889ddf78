// Package mmap provides shared memory mappings of column files.
//
// The index file is mapped read/write and updated in place; the data file is
// mapped read-only and written with pwrite. Both grow by truncating the file
// and calling Remap:
//
//	m, err := mmap.Map(f, size, true)
//	if err != nil { ... }
//	defer m.Close()
//
//	copy(m.Bytes()[off:], record)
//	_ = m.Sync()
//
//	_ = f.Truncate(int64(newSize))
//	_ = m.Remap(f, newSize)
//
// # Ownership
//
// Slices returned by Bytes borrow the mapping. They are valid until the next
// Remap or Close; accessing them afterwards faults. Callers that hand bytes to
// code outside their own lock must copy them.
//
// # Platform Support
//
// Unix systems use mmap(2), msync(2) and madvise(2) through golang.org/x/sys.
// Other platforms report errors.ErrUnsupported.
package mmap
