package fs

import (
	"io"
	"os"
)

// File is the handle the column files are read, written and mapped through.
// It is satisfied by *os.File.
type File interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Sync() error
	// Fd is needed to memory map the file.
	Fd() uintptr
	Name() string
}

// FileSystem is the set of directory operations used by columns and the
// local blob store.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
	MkdirAll(path string, perm os.FileMode) error
	Rename(oldpath, newpath string) error
	Remove(name string) error
}

// LocalFS is the operating system's file system.
type LocalFS struct{}

// OpenFile opens name with os.OpenFile.
func (LocalFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (LocalFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (LocalFS) Rename(oldpath, newpath string) error         { return os.Rename(oldpath, newpath) }
func (LocalFS) Remove(name string) error                     { return os.Remove(name) }

// Default is used when no FileSystem is configured.
var Default FileSystem = LocalFS{}
