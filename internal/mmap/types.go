package mmap

import "errors"

// Advice tells the kernel how a mapping will be read. It is kept across
// Remap.
type Advice int

const (
	// AdviceNormal drops any earlier hint.
	AdviceNormal Advice = iota
	// AdviceSequential suits one-pass reads such as snapshot restores.
	AdviceSequential
	// AdviceRandom suits tree walks and value lookups; it disables read-ahead.
	AdviceRandom
)

var (
	// ErrClosed is returned by operations on a closed mapping.
	ErrClosed = errors.New("mmap: closed")
	// ErrInvalidSize is returned for negative sizes or sizes beyond int.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrInvalidOffset is returned by ReadAt for a negative offset.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
)
