package natstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/natstore/internal/avltree"
	"github.com/hupe1980/natstore/internal/datafile"
	"github.com/hupe1980/natstore/internal/mmap"
)

var (
	// ErrNotFound is returned when a row holds no value.
	ErrNotFound = errors.New("natstore: not found")
	// ErrInvalidRow is returned for row 0 and rows beyond avltree.MaxRow.
	ErrInvalidRow = errors.New("natstore: invalid row")
	// ErrClosed is returned by operations on a closed Column.
	ErrClosed = errors.New("natstore: column closed")
	// ErrKindMismatch is returned when a column is reopened with another ValueKind.
	ErrKindMismatch = errors.New("natstore: value kind mismatch")
	// ErrCorrupt is returned when a column file fails validation.
	ErrCorrupt = errors.New("natstore: corrupt column")
)

// ErrInvariant reports that the index and the content store disagree, for
// example an entry whose location no longer resolves. It indicates a bug or
// external tampering; the column should not be used further.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrInvariant struct {
	Op    string
	Row   uint32
	cause error
}

func (e *ErrInvariant) Error() string {
	return fmt.Sprintf("natstore: %s: invariant violated at row %d: %v", e.Op, e.Row, e.cause)
}

func (e *ErrInvariant) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var inv *ErrInvariant
	if errors.As(err, &inv) {
		return err
	}

	if errors.Is(err, avltree.ErrInvalidRow) {
		return fmt.Errorf("%w: %w", ErrInvalidRow, err)
	}
	if errors.Is(err, avltree.ErrRowVacant) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, mmap.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	for _, target := range []error{
		avltree.ErrBadMagic,
		avltree.ErrCorrupt,
		datafile.ErrBadMagic,
		datafile.ErrCorrupt,
		datafile.ErrChecksum,
	} {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}

	return err
}
