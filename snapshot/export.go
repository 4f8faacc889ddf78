package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/natstore"
	"github.com/hupe1980/natstore/codec"
	"github.com/hupe1980/natstore/resource"
)

// DefaultFrameSize is the default number of uncompressed bytes per frame.
const DefaultFrameSize = 1 << 20

// Options configures Export, Import, Backup and Restore.
type Options struct {
	// Compression selects the frame compression written by Export.
	// Import reads it from the manifest.
	Compression Compression

	// FrameSize is the uncompressed size at which a frame is flushed, at most
	// MaxFrameSize. A single value larger than FrameSize gets a frame of its own.
	FrameSize int

	// Codec encodes the manifest. Defaults to codec.Default.
	Codec codec.Codec

	// Controller limits IO throughput, frame buffer memory and, for
	// Backup and Restore, the number of concurrent jobs. Nil means no limits.
	Controller *resource.Controller

	// Logger receives one info record per finished export or import.
	Logger *natstore.Logger
}

// DefaultOptions are the options used when no option function changes them.
var DefaultOptions = Options{
	Compression: CompressionLZ4,
	FrameSize:   DefaultFrameSize,
}

func applyOptions(optFns []func(*Options)) (Options, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = DefaultFrameSize
	}
	if opts.FrameSize > MaxFrameSize {
		return Options{}, fmt.Errorf("snapshot: frame size %d above %d", opts.FrameSize, MaxFrameSize)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = natstore.NoopLogger()
	}
	if err := opts.Compression.validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Export writes every row of col to w in ascending value order.
//
// Export holds the column's read lock while it walks the rows, so the frames
// are a consistent image of the column. Rows and MaxRow in the written
// manifest are taken just before the walk starts; the returned Manifest
// carries the number of records actually written.
func Export(ctx context.Context, col *natstore.Column, w io.Writer, optFns ...func(*Options)) (Manifest, error) {
	opts, err := applyOptions(optFns)
	if err != nil {
		return Manifest{}, err
	}
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}
	start := time.Now()

	m := Manifest{
		Version:     Version,
		Kind:        col.Kind().Name(),
		Rows:        col.Len(),
		MaxRow:      col.MaxRow(),
		Compression: opts.Compression,
		FrameSize:   opts.FrameSize,
		Created:     time.Now().UTC(),
	}

	// Reserve the frame buffer and the compression scratch space.
	mem := int64(2 * opts.FrameSize)
	if err := opts.Controller.AcquireMemory(mem); err != nil {
		return Manifest{}, err
	}
	defer opts.Controller.ReleaseMemory(mem)

	w = opts.Controller.Writer(ctx, w)
	n, err := writeHeader(w, opts.Codec, m)
	if err != nil {
		return Manifest{}, err
	}

	fw, err := newFrameWriter(w, opts.Compression, opts.FrameSize)
	if err != nil {
		return Manifest{}, err
	}
	err = col.Walk(func(row uint32, value []byte) error {
		if err := fw.add(row, value); err != nil {
			return err
		}
		if len(fw.buf) == 0 {
			// A frame was just flushed.
			return ctx.Err()
		}
		return nil
	})
	if err == nil {
		err = fw.close()
	} else if fw.enc != nil {
		_ = fw.enc.Close()
	}
	if err != nil {
		return Manifest{}, err
	}

	m.Rows = fw.records
	opts.Logger.InfoContext(ctx, "snapshot exported",
		"rows", m.Rows,
		"bytes", n+fw.written,
		"compression", string(m.Compression),
		"duration", time.Since(start),
	)
	return m, nil
}

// Import replays the records of a snapshot read from r into col with
// Column.Set. Rows of col that the snapshot does not mention are left as
// they are, so restoring into an empty column reproduces the exported one.
//
// The snapshot must have been taken from a column of the same ValueKind.
func Import(ctx context.Context, col *natstore.Column, r io.Reader, optFns ...func(*Options)) (Manifest, error) {
	opts, err := applyOptions(optFns)
	if err != nil {
		return Manifest{}, err
	}
	if err := ctx.Err(); err != nil {
		return Manifest{}, err
	}
	start := time.Now()

	r = opts.Controller.Reader(ctx, r)
	m, err := ReadManifest(r)
	if err != nil {
		return Manifest{}, err
	}
	if kind := col.Kind().Name(); m.Kind != kind {
		return m, fmt.Errorf("%w: snapshot holds %q values, column holds %q", natstore.ErrKindMismatch, m.Kind, kind)
	}

	fr, err := newFrameReader(r, m)
	if err != nil {
		return m, err
	}
	defer fr.close()

	var held int64
	defer func() { opts.Controller.ReleaseMemory(held) }()
	fr.onFrame = func(rawLen, compLen uint32) error {
		need := int64(rawLen) + int64(compLen)
		if need <= held {
			return nil
		}
		if err := opts.Controller.AcquireMemory(need - held); err != nil {
			return err
		}
		held = need
		return ctx.Err()
	}

	records := 0
	for {
		row, value, err := fr.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return m, err
		}
		if err := col.Set(ctx, row, value); err != nil {
			return m, fmt.Errorf("snapshot: restore row %d: %w", row, err)
		}
		records++
	}

	opts.Logger.InfoContext(ctx, "snapshot imported",
		"rows", records,
		"compression", string(m.Compression),
		"duration", time.Since(start),
	)
	return m, nil
}
