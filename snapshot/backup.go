package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/natstore"
	"github.com/hupe1980/natstore/blobstore"
)

// Backup exports col into the blob name of store. The blob only becomes
// visible once the whole snapshot has been written; a failed backup leaves
// no partial blob behind.
func Backup(ctx context.Context, col *natstore.Column, store blobstore.BlobStore, name string, optFns ...func(*Options)) (Manifest, error) {
	opts, err := applyOptions(optFns)
	if err != nil {
		return Manifest{}, err
	}
	if err := opts.Controller.AcquireJob(ctx); err != nil {
		return Manifest{}, err
	}
	defer opts.Controller.ReleaseJob()

	wb, err := store.Create(ctx, name)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: create %s: %w", name, err)
	}

	m, err := Export(ctx, col, wb, func(o *Options) { *o = opts })
	if err == nil {
		err = wb.Sync()
	}
	if err != nil {
		return Manifest{}, errors.Join(err, discard(ctx, store, name, wb))
	}
	if err := wb.Close(); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: commit %s: %w", name, err)
	}
	return m, nil
}

// discard drops a partially written blob.
func discard(ctx context.Context, store blobstore.BlobStore, name string, wb blobstore.WritableBlob) error {
	if a, ok := wb.(blobstore.Aborter); ok {
		return a.Abort()
	}
	// Without Abort the partial blob is published on Close and deleted again.
	return errors.Join(wb.Close(), store.Delete(ctx, name))
}

// Restore imports the snapshot stored as name in store into col.
func Restore(ctx context.Context, col *natstore.Column, store blobstore.BlobStore, name string, optFns ...func(*Options)) (Manifest, error) {
	opts, err := applyOptions(optFns)
	if err != nil {
		return Manifest{}, err
	}
	if err := opts.Controller.AcquireJob(ctx); err != nil {
		return Manifest{}, err
	}
	defer opts.Controller.ReleaseJob()

	blob, err := store.Open(ctx, name)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: open %s: %w", name, err)
	}
	defer blob.Close()

	rc, err := blobstore.NewReader(ctx, blob)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read %s: %w", name, err)
	}
	defer rc.Close()

	return Import(ctx, col, rc, func(o *Options) { *o = opts })
}

// Stat reads only the manifest of the snapshot stored as name in store.
func Stat(ctx context.Context, store blobstore.BlobStore, name string) (Manifest, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: open %s: %w", name, err)
	}
	defer blob.Close()

	rc, err := blobstore.NewReader(ctx, blob)
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read %s: %w", name, err)
	}
	defer rc.Close()

	return ReadManifest(rc)
}
