package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/natstore/blobstore"
	"github.com/minio/minio-go/v7"
)

// ContentType is stored with every object written by a Store.
const ContentType = "application/vnd.natstore.snapshot"

var errAborted = errors.New("minio: upload aborted")

// Option configures a Store.
type Option func(*Store)

// WithPrefix places all blobs under prefix (e.g. "columns/").
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithPartSize sets the multipart part size for streaming uploads. Zero lets
// the client choose.
func WithPartSize(size uint64) Option {
	return func(s *Store) { s.partSize = size }
}

// Store is a blobstore.BlobStore on MinIO or any S3-compatible service.
type Store struct {
	client   *minio.Client
	bucket   string
	prefix   string
	partSize uint64
}

// NewStore returns a Store writing to bucket.
func NewStore(client *minio.Client, bucket string, optFns ...Option) *Store {
	s := &Store{client: client, bucket: bucket}
	for _, fn := range optFns {
		fn(s)
	}
	return s
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *Store) putOptions() minio.PutObjectOptions {
	return minio.PutObjectOptions{ContentType: ContentType, PartSize: s.partSize}
}

// notFound maps a missing key to blobstore.ErrNotFound.
func notFound(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return blobstore.ErrNotFound
	}
	return err
}

// Open stats name and returns a handle for ranged reads.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	return &blob{store: s, key: key, size: info.Size, etag: info.ETag}, nil
}

// Put uploads data in one request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), s.putOptions())
	return err
}

// Create streams an upload of unknown size. The object becomes visible when
// the returned blob is closed; Abort discards it.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	pr, pw := io.Pipe()
	u := &upload{pw: pw, result: make(chan error, 1)}

	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(name), pr, -1, s.putOptions())
		_ = pr.CloseWithError(err)
		u.result <- err
	}()
	return u, nil
}

// Delete removes name. A missing object is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !errors.Is(notFound(err), blobstore.ErrNotFound) {
		return err
	}
	return nil
}

// List returns the sorted names under prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	opts := minio.ListObjectsOptions{Prefix: s.key(prefix), Recursive: true}
	if prefix == "" && s.prefix != "" {
		opts.Prefix = strings.TrimSuffix(s.prefix, "/") + "/"
	}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, s.prefix), "/")
		if name != "" && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// blob reads one object. ReadRange issues a ranged GET per call; ReadAt
// shares a single object handle that the client reads with range requests.
type blob struct {
	store *Store
	key   string
	size  int64
	etag  string

	mu  sync.Mutex
	obj *minio.Object
}

func (b *blob) Size() int64 { return b.size }

func (b *blob) getOptions() minio.GetObjectOptions {
	opts := minio.GetObjectOptions{}
	// Fail instead of mixing bytes of two versions when the object is replaced.
	_ = opts.SetMatchETag(b.etag)
	return opts
}

func (b *blob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.obj == nil {
		obj, err := b.store.client.GetObject(ctx, b.store.bucket, b.key, b.getOptions())
		if err != nil {
			return 0, notFound(err)
		}
		b.obj = obj
	}
	return b.obj.ReadAt(p, off)
}

func (b *blob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size || length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	opts := b.getOptions()
	if err := opts.SetRange(off, min(off+length, b.size)-1); err != nil {
		return nil, err
	}
	obj, err := b.store.client.GetObject(ctx, b.store.bucket, b.key, opts)
	if err != nil {
		return nil, notFound(err)
	}
	return obj, nil
}

func (b *blob) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.obj == nil {
		return nil
	}
	err := b.obj.Close()
	b.obj = nil
	return err
}

// upload feeds a PutObject call running in its own goroutine.
type upload struct {
	pw     *io.PipeWriter
	result chan error
	once   sync.Once
}

func (u *upload) Write(p []byte) (int, error) { return u.pw.Write(p) }

// Sync is a no-op; the object is committed on Close.
func (u *upload) Sync() error { return nil }

func (u *upload) Close() error {
	err := io.ErrClosedPipe
	u.once.Do(func() {
		if err = u.pw.Close(); err == nil {
			err = <-u.result
		}
	})
	return err
}

// Abort stops the upload before the object is created.
func (u *upload) Abort() error {
	var err error
	u.once.Do(func() {
		_ = u.pw.CloseWithError(errAborted)
		if uerr := <-u.result; uerr != nil && !errors.Is(uerr, errAborted) {
			err = uerr
		}
	})
	return err
}
