package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BlobStore) {
	ctx := context.Background()

	t.Run("CreateAndRead", func(t *testing.T) {
		data := []byte("hello world, this is a snapshot blob")

		w, err := store.Create(ctx, "snap/a.nss")
		require.NoError(t, err)
		n, err := w.Write(data)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		require.NoError(t, w.Sync())
		require.NoError(t, w.Close())

		blob, err := store.Open(ctx, "snap/a.nss")
		require.NoError(t, err)
		defer blob.Close()
		require.Equal(t, int64(len(data)), blob.Size())

		buf := make([]byte, 5)
		n, err = blob.ReadAt(ctx, buf, 6)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, "world", string(buf))

		rc, err := blob.ReadRange(ctx, 13, 4)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "this", string(got))

		rc, err = NewReader(ctx, blob)
		require.NoError(t, err)
		got, err = io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, data, got)

		_, err = blob.ReadAt(ctx, make([]byte, 10), int64(len(data))-2)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("PutListDelete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "snap/b.nss", []byte("b")))
		require.NoError(t, store.Put(ctx, "other/c.nss", []byte("c")))

		names, err := store.List(ctx, "snap/")
		require.NoError(t, err)
		assert.Equal(t, []string{"snap/a.nss", "snap/b.nss"}, names)

		require.NoError(t, store.Delete(ctx, "snap/b.nss"))
		require.NoError(t, store.Delete(ctx, "snap/b.nss"))
		_, err = store.Open(ctx, "snap/b.nss")
		assert.ErrorIs(t, err, ErrNotFound)

		names, err = store.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"other/c.nss", "snap/a.nss"}, names)
	})

	t.Run("Abort", func(t *testing.T) {
		w, err := store.Create(ctx, "aborted")
		require.NoError(t, err)
		_, err = w.Write([]byte("partial"))
		require.NoError(t, err)

		a, ok := w.(Aborter)
		require.True(t, ok)
		require.NoError(t, a.Abort())

		_, err = store.Open(ctx, "aborted")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("EmptyBlob", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "empty", nil))
		blob, err := store.Open(ctx, "empty")
		require.NoError(t, err)
		defer blob.Close()

		rc, err := NewReader(ctx, blob)
		require.NoError(t, err)
		got, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestLocalStore(t *testing.T) {
	dir := t.TempDir()
	testStore(t, NewLocalStore(dir))

	_, err := os.Stat(filepath.Join(dir, "snap", "a.nss"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "aborted.tmp"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	testStore(t, store)

	assert.True(t, store.Corrupt("snap/a.nss", 0))
	assert.False(t, store.Corrupt("missing", 0))

	blob, err := store.Open(context.Background(), "snap/a.nss")
	require.NoError(t, err)
	b, err := blob.(Mappable).Bytes()
	require.NoError(t, err)
	assert.Equal(t, byte('h')^0xff, b[0])
}
