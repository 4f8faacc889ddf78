package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/hupe1980/natstore"
	"github.com/hupe1980/natstore/blobstore"
	"github.com/hupe1980/natstore/codec"
	"github.com/hupe1980/natstore/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Row   uint32
	Value string
}

func openColumn(t *testing.T, optFns ...natstore.Option) *natstore.Column {
	t.Helper()
	col, err := natstore.Open(t.TempDir(), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = col.Close() })
	return col
}

func dump(col *natstore.Column) []entry {
	var out []entry
	for row, v := range col.Ascend() {
		out = append(out, entry{Row: row, Value: string(v)})
	}
	return out
}

// fill writes a mix of shared, unique, empty and large values.
func fill(t *testing.T, col *natstore.Column) {
	t.Helper()
	ctx := context.Background()
	for i := range 200 {
		_, err := col.FindOrInsert(ctx, fmt.Appendf(nil, "file%d", i%70))
		require.NoError(t, err)
	}
	require.NoError(t, col.Set(ctx, 500, nil))
	require.NoError(t, col.Set(ctx, 501, []byte("file7")))
	require.NoError(t, col.Set(ctx, 502, bytes.Repeat([]byte("x"), 5000)))
	require.NoError(t, col.Remove(ctx, 3))
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()

	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(string(comp), func(t *testing.T) {
			src := openColumn(t)
			fill(t, src)

			store := blobstore.NewMemoryStore()
			withOpts := func(o *Options) {
				o.Compression = comp
				o.FrameSize = 256
			}
			m, err := Backup(ctx, src, store, "col.nss", withOpts)
			require.NoError(t, err)
			assert.Equal(t, src.Len(), m.Rows)
			assert.Equal(t, uint32(502), m.MaxRow)
			assert.Equal(t, comp, m.Compression)
			assert.Equal(t, "binary", m.Kind)

			dst := openColumn(t)
			got, err := Restore(ctx, dst, store, "col.nss")
			require.NoError(t, err)
			assert.Equal(t, comp, got.Compression)
			assert.True(t, m.Created.Equal(got.Created))

			assert.Equal(t, dump(src), dump(dst))
			assert.Equal(t, src.Stats().DistinctValues, dst.Stats().DistinctValues)
			require.NoError(t, dst.Check())

			v, ok := dst.Lookup(500)
			require.True(t, ok)
			assert.Empty(t, v)
			_, ok = dst.Lookup(3)
			assert.False(t, ok)
		})
	}
}

func TestCompressionShrinksRepetitiveFrames(t *testing.T) {
	ctx := context.Background()
	col := openColumn(t)
	for i := range 300 {
		_, err := col.FindOrInsert(ctx, fmt.Appendf(nil, "/var/log/service/archive/part-%04d.log", i))
		require.NoError(t, err)
	}

	size := func(comp Compression) int {
		var buf bytes.Buffer
		_, err := Export(ctx, col, &buf, func(o *Options) { o.Compression = comp })
		require.NoError(t, err)
		return buf.Len()
	}
	none := size(CompressionNone)
	assert.Less(t, size(CompressionLZ4), none)
	assert.Less(t, size(CompressionZSTD), none)
}

func TestExportEmptyColumn(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	m, err := Export(ctx, openColumn(t), &buf)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Rows)

	dst := openColumn(t)
	_, err = Import(ctx, dst, &buf)
	require.NoError(t, err)
	assert.Equal(t, 0, dst.Len())
}

func TestImportOverwritesMentionedRows(t *testing.T) {
	ctx := context.Background()
	src := openColumn(t)
	require.NoError(t, src.Set(ctx, 1, []byte("a")))
	require.NoError(t, src.Set(ctx, 2, []byte("b")))

	var buf bytes.Buffer
	_, err := Export(ctx, src, &buf)
	require.NoError(t, err)

	dst := openColumn(t)
	require.NoError(t, dst.Set(ctx, 2, []byte("old")))
	require.NoError(t, dst.Set(ctx, 9, []byte("kept")))
	_, err = Import(ctx, dst, &buf)
	require.NoError(t, err)

	assert.Equal(t, []entry{{1, "a"}, {2, "b"}, {9, "kept"}}, dump(dst))
	require.NoError(t, dst.Check())
}

func TestManifestCodec(t *testing.T) {
	ctx := context.Background()
	col := openColumn(t)
	require.NoError(t, col.Set(ctx, 1, []byte("x")))

	var buf bytes.Buffer
	_, err := Export(ctx, col, &buf, func(o *Options) { o.Codec = codec.JSON{} })
	require.NoError(t, err)

	name := codec.JSON{}.Name()
	assert.Equal(t, name, string(buf.Bytes()[9:9+len(name)]))

	m, err := ReadManifest(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Rows)
	assert.Equal(t, CompressionLZ4, m.Compression)
}

func TestStat(t *testing.T) {
	ctx := context.Background()
	col := openColumn(t)
	fill(t, col)

	store := blobstore.NewMemoryStore()
	_, err := Backup(ctx, col, store, "a/b.nss")
	require.NoError(t, err)

	m, err := Stat(ctx, store, "a/b.nss")
	require.NoError(t, err)
	assert.Equal(t, col.Len(), m.Rows)
	assert.Equal(t, DefaultFrameSize, m.FrameSize)

	_, err = Stat(ctx, store, "missing")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestLocalStore(t *testing.T) {
	ctx := context.Background()
	src := openColumn(t, natstore.WithValueKind(natstore.Numeric))
	for _, v := range []string{"10", "9.5", "b2", "1e3", "b10", "10"} {
		_, err := src.FindOrInsert(ctx, []byte(v))
		require.NoError(t, err)
	}

	store := blobstore.NewLocalStore(t.TempDir())
	_, err := Backup(ctx, src, store, "numeric.nss", func(o *Options) { o.Compression = CompressionZSTD })
	require.NoError(t, err)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"numeric.nss"}, names)

	dst := openColumn(t, natstore.WithValueKind(natstore.Numeric))
	m, err := Restore(ctx, dst, store, "numeric.nss")
	require.NoError(t, err)
	assert.Equal(t, "numeric", m.Kind)
	assert.Equal(t, dump(src), dump(dst))
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	backup := func(t *testing.T, optFns ...func(*Options)) (*blobstore.MemoryStore, []byte) {
		t.Helper()
		col := openColumn(t)
		fill(t, col)
		store := blobstore.NewMemoryStore()
		_, err := Backup(ctx, col, store, "col.nss", optFns...)
		require.NoError(t, err)
		blob, err := store.Open(ctx, "col.nss")
		require.NoError(t, err)
		data, err := blob.(blobstore.Mappable).Bytes()
		require.NoError(t, err)
		return store, data
	}

	// firstPayload returns the offset of the first frame payload.
	firstPayload := func(t *testing.T, data []byte) int {
		t.Helper()
		r := bytes.NewReader(data)
		_, err := ReadManifest(r)
		require.NoError(t, err)
		return int(r.Size()-int64(r.Len())) + frameHeaderSize
	}

	t.Run("Checksum", func(t *testing.T) {
		for _, comp := range []Compression{CompressionNone, CompressionZSTD} {
			store, data := backup(t, func(o *Options) { o.Compression = comp })
			require.True(t, store.Corrupt("col.nss", firstPayload(t, data)+3))

			_, err := Restore(ctx, openColumn(t), store, "col.nss")
			assert.ErrorIs(t, err, ErrChecksum, comp)
		}
	})

	t.Run("BadMagic", func(t *testing.T) {
		_, err := Import(ctx, openColumn(t), strings.NewReader("NSDAT\x00\x01\x00 not a snapshot"))
		assert.ErrorIs(t, err, ErrBadMagic)

		_, err = Import(ctx, openColumn(t), strings.NewReader(""))
		assert.ErrorIs(t, err, ErrBadMagic)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, data := backup(t)
		for _, cut := range []int{12, firstPayload(t, data) - 4, len(data) - 1} {
			_, err := Import(ctx, openColumn(t), bytes.NewReader(data[:cut]))
			assert.ErrorIs(t, err, io.ErrUnexpectedEOF, cut)
		}
	})

	t.Run("OversizedFrameHeader", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := Export(ctx, openColumn(t), &buf, func(o *Options) { o.Compression = CompressionNone })
		require.NoError(t, err)

		// Swap the terminator for a header claiming a 2 GiB frame.
		data := bytes.Clone(buf.Bytes()[:buf.Len()-frameHeaderSize])
		data = binary.LittleEndian.AppendUint32(data, 1<<31)
		data = binary.LittleEndian.AppendUint32(data, 1<<31)
		data = binary.LittleEndian.AppendUint32(data, 0)
		data = append(data, "12345"...)

		_, err = Import(ctx, openColumn(t), bytes.NewReader(data))
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("ShortFramePayload", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := Export(ctx, openColumn(t), &buf, func(o *Options) { o.Compression = CompressionNone })
		require.NoError(t, err)

		data := bytes.Clone(buf.Bytes()[:buf.Len()-frameHeaderSize])
		data = binary.LittleEndian.AppendUint32(data, 1<<20)
		data = binary.LittleEndian.AppendUint32(data, 1<<20)
		data = binary.LittleEndian.AppendUint32(data, 0)
		data = append(data, "12345"...)

		_, err = Import(ctx, openColumn(t), bytes.NewReader(data))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("FrameSizeLimit", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := Export(ctx, openColumn(t), &buf, func(o *Options) { o.FrameSize = MaxFrameSize + 1 })
		require.Error(t, err)
		assert.Zero(t, buf.Len())

		m := Manifest{Version: Version, Kind: "binary", Compression: CompressionNone, FrameSize: MaxFrameSize + 1}
		_, err = writeHeader(&buf, codec.Default, m)
		require.NoError(t, err)
		_, err = Import(ctx, openColumn(t), &buf)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("KindMismatch", func(t *testing.T) {
		store, _ := backup(t)
		dst := openColumn(t, natstore.WithValueKind(natstore.Numeric))
		_, err := Restore(ctx, dst, store, "col.nss")
		assert.ErrorIs(t, err, natstore.ErrKindMismatch)
		assert.Equal(t, 0, dst.Len())
	})

	t.Run("UnsupportedCompression", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := Export(ctx, openColumn(t), &buf, func(o *Options) { o.Compression = "gzip" })
		assert.ErrorIs(t, err, ErrUnsupportedCompression)
		assert.Zero(t, buf.Len())
	})

	t.Run("FailedBackupLeavesNoBlob", func(t *testing.T) {
		col := openColumn(t)
		fill(t, col)
		require.NoError(t, col.Close())

		store := blobstore.NewMemoryStore()
		_, err := Backup(ctx, col, store, "col.nss")
		assert.ErrorIs(t, err, natstore.ErrClosed)

		names, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		col := openColumn(t)
		fill(t, col)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := Backup(cctx, col, blobstore.NewMemoryStore(), "col.nss")
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestController(t *testing.T) {
	ctx := context.Background()
	col := openColumn(t)
	fill(t, col)

	t.Run("MemoryLimit", func(t *testing.T) {
		ctrl := resource.NewController(resource.Config{MemoryLimitBytes: 1024})
		_, err := Backup(ctx, col, blobstore.NewMemoryStore(), "col.nss", func(o *Options) {
			o.Controller = ctrl
		})
		assert.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
		assert.Zero(t, ctrl.MemoryUsage())
	})

	t.Run("ReleasesResources", func(t *testing.T) {
		ctrl := resource.NewController(resource.Config{
			MemoryLimitBytes:   1 << 20,
			MaxJobs:            1,
			IOLimitBytesPerSec: 1 << 30,
		})
		withCtrl := func(o *Options) {
			o.Controller = ctrl
			o.FrameSize = 512
		}
		store := blobstore.NewMemoryStore()
		_, err := Backup(ctx, col, store, "col.nss", withCtrl)
		require.NoError(t, err)

		dst := openColumn(t)
		_, err = Restore(ctx, dst, store, "col.nss", withCtrl)
		require.NoError(t, err)
		assert.Equal(t, dump(col), dump(dst))

		assert.Zero(t, ctrl.MemoryUsage())
		require.True(t, ctrl.TryAcquireJob())
		ctrl.ReleaseJob()
	})
}
