package datafile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/natstore/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, optFns ...func(*Options)) (*File, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".d")
	df, err := Open(path, optFns...)
	require.NoError(t, err)
	return df, path
}

func TestFile_InsertBytesDelete(t *testing.T) {
	df, _ := openTemp(t)
	defer df.Close()

	a, err := df.Insert([]byte("alpha"))
	require.NoError(t, err)
	b, err := df.Insert([]byte("beta"))
	require.NoError(t, err)
	empty, err := df.Insert(nil)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, b, empty)
	assert.NotZero(t, empty.Offset)

	got, err := df.Bytes(a)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(got))

	got, err = df.Bytes(empty)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, df.Verify(b))
	require.NoError(t, df.Delete(a))

	_, err = df.Bytes(a)
	assert.ErrorIs(t, err, ErrFreed)
	assert.ErrorIs(t, df.Delete(a), ErrFreed)

	st := df.Stats()
	assert.Equal(t, 2, st.LiveRecords)
	assert.Equal(t, 1, st.FreeRecords)
	assert.Equal(t, int64(8), st.FreeBytes)
}

func TestFile_InvalidLocation(t *testing.T) {
	df, _ := openTemp(t)
	defer df.Close()

	_, err := df.Bytes(Location{})
	assert.ErrorIs(t, err, ErrInvalidLocation)

	loc, err := df.Insert([]byte("x"))
	require.NoError(t, err)

	_, err = df.Bytes(Location{Offset: loc.Offset, Length: 7})
	assert.ErrorIs(t, err, ErrInvalidLocation)
	_, err = df.Bytes(Location{Offset: loc.Offset + 1<<30, Length: 1})
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestFile_ReusesFreedCapacity(t *testing.T) {
	df, _ := openTemp(t)
	defer df.Close()

	big, err := df.Insert(bytes.Repeat([]byte("x"), 64))
	require.NoError(t, err)
	small, err := df.Insert([]byte("tiny"))
	require.NoError(t, err)

	tail := df.Stats().Tail
	require.NoError(t, df.Delete(small))
	require.NoError(t, df.Delete(big))

	// Best fit picks the 8-byte record, not the 64-byte one.
	loc, err := df.Insert([]byte("five5"))
	require.NoError(t, err)
	assert.Equal(t, small.Offset, loc.Offset)

	loc2, err := df.Insert(bytes.Repeat([]byte("y"), 40))
	require.NoError(t, err)
	assert.Equal(t, big.Offset, loc2.Offset)

	// The 24 spare bytes of the 64-byte record became a free record of 8.
	st := df.Stats()
	assert.Equal(t, tail, st.Tail)
	assert.Equal(t, 1, st.FreeRecords)
	assert.Equal(t, int64(8), st.FreeBytes)

	got, err := df.Bytes(loc2)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("y"), 40), got)
}

func TestFile_SplitsLargeFreeRecord(t *testing.T) {
	df, path := openTemp(t)

	big, err := df.Insert(bytes.Repeat([]byte("b"), 1024))
	require.NoError(t, err)
	after, err := df.Insert([]byte("after"))
	require.NoError(t, err)
	require.NoError(t, df.Delete(big))

	small, err := df.Insert([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, big.Offset, small.Offset)

	st := df.Stats()
	assert.Equal(t, 1, st.FreeRecords)
	assert.Equal(t, int64(1024-8-recordHeaderSize), st.FreeBytes)

	mid, err := df.Insert(bytes.Repeat([]byte("m"), 500))
	require.NoError(t, err)
	assert.Equal(t, small.Offset+8+recordHeaderSize, mid.Offset)

	want := df.Stats()
	require.NoError(t, df.Close())

	df, err = Open(path)
	require.NoError(t, err)
	defer df.Close()
	assert.Equal(t, want, df.Stats())

	for loc, v := range map[Location][]byte{
		small: []byte("a"),
		mid:   bytes.Repeat([]byte("m"), 500),
		after: []byte("after"),
	} {
		got, err := df.Bytes(loc)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.NoError(t, df.Verify(loc))
	}
}

func TestFile_GrowsAndReopens(t *testing.T) {
	df, path := openTemp(t, func(o *Options) { o.Growth = 256 })

	var locs []Location
	for i := 0; i < 100; i++ {
		loc, err := df.Insert(bytes.Repeat([]byte{byte('a' + i%26)}, i))
		require.NoError(t, err)
		locs = append(locs, loc)
	}
	require.NoError(t, df.Delete(locs[10]))
	require.NoError(t, df.Delete(locs[50]))
	assert.Greater(t, df.Stats().FileSize, int64(256))
	require.NoError(t, df.Sync())
	require.NoError(t, df.Close())

	df, err := Open(path)
	require.NoError(t, err)
	defer df.Close()

	st := df.Stats()
	assert.Equal(t, 98, st.LiveRecords)
	assert.Equal(t, 2, st.FreeRecords)

	for i, loc := range locs {
		if i == 10 || i == 50 {
			_, err := df.Bytes(loc)
			assert.ErrorIs(t, err, ErrFreed)
			continue
		}
		got, err := df.Bytes(loc)
		require.NoError(t, err)
		assert.Equal(t, bytes.Repeat([]byte{byte('a' + i%26)}, i), got)
		assert.NoError(t, df.Verify(loc))
	}
}

func TestFile_BadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".d")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("z"), 32), 0644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestFile_ChecksumMismatch(t *testing.T) {
	df, path := openTemp(t)
	loc, err := df.Insert([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, df.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("P"), int64(loc.Offset))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	df, err = Open(path)
	require.NoError(t, err)
	defer df.Close()
	assert.ErrorIs(t, df.Verify(loc), ErrChecksum)
}

func TestFile_WriteFault(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	df, _ := openTemp(t, func(o *Options) { o.FS = ffs; o.Growth = 64 })
	defer df.Close()

	loc, err := df.Insert([]byte("kept"))
	require.NoError(t, err)

	ffs.AddRule(string(filepath.Separator)+".d", fs.Fault{FailAfterBytes: 0})
	_, err = df.Insert([]byte("lost"))
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.ErrorIs(t, df.Delete(loc), fs.ErrInjected)

	ffs.ClearRules()
	got, err := df.Bytes(loc)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
	assert.Equal(t, 1, df.Stats().LiveRecords)

	ffs.AddRule(string(filepath.Separator)+".d", fs.Fault{FailAfterBytes: -1, FailOnTruncate: true})
	_, err = df.Insert(bytes.Repeat([]byte("g"), 128))
	assert.ErrorIs(t, err, fs.ErrInjected)
}
