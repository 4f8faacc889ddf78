package datafile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/hupe1980/natstore/internal/fs"
	"github.com/hupe1980/natstore/internal/hash"
	"github.com/hupe1980/natstore/internal/mmap"
)

const (
	headerSize       = 16
	recordHeaderSize = 16
	recordAlign      = 8

	// DefaultGrowth is the default number of bytes the file grows by.
	DefaultGrowth = 1 << 20

	flagLive uint32 = 1 << 0
	flagFree uint32 = 1 << 1
)

var magic = [8]byte{'N', 'S', 'D', 'A', 'T', 0, 1, 0}

var (
	// ErrBadMagic is returned when the file is not a data file.
	ErrBadMagic = errors.New("datafile: bad magic")
	// ErrCorrupt is returned when a record header is inconsistent.
	ErrCorrupt = errors.New("datafile: corrupt record")
	// ErrInvalidLocation is returned for a location outside the file.
	ErrInvalidLocation = errors.New("datafile: invalid location")
	// ErrFreed is returned when resolving or deleting a freed location.
	ErrFreed = errors.New("datafile: location already freed")
	// ErrChecksum is returned by Verify on a payload checksum mismatch.
	ErrChecksum = errors.New("datafile: checksum mismatch")
	// ErrTooLarge is returned for payloads that do not fit a record.
	ErrTooLarge = errors.New("datafile: value too large")
)

// Location identifies the bytes of one record.
type Location struct {
	Offset uint64
	Length uint32
}

func (l Location) String() string {
	return fmt.Sprintf("%d+%d", l.Offset, l.Length)
}

// Options configures a File.
type Options struct {
	// FS is the file system used to open the file. Defaults to fs.Default.
	FS fs.FileSystem
	// Growth is the minimum number of bytes added when the file grows.
	Growth int64
}

// Stats describes the space usage of a File.
type Stats struct {
	FileSize    int64
	Tail        int64
	LiveRecords int
	FreeRecords int
	FreeBytes   int64
}

type region struct {
	capacity uint32
	offset   uint64 // record header offset
}

func compareRegion(a, b region) int {
	if a.capacity != b.capacity {
		if a.capacity < b.capacity {
			return -1
		}
		return 1
	}
	switch {
	case a.offset < b.offset:
		return -1
	case a.offset > b.offset:
		return 1
	}
	return 0
}

// File is an open data file.
type File struct {
	file   fs.File
	m      *mmap.Mapping
	size   int64
	tail   uint64
	growth int64

	free      []region // sorted by capacity, then offset
	freeBytes int64
	live      int
}

// Open opens or creates the data file at path.
func Open(path string, optFns ...func(*Options)) (*File, error) {
	opts := Options{
		FS:     fs.Default,
		Growth: DefaultGrowth,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Growth < headerSize {
		opts.Growth = DefaultGrowth
	}

	f, err := opts.FS.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	df, err := open(f, opts.Growth)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return df, nil
}

func open(f fs.File, growth int64) (*File, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	df := &File{file: f, growth: growth, size: fi.Size()}

	if df.size == 0 {
		if err := f.Truncate(growth); err != nil {
			return nil, err
		}
		df.size = growth
		df.tail = headerSize
		var hdr [headerSize]byte
		copy(hdr[:8], magic[:])
		binary.LittleEndian.PutUint64(hdr[8:], df.tail)
		if _, err := f.WriteAt(hdr[:], 0); err != nil {
			return nil, err
		}
	} else {
		if df.size < headerSize {
			return nil, ErrBadMagic
		}
		var hdr [headerSize]byte
		if _, err := f.ReadAt(hdr[:], 0); err != nil {
			return nil, err
		}
		if [8]byte(hdr[:8]) != magic {
			return nil, ErrBadMagic
		}
		df.tail = binary.LittleEndian.Uint64(hdr[8:])
		if df.tail < headerSize || df.tail > uint64(df.size) {
			return nil, fmt.Errorf("%w: tail %d beyond file size %d", ErrCorrupt, df.tail, df.size)
		}
	}

	if int64(int(df.size)) != df.size {
		return nil, mmap.ErrInvalidSize
	}
	m, err := mmap.Map(f, int(df.size), false)
	if err != nil {
		return nil, err
	}
	df.m = m

	if err := df.scan(); err != nil {
		_ = m.Close()
		return nil, err
	}
	// After the scan, values are only read by location.
	_ = m.Advise(mmap.AdviceRandom)
	return df, nil
}

// scan rebuilds the free list and live count from the record headers.
func (df *File) scan() error {
	data := df.m.Bytes()
	off := uint64(headerSize)
	for off < df.tail {
		if off+recordHeaderSize > df.tail {
			return fmt.Errorf("%w: truncated header at %d", ErrCorrupt, off)
		}
		capacity, length, _, flags := readHeader(data[off:])
		end := off + recordHeaderSize + uint64(capacity)
		if end > df.tail || length > capacity {
			return fmt.Errorf("%w: record at %d overruns tail", ErrCorrupt, off)
		}
		switch {
		case flags&flagFree != 0:
			df.free = append(df.free, region{capacity: capacity, offset: off})
			df.freeBytes += int64(capacity)
		case flags&flagLive != 0:
			df.live++
		default:
			return fmt.Errorf("%w: record at %d has no state", ErrCorrupt, off)
		}
		off = end
	}
	slices.SortFunc(df.free, compareRegion)
	return nil
}

func readHeader(b []byte) (capacity, length, crc, flags uint32) {
	return binary.LittleEndian.Uint32(b[0:]),
		binary.LittleEndian.Uint32(b[4:]),
		binary.LittleEndian.Uint32(b[8:]),
		binary.LittleEndian.Uint32(b[12:])
}

func alignUp(n uint64) uint64 {
	return (n + recordAlign - 1) &^ (recordAlign - 1)
}

// Insert stores content and returns its location.
func (df *File) Insert(content []byte) (Location, error) {
	if uint64(len(content)) > uint64(^uint32(0))-recordAlign {
		return Location{}, ErrTooLarge
	}
	need := uint32(alignUp(uint64(len(content))))

	// Best fit among freed records.
	i, _ := slices.BinarySearchFunc(df.free, region{capacity: need}, compareRegion)
	if i < len(df.free) {
		r := df.free[i]
		capacity := r.capacity
		var split region
		if rest := r.capacity - need; rest >= recordHeaderSize+recordAlign {
			// The remainder header goes first so a failure in between leaves
			// the old free record intact.
			split = region{capacity: rest - recordHeaderSize, offset: r.offset + recordHeaderSize + uint64(need)}
			if err := df.writeFree(split); err != nil {
				return Location{}, err
			}
			capacity = need
		}
		if err := df.writeRecord(r.offset, capacity, content); err != nil {
			return Location{}, err
		}
		df.free = slices.Delete(df.free, i, i+1)
		df.freeBytes -= int64(r.capacity)
		if capacity != r.capacity {
			df.addFree(split)
		}
		df.live++
		return Location{Offset: r.offset + recordHeaderSize, Length: uint32(len(content))}, nil
	}

	off := df.tail
	end := off + recordHeaderSize + uint64(need)
	if err := df.ensure(end); err != nil {
		return Location{}, err
	}
	if err := df.writeRecord(off, need, content); err != nil {
		return Location{}, err
	}
	var tail [8]byte
	binary.LittleEndian.PutUint64(tail[:], end)
	if _, err := df.file.WriteAt(tail[:], 8); err != nil {
		return Location{}, err
	}
	df.tail = end
	df.live++
	return Location{Offset: off + recordHeaderSize, Length: uint32(len(content))}, nil
}

func (df *File) writeRecord(off uint64, capacity uint32, content []byte) error {
	buf := make([]byte, recordHeaderSize+len(content))
	binary.LittleEndian.PutUint32(buf[0:], capacity)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(content)))
	binary.LittleEndian.PutUint32(buf[8:], hash.CRC32C(content))
	binary.LittleEndian.PutUint32(buf[12:], flagLive)
	copy(buf[recordHeaderSize:], content)
	_, err := df.file.WriteAt(buf, int64(off))
	return err
}

// ensure grows the file so that it is at least end bytes long.
func (df *File) ensure(end uint64) error {
	if end <= uint64(df.size) {
		return nil
	}
	newSize := df.size + df.growth
	if uint64(newSize) < end {
		newSize = int64(alignUp(end)) + df.growth
	}
	if err := df.file.Truncate(newSize); err != nil {
		return err
	}
	if err := df.m.Remap(df.file, int(newSize)); err != nil {
		return err
	}
	df.size = newSize
	return nil
}

// record returns the header offset of loc after validating it.
func (df *File) record(loc Location) (uint64, uint32, error) {
	if loc.Offset < headerSize+recordHeaderSize || loc.Offset+uint64(loc.Length) > df.tail {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidLocation, loc)
	}
	off := loc.Offset - recordHeaderSize
	capacity, length, _, flags := readHeader(df.m.Bytes()[off:])
	if flags&flagFree != 0 {
		return 0, 0, fmt.Errorf("%w: %s", ErrFreed, loc)
	}
	if flags&flagLive == 0 || length != loc.Length {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidLocation, loc)
	}
	return off, capacity, nil
}

// Bytes resolves loc. The returned slice borrows the mapping and is valid
// until the next Insert, Close or growth of the file.
func (df *File) Bytes(loc Location) ([]byte, error) {
	if _, _, err := df.record(loc); err != nil {
		return nil, err
	}
	return df.m.Bytes()[loc.Offset : loc.Offset+uint64(loc.Length) : loc.Offset+uint64(loc.Length)], nil
}

// Verify checks the payload checksum of loc.
func (df *File) Verify(loc Location) error {
	off, _, err := df.record(loc)
	if err != nil {
		return err
	}
	data := df.m.Bytes()
	_, _, crc, _ := readHeader(data[off:])
	if hash.CRC32C(data[loc.Offset:loc.Offset+uint64(loc.Length)]) != crc {
		return fmt.Errorf("%w: %s", ErrChecksum, loc)
	}
	return nil
}

// Delete frees the record at loc. Its capacity is reused by later inserts.
func (df *File) Delete(loc Location) error {
	off, capacity, err := df.record(loc)
	if err != nil {
		return err
	}
	var flags [4]byte
	binary.LittleEndian.PutUint32(flags[:], flagFree)
	if _, err := df.file.WriteAt(flags[:], int64(off+12)); err != nil {
		return err
	}
	df.addFree(region{capacity: capacity, offset: off})
	df.live--
	return nil
}

// writeFree writes the header of a free record covering r.
func (df *File) writeFree(r region) error {
	var hdr [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], r.capacity)
	binary.LittleEndian.PutUint32(hdr[12:], flagFree)
	_, err := df.file.WriteAt(hdr[:], int64(r.offset))
	return err
}

func (df *File) addFree(r region) {
	i, _ := slices.BinarySearchFunc(df.free, r, compareRegion)
	df.free = slices.Insert(df.free, i, r)
	df.freeBytes += int64(r.capacity)
}

// Stats returns space usage.
func (df *File) Stats() Stats {
	return Stats{
		FileSize:    df.size,
		Tail:        int64(df.tail),
		LiveRecords: df.live,
		FreeRecords: len(df.free),
		FreeBytes:   df.freeBytes,
	}
}

// Sync flushes the file to stable storage.
func (df *File) Sync() error {
	return df.file.Sync()
}

// Close unmaps and closes the file.
func (df *File) Close() error {
	err := df.m.Close()
	if cerr := df.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
