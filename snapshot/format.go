package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/natstore/codec"
	"github.com/hupe1980/natstore/internal/hash"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Version is the snapshot format version written by Export.
const Version = 1

const (
	frameHeaderSize  = 12
	recordHeaderSize = 8

	// maxManifestSize bounds the manifest read from untrusted input.
	maxManifestSize = 1 << 20
	maxCodecName    = 255
)

const (
	// MaxFrameSize is the largest accepted Options.FrameSize.
	MaxFrameSize = 64 << 20
	// MaxValueSize is the largest value Export writes.
	MaxValueSize = 64 << 20
)

var magic = [8]byte{'N', 'S', 'S', 'N', 'A', 'P', '0', '1'}

var (
	// ErrBadMagic is returned when the input is not a snapshot.
	ErrBadMagic = errors.New("snapshot: bad magic")
	// ErrChecksum is returned when a frame payload does not match its checksum.
	ErrChecksum = errors.New("snapshot: frame checksum mismatch")
	// ErrUnsupportedCompression is returned for an unknown compression name.
	ErrUnsupportedCompression = errors.New("snapshot: unsupported compression")
	// ErrCorrupt is returned for structurally invalid frames or records.
	ErrCorrupt = errors.New("snapshot: corrupt stream")
	// ErrValueTooLarge is returned by Export for values above MaxValueSize.
	ErrValueTooLarge = errors.New("snapshot: value too large")
)

// Compression names the frame compression algorithm.
type Compression string

const (
	// CompressionNone stores frames as is.
	CompressionNone Compression = "none"
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = "lz4"
	// CompressionZSTD uses zstd (better ratio, good for cold backups).
	CompressionZSTD Compression = "zstd"
)

func (c Compression) validate() error {
	switch c {
	case CompressionNone, CompressionLZ4, CompressionZSTD:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedCompression, string(c))
}

// Manifest describes a snapshot.
type Manifest struct {
	Version     int         `json:"version"`
	Kind        string      `json:"kind"`
	Rows        int         `json:"rows"`
	MaxRow      uint32      `json:"max_row"`
	Compression Compression `json:"compression"`
	FrameSize   int         `json:"frame_size"`
	Created     time.Time   `json:"created"`
}

func writeHeader(w io.Writer, c codec.Codec, m Manifest) (int64, error) {
	body, err := c.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("snapshot: encode manifest: %w", err)
	}
	name := c.Name()
	if len(name) > maxCodecName {
		return 0, fmt.Errorf("snapshot: codec name %q too long", name)
	}

	buf := make([]byte, 0, len(magic)+1+len(name)+4+len(body))
	buf = append(buf, magic[:]...)
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(body)))
	buf = append(buf, body...)

	n, err := w.Write(buf)
	if err != nil {
		return int64(n), fmt.Errorf("snapshot: write header: %w", err)
	}
	return int64(n), nil
}

// ReadManifest reads the header of a snapshot and leaves r positioned at the
// first frame.
func ReadManifest(r io.Reader) (Manifest, error) {
	var fixed [len(magic) + 1]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Manifest{}, ErrBadMagic
		}
		return Manifest{}, err
	}
	if [8]byte(fixed[:8]) != magic {
		return Manifest{}, ErrBadMagic
	}

	name := make([]byte, fixed[8])
	if _, err := io.ReadFull(r, name); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read codec name: %w", unexpected(err))
	}
	c, err := codec.MustByName(string(name))
	if err != nil {
		return Manifest{}, fmt.Errorf("snapshot: %w", err)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read manifest length: %w", unexpected(err))
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	if size > maxManifestSize {
		return Manifest{}, fmt.Errorf("%w: manifest of %d bytes", ErrCorrupt, size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Manifest{}, fmt.Errorf("snapshot: read manifest: %w", unexpected(err))
	}

	var m Manifest
	if err := c.Unmarshal(body, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode manifest: %v", ErrCorrupt, err)
	}
	if m.Version != Version {
		return Manifest{}, fmt.Errorf("snapshot: unsupported version %d", m.Version)
	}
	if err := m.Compression.validate(); err != nil {
		return Manifest{}, err
	}
	if m.FrameSize <= 0 || m.FrameSize > MaxFrameSize {
		return Manifest{}, fmt.Errorf("%w: frame size %d", ErrCorrupt, m.FrameSize)
	}
	return m, nil
}

// frameLimit is the largest raw frame a writer with frameSize produces: up to
// frameSize-1 buffered bytes followed by one record that overflows them.
func frameLimit(frameSize int) uint32 {
	return uint32(frameSize + recordHeaderSize + MaxValueSize)
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// frameWriter batches records into compressed frames.
type frameWriter struct {
	w         io.Writer
	comp      Compression
	frameSize int
	enc       *zstd.Encoder

	buf     []byte
	scratch []byte
	records int
	written int64
}

func newFrameWriter(w io.Writer, comp Compression, frameSize int) (*frameWriter, error) {
	fw := &frameWriter{
		w:         w,
		comp:      comp,
		frameSize: frameSize,
		buf:       make([]byte, 0, frameSize),
	}
	if comp == CompressionZSTD {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		fw.enc = enc
	}
	return fw, nil
}

func (fw *frameWriter) add(row uint32, value []byte) error {
	if len(value) > MaxValueSize {
		return fmt.Errorf("%w: row %d holds %d bytes", ErrValueTooLarge, row, len(value))
	}
	fw.buf = binary.LittleEndian.AppendUint32(fw.buf, row)
	fw.buf = binary.LittleEndian.AppendUint32(fw.buf, uint32(len(value)))
	fw.buf = append(fw.buf, value...)
	fw.records++
	if len(fw.buf) >= fw.frameSize {
		return fw.flush()
	}
	return nil
}

func (fw *frameWriter) flush() error {
	if len(fw.buf) == 0 {
		return nil
	}
	payload := fw.compress(fw.buf)
	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(fw.buf)))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[8:], hash.CRC32C(payload))

	if err := fw.write(hdr[:]); err != nil {
		return err
	}
	if err := fw.write(payload); err != nil {
		return err
	}
	fw.buf = fw.buf[:0]
	return nil
}

// compress returns raw itself when compression does not shrink it, which the
// reader recognizes by compLen == rawLen.
func (fw *frameWriter) compress(raw []byte) []byte {
	var out []byte
	switch fw.comp {
	case CompressionLZ4:
		bound := lz4.CompressBlockBound(len(raw))
		if cap(fw.scratch) < bound {
			fw.scratch = make([]byte, bound)
		}
		n, err := lz4.CompressBlock(raw, fw.scratch[:bound], nil)
		if err != nil || n == 0 {
			return raw
		}
		out = fw.scratch[:n]
	case CompressionZSTD:
		fw.scratch = fw.enc.EncodeAll(raw, fw.scratch[:0])
		out = fw.scratch
	default:
		return raw
	}
	if len(out) >= len(raw) {
		return raw
	}
	return out
}

func (fw *frameWriter) write(p []byte) error {
	n, err := fw.w.Write(p)
	fw.written += int64(n)
	if err != nil {
		return fmt.Errorf("snapshot: write frame: %w", err)
	}
	return nil
}

// close flushes pending records and writes the terminating header.
func (fw *frameWriter) close() error {
	if err := fw.flush(); err != nil {
		return err
	}
	var end [frameHeaderSize]byte
	err := fw.write(end[:])
	if fw.enc != nil {
		_ = fw.enc.Close()
	}
	return err
}

// frameReader yields the records of a frame stream.
type frameReader struct {
	r     io.Reader
	comp  Compression
	dec   *zstd.Decoder
	limit uint32

	// onFrame is called with the raw and stored size of every frame
	// before its buffers are allocated.
	onFrame func(rawLen, compLen uint32) error

	payload bytes.Buffer
	stored  []byte
	raw     []byte
	pos    int
	done   bool
}

func newFrameReader(r io.Reader, m Manifest) (*frameReader, error) {
	fr := &frameReader{r: r, comp: m.Compression, limit: frameLimit(m.FrameSize)}
	if fr.comp == CompressionZSTD {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		fr.dec = dec
	}
	return fr, nil
}

// next returns the next record. The value borrows the frame buffer and is
// valid until the following call. At the end of the stream it returns io.EOF.
func (fr *frameReader) next() (uint32, []byte, error) {
	for fr.pos >= len(fr.raw) {
		if fr.done {
			return 0, nil, io.EOF
		}
		if err := fr.readFrame(); err != nil {
			return 0, nil, err
		}
	}

	rest := fr.raw[fr.pos:]
	if len(rest) < recordHeaderSize {
		return 0, nil, fmt.Errorf("%w: truncated record header", ErrCorrupt)
	}
	row := binary.LittleEndian.Uint32(rest[0:])
	size := binary.LittleEndian.Uint32(rest[4:])
	if uint64(size) > uint64(len(rest)-recordHeaderSize) {
		return 0, nil, fmt.Errorf("%w: record of row %d overruns frame", ErrCorrupt, row)
	}
	end := recordHeaderSize + int(size)
	value := rest[recordHeaderSize:end:end]
	fr.pos += end
	return row, value, nil
}

func (fr *frameReader) readFrame() error {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return fmt.Errorf("snapshot: read frame header: %w", unexpected(err))
	}
	rawLen := binary.LittleEndian.Uint32(hdr[0:])
	compLen := binary.LittleEndian.Uint32(hdr[4:])
	crc := binary.LittleEndian.Uint32(hdr[8:])

	fr.raw, fr.pos = fr.raw[:0], 0
	if rawLen == 0 && compLen == 0 && crc == 0 {
		fr.done = true
		return nil
	}
	if rawLen == 0 || compLen == 0 || compLen > rawLen || rawLen > fr.limit {
		return fmt.Errorf("%w: frame header %d/%d", ErrCorrupt, rawLen, compLen)
	}
	if fr.onFrame != nil {
		if err := fr.onFrame(rawLen, compLen); err != nil {
			return err
		}
	}

	// The buffer grows with the bytes received, not with the header's claim.
	fr.payload.Reset()
	if _, err := io.CopyN(&fr.payload, fr.r, int64(compLen)); err != nil {
		return fmt.Errorf("snapshot: read frame: %w", unexpected(err))
	}
	fr.stored = fr.payload.Bytes()
	if hash.CRC32C(fr.stored) != crc {
		return ErrChecksum
	}

	if compLen == rawLen {
		fr.raw = fr.stored
		return nil
	}
	return fr.decompress(rawLen)
}

func (fr *frameReader) decompress(rawLen uint32) error {
	if cap(fr.raw) < int(rawLen) || sameArray(fr.raw, fr.stored) {
		fr.raw = make([]byte, rawLen)
	}
	out := fr.raw[:rawLen]

	switch fr.comp {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(fr.stored, out)
		if err != nil {
			return fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if uint32(n) != rawLen {
			return fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
	case CompressionZSTD:
		decoded, err := fr.dec.DecodeAll(fr.stored, out[:0])
		if err != nil {
			return fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != rawLen {
			return fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		out = decoded
	default:
		return fmt.Errorf("%w: compressed frame in %q snapshot", ErrCorrupt, string(fr.comp))
	}
	fr.raw = out
	return nil
}

func (fr *frameReader) close() {
	if fr.dec != nil {
		fr.dec.Close()
	}
}

func sameArray(a, b []byte) bool {
	return cap(a) > 0 && cap(b) > 0 && &a[:cap(a)][0] == &b[:cap(b)][0]
}
