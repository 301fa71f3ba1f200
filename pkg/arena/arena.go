// Package arena implements the vector arena: a memory-mapped,
// append-only, fixed-stride store of float32 vectors backing
// vectors.bin.
//
// The file begins with a 64-byte header packed into the first 4096-byte
// page (magic, format version, dimension, metric, reserved bytes);
// vector records start at the second page for alignment with the OS's
// page size, so demand-paging never splits a record header across two
// faults. Growth doubles the record capacity, truncating the backing
// file and remapping it; existing records keep their ids and offsets
// across a grow.
//
// Arena never looks at metadata or the graph: it is the dumbest
// possible durable store, and the façade sequences writes across all
// three stores for failure atomicity.
package arena

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"unsafe"

	"github.com/blevesearch/mmap-go"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/vectordb/pkg/distance"
	"github.com/orneryd/vectordb/pkg/vdberrors"
)

const (
	magic         = "VDBVEC01"
	headerSize    = 64
	pageSize      = 4096
	formatVersion = uint32(1)

	initialCapacity = 4096
)

func init() {
	var x uint16 = 1
	if *(*byte)(unsafe.Pointer(&x)) != 1 {
		panic("arena: Get's zero-copy reinterpret cast requires a little-endian host")
	}
}

// Header mirrors the on-disk vectors.bin header, spec.md §6.
type Header struct {
	Dimension uint32
	Metric    distance.Metric
	Count     uint32
}

// Arena is a memory-mapped, fixed-stride, append-only vector store.
// All exported methods are safe for concurrent readers; the façade is
// responsible for excluding concurrent writers (arena itself takes no
// lock of its own, matching spec.md §5's "the façade owns the RWMutex,
// components stay lock-free on the read path").
type Arena struct {
	f         *os.File
	m         mmap.MMap
	dimension uint32
	metric    distance.Metric
	count     uint32 // logical record count; may be < capacity
	capacity  uint32 // records the current mapping can hold
	stride    int    // bytes per record = dimension * 4
}

// Create initializes a new vectors.bin at path for the given dimension
// and metric, and returns an Arena opened onto it.
func Create(path string, dimension uint32, metric distance.Metric) (*Arena, error) {
	if dimension == 0 {
		return nil, vdberrors.New(vdberrors.InvalidArgument, "arena.Create", "dimension must be > 0")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, vdberrors.Wrap(vdberrors.IO, "arena.Create", err)
	}

	a := &Arena{f: f, dimension: dimension, metric: metric, stride: int(dimension) * 4}
	if err := a.growTo(initialCapacity); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	if err := a.writeHeader(); err != nil {
		a.Close()
		os.Remove(path)
		return nil, err
	}
	return a, nil
}

// Open maps an existing vectors.bin and validates its header.
func Open(path string) (*Arena, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, vdberrors.Wrap(vdberrors.IO, "arena.Open", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, vdberrors.Wrap(vdberrors.IO, "arena.Open", err)
	}
	if info.Size() < pageSize {
		f.Close()
		return nil, vdberrors.New(vdberrors.Corruption, "arena.Open", "file shorter than one page")
	}

	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, vdberrors.Wrap(vdberrors.IO, "arena.Open", err)
	}

	hdr, err := parseHeader(m)
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, err
	}

	capacity := uint32((len(m) - pageSize) / (int(hdr.Dimension) * 4))
	a := &Arena{
		f:         f,
		m:         m,
		dimension: hdr.Dimension,
		metric:    hdr.Metric,
		count:     hdr.Count,
		capacity:  capacity,
		stride:    int(hdr.Dimension) * 4,
	}
	return a, nil
}

func parseHeader(m mmap.MMap) (Header, error) {
	if len(m) < headerSize {
		return Header{}, vdberrors.New(vdberrors.Corruption, "arena.Open", "truncated header")
	}
	if string(m[0:8]) != magic {
		return Header{}, vdberrors.New(vdberrors.Corruption, "arena.Open", "bad magic")
	}
	version := binary.LittleEndian.Uint32(m[8:12])
	if version != formatVersion {
		return Header{}, vdberrors.New(vdberrors.Corruption, "arena.Open", fmt.Sprintf("unknown format version %d", version))
	}
	dimension := binary.LittleEndian.Uint32(m[12:16])
	metricByte := m[16]
	var metric distance.Metric
	switch metricByte {
	case 0:
		metric = distance.Cosine
	case 1:
		metric = distance.L2
	default:
		return Header{}, vdberrors.New(vdberrors.Corruption, "arena.Open", "bad metric byte")
	}
	count := binary.LittleEndian.Uint32(m[17:21])

	checksum := m[headerChecksumOffset : headerChecksumOffset+headerChecksumSize]
	if !allZero(checksum) {
		want := computeHeaderChecksum(m[0:headerChecksumOffset])
		if !bytes.Equal(checksum, want) {
			return Header{}, vdberrors.New(vdberrors.Corruption, "arena.Open", "header checksum mismatch")
		}
	}

	return Header{Dimension: dimension, Metric: metric, Count: count}, nil
}

// headerChecksumOffset/Size place an optional BLAKE2b-keyless digest
// over the preceding header bytes inside vectors.bin's 47 reserved
// bytes (spec.md §6). All-zero means "absent", so files written before
// this field existed still open cleanly.
const (
	headerChecksumOffset = 21
	headerChecksumSize   = 8
)

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func computeHeaderChecksum(b []byte) []byte {
	h, err := blake2b.New(headerChecksumSize, nil)
	if err != nil {
		panic("arena: blake2b.New with valid size cannot fail: " + err.Error())
	}
	h.Write(b)
	return h.Sum(nil)
}

func (a *Arena) writeHeader() error {
	copy(a.m[0:8], magic)
	binary.LittleEndian.PutUint32(a.m[8:12], formatVersion)
	binary.LittleEndian.PutUint32(a.m[12:16], a.dimension)
	var metricByte byte
	if a.metric == distance.L2 {
		metricByte = 1
	}
	a.m[16] = metricByte
	a.writeCount()
	return nil
}

// Dimension returns the fixed vector width for this arena.
func (a *Arena) Dimension() uint32 { return a.dimension }

// Metric returns the distance metric this arena normalizes for.
func (a *Arena) Metric() distance.Metric { return a.metric }

// Len returns the number of records currently appended.
func (a *Arena) Len() uint32 { return a.count }

// Append normalizes v (if the metric is Cosine) and writes it as the
// next record, growing the backing file if necessary. Returns the new
// record's id.
func (a *Arena) Append(v []float32) (uint32, error) {
	if uint32(len(v)) != a.dimension {
		return 0, vdberrors.New(vdberrors.InvalidArgument, "arena.Append",
			fmt.Sprintf("vector has %d dims, want %d", len(v), a.dimension))
	}

	out := make([]float32, len(v))
	copy(out, v)
	if a.metric == distance.Cosine {
		norm := distance.Norm(out)
		if norm == 0 {
			return 0, vdberrors.New(vdberrors.InvalidArgument, "arena.Append", "all-zero vector under cosine metric")
		}
		for i := range out {
			out[i] = float32(float64(out[i]) / norm)
		}
	}

	if a.count >= a.capacity {
		if err := a.growTo(a.capacity * 2); err != nil {
			return 0, err
		}
	}

	id := a.count
	off := pageSize + int(id)*a.stride
	buf := a.m[off : off+a.stride]
	for i, f := range out {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(f))
	}
	a.count++
	a.writeCount()
	return id, nil
}

// writeCount updates the on-disk record count and refreshes the
// header checksum to match, since the checksum covers the count
// field.
func (a *Arena) writeCount() {
	binary.LittleEndian.PutUint32(a.m[17:21], a.count)
	checksum := computeHeaderChecksum(a.m[0:headerChecksumOffset])
	copy(a.m[headerChecksumOffset:headerChecksumOffset+headerChecksumSize], checksum)
}

// Get returns a borrowed view onto record id's vector: the returned
// slice is reinterpreted directly from the memory map, not copied, per
// spec.md §7's "get(id) -> &v: returns a borrowed view into the mapped
// region... No copy". It aliases the mapping and is only valid until
// the next Append triggers a grow (which remaps); callers that need to
// retain a vector across a potential grow must copy it themselves.
//
// This relies on the host being little-endian, matching every record's
// on-disk byte order (written via binary.LittleEndian in Append) and
// every supported deployment target (amd64, arm64); the package's
// init check panics on any other architecture rather than risk a
// silent byte-order mismatch.
func (a *Arena) Get(id uint32) ([]float32, error) {
	if id >= a.count {
		return nil, vdberrors.New(vdberrors.NotFound, "arena.Get", fmt.Sprintf("id %d out of range", id))
	}
	off := pageSize + int(id)*a.stride
	buf := a.m[off : off+a.stride]
	return unsafe.Slice((*float32)(unsafe.Pointer(&buf[0])), a.dimension), nil
}

// growTo remaps the arena so it can hold at least newCapacity records,
// truncating (extending) the backing file first. Existing data is
// preserved: mmap-go's Map call establishes a fresh view over the
// (now larger) file, and record offsets are stable since they are
// always measured from the fixed page-2 start.
func (a *Arena) growTo(newCapacity uint32) error {
	if newCapacity == 0 {
		newCapacity = initialCapacity
	}
	size := int64(pageSize) + int64(newCapacity)*int64(a.stride)

	if a.m != nil {
		if err := a.m.Flush(); err != nil {
			return vdberrors.Wrap(vdberrors.IO, "arena.grow", err)
		}
		if err := a.m.Unmap(); err != nil {
			return vdberrors.Wrap(vdberrors.IO, "arena.grow", err)
		}
		a.m = nil
	}

	if err := a.f.Truncate(size); err != nil {
		return vdberrors.Wrap(vdberrors.IO, "arena.grow", err)
	}

	m, err := mmap.Map(a.f, mmap.RDWR, 0)
	if err != nil {
		return vdberrors.Wrap(vdberrors.IO, "arena.grow", err)
	}
	a.m = m
	a.capacity = newCapacity
	return nil
}

// Flush ensures all writes are durable through the OS page cache,
// matching spec.md §6's flush() contract.
func (a *Arena) Flush() error {
	if a.m == nil {
		return nil
	}
	if err := a.m.Flush(); err != nil {
		return vdberrors.Wrap(vdberrors.IO, "arena.Flush", err)
	}
	return nil
}

// Truncate discards any records at or beyond id, used by the façade to
// roll back a failed insert that already wrote to the arena. It does
// not shrink the backing file or remap; it only rewinds the logical
// count, so a subsequent Append overwrites the abandoned record.
func (a *Arena) Truncate(id uint32) {
	if id > a.count {
		return
	}
	a.count = id
	if a.m != nil {
		a.writeCount()
	}
}

// Close unmaps and closes the backing file. Safe to call once; a
// second call is a no-op.
func (a *Arena) Close() error {
	if a.m == nil {
		if a.f != nil {
			err := a.f.Close()
			a.f = nil
			return vdberrors.Wrap(vdberrors.IO, "arena.Close", err)
		}
		return nil
	}
	flushErr := a.m.Flush()
	unmapErr := a.m.Unmap()
	a.m = nil
	closeErr := a.f.Close()
	a.f = nil
	if flushErr != nil {
		return vdberrors.Wrap(vdberrors.IO, "arena.Close", flushErr)
	}
	if unmapErr != nil {
		return vdberrors.Wrap(vdberrors.IO, "arena.Close", unmapErr)
	}
	if closeErr != nil {
		return vdberrors.Wrap(vdberrors.IO, "arena.Close", closeErr)
	}
	return nil
}
