package index

import (
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"

	"github.com/taskhive/vecrag/metric"
)

var (
	indexMagic         = [4]byte{'V', 'R', 'I', '1'}
	indexFormatVersion = uint16(1)
)

// maxSerializedCount bounds the vector count accepted from a stream so a
// corrupt header cannot trigger a huge allocation.
const maxSerializedCount = 100_000_000

// Binary layout (little-endian):
//
//	[0:4]   magic "VRI1"
//	[4:6]   format version
//	[6:8]   metric
//	[8:12]  dimension
//	[12:16] vector count
//	[16:]   count*dimension float32 values, row-major
const indexHeaderSize = 16

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)

	return n, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += int64(n)

	return n, err
}

// WriteTo writes the index to w in binary format.
//
// It matches the io.WriterTo interface for toolchain friendliness.
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	st := f.getState()
	cw := &countingWriter{w: w}

	var hdr [indexHeaderSize]byte
	copy(hdr[0:4], indexMagic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], indexFormatVersion)
	binary.LittleEndian.PutUint16(hdr[6:8], uint16(f.opts.Metric))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(f.opts.Dimension))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(st.count))

	if _, err := cw.Write(hdr[:]); err != nil {
		return cw.n, fmt.Errorf("write index header: %w", err)
	}

	if len(st.vectors) > 0 {
		if _, err := cw.Write(float32SliceBytes(st.vectors)); err != nil {
			return cw.n, fmt.Errorf("write index vectors: %w", err)
		}
	}

	return cw.n, nil
}

// ReadFrom replaces the index contents from a binary stream produced by
// WriteTo. A configured dimension must match the stream; an unconfigured
// index adopts the stream's dimension and metric.
//
// It matches the io.ReaderFrom interface for toolchain friendliness.
func (f *Flat) ReadFrom(r io.Reader) (int64, error) {
	cr := &countingReader{r: r}

	var hdr [indexHeaderSize]byte
	if _, err := io.ReadFull(cr, hdr[:]); err != nil {
		return cr.n, fmt.Errorf("read index header: %w", err)
	}

	if [4]byte(hdr[0:4]) != indexMagic {
		return cr.n, fmt.Errorf("unsupported index format: bad magic")
	}

	if ver := binary.LittleEndian.Uint16(hdr[4:6]); ver != indexFormatVersion {
		return cr.n, fmt.Errorf("unsupported index format version: %d", ver)
	}

	m := metric.Metric(binary.LittleEndian.Uint16(hdr[6:8]))
	dim := int(binary.LittleEndian.Uint32(hdr[8:12]))
	count := int(binary.LittleEndian.Uint32(hdr[12:16]))

	if dim <= 0 {
		return cr.n, &ErrInvalidDimension{Dimension: dim}
	}

	if f.opts.Dimension != 0 && f.opts.Dimension != dim {
		return cr.n, &ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: dim}
	}

	if count > maxSerializedCount {
		return cr.n, fmt.Errorf("vector count %d exceeds limit", count)
	}

	distanceFunc, err := metric.Provider(m)
	if err != nil {
		return cr.n, err
	}

	vectors := make([]float32, count*dim)
	if len(vectors) > 0 {
		if _, err := io.ReadFull(cr, float32SliceBytes(vectors)); err != nil {
			return cr.n, fmt.Errorf("read index vectors: %w", err)
		}
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.opts.Dimension = dim
	f.opts.Metric = m
	f.distanceFunc = distanceFunc
	f.state.Store(&indexState{
		vectors: vectors,
		count:   count,
	})

	return cr.n, nil
}

// NewFromReader creates an index from a binary stream produced by WriteTo,
// adopting the dimension and metric recorded in the stream.
func NewFromReader(r io.Reader) (*Flat, error) {
	f := &Flat{}
	if _, err := f.ReadFrom(r); err != nil {
		return nil, err
	}

	return f, nil
}

// float32SliceBytes views v's backing memory as bytes without copying.
// The payload is written in native byte order (little-endian on the
// supported platforms).
func float32SliceBytes(v []float32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&v[0])), len(v)*4)
}
