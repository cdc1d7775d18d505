// Package index provides an exact k-nearest-neighbor index over densely
// packed float32 vectors, addressed by insertion position.
//
// Positions start at 0, increase by exactly 1 per inserted vector and are
// never reused. The index is deletion-ignorant: logical deletes are tracked
// by the caller and physically reclaimed by rebuilding.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/taskhive/vecrag/metric"
	"github.com/taskhive/vecrag/queue"
)

// Compile-time checks to ensure Flat satisfies the binary round-trip interfaces.
var _ io.WriterTo = (*Flat)(nil)
var _ io.ReaderFrom = (*Flat)(nil)

// ErrInvalidK is returned when a search is requested with a non-positive k.
var ErrInvalidK = errors.New("k must be positive")

// ErrDimensionMismatch is a named error type for dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int // Expected dimensions
	Actual   int // Actual dimensions
}

// Error returns the error message for dimension mismatch.
func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension is a named error type for an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

// Error returns the error message for an invalid dimension.
func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// SearchResult represents a single nearest-neighbor hit.
type SearchResult struct {
	// Position is the insertion position of the matched vector.
	Position uint32

	// Distance is the distance between the query vector and the matched vector.
	Distance float32
}

// Options contains configuration options for the flat index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	// It must be > 0 and is enforced for every insert and query.
	Dimension int

	// Metric selects the distance function used for search.
	Metric metric.Metric
}

// DefaultOptions contains the default configuration options for the flat index.
var DefaultOptions = Options{
	Metric: metric.L2Squared,
}

// indexState holds one immutable storage generation for lock-free reads.
type indexState struct {
	vectors []float32 // row-major, len == count*dimension
	count   int
}

// Flat is a flat index performing exact brute-force search.
// It uses a copy-on-write pattern: readers load the current generation
// without locking while writers serialize on a mutex and publish a new
// generation atomically.
type Flat struct {
	state        atomic.Value // holds *indexState
	writeMu      sync.Mutex   // serializes writers only
	distanceFunc metric.Func
	opts         Options
}

// New creates a new flat index. Dimension is required.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &ErrInvalidDimension{Dimension: opts.Dimension}
	}

	distanceFunc, err := metric.Provider(opts.Metric)
	if err != nil {
		return nil, err
	}

	f := &Flat{
		distanceFunc: distanceFunc,
		opts:         opts,
	}
	f.state.Store(&indexState{})

	return f, nil
}

// getState returns the current immutable generation (lock-free read).
func (f *Flat) getState() *indexState {
	return f.state.Load().(*indexState)
}

// Size returns the number of positions ever assigned, including
// logically deleted ones still physically present.
func (f *Flat) Size() int {
	return f.getState().count
}

// Dimension returns the configured vector dimensionality.
func (f *Flat) Dimension() int {
	return f.opts.Dimension
}

// Metric returns the configured distance metric.
func (f *Flat) Metric() metric.Metric {
	return f.opts.Metric
}

// VectorAt returns the vector stored at pos, or false if pos has never
// been assigned.
// The returned slice aliases index memory; callers must treat it as
// read-only and copy it if mutation is needed.
func (f *Flat) VectorAt(pos uint32) ([]float32, bool) {
	st := f.getState()
	if int(pos) >= st.count {
		return nil, false
	}

	dim := f.opts.Dimension
	off := int(pos) * dim

	return st.vectors[off : off+dim : off+dim], true
}

// Add appends vectors in order and returns their contiguous positions,
// starting at the current size. Every vector is validated before the
// first mutation, so a failing batch leaves the index untouched.
func (f *Flat) Add(ctx context.Context, vectors [][]float32) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, v := range vectors {
		if len(v) != f.opts.Dimension {
			return nil, &ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: len(v)}
		}
	}

	positions := make([]uint32, len(vectors))
	if len(vectors) == 0 {
		return positions, nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	st := f.getState()

	// Appending copies each vector past the published length, so readers
	// of the current generation never observe the new bytes.
	buf := st.vectors
	for i, v := range vectors {
		positions[i] = uint32(st.count + i)
		buf = append(buf, v...)
	}

	f.state.Store(&indexState{
		vectors: buf,
		count:   st.count + len(vectors),
	})

	return positions, nil
}

// Search performs an exact k-nearest-neighbor scan and returns up to
// min(k, Size()) results ordered by ascending distance, ties broken by
// ascending position. An empty index yields an empty result, not an error.
func (f *Flat) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if k <= 0 {
		return nil, ErrInvalidK
	}

	if len(query) != f.opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: len(query)}
	}

	st := f.getState()
	if st.count == 0 {
		return nil, nil
	}

	actualK := k
	if actualK > st.count {
		actualK = st.count
	}

	dim := f.opts.Dimension
	top := queue.NewTopK(actualK)

	for pos := 0; pos < st.count; pos++ {
		off := pos * dim
		top.Push(queue.Candidate{
			Position: uint32(pos),
			Distance: f.distanceFunc(query, st.vectors[off:off+dim]),
		})
	}

	results := make([]SearchResult, 0, top.Len())
	for _, c := range top.Results() {
		results = append(results, SearchResult{Position: c.Position, Distance: c.Distance})
	}

	return results, nil
}

// Rebuild atomically replaces the stored vectors with the given ones,
// re-enumerating positions from 0 in slice order. The replacement is
// assembled off to the side and published in a single swap: concurrent
// readers observe either the previous generation or the new one, never a
// mix. Cancelling ctx discards the partial build and leaves the current
// generation untouched.
func (f *Flat) Rebuild(ctx context.Context, vectors [][]float32) error {
	dim := f.opts.Dimension

	for _, v := range vectors {
		if len(v) != dim {
			return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
		}
	}

	buf := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		buf = append(buf, v...)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.state.Store(&indexState{
		vectors: buf,
		count:   len(vectors),
	})

	return nil
}
