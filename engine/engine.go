package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/taskhive/vecrag/chunkstore"
	"github.com/taskhive/vecrag/embedding"
	"github.com/taskhive/vecrag/index"
)

// DefaultCompactionThreshold is the deleted ratio above which
// CompactionNeeded reports true.
const DefaultCompactionThreshold = 0.2

// Options contains the optional engine configuration.
type Options struct {
	// CompactionThreshold is the deleted ratio that triggers
	// CompactionNeeded. Must be in (0, 1).
	CompactionThreshold float64

	// Logger receives engine events. Defaults to a discard logger.
	Logger *slog.Logger
}

// DefaultOptions contains the default engine configuration.
var DefaultOptions = Options{
	CompactionThreshold: DefaultCompactionThreshold,
}

// Engine coordinates the index, the chunk store and the deleted set
// behind a single mutation lock. It is safe for concurrent use.
type Engine struct {
	embedder embedding.Provider
	logger   *slog.Logger

	threshold float64

	mu         sync.RWMutex
	idx        *index.Flat
	chunks     *chunkstore.Store
	deleted    *roaring.Bitmap
	generation uint64
}

// New creates an engine over the given index and chunk store.
//
// Positions present in the index but absent from the chunk store are
// marked deleted, so ghost tracking survives a snapshot round-trip
// without being persisted itself.
func New(embedder embedding.Provider, idx *index.Flat, chunks *chunkstore.Store, optFns ...func(o *Options)) (*Engine, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if embedder == nil {
		return nil, errors.New("engine: embedder is required")
	}

	if idx == nil {
		return nil, errors.New("engine: index is required")
	}

	if chunks == nil {
		return nil, errors.New("engine: chunk store is required")
	}

	if embedder.Dimension() != idx.Dimension() {
		return nil, fmt.Errorf("engine: embedder dimension %d does not match index dimension %d",
			embedder.Dimension(), idx.Dimension())
	}

	if opts.CompactionThreshold <= 0 || opts.CompactionThreshold >= 1 {
		return nil, fmt.Errorf("engine: compaction threshold %v out of range (0, 1)", opts.CompactionThreshold)
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	deleted := roaring.New()
	for pos := range idx.Size() {
		if !chunks.Contains(uint32(pos)) {
			deleted.Add(uint32(pos))
		}
	}

	return &Engine{
		embedder:  embedder,
		logger:    opts.Logger,
		threshold: opts.CompactionThreshold,
		idx:       idx,
		chunks:    chunks,
		deleted:   deleted,
	}, nil
}

// Embedder returns the provider used for ingest and queries.
func (e *Engine) Embedder() embedding.Provider {
	return e.embedder
}

// Ingest embeds the chunk texts and appends them to the index,
// recording metadata under the assigned positions. The whole batch is
// validated before any mutation; a failing batch changes nothing.
func (e *Engine) Ingest(ctx context.Context, chunks []chunkstore.Chunk) ([]uint32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	if err := embedding.ValidateInputs(texts); err != nil {
		return nil, err
	}

	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	positions, err := e.idx.Add(ctx, vectors)
	if err != nil {
		return nil, err
	}

	for i, pos := range positions {
		e.chunks.Put(pos, chunks[i])
	}

	e.generation++

	e.logger.Debug("ingested chunks",
		slog.Int("count", len(positions)),
		slog.Int("total", e.idx.Size()),
	)

	return positions, nil
}

// DeleteWhere removes every chunk matching the predicate and marks its
// position deleted. The vectors stay in the index as ghosts until the
// next compaction. Returns the removed positions in ascending order.
func (e *Engine) DeleteWhere(pred func(pos uint32, c chunkstore.Chunk) bool) []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions := e.chunks.DeleteWhere(pred)
	for _, pos := range positions {
		e.deleted.Add(pos)
	}

	if len(positions) > 0 {
		e.generation++
	}

	e.logger.Debug("deleted chunks",
		slog.Int("count", len(positions)),
		slog.Uint64("ghosts", e.deleted.GetCardinality()),
	)

	return positions
}

// DeleteByDocumentID removes every chunk of the given document.
// An unknown document removes nothing and is not an error.
func (e *Engine) DeleteByDocumentID(documentID string) []uint32 {
	return e.DeleteWhere(func(_ uint32, c chunkstore.Chunk) bool {
		return c.DocumentID == documentID
	})
}

// Stats describes the engine state at a point in time.
type Stats struct {
	// TotalVectors counts every position ever assigned, ghosts
	// included.
	TotalVectors int

	// LiveVectors counts positions with live metadata.
	LiveVectors int

	// Dimension is the index dimensionality.
	Dimension int

	// DeletedRatio is (total - live) / total, or 0 for an empty index.
	DeletedRatio float64
}

// Stats returns a consistent snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := e.idx.Size()
	ghosts := int(e.deleted.GetCardinality())

	s := Stats{
		TotalVectors: total,
		LiveVectors:  total - ghosts,
		Dimension:    e.idx.Dimension(),
	}

	if total > 0 {
		s.DeletedRatio = float64(ghosts) / float64(total)
	}

	return s
}

// View runs fn with the current index and chunk store while holding
// off mutations. fn must not retain the arguments after returning.
func (e *Engine) View(fn func(idx *index.Flat, chunks *chunkstore.Store) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return fn(e.idx, e.chunks)
}
