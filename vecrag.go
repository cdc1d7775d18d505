package vecrag

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskhive/vecrag/blobstore"
	"github.com/taskhive/vecrag/chunkstore"
	"github.com/taskhive/vecrag/embedding"
	"github.com/taskhive/vecrag/engine"
	"github.com/taskhive/vecrag/index"
	"github.com/taskhive/vecrag/persistence"
	"github.com/taskhive/vecrag/snapshot"
)

// DocumentMetadata describes where a chunk came from. It is recorded
// verbatim at ingest and returned with every retrieval hit.
type DocumentMetadata struct {
	// DocumentID identifies the source document.
	DocumentID string

	// ChunkIndex is the chunk's ordinal within its document.
	ChunkIndex int

	// Attributes carries arbitrary caller-defined key/value pairs.
	Attributes map[string]string
}

// RetrievedChunk is one retrieval hit: the chunk, its index position
// and its similarity score in (0, 1], higher is more similar.
type RetrievedChunk = engine.RetrievedChunk

// Stats describes the store state at a point in time.
type Stats struct {
	// TotalVectors counts every index position ever assigned, ghosts
	// included.
	TotalVectors int

	// LiveVectors counts positions that still have chunk metadata.
	LiveVectors int

	// Dimension is the vector dimensionality.
	Dimension int

	// DeletedRatio is (total - live) / total, or 0 for an empty store.
	DeletedRatio float64

	// SnapshotSequence is the sequence number of the newest persisted
	// snapshot. Zero means nothing has been persisted yet.
	SnapshotSequence uint64
}

// Store is a persistent retrieval store: documents go in as embedded
// chunks, similarity-ranked chunks come back out. It is safe for
// concurrent use.
type Store struct {
	opts      *options
	dimension int
	engine    *engine.Engine
	manager   *persistence.Manager
	metrics   MetricsCollector
	logger    *Logger

	degraded bool

	saveMu sync.Mutex
	closed atomic.Bool
}

// Open creates a Store, loading any persisted state. The local tier is
// consulted first, then the remote tier; when neither yields a readable
// snapshot the store starts empty. A start that is empty because
// persisted state exists but could not be read is reported by Degraded,
// never by an Open error.
//
// An embedding provider is required. Everything else has defaults: an
// in-memory local tier, no remote tier, squared L2 distance and the
// provider's native dimension.
func Open(ctx context.Context, optFns ...Option) (*Store, error) {
	o := applyOptions(optFns...)

	if o.embedder == nil {
		return nil, &ErrInvalidConfig{Reason: "an embedding provider is required"}
	}

	dimension := o.dimension
	if dimension == 0 {
		dimension = o.embedder.Dimension()
	}

	if dimension <= 0 {
		return nil, &ErrInvalidConfig{Reason: fmt.Sprintf("invalid dimension %d", dimension)}
	}

	if ed := o.embedder.Dimension(); ed != dimension {
		return nil, &ErrInvalidConfig{
			Reason: fmt.Sprintf("embedder %s produces %d-dimensional vectors, configured dimension is %d",
				o.embedder.Name(), ed, dimension),
		}
	}

	embedder := o.embedder
	if o.embedMaxRetries > 0 {
		embedder = embedding.WithRetry(embedder, func(ro *embedding.RetryOptions) {
			ro.MaxRetries = o.embedMaxRetries
		})
	}

	local := o.local
	if local == nil && o.dataDir != "" {
		ls, err := blobstore.NewLocalStore(o.dataDir)
		if err != nil {
			return nil, &ErrInvalidConfig{Reason: fmt.Sprintf("data dir %q is unusable", o.dataDir), cause: err}
		}

		local = ls
	}

	if local == nil {
		local = blobstore.NewMemoryStore()
	}

	manager, err := persistence.NewManager(persistence.ManagerOptions{
		Local:                   local,
		Remote:                  o.remote,
		Dimension:               dimension,
		Metric:                  o.metric,
		Compression:             o.compression,
		Codec:                   o.codec,
		Logger:                  o.logger.Logger,
		RemoteMaxRetries:        o.remoteMaxRetries,
		RemoteRetryBackoff:      o.remoteRetryBackoff,
		RemoteUploadBytesPerSec: o.remoteBytesPerSec,
	})
	if err != nil {
		return nil, &ErrInvalidConfig{Reason: err.Error(), cause: err}
	}

	start := time.Now()
	res, err := manager.Initialize(ctx)
	duration := time.Since(start)

	if err != nil {
		_ = manager.Close()

		err = translateError(err)
		o.metricsCollector.RecordSnapshotLoad("", duration, err)
		o.logger.LogSnapshotLoad(ctx, "", false, err)

		return nil, err
	}

	o.metricsCollector.RecordSnapshotLoad(res.Source, duration, nil)
	o.logger.LogSnapshotLoad(ctx, res.Source, res.Degraded, nil)

	eng, err := engine.New(embedder, res.Index, res.Chunks, func(eo *engine.Options) {
		eo.CompactionThreshold = o.compactionThreshold
		eo.Logger = o.logger.Logger
	})
	if err != nil {
		_ = manager.Close()

		return nil, &ErrInvalidConfig{Reason: err.Error(), cause: err}
	}

	return &Store{
		opts:      o,
		dimension: dimension,
		engine:    eng,
		manager:   manager,
		metrics:   o.metricsCollector,
		logger:    o.logger,
		degraded:  res.Degraded,
	}, nil
}

// Dimension returns the vector dimensionality of the store.
func (s *Store) Dimension() int {
	return s.dimension
}

// Degraded reports whether the store started empty because persisted
// state existed but could not be read from any tier.
func (s *Store) Degraded() bool {
	return s.degraded
}

// AddDocuments embeds the texts and adds them as chunks. texts and
// metadatas are parallel slices; entry i of each describes one chunk.
// Returns the assigned index positions in batch order.
//
// The whole batch is validated and embedded before anything mutates, so
// a failing batch changes nothing. When auto-save fails afterwards the
// chunks remain ingested in memory, the error reports the failed save
// and the next successful save persists them.
func (s *Store) AddDocuments(ctx context.Context, texts []string, metadatas []DocumentMetadata) ([]uint32, error) {
	start := time.Now()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	positions, err := s.addDocuments(ctx, texts, metadatas)
	duration := time.Since(start)

	s.metrics.RecordIngest(len(texts), duration, err)
	s.logger.LogIngest(ctx, len(texts), err)

	return positions, err
}

func (s *Store) addDocuments(ctx context.Context, texts []string, metadatas []DocumentMetadata) ([]uint32, error) {
	if len(texts) != len(metadatas) {
		return nil, fmt.Errorf("%w: %d texts, %d metadatas", ErrBatchMismatch, len(texts), len(metadatas))
	}

	chunks := make([]chunkstore.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunkstore.Chunk{
			Text:       text,
			DocumentID: metadatas[i].DocumentID,
			ChunkIndex: metadatas[i].ChunkIndex,
			Attributes: metadatas[i].Attributes,
		}
	}

	positions, err := s.engine.Ingest(ctx, chunks)
	if err != nil {
		return nil, translateError(err)
	}

	if s.opts.autoSave {
		if err := s.save(ctx); err != nil {
			return nil, err
		}
	}

	return positions, nil
}

// Retrieve embeds the query and returns up to k chunks ranked by
// similarity, most similar first. Deleted chunks never appear. An empty
// store yields an empty result without calling the embedding provider.
func (s *Store) Retrieve(ctx context.Context, query string, k int) ([]RetrievedChunk, error) {
	start := time.Now()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	results, err := s.engine.Retrieve(ctx, query, k)
	duration := time.Since(start)
	err = translateError(err)

	s.metrics.RecordRetrieve(k, len(results), duration, err)
	s.logger.LogRetrieve(ctx, k, len(results), err)

	return results, err
}

// DeleteByDocumentID removes every chunk of the given document and
// returns how many were removed. An unknown document removes nothing
// and is not an error. The vectors stay in the index as ghosts until
// the next compaction.
//
// When auto-save fails afterwards the chunks remain deleted in memory,
// the error reports the failed save and the count is zero.
func (s *Store) DeleteByDocumentID(ctx context.Context, documentID string) (int, error) {
	start := time.Now()

	if s.closed.Load() {
		return 0, ErrClosed
	}

	positions := s.engine.DeleteByDocumentID(documentID)

	var err error
	if len(positions) > 0 {
		if s.opts.autoCompact && s.engine.CompactionNeeded() {
			// Best-effort: the delete already succeeded, and a failed
			// or conflicted compaction just leaves ghosts for a later
			// pass. compact logs the outcome.
			_ = s.compact(ctx)
		}

		if s.opts.autoSave {
			err = s.save(ctx)
		}
	}

	duration := time.Since(start)
	s.metrics.RecordDelete(len(positions), duration, err)
	s.logger.LogDelete(ctx, documentID, len(positions), err)

	if err != nil {
		return 0, err
	}

	return len(positions), nil
}

// GetStats returns a snapshot of the store counters.
func (s *Store) GetStats() Stats {
	es := s.engine.Stats()

	return Stats{
		TotalVectors:     es.TotalVectors,
		LiveVectors:      es.LiveVectors,
		Dimension:        es.Dimension,
		DeletedRatio:     es.DeletedRatio,
		SnapshotSequence: s.manager.Sequence(),
	}
}

// CompactionNeeded reports whether the deleted ratio exceeds the
// compaction threshold.
func (s *Store) CompactionNeeded() bool {
	return s.engine.CompactionNeeded()
}

// Compact rebuilds the index without ghost positions and renumbers the
// surviving chunks from zero. Reads and writes proceed during the
// rebuild; mutations that land while it runs abort the swap with
// ErrCompactionConflict and leave the store unchanged.
func (s *Store) Compact(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if err := s.compact(ctx); err != nil {
		return err
	}

	if s.opts.autoSave {
		return s.save(ctx)
	}

	return nil
}

func (s *Store) compact(ctx context.Context) error {
	start := time.Now()

	ghosts := 0
	if es := s.engine.Stats(); es.TotalVectors > 0 {
		ghosts = es.TotalVectors - es.LiveVectors
	}

	err := translateError(s.engine.Compact(ctx))
	duration := time.Since(start)

	reclaimed := 0
	if err == nil {
		reclaimed = ghosts
	}

	s.metrics.RecordCompaction(reclaimed, duration, err)
	s.logger.LogCompaction(ctx, reclaimed, err)

	return err
}

// Save writes a snapshot to the local tier synchronously and schedules
// a remote sync when a remote tier is configured. With auto-save on
// (the default) every mutation already does this; an explicit Save is
// only needed when auto-save is off.
func (s *Store) Save(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.save(ctx)
}

func (s *Store) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	start := time.Now()

	var man *snapshot.Manifest
	err := s.engine.View(func(idx *index.Flat, chunks *chunkstore.Store) error {
		var saveErr error
		man, saveErr = s.manager.Save(ctx, idx, chunks)

		return saveErr
	})
	duration := time.Since(start)
	err = translateError(err)

	var seq uint64
	if man != nil {
		seq = man.Sequence
	}

	s.metrics.RecordSnapshotSave(seq, duration, err)
	s.logger.LogSnapshotSave(ctx, seq, err)

	return err
}

// AssembleContext joins the retrieval hits into one annotated prompt
// context, bounded by the configured character budget. See
// engine.AssembleContext for the truncation rules.
func (s *Store) AssembleContext(results []RetrievedChunk) string {
	return engine.AssembleContext(results, s.opts.maxContextChars)
}

// Close releases the store. A pending remote sync gets one bounded
// chance to flush. In-memory state is not saved; either rely on
// auto-save or call Save before Close. Close is idempotent.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	return translateError(s.manager.Close())
}
