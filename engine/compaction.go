package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/taskhive/vecrag/chunkstore"
	"github.com/taskhive/vecrag/index"
)

// CompactionNeeded reports whether the deleted ratio exceeds the
// configured threshold. An empty engine never needs compaction.
func (e *Engine) CompactionNeeded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := e.idx.Size()
	if total == 0 {
		return false
	}

	ratio := float64(e.deleted.GetCardinality()) / float64(total)

	return ratio > e.threshold
}

// Compact rebuilds the index and chunk store without ghosts and swaps
// both in atomically. Live chunks are re-keyed to fresh contiguous
// positions starting at 0.
//
// It is designed to be concurrency-friendly:
//  1. Holds the read lock to snapshot state (vectors + chunks).
//  2. Releases the lock to perform the heavy rebuild.
//  3. Re-acquires the write lock to commit the swap.
//
// If a mutation lands between snapshot and commit, Compact aborts with
// ErrCompactionConflict and leaves the engine untouched. Cancelling
// ctx aborts the rebuild the same way.
func (e *Engine) Compact(ctx context.Context) error {
	start := time.Now()

	// --- Phase 1: Snapshot State ---

	e.mu.RLock()

	gen := e.generation
	total := e.idx.Size()
	ghosts := int(e.deleted.GetCardinality())

	if ghosts == 0 {
		e.mu.RUnlock()
		return nil
	}

	vectors := make([][]float32, 0, total-ghosts)
	records := make(map[uint32]chunkstore.Chunk, total-ghosts)

	for pos := range total {
		p := uint32(pos)
		if e.deleted.Contains(p) {
			continue
		}

		vec, ok := e.idx.VectorAt(p)
		if !ok {
			continue
		}

		chunk, ok := e.chunks.Get(p)
		if !ok {
			continue
		}

		// Storage generations are immutable, so the aliased vector
		// stays valid after the lock is released.
		records[uint32(len(vectors))] = chunk
		vectors = append(vectors, vec)
	}

	dimension := e.idx.Dimension()
	met := e.idx.Metric()

	e.mu.RUnlock()

	// --- Phase 2: Rebuild (No Lock) ---

	fresh, err := index.New(func(o *index.Options) {
		o.Dimension = dimension
		o.Metric = met
	})
	if err != nil {
		return err
	}

	if len(vectors) > 0 {
		if _, err := fresh.Add(ctx, vectors); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// --- Phase 3: Commit (Write Lock) ---

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.generation != gen {
		return ErrCompactionConflict
	}

	e.idx = fresh
	e.chunks = chunkstore.NewFromMap(records)
	e.deleted = roaring.New()
	e.generation++

	e.logger.Info("compaction complete",
		slog.Int("reclaimed", ghosts),
		slog.Int("live", len(vectors)),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}
