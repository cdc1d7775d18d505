package engine

import (
	"context"

	"github.com/taskhive/vecrag/chunkstore"
	"github.com/taskhive/vecrag/embedding"
	"github.com/taskhive/vecrag/index"
)

// RetrievedChunk is one ranked retrieval hit.
type RetrievedChunk struct {
	// Position is the index position the hit came from.
	Position uint32

	// Chunk is the chunk metadata recorded at ingest.
	Chunk chunkstore.Chunk

	// Score is the similarity 1 / (1 + distance), in (0, 1], higher is
	// better.
	Score float32
}

// EmbedQuery embeds a query text with the engine's provider and
// validates the resulting vector shape.
func (e *Engine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, embedding.ErrEmptyInput
	}

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if len(vector) != e.idx.Dimension() {
		return nil, &index.ErrDimensionMismatch{Expected: e.idx.Dimension(), Actual: len(vector)}
	}

	return vector, nil
}

// Retrieve embeds the query and returns the top k live chunks ranked
// by descending similarity, ties broken by ascending position.
//
// The index is searched with an over-fetch of the current ghost count,
// then ghosts are dropped, so the result holds exactly
// min(k, live count) chunks. An empty engine returns an empty slice,
// not an error.
func (e *Engine) Retrieve(ctx context.Context, query string, k int) ([]RetrievedChunk, error) {
	if k <= 0 {
		return nil, index.ErrInvalidK
	}

	if query == "" {
		return nil, embedding.ErrEmptyInput
	}

	e.mu.RLock()
	empty := e.idx.Size() == 0
	e.mu.RUnlock()

	if empty {
		return []RetrievedChunk{}, nil
	}

	vector, err := e.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	// Ghosts can occupy at most the deleted count of the fetched
	// prefix, so k + ghosts candidates always yield the top
	// min(k, live) hits after filtering.
	fetchK := k + int(e.deleted.GetCardinality())

	hits, err := e.idx.Search(ctx, vector, fetchK)
	if err != nil {
		return nil, err
	}

	results := make([]RetrievedChunk, 0, min(k, len(hits)))

	for _, hit := range hits {
		if len(results) == k {
			break
		}

		if e.deleted.Contains(hit.Position) {
			continue
		}

		chunk, ok := e.chunks.Get(hit.Position)
		if !ok {
			continue
		}

		results = append(results, RetrievedChunk{
			Position: hit.Position,
			Chunk:    chunk,
			Score:    similarity(hit.Distance),
		})
	}

	return results, nil
}

// similarity converts a distance into a score in (0, 1].
func similarity(distance float32) float32 {
	return 1 / (1 + distance)
}
