package vecrag_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhive/vecrag"
	"github.com/taskhive/vecrag/testutil"
)

// newCatalogEmbedder pins the catalog fixture texts to fixed vectors so
// ranking assertions are exact.
func newCatalogEmbedder() *testutil.FakeEmbedder {
	e := testutil.NewFakeEmbedder(3)
	e.Assign("red running shoes", []float32{1, 0, 0})
	e.Assign("crimson jogging shoes", []float32{0.9, 0, 0})
	e.Assign("blue trail sneakers", []float32{0, 1, 0})
	e.Assign("leather hiking boots", []float32{0, 0, 1})
	e.Assign("bright red sneakers", []float32{0.97, 0, 0})

	return e
}

// addCatalog ingests four chunks across three documents: doc-red holds
// two, doc-blue and doc-boots one each.
func addCatalog(t *testing.T, ctx context.Context, store *vecrag.Store) {
	t.Helper()

	texts := []string{
		"red running shoes",
		"crimson jogging shoes",
		"blue trail sneakers",
		"leather hiking boots",
	}
	metas := []vecrag.DocumentMetadata{
		{DocumentID: "doc-red", ChunkIndex: 0},
		{DocumentID: "doc-red", ChunkIndex: 1},
		{DocumentID: "doc-blue", ChunkIndex: 0},
		{DocumentID: "doc-boots", ChunkIndex: 0},
	}

	positions, err := store.AddDocuments(ctx, texts, metas)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 2, 3}, positions)
}

func TestOpenValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("NoEmbedder", func(t *testing.T) {
		_, err := vecrag.Open(ctx)

		var ice *vecrag.ErrInvalidConfig
		require.ErrorAs(t, err, &ice)
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := vecrag.Open(ctx,
			vecrag.WithEmbedder(testutil.NewFakeEmbedder(3)),
			vecrag.WithDimension(5),
		)

		var ice *vecrag.ErrInvalidConfig
		require.ErrorAs(t, err, &ice)
	})

	t.Run("BadCompactionThreshold", func(t *testing.T) {
		_, err := vecrag.Open(ctx,
			vecrag.WithEmbedder(testutil.NewFakeEmbedder(3)),
			vecrag.WithCompactionThreshold(1.5),
		)

		var ice *vecrag.ErrInvalidConfig
		require.ErrorAs(t, err, &ice)
	})
}

func TestFreshStoreIsEmpty(t *testing.T) {
	ctx := context.Background()
	emb := newCatalogEmbedder()

	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(emb))
	require.NoError(t, err)
	defer store.Close()

	assert.False(t, store.Degraded())
	assert.Equal(t, 3, store.Dimension())

	stats := store.GetStats()
	assert.Equal(t, 0, stats.TotalVectors)
	assert.Equal(t, 0, stats.LiveVectors)
	assert.Equal(t, uint64(0), stats.SnapshotSequence)

	// Retrieval on an empty store succeeds without touching the
	// embedding provider.
	results, err := store.Retrieve(ctx, "anything", 5)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 0, emb.Calls())
}

func TestAddDocumentsAndRetrieve(t *testing.T) {
	ctx := context.Background()

	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(newCatalogEmbedder()))
	require.NoError(t, err)
	defer store.Close()

	addCatalog(t, ctx, store)

	results, err := store.Retrieve(ctx, "bright red sneakers", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "red running shoes", results[0].Chunk.Text)
	assert.Equal(t, "crimson jogging shoes", results[1].Chunk.Text)
	assert.Equal(t, "doc-red", results[0].Chunk.DocumentID)
	assert.Equal(t, 0, results[0].Chunk.ChunkIndex)
	assert.Greater(t, results[0].Score, results[1].Score)

	// k beyond the live count returns everything.
	results, err = store.Retrieve(ctx, "bright red sneakers", 10)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestAddDocumentsBatchMismatch(t *testing.T) {
	ctx := context.Background()
	emb := newCatalogEmbedder()

	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(emb))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.AddDocuments(ctx,
		[]string{"red running shoes", "blue trail sneakers"},
		[]vecrag.DocumentMetadata{{DocumentID: "doc-red"}},
	)
	require.ErrorIs(t, err, vecrag.ErrBatchMismatch)

	assert.Equal(t, 0, store.GetStats().TotalVectors)
	assert.Equal(t, 0, emb.Calls())
}

func TestAddDocumentsEmptyBatch(t *testing.T) {
	ctx := context.Background()

	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(newCatalogEmbedder()))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.AddDocuments(ctx, nil, nil)
	require.ErrorIs(t, err, vecrag.ErrEmptyInput)
}

func TestEmbeddingRetries(t *testing.T) {
	ctx := context.Background()

	t.Run("TransientFailureIsRetried", func(t *testing.T) {
		emb := newCatalogEmbedder()
		emb.FailNext(2, fmt.Errorf("upstream timeout"))

		store, err := vecrag.Open(ctx, vecrag.WithEmbedder(emb))
		require.NoError(t, err)
		defer store.Close()

		addCatalog(t, ctx, store)
		assert.Equal(t, 3, emb.Calls())
	})

	t.Run("ExhaustedRetriesSurface", func(t *testing.T) {
		emb := newCatalogEmbedder()
		emb.FailNext(1, fmt.Errorf("upstream down"))

		store, err := vecrag.Open(ctx,
			vecrag.WithEmbedder(emb),
			vecrag.WithEmbeddingRetries(0),
		)
		require.NoError(t, err)
		defer store.Close()

		_, err = store.AddDocuments(ctx,
			[]string{"red running shoes"},
			[]vecrag.DocumentMetadata{{DocumentID: "doc-red"}},
		)

		var pe *vecrag.ErrEmbeddingProvider
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "fake", pe.Provider)

		// A failing batch changes nothing.
		assert.Equal(t, 0, store.GetStats().TotalVectors)
	})
}

func TestRetrieveInvalidArgs(t *testing.T) {
	ctx := context.Background()

	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(newCatalogEmbedder()))
	require.NoError(t, err)
	defer store.Close()

	addCatalog(t, ctx, store)

	_, err = store.Retrieve(ctx, "bright red sneakers", 0)
	require.ErrorIs(t, err, vecrag.ErrInvalidK)

	_, err = store.Retrieve(ctx, "", 3)
	require.ErrorIs(t, err, vecrag.ErrEmptyInput)
}

func TestDeleteByDocumentID(t *testing.T) {
	ctx := context.Background()

	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(newCatalogEmbedder()))
	require.NoError(t, err)
	defer store.Close()

	addCatalog(t, ctx, store)

	n, err := store.DeleteByDocumentID(ctx, "doc-red")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats := store.GetStats()
	assert.Equal(t, 4, stats.TotalVectors)
	assert.Equal(t, 2, stats.LiveVectors)
	assert.InDelta(t, 0.5, stats.DeletedRatio, 1e-9)

	// Deleted chunks never surface, even when k asks for everything.
	results, err := store.Retrieve(ctx, "bright red sneakers", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "doc-red", r.Chunk.DocumentID)
	}

	t.Run("UnknownDocument", func(t *testing.T) {
		n, err := store.DeleteByDocumentID(ctx, "doc-nope")
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Idempotent", func(t *testing.T) {
		n, err := store.DeleteByDocumentID(ctx, "doc-red")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestCompaction(t *testing.T) {
	ctx := context.Background()

	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(newCatalogEmbedder()))
	require.NoError(t, err)
	defer store.Close()

	addCatalog(t, ctx, store)
	assert.False(t, store.CompactionNeeded())

	_, err = store.DeleteByDocumentID(ctx, "doc-red")
	require.NoError(t, err)
	assert.True(t, store.CompactionNeeded())

	require.NoError(t, store.Compact(ctx))
	assert.False(t, store.CompactionNeeded())

	stats := store.GetStats()
	assert.Equal(t, 2, stats.TotalVectors)
	assert.Equal(t, 2, stats.LiveVectors)
	assert.Zero(t, stats.DeletedRatio)

	// Survivors are renumbered from zero in their original order.
	results, err := store.Retrieve(ctx, "bright red sneakers", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Less(t, int(r.Position), 2)
	}
}

func TestAutoCompaction(t *testing.T) {
	ctx := context.Background()

	store, err := vecrag.Open(ctx,
		vecrag.WithEmbedder(newCatalogEmbedder()),
		vecrag.WithAutoCompaction(true),
	)
	require.NoError(t, err)
	defer store.Close()

	addCatalog(t, ctx, store)

	_, err = store.DeleteByDocumentID(ctx, "doc-red")
	require.NoError(t, err)

	// The delete tripped the threshold and compacted inline.
	stats := store.GetStats()
	assert.Equal(t, 2, stats.TotalVectors)
	assert.Equal(t, 2, stats.LiveVectors)
}

func TestAssembleContextUsesBudget(t *testing.T) {
	ctx := context.Background()
	emb := testutil.NewFakeEmbedder(3)
	emb.Assign("Orders ship within 2 business days.", []float32{1, 0, 0})
	emb.Assign("shipping time", []float32{0.9, 0, 0})

	store, err := vecrag.Open(ctx,
		vecrag.WithEmbedder(emb),
		vecrag.WithMaxContextChars(30),
	)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.AddDocuments(ctx,
		[]string{"Orders ship within 2 business days."},
		[]vecrag.DocumentMetadata{{DocumentID: "faq", ChunkIndex: 0}},
	)
	require.NoError(t, err)

	results, err := store.Retrieve(ctx, "shipping time", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "[doc faq chunk 0]\nOrders ship ", store.AssembleContext(results))
}

func TestConcurrentAddAndRetrieve(t *testing.T) {
	ctx := context.Background()

	store, err := vecrag.Open(ctx, vecrag.WithEmbedder(newCatalogEmbedder()))
	require.NoError(t, err)
	defer store.Close()

	const workers = 4
	const batches = 5

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for b := range batches {
				docID := fmt.Sprintf("doc-%d-%d", w, b)

				if _, err := store.AddDocuments(ctx,
					[]string{docID + " text"},
					[]vecrag.DocumentMetadata{{DocumentID: docID, ChunkIndex: 0}},
				); err != nil {
					t.Errorf("AddDocuments: %v", err)
				}

				if _, err := store.Retrieve(ctx, "red running shoes", 3); err != nil {
					t.Errorf("Retrieve: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	stats := store.GetStats()
	assert.Equal(t, workers*batches, stats.TotalVectors)
	assert.Equal(t, workers*batches, stats.LiveVectors)

	// Every batch auto-saved exactly once.
	assert.Equal(t, uint64(workers*batches), stats.SnapshotSequence)
}
