// Package vecrag provides an embedded retrieval store for RAG pipelines.
//
// Vecrag keeps document chunks and their embedding vectors in one place:
// an exact in-memory vector index, a position-keyed chunk store and a
// tiered snapshot persistence layer (local disk plus optional S3 or
// MinIO). Documents go in as text, similarity-ranked chunks come back
// out, ready to be assembled into a prompt context.
//
// # Quick Start
//
// In-memory store with an OpenAI embedder:
//
//	ctx := context.Background()
//	provider, _ := openai.New(openai.Config{APIKey: os.Getenv("OPENAI_API_KEY")})
//	store, _ := vecrag.Open(ctx, vecrag.WithEmbedder(provider))
//	defer store.Close()
//
// Durable store, re-opened from disk on the next start:
//
//	store, _ := vecrag.Open(ctx,
//	    vecrag.WithEmbedder(provider),
//	    vecrag.WithDataDir("./data"),
//	)
//
// With a remote tier mirrored in the background:
//
//	s3Store, _ := s3.NewStoreFromDefaultConfig(ctx, "my-bucket", "vecrag/")
//	store, _ := vecrag.Open(ctx,
//	    vecrag.WithEmbedder(provider),
//	    vecrag.WithDataDir("./data"),
//	    vecrag.WithRemoteStore(s3Store),
//	)
//
// # Ingest and Retrieve
//
// Chunks are added in batches with their document metadata:
//
//	texts := []string{"Orders ship within 2 business days.", "Returns are accepted for 30 days."}
//	metas := []vecrag.DocumentMetadata{
//	    {DocumentID: "faq", ChunkIndex: 0},
//	    {DocumentID: "faq", ChunkIndex: 1},
//	}
//	positions, _ := store.AddDocuments(ctx, texts, metas)
//
//	results, _ := store.Retrieve(ctx, "how long does shipping take", 5)
//	prompt := store.AssembleContext(results)
//
// # Deletion and Compaction
//
// Deleting a document removes its chunks immediately; the vectors stay
// behind as ghosts until a compaction rebuilds the index:
//
//	n, _ := store.DeleteByDocumentID(ctx, "faq")
//	if store.CompactionNeeded() {
//	    _ = store.Compact(ctx)
//	}
//
// # Durability Model
//
// Saves are snapshots: the local tier is written synchronously and
// decides the outcome, the remote tier is mirrored asynchronously with
// retries and never fails a caller. With auto-save on (the default)
// every mutation snapshots before returning. On open, local state wins,
// then remote with a local write-through; if persisted state exists but
// nothing is readable the store comes up empty and reports Degraded.
//
// # Configuration Files
//
// Everything above can also be driven from YAML:
//
//	cfg, _ := vecrag.LoadConfig("vecrag.yaml")
//	store, _ := vecrag.OpenFromConfig(ctx, cfg)
package vecrag
