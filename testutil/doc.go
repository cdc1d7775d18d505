// Package testutil provides testing utilities for vecrag.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded random vector generator and a deterministic
// in-memory embedding provider.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vec := make([]float32, 128)
//	rng.FillUniform(vec)          // uniform [0, 1)
//	unit := rng.UnitVector(128)   // L2-normalized
//
// # Deterministic Embeddings
//
//	embedder := testutil.NewFakeEmbedder(3)
//	embedder.Assign("red running shoes", []float32{1, 0, 0})
//	vectors, _ := embedder.EmbedBatch(ctx, texts)
package testutil
