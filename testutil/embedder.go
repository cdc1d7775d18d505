package testutil

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/taskhive/vecrag/embedding"
)

// FakeEmbedder is a deterministic in-memory embedding provider. Texts
// pinned with Assign get their exact vector; any other text gets a
// unit vector derived from a hash of its contents, so the same text
// always embeds to the same vector.
type FakeEmbedder struct {
	mu       sync.Mutex
	dim      int
	fixed    map[string][]float32
	calls    int
	failures int
	err      error
}

var _ embedding.Provider = (*FakeEmbedder)(nil)

// NewFakeEmbedder creates a fake provider producing vectors of the
// given dimension.
func NewFakeEmbedder(dimension int) *FakeEmbedder {
	return &FakeEmbedder{
		dim:   dimension,
		fixed: make(map[string][]float32),
	}
}

// Assign pins an exact vector for a text.
func (f *FakeEmbedder) Assign(text string, vector []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pinned := make([]float32, len(vector))
	copy(pinned, vector)
	f.fixed[text] = pinned
}

// FailNext makes the next n provider calls return err.
func (f *FakeEmbedder) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.err = err
}

// Calls returns the number of provider calls made so far.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Embed implements embedding.Provider.
func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

// EmbedBatch implements embedding.Provider.
func (f *FakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if err := embedding.ValidateInputs(texts); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.failures > 0 {
		f.failures--
		return nil, &embedding.Error{Provider: f.name(), Err: f.err}
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.vectorFor(text)
	}

	return vectors, nil
}

// Dimension implements embedding.Provider.
func (f *FakeEmbedder) Dimension() int { return f.dim }

// Name implements embedding.Provider.
func (f *FakeEmbedder) Name() string { return f.name() }

func (f *FakeEmbedder) name() string { return "fake" }

// vectorFor must be called with the mutex held.
func (f *FakeEmbedder) vectorFor(text string) []float32 {
	if pinned, ok := f.fixed[text]; ok {
		vec := make([]float32, len(pinned))
		copy(vec, pinned)
		return vec
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	rng := NewRNG(int64(h.Sum64()))

	return rng.UnitVector(f.dim)
}
