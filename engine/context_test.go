package engine

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/taskhive/vecrag/chunkstore"
)

func contextResults() []RetrievedChunk {
	return []RetrievedChunk{
		{
			Position: 0,
			Score:    0.99,
			Chunk: chunkstore.Chunk{
				Text:       "Orders ship within 2 business days.",
				DocumentID: "faq-shipping",
				ChunkIndex: 0,
			},
		},
		{
			Position: 3,
			Score:    0.61,
			Chunk: chunkstore.Chunk{
				Text:       "Returns are accepted for 30 days.",
				DocumentID: "faq-returns",
				ChunkIndex: 1,
			},
		},
	}
}

func TestAssembleContext_AllFit(t *testing.T) {
	out := AssembleContext(contextResults(), 200)

	want := "[doc faq-shipping chunk 0]\nOrders ship within 2 business days." +
		"\n\n" +
		"[doc faq-returns chunk 1]\nReturns are accepted for 30 days."

	assert.Equal(t, want, out)
}

func TestAssembleContext_ExactFit(t *testing.T) {
	full := AssembleContext(contextResults(), 200)
	budget := utf8.RuneCountInString(full)

	out := AssembleContext(contextResults(), budget)
	assert.Equal(t, full, out)
}

func TestAssembleContext_TruncatesOverflowingChunk(t *testing.T) {
	out := AssembleContext(contextResults(), 100)

	want := "[doc faq-shipping chunk 0]\nOrders ship within 2 business days." +
		"\n\n" +
		"[doc faq-returns chunk 1]\nReturns ar"

	assert.Equal(t, want, out)
	assert.Equal(t, 100, utf8.RuneCountInString(out))
}

func TestAssembleContext_StopsAfterOverflow(t *testing.T) {
	results := append(contextResults(), RetrievedChunk{
		Position: 7,
		Score:    0.42,
		Chunk: chunkstore.Chunk{
			Text:       "Pay by card.",
			DocumentID: "faq-payment",
			ChunkIndex: 0,
		},
	})

	// The second chunk overflows and is truncated; the short third
	// chunk must not sneak in behind it.
	out := AssembleContext(results, 100)

	assert.NotContains(t, out, "faq-payment")
	assert.Equal(t, 100, utf8.RuneCountInString(out))
}

func TestAssembleContext_SkipsChunkWhenHeaderDoesNotFit(t *testing.T) {
	out := AssembleContext(contextResults(), 64)

	want := "[doc faq-shipping chunk 0]\nOrders ship within 2 business days."
	assert.Equal(t, want, out)
}

func TestAssembleContext_FirstChunkTruncated(t *testing.T) {
	out := AssembleContext(contextResults(), 30)

	want := "[doc faq-shipping chunk 0]\nOrd"
	assert.Equal(t, want, out)
}

func TestAssembleContext_ZeroBudget(t *testing.T) {
	assert.Equal(t, "", AssembleContext(contextResults(), 0))
	assert.Equal(t, "", AssembleContext(nil, 500))
}

func TestAssembleContext_RuneSafeTruncation(t *testing.T) {
	results := []RetrievedChunk{
		{
			Chunk: chunkstore.Chunk{
				Text:       "配送は2営業日以内です。ご返品は30日間承ります。",
				DocumentID: "faq-jp",
				ChunkIndex: 0,
			},
		},
	}

	out := AssembleContext(results, 30)

	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, 30, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, "配送は2営業日以内"))
}
