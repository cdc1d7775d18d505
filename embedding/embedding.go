// Package embedding defines the provider abstraction that turns text
// into fixed-dimension vectors, plus shared error types and a retry
// decorator for flaky remote providers.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when an embedding request contains no text.
var ErrEmptyInput = errors.New("embedding input must not be empty")

// Provider produces embedding vectors for text.
//
// Implementations must be safe for concurrent use and must return
// vectors of exactly Dimension() entries, one per input, in input
// order.
type Provider interface {
	// Embed embeds a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of produced vectors.
	Dimension() int

	// Name identifies the provider in errors and logs.
	Name() string
}

// Error wraps a failed call against an embedding provider so callers
// can distinguish provider trouble from local errors.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsProviderError returns true if err originated from an embedding
// provider call.
func IsProviderError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// ValidateInputs rejects empty batches and empty texts before any
// provider call is made.
func ValidateInputs(texts []string) error {
	if len(texts) == 0 {
		return ErrEmptyInput
	}

	for i, text := range texts {
		if text == "" {
			return fmt.Errorf("%w: text %d is empty", ErrEmptyInput, i)
		}
	}

	return nil
}
