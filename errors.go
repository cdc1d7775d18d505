package vecrag

import (
	"errors"
	"fmt"

	"github.com/taskhive/vecrag/embedding"
	"github.com/taskhive/vecrag/engine"
	"github.com/taskhive/vecrag/index"
	"github.com/taskhive/vecrag/persistence"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyInput is returned when a text batch or query is empty.
	ErrEmptyInput = errors.New("input must not be empty")

	// ErrBatchMismatch is returned when texts and metadatas differ in
	// length.
	ErrBatchMismatch = errors.New("texts and metadatas must have equal length")

	// ErrClosed is returned when operations are attempted on a closed
	// store.
	ErrClosed = errors.New("store is closed")

	// ErrCompactionConflict is returned when a compaction aborts
	// because mutations landed while it ran. The store is unchanged;
	// retry when quiet.
	ErrCompactionConflict = errors.New("state changed during compaction")
)

// ErrInvalidConfig indicates an invalid or conflicting configuration.
// It is fatal at startup: the store refuses to open rather than run
// with a silently wrong shape.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvalidConfig struct {
	Reason string
	cause  error
}

func (e *ErrInvalidConfig) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func (e *ErrInvalidConfig) Unwrap() error { return e.cause }

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrEmbeddingProvider indicates the embedding provider failed after
// the configured retries were exhausted.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrEmbeddingProvider struct {
	Provider string
	cause    error
}

func (e *ErrEmbeddingProvider) Error() string {
	return fmt.Sprintf("embedding provider %s failed", e.Provider)
}

func (e *ErrEmbeddingProvider) Unwrap() error { return e.cause }

// ErrPersistenceRead indicates persisted state could not be loaded from
// a tier. Startup degrades to an empty store instead of failing.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrPersistenceRead struct {
	Tier  string
	cause error
}

func (e *ErrPersistenceRead) Error() string {
	return fmt.Sprintf("persistence read failed on %s tier", e.Tier)
}

func (e *ErrPersistenceRead) Unwrap() error { return e.cause }

// ErrPersistenceWrite indicates a snapshot could not be written to a
// tier. Local failures surface to the mutator; remote failures are
// only ever logged.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrPersistenceWrite struct {
	Tier  string
	cause error
}

func (e *ErrPersistenceWrite) Error() string {
	return fmt.Sprintf("persistence write failed on %s tier", e.Tier)
}

func (e *ErrPersistenceWrite) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Sentinel unification.
	if errors.Is(err, persistence.ErrManagerClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	if errors.Is(err, engine.ErrCompactionConflict) {
		return fmt.Errorf("%w: %w", ErrCompactionConflict, err)
	}
	if errors.Is(err, index.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, embedding.ErrEmptyInput) {
		return fmt.Errorf("%w: %w", ErrEmptyInput, err)
	}
	if errors.Is(err, persistence.ErrConfigConflict) {
		return &ErrInvalidConfig{Reason: "persisted snapshot conflicts with configured shape", cause: err}
	}

	// Dimension normalization.
	var dm *index.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var id *index.ErrInvalidDimension
	if errors.As(err, &id) {
		return &ErrInvalidConfig{Reason: fmt.Sprintf("invalid dimension %d", id.Dimension), cause: err}
	}

	// Subsystem boundaries.
	var pe *embedding.Error
	if errors.As(err, &pe) {
		return &ErrEmbeddingProvider{Provider: pe.Provider, cause: err}
	}
	var re *persistence.ReadError
	if errors.As(err, &re) {
		return &ErrPersistenceRead{Tier: re.Tier, cause: err}
	}
	var we *persistence.WriteError
	if errors.As(err, &we) {
		return &ErrPersistenceWrite{Tier: we.Tier, cause: err}
	}

	return err
}
