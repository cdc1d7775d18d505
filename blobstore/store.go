// Package blobstore abstracts the storage tiers snapshot blobs are
// persisted to: a process-local cache directory and a remote durable
// object store.
package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store reads and writes immutable, whole snapshot blobs.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes a blob under the given name, replacing any previous
	// content. The replacement must be atomic: readers observe either
	// the old bytes or the new bytes, never a partial write.
	Put(ctx context.Context, name string, data []byte) error

	// Get reads the blob's full content. A missing blob yields an error
	// satisfying errors.Is(err, ErrNotFound).
	Get(ctx context.Context, name string) ([]byte, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of blobs starting with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
