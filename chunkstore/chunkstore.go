// Package chunkstore maps index positions to chunk metadata.
package chunkstore

import (
	"maps"
	"slices"
	"sync"
)

// Chunk is the metadata recorded for one ingested document chunk.
type Chunk struct {
	// Text is the chunk's source text, returned verbatim on retrieval.
	Text string `json:"text"`

	// DocumentID identifies the document the chunk was split from.
	DocumentID string `json:"document_id"`

	// ChunkIndex is the chunk's ordinal within its document.
	ChunkIndex int `json:"chunk_index"`

	// Attributes carries arbitrary caller-defined key/value pairs.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Store maps index positions 1:1 to chunk metadata.
//
// A position present in the index but absent from the store is a ghost:
// a logically deleted chunk whose vector still occupies its slot until
// the next compaction.
type Store struct {
	mu   sync.RWMutex
	data map[uint32]Chunk
}

// New creates an empty store.
func New() *Store {
	return &Store{
		data: make(map[uint32]Chunk),
	}
}

// NewFromMap creates a store holding a copy of the given records.
func NewFromMap(records map[uint32]Chunk) *Store {
	data := make(map[uint32]Chunk, len(records))
	maps.Copy(data, records)

	return &Store{data: data}
}

// Put stores the metadata for the given position.
func (s *Store) Put(pos uint32, c Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[pos] = c
}

// Get retrieves the metadata for the given position.
// A missing position yields ok=false, not an error.
func (s *Store) Get(pos uint32) (Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data[pos]

	return c, ok
}

// Contains reports whether the given position has live metadata.
func (s *Store) Contains(pos uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[pos]

	return ok
}

// DeleteWhere removes every record matching the predicate and returns
// the removed positions in ascending order. No matches yields an empty
// slice, not an error.
func (s *Store) DeleteWhere(pred func(pos uint32, c Chunk) bool) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := make([]uint32, 0)
	for pos, c := range s.data {
		if pred(pos, c) {
			removed = append(removed, pos)
			delete(s.data, pos)
		}
	}

	slices.Sort(removed)

	return removed
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

// Positions returns the live positions in ascending order.
func (s *Store) Positions() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]uint32, 0, len(s.data))
	for pos := range s.data {
		positions = append(positions, pos)
	}

	slices.Sort(positions)

	return positions
}

// ToMap returns a copy of all records (for serialization).
func (s *Store) ToMap() map[uint32]Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[uint32]Chunk, len(s.data))
	maps.Copy(result, s.data)

	return result
}
