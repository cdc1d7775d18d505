// Package engine provides the coordinator layer for vecrag.
//
// The coordinator owns one generation of in-memory state, integrating:
//   - the flat vector index (append-only positions)
//   - the chunk metadata store (position -> chunk, 1:1)
//   - the deleted-position set (ghost tracking)
//
// # Transaction Model
//
// A single mutation lock serializes writers; retrieval runs under a
// read lock and never blocks other readers:
//
//   - Ingest: embed batch (no lock) → acquire lock → add vectors →
//     put metadata → release
//   - Delete: acquire lock → drop metadata → mark positions deleted →
//     release (vectors stay as ghosts until compaction)
//   - Retrieve: embed query (no lock) → read lock → search with
//     over-fetch → drop ghosts → score → release
//   - Compact: snapshot state (read lock) → rebuild off to the side
//     (no lock) → commit swap (lock, aborted if state moved)
//
// # Ghosts
//
// A deleted position keeps its vector slot in the index until the next
// compaction. The engine guarantees ghosts never surface: hits whose
// position is in the deleted set, or whose metadata is missing, are
// dropped after the index search. Compaction rebuilds the index and
// metadata with fresh contiguous positions and swaps both atomically.
package engine
