package engine

import "errors"

// ErrCompactionConflict is returned when a mutation lands between a
// compaction's state snapshot and its commit. The engine state is left
// untouched; callers may retry.
//
// This is an engine-layer sentinel; the vecrag package may translate it
// into its public error contract.
var ErrCompactionConflict = errors.New("state changed during compaction")
