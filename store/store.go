// Package store provides persistence for inference run snapshots.
//
// An inference run produces one snapshot per completed round. Persisting
// them lets a long simulation campaign be inspected while it runs and its
// posterior recovered after a crash without redoing earlier rounds.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested run ID or round does not exist.
var ErrNotFound = errors.New("not found")

// Store persists per-round snapshots of an inference run.
//
// Implementations provided by this package:
//   - MemoryStore: in-memory, for tests and throwaway runs
//   - SQLiteStore: single-file database, zero setup
//   - MySQLStore: shared database for runs spread over several machines
//
// Type parameter S is the snapshot type to persist and must be
// JSON-serializable.
type Store[S any] interface {
	// Save persists the snapshot of one completed round. Saving the same
	// (runID, round) again overwrites the previous snapshot.
	//
	// Parameters:
	//   - runID: unique identifier of the inference run
	//   - round: 1-based round number
	//   - state: the snapshot to persist
	//
	// Returns an error if persistence fails.
	Save(ctx context.Context, runID string, round int, state S) error

	// Load retrieves the snapshot of a specific round.
	//
	// Returns ErrNotFound if the run or round does not exist.
	Load(ctx context.Context, runID string, round int) (S, error)

	// LoadLatest retrieves the snapshot with the highest round number for
	// a run, together with that round number. Used to resume or inspect a
	// run without knowing how far it got.
	//
	// Returns ErrNotFound if the run has no snapshots.
	LoadLatest(ctx context.Context, runID string) (state S, round int, err error)

	// Rounds lists the persisted round numbers of a run in ascending
	// order. An unknown run yields an empty list, not an error.
	Rounds(ctx context.Context, runID string) ([]int, error)

	// Delete removes all snapshots of a run. Deleting an unknown run is
	// not an error.
	Delete(ctx context.Context, runID string) error
}
