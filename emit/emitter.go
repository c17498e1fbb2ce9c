// Package emit provides pluggable observability for inference runs.
package emit

// Emitter receives observability events from generators, trainers, and
// inference algorithms.
//
// Implementations should be:
//   - Non-blocking: never stall a training loop
//   - Thread-safe: simulation workers emit concurrently
//   - Resilient: a failing backend must not crash the run
//
// Emit must not panic; internal errors should be swallowed or logged.
type Emitter interface {
	Emit(event Event)
}
