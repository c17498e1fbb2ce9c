// Package inference implements sequential neural posterior estimation: it
// alternates between generating simulations, fitting the mixture density
// network on them, and turning the fitted posterior into the proposal for
// the next round.
package inference

// Error codes returned by inference operations.
const (
	// ErrCodeUnsupportedPrior means the analytic proposal correction is
	// not defined for the prior type in use.
	ErrCodeUnsupportedPrior = "unsupported_prior"

	// ErrCodeCorrection means dividing out the proposal produced an
	// improper density, typically because the fitted posterior is wider
	// than the proposal it was trained under.
	ErrCodeCorrection = "correction_failed"

	// ErrCodeGeneration means the simulation phase of a round failed.
	ErrCodeGeneration = "generation_failed"

	// ErrCodeTraining means the network fitting phase of a round failed.
	ErrCodeTraining = "training_failed"

	// ErrCodePilot means the pilot run used to standardize summary
	// statistics failed.
	ErrCodePilot = "pilot_failed"
)

// Error represents a structured error from inference operations.
type Error struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string

	// Round is the inference round the error occurred in, or 0 when the
	// error is not tied to a round.
	Round int

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause error for error wrapping support.
func (e *Error) Unwrap() error {
	return e.Cause
}
