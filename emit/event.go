package emit

// Event represents an observability event emitted during an inference run.
//
// Events cover the stages of sequential neural posterior estimation:
//   - round start/end
//   - simulation batches (accepted, discarded, resampled counts)
//   - training epochs (loss, monitored observables)
//   - posterior and proposal updates
//
// Events go to an Emitter, which can log them, turn them into OpenTelemetry
// spans, or buffer them for later inspection.
type Event struct {
	// RunID identifies the inference run that emitted this event.
	RunID string

	// Round is the inference round (1-indexed). Zero for run-level events.
	Round int

	// Epoch is the training epoch within a round (1-indexed). Zero for
	// events outside training.
	Epoch int

	// Stage names the pipeline stage that emitted the event, one of
	// "generate", "train", "posterior", or "run".
	Stage string

	// Msg is a short machine-friendly event name, e.g. "round_start",
	// "epoch", "proposal_updated".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "loss": training loss for the epoch
	//   - "n_samples": accepted sample count for a generation stage
	//   - "discarded": rejected sample count
	//   - "error": error details
	Meta map[string]interface{}
}
