package emit

// NullEmitter implements Emitter by discarding all events.
//
// Use it when observability overhead is unwanted, or in tests that do not
// inspect events.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter. It is safe for concurrent use and
// has zero overhead.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(event Event) {}
