package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory, organized
// by runID.
//
// It backs two use cases:
//   - tests that assert on emitted events
//   - post-run analysis of training behavior (loss curves, rejection rates)
//
// All events are held in memory; clear finished runs when event volume
// matters.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects a subset of a run's events. All set fields must
// match (AND logic); zero values disable the corresponding filter.
type HistoryFilter struct {
	Stage    string // filter by pipeline stage (empty = no filter)
	Msg      string // filter by event name (empty = no filter)
	MinRound *int   // minimum round (nil = no filter)
	MaxRound *int   // maximum round (nil = no filter)
}

// NewBufferedEmitter creates an empty BufferedEmitter. Safe for concurrent
// use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores the event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of all events for runID in emission order.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// GetHistoryWithFilter returns the events for runID matching the filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events[runID] {
		if filter.Stage != "" && ev.Stage != filter.Stage {
			continue
		}
		if filter.Msg != "" && ev.Msg != filter.Msg {
			continue
		}
		if filter.MinRound != nil && ev.Round < *filter.MinRound {
			continue
		}
		if filter.MaxRound != nil && ev.Round > *filter.MaxRound {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear removes all events for runID.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
}

// ClearAll removes all stored events.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
