package emit

import "sync"

// BufferedEmitter stores events in memory, organized by run ID.
//
// It decouples the engine's hot path from slow observability backends and
// doubles as the event capture used in tests and debugging sessions. All
// events are held in memory; long-lived services should Clear finished runs.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events in emission order
}

// Filter selects a subset of a run's events. Zero-value fields do not
// filter; set fields combine with AND.
type Filter struct {
	// Node keeps only events from this node.
	Node string

	// Msg keeps only events with this message.
	Msg string

	// MinSeq / MaxSeq bound the checkpoint sequence. Nil means unbounded.
	MinSeq *int
	MaxSeq *int
}

// NewBufferedEmitter creates an empty buffered emitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores the event. Safe for concurrent use.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// Events returns a copy of all events for a run in emission order.
// Returns an empty slice for unknown runs.
func (b *BufferedEmitter) Events(runID string) []Event {
	return b.EventsWhere(runID, Filter{})
}

// EventsWhere returns a copy of the run's events matching the filter,
// in emission order.
func (b *BufferedEmitter) EventsWhere(runID string, filter Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	matched := make([]Event, 0, len(b.events[runID]))
	for _, event := range b.events[runID] {
		if matches(event, filter) {
			matched = append(matched, event)
		}
	}
	return matched
}

// Clear removes stored events for one run, or for all runs when runID is
// empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, runID)
}

func matches(event Event, filter Filter) bool {
	if filter.Node != "" && event.Node != filter.Node {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinSeq != nil && event.Seq < *filter.MinSeq {
		return false
	}
	if filter.MaxSeq != nil && event.Seq > *filter.MaxSeq {
		return false
	}
	return true
}
