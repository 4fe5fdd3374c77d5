package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use and must not panic; a
// failing backend is logged or dropped, never surfaced to the run. Emit is
// called on the engine's hot path, so implementations should return quickly
// and push slow I/O behind a buffer where it matters.
type Emitter interface {
	Emit(event Event)
}

// Multi fans one event out to several emitters in order.
type Multi []Emitter

// Emit sends the event to every emitter in the group.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
