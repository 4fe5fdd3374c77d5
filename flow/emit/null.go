package emit

// NullEmitter discards every event. Use it when observability output is
// not wanted, such as benchmarks or one-shot CLI runs.
type NullEmitter struct{}

// NewNullEmitter returns an emitter that drops all events.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

// Emit discards the event.
func (n *NullEmitter) Emit(Event) {}
