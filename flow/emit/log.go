package emit

import (
	"log/slog"
)

// LogEmitter writes events to a slog.Logger as structured records.
//
// Run and node identifiers become attributes, meta entries are flattened
// alongside them, and node errors are logged at Error level so they stand
// out in aggregated output:
//
//	level=INFO msg=node_complete run_id=run-001 seq=3 node=classify duration_ms=12
//	level=ERROR msg=node_error run_id=run-001 seq=4 node=dispatch error="no route"
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter creates a LogEmitter backed by the given logger.
// A nil logger falls back to slog.Default.
func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log}
}

// Emit logs the event. Events carrying an "error" meta entry log at Error
// level, everything else at Info.
func (l *LogEmitter) Emit(event Event) {
	attrs := make([]any, 0, 6+2*len(event.Meta))
	attrs = append(attrs, "run_id", event.RunID, "seq", event.Seq)
	if event.Node != "" {
		attrs = append(attrs, "node", event.Node)
	}
	for k, v := range event.Meta {
		attrs = append(attrs, k, v)
	}

	if _, failed := event.Meta["error"]; failed {
		l.log.Error(event.Msg, attrs...)
		return
	}
	l.log.Info(event.Msg, attrs...)
}
