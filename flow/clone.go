package flow

import (
	"encoding/json"
	"fmt"
)

// Clone deep-copies state S via a JSON round trip.
//
// The in-memory store and the human review gate both snapshot state, and a
// snapshot that aliases the live state's maps or slices would be silently
// corrupted by later steps. Clone works for any state type that survives
// json.Marshal/Unmarshal, which every checkpointable state must anyway.
//
// Unexported fields are not copied, and channels or functions will fail to
// marshal; such types are not valid workflow state.
func Clone[S any](state S) (S, error) {
	var copied S

	data, err := json.Marshal(state)
	if err != nil {
		return copied, fmt.Errorf("clone: marshal state: %w", err)
	}
	if err := json.Unmarshal(data, &copied); err != nil {
		return copied, fmt.Errorf("clone: unmarshal state: %w", err)
	}

	return copied, nil
}
