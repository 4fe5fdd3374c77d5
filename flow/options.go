package flow

import "time"

// Options configures Engine execution behavior.
//
// Zero values are valid; the engine applies sensible defaults where they
// matter and leaves limits off where they don't.
type Options struct {
	// MaxSteps bounds total steps per run as a guard against routing bugs.
	// The domain's revision loop is already bounded, so a well-formed
	// workflow never approaches this. 0 means no limit.
	MaxSteps int

	// NodeTimeout is the engine-wide default timeout applied to every node
	// execution. Per-node Policies override it. 0 means no default timeout.
	NodeTimeout time.Duration

	// Policies holds per-node overrides keyed by node ID.
	Policies map[string]Policy

	// Metrics receives execution metrics. Nil disables instrumentation.
	Metrics *Metrics
}

// Validate reports the first invalid option.
func (o Options) Validate() error {
	if o.MaxSteps < 0 {
		return &EngineError{Message: "MaxSteps cannot be negative", Code: CodeMaxSteps}
	}
	if o.NodeTimeout < 0 {
		return ErrInvalidPolicy
	}
	for id, p := range o.Policies {
		if err := p.Validate(); err != nil {
			return &EngineError{Message: "policy for node " + id + ": " + err.Error(), Code: CodeNodeTimeout}
		}
	}
	return nil
}

// policyFor returns the registered policy for a node, or nil.
func (o Options) policyFor(nodeID string) *Policy {
	if o.Policies == nil {
		return nil
	}
	p, ok := o.Policies[nodeID]
	if !ok {
		return nil
	}
	return &p
}
