package flow

import "time"

// Policy configures execution behavior for a single node.
//
// Policies are registered on the engine by node ID. A missing policy means
// the node runs with the engine-wide defaults.
type Policy struct {
	// Timeout is the maximum execution time allowed for this node.
	// Zero falls back to Options.NodeTimeout.
	//
	// This bounds whole-node execution (for example a critic delegating to
	// an external capability). Per-specialist timeouts inside a fan-out are
	// configured on the individual FanOut tasks instead.
	Timeout time.Duration
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	if p.Timeout < 0 {
		return ErrInvalidPolicy
	}
	return nil
}

// nodeTimeout resolves the effective timeout for a node: the per-node
// override wins, then the engine default, then 0 (unlimited).
func nodeTimeout(policy *Policy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}
