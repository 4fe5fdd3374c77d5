package flow

import (
	"context"
	"fmt"
	"time"
)

// runNode executes a node under its effective timeout with panic recovery.
//
// The timeout wraps the whole node execution: the node receives a context
// that is cancelled at the deadline and is expected to return promptly. A
// node that ignores its context still counts as timed out because the
// deadline check happens here, after Run returns.
//
// A panicking node is converted to a NodeError rather than taking down the
// run's goroutine; the engine then applies its normal failure semantics.
func runNode[S any](
	ctx context.Context,
	node Node[S],
	nodeID string,
	state S,
	policy *Policy,
	defaultTimeout time.Duration,
) (result Result[S], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &NodeError{
				Message: fmt.Sprintf("panic: %v", r),
				Code:    CodeNodePanic,
				NodeID:  nodeID,
			}
		}
	}()

	timeout := nodeTimeout(policy, defaultTimeout)
	if timeout == 0 {
		result = node.Run(ctx, state)
		return result, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result = node.Run(timeoutCtx, state)

	if timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return result, &NodeError{
			Message: fmt.Sprintf("exceeded timeout of %v", timeout),
			Code:    CodeNodeTimeout,
			NodeID:  nodeID,
			Cause:   context.DeadlineExceeded,
		}
	}

	return result, nil
}
