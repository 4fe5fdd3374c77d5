package flow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Task is one unit of concurrent work in a fan-out step, typically a single
// specialist invocation.
type Task[T any] struct {
	// ID identifies the task and fixes its position in the result slice.
	// IDs must be unique within one FanOut call.
	ID string

	// Timeout bounds this task independently of its siblings.
	// Zero means the task runs until the parent context ends.
	Timeout time.Duration

	// Run performs the work. The context carries this task's deadline.
	Run func(ctx context.Context) (T, error)
}

// TaskResult is the outcome of one fan-out task.
type TaskResult[T any] struct {
	// ID echoes the task ID.
	ID string

	// Out is the task's output. Only meaningful when Err is nil.
	Out T

	// Err is the task's failure, context.DeadlineExceeded for a timeout.
	// One task's error never cancels its siblings.
	Err error

	// StartedAt and CompletedAt bracket the task's execution.
	StartedAt   time.Time
	CompletedAt time.Time
}

// FanOut runs every task concurrently and fans back in, returning one result
// per task sorted by task ID.
//
// The sort is what makes downstream merging deterministic: goroutine
// completion order varies run to run, so results are never delivered in
// completion order. Each task gets its own timeout context derived from ctx;
// a task exceeding its deadline is reported as failed with
// context.DeadlineExceeded while its siblings run to completion.
//
// A panicking task is recorded as that task's error, not a crash of the
// fan-out.
func FanOut[T any](ctx context.Context, tasks []Task[T]) []TaskResult[T] {
	if len(tasks) == 0 {
		return nil
	}

	results := make(chan TaskResult[T], len(tasks))

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(t Task[T]) {
			defer wg.Done()
			results <- runTask(ctx, t)
		}(task)
	}

	wg.Wait()
	close(results)

	collected := make([]TaskResult[T], 0, len(tasks))
	for res := range results {
		collected = append(collected, res)
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].ID < collected[j].ID
	})

	return collected
}

// runTask executes one task under its own deadline with panic recovery.
func runTask[T any](ctx context.Context, task Task[T]) (res TaskResult[T]) {
	res.ID = task.ID
	res.StartedAt = time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task %s: panic: %v", task.ID, r)
		}
		res.CompletedAt = time.Now()
	}()

	taskCtx := ctx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	out, err := task.Run(taskCtx)

	// A task that returns late or swallows the cancellation still counts
	// as timed out; the deadline is authoritative.
	if taskCtx.Err() == context.DeadlineExceeded {
		res.Err = context.DeadlineExceeded
		return res
	}

	res.Out = out
	res.Err = err
	return res
}
