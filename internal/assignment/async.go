package assignment

import (
	"context"
	"slices"

	"github.com/signalsfoundry/engagement-simulator/internal/hierarchy"
)

// Preparer is implemented by assigners that can split the part that reads
// the hierarchy from the part that does not. AssignAsync runs Prepare on the
// calling goroutine and only the returned step concurrently.
type Preparer interface {
	Prepare(ctx context.Context, first, second []hierarchy.NodeID) func(context.Context) []Item
}

// Result is delivered by AssignAsync.
type Result struct {
	Items []Item
	Err   error
}

// AssignAsync runs a.Assign on its own goroutine and delivers exactly one
// Result on the returned channel. Cancelling ctx resolves the future with
// ctx.Err() without waiting for the assigner. A result that arrives after
// cancellation is discarded.
//
// Assigners that do not implement Preparer run entirely off the calling
// goroutine and must not read state the caller mutates meanwhile.
func AssignAsync(ctx context.Context, a Assigner, first, second []hierarchy.NodeID) <-chan Result {
	out := make(chan Result, 1)
	first, second = slices.Clone(first), slices.Clone(second)

	solve := func(ctx context.Context) []Item { return a.Assign(ctx, first, second) }
	if p, ok := a.(Preparer); ok {
		solve = p.Prepare(ctx, first, second)
	}
	done := make(chan []Item, 1)
	go func() {
		done <- solve(ctx)
	}()
	go func() {
		select {
		case items := <-done:
			if err := ctx.Err(); err != nil {
				out <- Result{Err: err}
				return
			}
			out <- Result{Items: items}
		case <-ctx.Done():
			out <- Result{Err: ctx.Err()}
		}
	}()
	return out
}
