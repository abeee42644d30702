// Package pool runs independent units of work on a fixed number of workers.
package pool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Func is one unit of work. index is the item's position in the input.
type Func[T, R any] func(ctx context.Context, item T, index int) R

// Options tune Map
type Options[T, R any] struct {
	// Abort, when set and true, stops workers from claiming further items.
	// Work already claimed runs to completion.
	Abort *atomic.Bool

	// Skipped builds the result for items never claimed because of Abort.
	// Unclaimed items get the zero R when nil.
	Skipped func(item T, index int) R
}

// Map runs fn over items with at most concurrency workers. result[i] always
// corresponds to items[i] whatever the completion order. A failure in one unit
// never stops its siblings; callers that want fail-fast set Options.Abort.
func Map[T, R any](ctx context.Context, items []T, concurrency int, fn Func[T, R], opts Options[T, R]) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	claimed := make([]bool, len(items))
	var next atomic.Int64

	var g errgroup.Group
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for {
				if opts.Abort != nil && opts.Abort.Load() {
					return nil
				}
				i := int(next.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				claimed[i] = true
				results[i] = fn(ctx, items[i], i)
			}
		})
	}
	_ = g.Wait()

	if opts.Skipped != nil {
		for i, ok := range claimed {
			if !ok {
				results[i] = opts.Skipped(items[i], i)
			}
		}
	}
	return results
}
