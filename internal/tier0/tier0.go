// Package tier0 implements the bounded worker-pool fan-out used by tasks
// that process independent per-target sub-units (self-calibration, per-target
// imaging). It is a one-shot scatter/gather: no streaming, no retries, no
// cross-task coordination. Workers must operate on disjoint inputs; the
// safety discipline is data partitioning, not locking.
package tier0

import (
	"context"
	"errors"
	"sync"
)

// Map runs fn over items on a pool of at most workers goroutines and returns
// the results reassembled by input index, regardless of completion order.
// The first error cancels dispatch of not-yet-started items and is returned.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	errs := scatter(ctx, workers, items, out, fn, true)
	// prefer the causing error over cancellations it induced in siblings
	var first error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		if !errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	if first != nil {
		return nil, first
	}
	return out, nil
}

// MapCollect is Map without fail-fast: every item is attempted and per-item
// errors are returned aligned by index (nil for successes). This is the
// fan-out form of the per-MS isolation policy.
func MapCollect[T, R any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, i int, item T) (R, error)) ([]R, []error) {
	out := make([]R, len(items))
	errs := scatter(ctx, workers, items, out, fn, false)
	return out, errs
}

func scatter[T, R any](ctx context.Context, workers int, items []T, out []R, fn func(ctx context.Context, i int, item T) (R, error), failFast bool) []error {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// each worker writes only its own index; no gather lock needed
				out[i], errs[i] = fn(runCtx, i, items[i])
				if errs[i] != nil && failFast {
					cancel()
				}
			}
		}()
	}

dispatch:
	for i := range items {
		if runCtx.Err() != nil {
			for j := i; j < len(items); j++ {
				if errs[j] == nil {
					errs[j] = runCtx.Err()
				}
			}
			break dispatch
		}
		select {
		case <-runCtx.Done():
			// mark undispatched items so callers see why they were skipped
			for j := i; j < len(items); j++ {
				if errs[j] == nil {
					errs[j] = runCtx.Err()
				}
			}
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return errs
}
