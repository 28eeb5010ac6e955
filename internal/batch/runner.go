package batch

import (
	"context"
	"sync"

	"caravan/internal/jobstore"
)

// ItemResult records the settled outcome of one work item within a batch.
type ItemResult struct {
	SourceKey string
	Status    jobstore.ItemStatus
	Err       error
}

// RunWaves processes items in sequential waves of at most concurrency items.
// A wave starts only after the previous wave has fully settled, and every
// item settles exactly once regardless of how its neighbors fare.
func RunWaves(ctx context.Context, items []*jobstore.WorkItem, concurrency int, process func(context.Context, *jobstore.WorkItem) ItemResult) []ItemResult {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]ItemResult, len(items))
	for start := 0; start < len(items); start += concurrency {
		end := start + concurrency
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()
				results[slot] = process(ctx, items[slot])
			}(i)
		}
		wg.Wait()
	}
	return results
}
