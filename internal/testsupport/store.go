package testsupport

import (
	"context"
	"fmt"
	"testing"

	"caravan/internal/config"
	"caravan/internal/jobstore"
)

// MustOpenStore opens a jobstore.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobstore.Store {
	t.Helper()

	store, err := jobstore.Open(cfg)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob creates a pending job for tests using the provided store.
func NewJob(t testing.TB, store *jobstore.Store, subjectID, phase string) *jobstore.Job {
	t.Helper()

	job, err := store.CreateJob(context.Background(), subjectID, phase)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}

// SeedItems enqueues count pending work items on a job with deterministic
// source keys (item-000, item-001, ...).
func SeedItems(t testing.TB, store *jobstore.Store, jobID string, count int) []jobstore.WorkItem {
	t.Helper()

	items := make([]jobstore.WorkItem, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, jobstore.WorkItem{
			SourceKey: fmt.Sprintf("item-%03d", i),
			MediaKind: "image",
		})
	}
	if _, err := store.EnqueueItems(context.Background(), jobID, items); err != nil {
		t.Fatalf("store.EnqueueItems: %v", err)
	}
	return items
}
