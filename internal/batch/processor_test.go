package batch_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"caravan/internal/batch"
	"caravan/internal/config"
	"caravan/internal/enrich"
	"caravan/internal/jobstore"
	"caravan/internal/testsupport"
)

type stubEnricher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (s *stubEnricher) Enrich(_ context.Context, req enrich.Request) (enrich.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.SourceURL)
	s.mu.Unlock()
	if err, ok := s.fail[req.SourceURL]; ok {
		return enrich.Result{}, err
	}
	return enrich.Result{
		AltText: "Generated alt text for " + req.SourceURL,
		Caption: "Generated caption",
		Labels:  []string{"wildlife"},
	}, nil
}

func (s *stubEnricher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingNotifier struct {
	mu        sync.Mutex
	completed []string
}

func (r *recordingNotifier) NotifyJobQueued(context.Context, string, int) error { return nil }
func (r *recordingNotifier) NotifyJobCompleted(_ context.Context, subjectID string, _, _, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, subjectID)
	return nil
}
func (r *recordingNotifier) NotifyJobCancelled(context.Context, string) error          { return nil }
func (r *recordingNotifier) NotifyJobRetried(context.Context, string, int, bool) error { return nil }
func (r *recordingNotifier) NotifyError(context.Context, error, string) error          { return nil }
func (r *recordingNotifier) TestNotification(context.Context) error                    { return nil }

func newProcessor(t *testing.T, cfg *config.Config, store *jobstore.Store, enricher batch.Enricher) (*batch.Processor, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	return batch.NewProcessor(cfg, store, enricher, notifier, nil), notifier
}

func TestProcessBatchSettlesItemsAndAdvancesPhase(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchShape(10, 3))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "lodge-amboseli", "enrich")
	testsupport.SeedItems(t, store, job.ID, 4)

	// item-001 already has an artifact from a previous subject's run.
	preexisting, _, err := store.CreateArtifact(ctx, &jobstore.Artifact{DedupKey: "item-001", AltText: "Existing"})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}

	enricher := &stubEnricher{fail: map[string]error{"item-003": errors.New("upstream rejected media")}}
	processor, _ := newProcessor(t, cfg, store, enricher)

	response, err := processor.ProcessBatch(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if response.Succeeded != 3 || response.Failed != 1 || response.Remaining != 0 {
		t.Fatalf("unexpected response: %+v", response)
	}

	// Dedup hit never reaches the enrichment API.
	if enricher.callCount() != 3 {
		t.Fatalf("expected 3 enrichment calls, got %d", enricher.callCount())
	}

	updated, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if updated.Processed != 2 || updated.Skipped != 1 || updated.Failed != 1 {
		t.Fatalf("unexpected job counters: %+v", updated)
	}
	if updated.TotalItems != 4 {
		t.Fatalf("expected totalItems 4, got %d", updated.TotalItems)
	}
	if updated.CurrentPhase != "enhance" {
		t.Fatalf("expected phase enhance, got %s", updated.CurrentPhase)
	}
	if updated.Status != jobstore.JobProcessing {
		t.Fatalf("expected processing status, got %s", updated.Status)
	}

	skipped, err := store.GetWorkItem(ctx, job.ID, "item-001")
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if skipped.Status != jobstore.ItemSkipped || skipped.ArtifactID != preexisting.ID {
		t.Fatalf("dedup hit not recorded as skipped: %+v", skipped)
	}
	failed, err := store.GetWorkItem(ctx, job.ID, "item-003")
	if err != nil {
		t.Fatalf("GetWorkItem: %v", err)
	}
	if failed.Status != jobstore.ItemFailed || failed.Error == "" {
		t.Fatalf("failure not recorded on item: %+v", failed)
	}
}

// observingEnricher records each item's persisted status at the moment its
// enrichment call runs.
type observingEnricher struct {
	store *jobstore.Store
	jobID string
	mu    sync.Mutex
	seen  []jobstore.ItemStatus
}

func (o *observingEnricher) Enrich(ctx context.Context, req enrich.Request) (enrich.Result, error) {
	item, err := o.store.GetWorkItem(ctx, o.jobID, req.SourceURL)
	if err != nil {
		return enrich.Result{}, err
	}
	o.mu.Lock()
	o.seen = append(o.seen, item.Status)
	o.mu.Unlock()
	return enrich.Result{AltText: "Generated alt text"}, nil
}

func TestProcessBatchMarksItemsProcessingWhileInFlight(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchShape(10, 1))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "lodge-tsavo", "enrich")
	testsupport.SeedItems(t, store, job.ID, 3)

	enricher := &observingEnricher{store: store, jobID: job.ID}
	processor, _ := newProcessor(t, cfg, store, enricher)

	if _, err := processor.ProcessBatch(ctx, job.ID, 0); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	if len(enricher.seen) != 3 {
		t.Fatalf("expected 3 enrichment calls, got %d", len(enricher.seen))
	}
	for i, status := range enricher.seen {
		if status != jobstore.ItemProcessing {
			t.Fatalf("call %d saw status %s, want processing", i, status)
		}
	}

	// Every item still settles terminally once its wave finishes.
	counts, err := store.CountItems(ctx, job.ID)
	if err != nil {
		t.Fatalf("CountItems: %v", err)
	}
	if counts.Completed != 3 || counts.Processing != 0 {
		t.Fatalf("items not settled after batch: %+v", counts)
	}
}

func TestProcessBatchRedeliveryIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchShape(10, 3))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "camp-okavango", "enrich")
	testsupport.SeedItems(t, store, job.ID, 3)

	enricher := &stubEnricher{}
	processor, _ := newProcessor(t, cfg, store, enricher)

	if _, err := processor.ProcessBatch(ctx, job.ID, 0); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	first, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}

	// The scheduler redelivers the same batch.
	response, err := processor.ProcessBatch(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("ProcessBatch redelivery: %v", err)
	}
	if response.Remaining != 0 || response.Succeeded != 0 || response.Failed != 0 {
		t.Fatalf("redelivery did new work: %+v", response)
	}
	if enricher.callCount() != 3 {
		t.Fatalf("redelivery re-enriched items: %d calls", enricher.callCount())
	}

	second, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if second.Processed != first.Processed || second.Skipped != first.Skipped || second.Failed != first.Failed {
		t.Fatalf("counters drifted on redelivery: %+v vs %+v", second, first)
	}
	// Phase already advanced past this instance; redelivery must not advance again.
	if second.CurrentPhase != first.CurrentPhase {
		t.Fatalf("phase drifted on redelivery: %s vs %s", second.CurrentPhase, first.CurrentPhase)
	}
}

func TestProcessBatchIgnoresSettledJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "reserve-mara", "enrich")
	testsupport.SeedItems(t, store, job.ID, 2)
	job.Status = jobstore.JobFailed
	job.ErrorMessage = jobstore.CancelReason
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	enricher := &stubEnricher{}
	processor, _ := newProcessor(t, cfg, store, enricher)

	response, err := processor.ProcessBatch(ctx, job.ID, 1)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if response.Remaining != 0 {
		t.Fatalf("expected zero remaining for settled job, got %+v", response)
	}
	if enricher.callCount() != 0 {
		t.Fatalf("settled job was processed: %d calls", enricher.callCount())
	}

	after, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if after.Status != jobstore.JobFailed || after.ErrorMessage != jobstore.CancelReason {
		t.Fatalf("settled job mutated: %+v", after)
	}
}

func TestProcessBatchMissingJobReturnsNotFound(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	processor, _ := newProcessor(t, cfg, store, &stubEnricher{})
	if _, err := processor.ProcessBatch(context.Background(), "no-such-job", 0); !errors.Is(err, jobstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProcessBatchDrainsAcrossInvocations(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchShape(2, 2))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "plains-laikipia", "enrich")
	testsupport.SeedItems(t, store, job.ID, 5)

	processor, _ := newProcessor(t, cfg, store, &stubEnricher{})

	wantRemaining := []int{3, 1, 0}
	for i, want := range wantRemaining {
		response, err := processor.ProcessBatch(ctx, job.ID, i)
		if err != nil {
			t.Fatalf("ProcessBatch %d: %v", i, err)
		}
		if response.Remaining != want {
			t.Fatalf("batch %d: expected remaining %d, got %d", i, want, response.Remaining)
		}
	}

	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Processed != 5 || final.CurrentPhase != "enhance" {
		t.Fatalf("job not drained cleanly: %+v", final)
	}
}

func TestProcessBatchCompletesJobAtTerminalPhase(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPhase("publish"))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "delta-moremi", "publish")
	testsupport.SeedItems(t, store, job.ID, 2)

	processor, notifier := newProcessor(t, cfg, store, &stubEnricher{})
	response, err := processor.ProcessBatch(ctx, job.ID, 0)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if response.Remaining != 0 {
		t.Fatalf("expected drained job, got %+v", response)
	}

	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.Status != jobstore.JobCompleted {
		t.Fatalf("expected completed job, got %s", final.Status)
	}
	if len(notifier.completed) != 1 || notifier.completed[0] != "delta-moremi" {
		t.Fatalf("completion notification missing: %v", notifier.completed)
	}
}

func TestProcessBatchAdvancesOutOfRetryingLabel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithPhase("enrich"))
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "camp-kruger", "retrying failed items")
	testsupport.SeedItems(t, store, job.ID, 2)

	processor, _ := newProcessor(t, cfg, store, &stubEnricher{})
	if _, err := processor.ProcessBatch(ctx, job.ID, 0); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	final, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if final.CurrentPhase != "enhance" {
		t.Fatalf("expected retrying label to advance to enhance, got %s", final.CurrentPhase)
	}
}
