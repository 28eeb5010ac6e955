package batch

import (
	"context"
	"fmt"
	"log/slog"

	"caravan/internal/config"
	"caravan/internal/enrich"
	"caravan/internal/jobstore"
	"caravan/internal/logging"
	"caravan/internal/notifications"
	"caravan/internal/pipeline"
)

// Store is the persistence surface the processor needs.
type Store interface {
	GetJob(ctx context.Context, id string) (*jobstore.Job, error)
	UpdateJob(ctx context.Context, job *jobstore.Job) error
	PendingWorkItems(ctx context.Context, jobID string, limit int) ([]*jobstore.WorkItem, error)
	UpdateWorkItem(ctx context.Context, item *jobstore.WorkItem) error
	CountItems(ctx context.Context, jobID string) (jobstore.Counts, error)
	LookupArtifact(ctx context.Context, dedupKey string) (*jobstore.Artifact, error)
	CreateArtifact(ctx context.Context, artifact *jobstore.Artifact) (*jobstore.Artifact, bool, error)
	LinkArtifact(ctx context.Context, artifactID, subjectID string) error
}

// Enricher labels and captions a single media unit.
type Enricher interface {
	Enrich(ctx context.Context, request enrich.Request) (enrich.Result, error)
}

// Response summarizes one settled batch for the scheduler. The scheduler
// keeps invoking batches until Remaining reaches zero.
type Response struct {
	JobID     string `json:"jobId"`
	SubjectID string `json:"subjectId"`
	Remaining int    `json:"remaining"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Processor drives one pipeline phase batch-by-batch.
type Processor struct {
	store       Store
	enricher    Enricher
	notifier    notifications.Service
	phase       pipeline.Phase
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// NewProcessor builds a batch processor for the configured phase.
func NewProcessor(cfg *config.Config, store Store, enricher Enricher, notifier notifications.Service, logger *slog.Logger) *Processor {
	phase, ok := pipeline.Parse(cfg.Pipeline.Phase)
	if !ok {
		phase = pipeline.PhaseEnrich
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	batchSize := cfg.Pipeline.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	concurrency := cfg.Pipeline.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		store:       store,
		enricher:    enricher,
		notifier:    notifier,
		phase:       phase,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger.With(logging.String(logging.FieldComponent, "batch")),
	}
}

// ProcessBatch runs one batch of pending work items for a job. The scheduler
// may deliver the same batch more than once; a repeat lands on the state the
// first delivery produced.
func (p *Processor) ProcessBatch(ctx context.Context, jobID string, batchIndex int) (Response, error) {
	log := p.logger.With(
		logging.String(logging.FieldJobID, jobID),
		logging.Int(logging.FieldBatchIndex, batchIndex),
	)

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		return Response{}, err
	}
	if job == nil {
		return Response{}, fmt.Errorf("%w: job %s", jobstore.ErrNotFound, jobID)
	}
	if !job.Status.Active() {
		log.Info("ignoring batch for settled job", logging.String("status", string(job.Status)))
		return Response{JobID: job.ID, SubjectID: job.SubjectID}, nil
	}

	if job.Status == jobstore.JobPending {
		job.Status = jobstore.JobProcessing
	}
	if job.TotalItems == 0 {
		counts, err := p.store.CountItems(ctx, job.ID)
		if err != nil {
			return Response{}, err
		}
		job.TotalItems = counts.Total()
	}
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return Response{}, err
	}

	items, err := p.store.PendingWorkItems(ctx, job.ID, p.batchSize)
	if err != nil {
		return Response{}, err
	}
	log.Info("batch selected",
		logging.Int("items", len(items)),
		logging.String(logging.FieldPhase, job.CurrentPhase),
	)

	results := RunWaves(ctx, items, p.concurrency, func(ctx context.Context, item *jobstore.WorkItem) ItemResult {
		return p.processItem(ctx, job, item)
	})

	response := Response{JobID: job.ID, SubjectID: job.SubjectID}
	for _, result := range results {
		switch result.Status {
		case jobstore.ItemCompleted, jobstore.ItemSkipped:
			response.Succeeded++
		case jobstore.ItemFailed:
			response.Failed++
		}
	}

	remaining, err := p.aggregate(ctx, job)
	if err != nil {
		return Response{}, err
	}
	response.Remaining = remaining

	log.Info("batch settled",
		logging.Int("succeeded", response.Succeeded),
		logging.Int("failed", response.Failed),
		logging.Int("remaining", response.Remaining),
	)
	return response, nil
}
