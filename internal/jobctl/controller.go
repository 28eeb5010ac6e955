// Package jobctl implements the operator actions on ingestion jobs: cancel,
// full retry, and retry of failed items only. Actions validate the job's
// state first and reject illegal transitions with typed errors.
package jobctl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"caravan/internal/config"
	"caravan/internal/jobstore"
	"caravan/internal/logging"
	"caravan/internal/notifications"
	"caravan/internal/pipeline"
	"caravan/internal/trigger"
)

// Store is the persistence surface the controller needs.
type Store interface {
	GetJob(ctx context.Context, id string) (*jobstore.Job, error)
	UpdateJob(ctx context.Context, job *jobstore.Job) error
	ResetAllItems(ctx context.Context, jobID string) (int, error)
	ResetFailedItems(ctx context.Context, jobID string) (int, error)
	CountItems(ctx context.Context, jobID string) (jobstore.Counts, error)
}

// Controller applies operator actions to jobs.
type Controller struct {
	store     Store
	scheduler trigger.Scheduler
	notifier  notifications.Service
	phase     pipeline.Phase
	logger    *slog.Logger
}

// NewController builds a job controller.
func NewController(cfg *config.Config, store Store, scheduler trigger.Scheduler, notifier notifications.Service, logger *slog.Logger) *Controller {
	phase, ok := pipeline.Parse(cfg.Pipeline.Phase)
	if !ok {
		phase = pipeline.PhaseEnrich
	}
	if scheduler == nil {
		scheduler = trigger.NewScheduler(cfg)
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		store:     store,
		scheduler: scheduler,
		notifier:  notifier,
		phase:     phase,
		logger:    logger.With(logging.String(logging.FieldComponent, "jobctl")),
	}
}

// Cancel stops an active job. The job settles as failed with a cancellation
// message so the scheduler's next batch delivery finds nothing to do.
func (c *Controller) Cancel(ctx context.Context, jobID string) (*jobstore.Job, error) {
	job, err := c.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Active() {
		return nil, &InvalidStateError{Action: "cancel", Status: job.Status}
	}

	job.SetFailed(jobstore.CancelReason)
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	c.logger.Info("job cancelled",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldSubjectID, job.SubjectID),
	)
	if err := c.notifier.NotifyJobCancelled(ctx, job.SubjectID); err != nil {
		c.logger.Warn("cancellation notification failed", logging.Error(err))
	}
	return job, nil
}

// Retry re-runs a settled job from scratch as a new version. The previous
// version's outcome is kept in the job's history.
func (c *Controller) Retry(ctx context.Context, jobID string) (*jobstore.Job, error) {
	job, err := c.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		return nil, &InvalidStateError{Action: "retry", Status: job.Status}
	}

	c.beginVersion(job)
	job.Status = jobstore.JobPending
	job.CurrentPhase = string(c.phase)
	job.Processed = 0
	job.Skipped = 0
	job.Failed = 0

	if _, err := c.store.ResetAllItems(ctx, job.ID); err != nil {
		return nil, err
	}
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := c.start(ctx, job); err != nil {
		return nil, err
	}

	c.logger.Info("job retried",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("version", job.Version),
	)
	if err := c.notifier.NotifyJobRetried(ctx, job.SubjectID, job.Version, false); err != nil {
		c.logger.Warn("retry notification failed", logging.Error(err))
	}
	return job, nil
}

// RetryFailed re-runs only the failed items of a settled job. Completed and
// skipped items keep their artifacts.
func (c *Controller) RetryFailed(ctx context.Context, jobID string) (*jobstore.Job, error) {
	job, err := c.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Terminal() {
		return nil, &InvalidStateError{Action: "retry-failed", Status: job.Status}
	}

	counts, err := c.store.CountItems(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if counts.Failed == 0 {
		return nil, ErrNothingToRetry
	}

	c.beginVersion(job)
	job.Status = jobstore.JobProcessing
	job.CurrentPhase = pipeline.RetryingFailedLabel
	job.Failed = 0

	if _, err := c.store.ResetFailedItems(ctx, job.ID); err != nil {
		return nil, err
	}
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	if err := c.start(ctx, job); err != nil {
		return nil, err
	}

	c.logger.Info("failed items retried",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("items", counts.Failed),
		logging.Int("version", job.Version),
	)
	if err := c.notifier.NotifyJobRetried(ctx, job.SubjectID, job.Version, true); err != nil {
		c.logger.Warn("retry notification failed", logging.Error(err))
	}
	return job, nil
}

func (c *Controller) load(ctx context.Context, jobID string) (*jobstore.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s", jobstore.ErrNotFound, jobID)
	}
	return job, nil
}

// beginVersion archives the current version's outcome and opens the next one.
func (c *Controller) beginVersion(job *jobstore.Job) {
	job.PreviousVersions = append(job.PreviousVersions, job.Snapshot(time.Now()))
	job.Version++
	job.ClearError()
}

// start asks the scheduler to drive the retried job. A refusal rolls the job
// back to failed so the retry can be attempted again later.
func (c *Controller) start(ctx context.Context, job *jobstore.Job) error {
	err := c.scheduler.StartExecution(ctx, trigger.StartRequest{
		JobID:     job.ID,
		SubjectID: job.SubjectID,
		Phase:     job.CurrentPhase,
	})
	if err == nil {
		return nil
	}

	triggerErr := &TriggerError{Cause: err}
	job.SetFailed(triggerErr.Error())
	if updateErr := c.store.UpdateJob(ctx, job); updateErr != nil {
		c.logger.Error("rollback after trigger failure",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(updateErr),
		)
	}
	return triggerErr
}
