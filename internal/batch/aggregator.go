package batch

import (
	"context"

	"caravan/internal/jobstore"
	"caravan/internal/logging"
	"caravan/internal/pipeline"
)

// aggregate recounts a job's work items from the item table and folds the
// totals onto the job record. Counters are never incremented in place; the
// full recount is what keeps redelivered batches from double counting.
func (p *Processor) aggregate(ctx context.Context, job *jobstore.Job) (int, error) {
	counts, err := p.store.CountItems(ctx, job.ID)
	if err != nil {
		return 0, err
	}

	job.Processed = counts.Completed
	job.Skipped = counts.Skipped
	job.Failed = counts.Failed
	if job.TotalItems == 0 {
		job.TotalItems = counts.Total()
	}

	pending := counts.Unresolved()
	if pending == 0 {
		p.advancePhase(job)
	}

	if err := p.store.UpdateJob(ctx, job); err != nil {
		return 0, err
	}

	if job.Status == jobstore.JobCompleted {
		if err := p.notifier.NotifyJobCompleted(ctx, job.SubjectID, job.Processed, job.Skipped, job.Failed); err != nil {
			p.logger.Warn("completion notification failed",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
		}
	}
	return pending, nil
}

// advancePhase moves the job past the phase this instance drives once every
// item has settled. A job already advanced, or sitting in a phase owned by a
// different instance, is left alone.
func (p *Processor) advancePhase(job *jobstore.Job) {
	switch job.CurrentPhase {
	case string(p.phase), pipeline.RetryingFailedLabel:
	default:
		return
	}

	if pipeline.IsTerminal(p.phase) {
		job.Status = jobstore.JobCompleted
		job.CurrentPhase = string(p.phase)
		job.ClearError()
		return
	}

	next, ok := pipeline.Next(p.phase)
	if !ok {
		return
	}
	job.CurrentPhase = string(next)
}
