package batch

import (
	"context"
	"fmt"

	"caravan/internal/enrich"
	"caravan/internal/jobstore"
	"caravan/internal/logging"
)

// processItem settles one work item. Failures are captured on the item
// record rather than propagated, so one bad item cannot sink its wave.
func (p *Processor) processItem(ctx context.Context, job *jobstore.Job, item *jobstore.WorkItem) ItemResult {
	// Persist the in-flight transition so concurrent readers see the item
	// as processing while its enrichment call runs.
	item.Status = jobstore.ItemProcessing
	if err := p.store.UpdateWorkItem(ctx, item); err != nil {
		p.logger.Error("mark work item processing",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldSourceKey, item.SourceKey),
			logging.Error(err),
		)
		return ItemResult{SourceKey: item.SourceKey, Status: jobstore.ItemFailed, Err: err}
	}

	if err := p.resolveItem(ctx, job, item); err != nil {
		item.SetFailed(err.Error())
	}

	if err := p.store.UpdateWorkItem(ctx, item); err != nil {
		p.logger.Error("persist work item outcome",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldSourceKey, item.SourceKey),
			logging.Error(err),
		)
		return ItemResult{SourceKey: item.SourceKey, Status: jobstore.ItemFailed, Err: err}
	}

	result := ItemResult{SourceKey: item.SourceKey, Status: item.Status}
	if item.Error != "" {
		result.Err = fmt.Errorf("%s", item.Error)
	}
	return result
}

// resolveItem produces or reuses the artifact for an item's dedup key.
// Exactly one writer creates each artifact; everyone else links the stored
// record and marks the item skipped.
func (p *Processor) resolveItem(ctx context.Context, job *jobstore.Job, item *jobstore.WorkItem) error {
	existing, err := p.store.LookupArtifact(ctx, item.SourceKey)
	if err != nil {
		return fmt.Errorf("lookup artifact: %w", err)
	}
	if existing != nil {
		if err := p.store.LinkArtifact(ctx, existing.ID, job.SubjectID); err != nil {
			return fmt.Errorf("link artifact: %w", err)
		}
		item.SetSkipped(existing.ID)
		return nil
	}

	result, err := p.enricher.Enrich(ctx, enrich.Request{
		SourceURL:   item.SourceKey,
		MediaKind:   item.MediaKind,
		SubjectName: job.SubjectID,
	})
	if err != nil {
		return fmt.Errorf("enrich %s: %w", item.SourceKey, err)
	}

	stored, created, err := p.store.CreateArtifact(ctx, &jobstore.Artifact{
		DedupKey: item.SourceKey,
		AltText:  result.AltText,
		Caption:  result.Caption,
		Labels:   result.Labels,
	})
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	if err := p.store.LinkArtifact(ctx, stored.ID, job.SubjectID); err != nil {
		return fmt.Errorf("link artifact: %w", err)
	}

	if created {
		item.SetCompleted(stored.ID)
	} else {
		// Another writer landed the same dedup key first.
		item.SetSkipped(stored.ID)
	}
	return nil
}
