package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldSubjectID is the standardized structured logging key for CMS subject identifiers.
	FieldSubjectID = "subject_id"
	// FieldPhase is the standardized structured logging key for pipeline phase labels.
	FieldPhase = "phase"
	// FieldBatchIndex is the standardized structured logging key for batch sequence numbers.
	FieldBatchIndex = "batch_index"
	// FieldSourceKey is the standardized structured logging key for work item source keys.
	FieldSourceKey = "source_key"
	// FieldEventType tags log records with a machine-readable event name.
	FieldEventType = "event_type"
	// FieldErrorHint suggests an operator next step for warnings and errors.
	FieldErrorHint = "error_hint"
)

type contextKey string

const (
	jobIDKey      contextKey = "job_id"
	phaseKey      contextKey = "phase"
	batchIndexKey contextKey = "batch_index"
)

// WithJobID binds a job identifier to the context for log enrichment.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithPhase binds a pipeline phase label to the context for log enrichment.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey, phase)
}

// WithBatchIndex binds a batch sequence number to the context for log enrichment.
func WithBatchIndex(ctx context.Context, index int) context.Context {
	return context.WithValue(ctx, batchIndexKey, index)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := ctx.Value(jobIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if phase, ok := ctx.Value(phaseKey).(string); ok && phase != "" {
		fields = append(fields, slog.String(FieldPhase, phase))
	}
	if index, ok := ctx.Value(batchIndexKey).(int); ok {
		fields = append(fields, slog.Int(FieldBatchIndex, index))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from
// the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(attrsToArgs(fields)...)
}
