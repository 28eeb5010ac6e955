// Package api defines the transport payloads exchanged with the scheduler
// and operator tooling.
package api

import (
	"time"

	"caravan/internal/jobstore"
	"caravan/internal/pipeline"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes an ingestion job in a transport-friendly format.
type Job struct {
	ID               string            `json:"id"`
	SubjectID        string            `json:"subjectId"`
	Status           string            `json:"status"`
	CurrentPhase     string            `json:"currentPhase"`
	PhaseLabel       string            `json:"phaseLabel"`
	Version          int               `json:"version"`
	PreviousVersions []VersionSnapshot `json:"previousVersions,omitempty"`
	TotalItems       int               `json:"totalItems"`
	Processed        int               `json:"processed"`
	Skipped          int               `json:"skipped"`
	Failed           int               `json:"failed"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	ErrorPhase       string            `json:"errorPhase,omitempty"`
	CreatedAt        string            `json:"createdAt,omitempty"`
	UpdatedAt        string            `json:"updatedAt,omitempty"`
}

// VersionSnapshot mirrors an archived job version.
type VersionSnapshot struct {
	Version     int    `json:"version"`
	CompletedAt string `json:"completedAt"`
	Status      string `json:"status"`
}

// WorkItem describes a single work item in a transport-friendly format.
type WorkItem struct {
	SourceKey  string `json:"sourceKey"`
	MediaKind  string `json:"mediaKind"`
	Status     string `json:"status"`
	ArtifactID string `json:"artifactId,omitempty"`
	Error      string `json:"error,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}

// FromJob converts a stored job into its API representation.
func FromJob(job *jobstore.Job) Job {
	if job == nil {
		return Job{}
	}
	view := Job{
		ID:           job.ID,
		SubjectID:    job.SubjectID,
		Status:       string(job.Status),
		CurrentPhase: job.CurrentPhase,
		PhaseLabel:   pipeline.Label(job.CurrentPhase),
		Version:      job.Version,
		TotalItems:   job.TotalItems,
		Processed:    job.Processed,
		Skipped:      job.Skipped,
		Failed:       job.Failed,
		ErrorMessage: job.ErrorMessage,
		ErrorPhase:   job.ErrorPhase,
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
	}
	for _, snapshot := range job.PreviousVersions {
		view.PreviousVersions = append(view.PreviousVersions, VersionSnapshot{
			Version:     snapshot.Version,
			CompletedAt: formatTime(snapshot.CompletedAt),
			Status:      snapshot.Status,
		})
	}
	return view
}

// FromWorkItem converts a stored work item into its API representation.
func FromWorkItem(item *jobstore.WorkItem) WorkItem {
	if item == nil {
		return WorkItem{}
	}
	return WorkItem{
		SourceKey:  item.SourceKey,
		MediaKind:  item.MediaKind,
		Status:     string(item.Status),
		ArtifactID: item.ArtifactID,
		Error:      item.Error,
		UpdatedAt:  formatTime(item.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// CreateJobRequest queues a new ingestion job with its work items.
type CreateJobRequest struct {
	SubjectID string    `json:"subjectId"`
	Items     []NewItem `json:"items"`
}

// NewItem is one media unit submitted with a new job.
type NewItem struct {
	SourceKey string `json:"sourceKey"`
	MediaKind string `json:"mediaKind,omitempty"`
}

// BatchRequest asks the processor to run one batch of a job. SubjectID is
// advisory; the job row remains authoritative for subject membership.
type BatchRequest struct {
	SubjectID  string `json:"subjectId,omitempty"`
	BatchIndex int    `json:"batchIndex"`
}

// ActionRequest applies an operator action to a job.
type ActionRequest struct {
	Action string `json:"action"`
}

// Operator action names accepted by the actions endpoint.
const (
	ActionCancel      = "cancel"
	ActionRetry       = "retry"
	ActionRetryFailed = "retry-failed"
)

// ActionResponse reports the outcome of an operator action.
type ActionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	JobID   string `json:"jobId,omitempty"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobDetailResponse wraps one job together with its work items.
type JobDetailResponse struct {
	Job   Job        `json:"job"`
	Items []WorkItem `json:"items,omitempty"`
}

// StatusResponse aggregates instance runtime information.
type StatusResponse struct {
	Phase        string         `json:"phase"`
	DatabasePath string         `json:"databasePath"`
	Jobs         map[string]int `json:"jobs"`
}
