package jobstore

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle of an ingestion job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

var jobStatuses = []JobStatus{JobPending, JobProcessing, JobCompleted, JobFailed}

var jobStatusSet = func() map[JobStatus]struct{} {
	set := make(map[JobStatus]struct{}, len(jobStatuses))
	for _, status := range jobStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// JobStatuses returns the ordered list of known job statuses.
func JobStatuses() []JobStatus {
	cp := make([]JobStatus, len(jobStatuses))
	copy(cp, jobStatuses)
	return cp
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := jobStatusSet[normalized]
	return normalized, ok
}

// Active reports whether the status admits further batch work.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobProcessing
}

// Terminal reports whether the status is a resting state for operator actions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ItemStatus represents the lifecycle of a single work item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemSkipped    ItemStatus = "skipped"
	ItemFailed     ItemStatus = "failed"
)

var itemStatuses = []ItemStatus{ItemPending, ItemProcessing, ItemCompleted, ItemSkipped, ItemFailed}

// ItemStatuses returns the ordered list of known item statuses.
func ItemStatuses() []ItemStatus {
	cp := make([]ItemStatus, len(itemStatuses))
	copy(cp, itemStatuses)
	return cp
}

// Resolved reports whether the item needs no further processing.
func (s ItemStatus) Resolved() bool {
	return s == ItemCompleted || s == ItemSkipped || s == ItemFailed
}

// CancelReason is the error message recorded when an operator cancels a job.
const CancelReason = "cancelled by user"

// VersionSnapshot records the outcome of a prior job run before a retry.
type VersionSnapshot struct {
	Version     int       `json:"version"`
	CompletedAt time.Time `json:"completedAt"`
	Status      string    `json:"status"`
}

// Job is one ingestion pipeline run for a CMS subject.
type Job struct {
	ID               string
	SubjectID        string
	Status           JobStatus
	CurrentPhase     string
	Version          int
	PreviousVersions []VersionSnapshot
	TotalItems       int
	Processed        int
	Skipped          int
	Failed           int
	ErrorMessage     string
	ErrorPhase       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SetFailed marks the job as failed, recording the phase it failed in.
func (j *Job) SetFailed(message string) {
	j.Status = JobFailed
	j.ErrorMessage = message
	j.ErrorPhase = j.CurrentPhase
}

// ClearError resets the failure bookkeeping fields.
func (j *Job) ClearError() {
	j.ErrorMessage = ""
	j.ErrorPhase = ""
}

// Snapshot captures the current version outcome for the retry history.
func (j *Job) Snapshot(now time.Time) VersionSnapshot {
	return VersionSnapshot{
		Version:     j.Version,
		CompletedAt: now.UTC(),
		Status:      string(j.Status),
	}
}

// WorkItem is one media unit (image or video) within a job, keyed by its
// content-addressed source key.
type WorkItem struct {
	JobID      string
	SourceKey  string
	MediaKind  string
	Status     ItemStatus
	ArtifactID string
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SetCompleted records a newly produced artifact on the item.
func (w *WorkItem) SetCompleted(artifactID string) {
	w.Status = ItemCompleted
	w.ArtifactID = artifactID
	w.Error = ""
}

// SetSkipped records a dedup hit: an existing artifact satisfied the item.
func (w *WorkItem) SetSkipped(artifactID string) {
	w.Status = ItemSkipped
	w.ArtifactID = artifactID
	w.Error = ""
}

// SetFailed marks the item as failed with the given error message.
func (w *WorkItem) SetFailed(message string) {
	w.Status = ItemFailed
	w.ArtifactID = ""
	w.Error = message
}

// Artifact is an enriched media record, deduplicated by dedup key.
type Artifact struct {
	ID         string
	DedupKey   string
	AltText    string
	Caption    string
	Labels     []string
	StorageURL string
	CreatedAt  time.Time
}

// Counts aggregates work item statuses for one job.
type Counts struct {
	Pending    int
	Processing int
	Completed  int
	Skipped    int
	Failed     int
}

// Total returns the number of work items across all statuses.
func (c Counts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Skipped + c.Failed
}

// Unresolved returns the number of items still awaiting a terminal status.
func (c Counts) Unresolved() int {
	return c.Pending + c.Processing
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
}
