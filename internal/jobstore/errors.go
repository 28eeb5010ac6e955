package jobstore

import "errors"

// ErrSubjectActive indicates a job is already pending or processing for the
// subject; the admission check rejects a second concurrent run.
var ErrSubjectActive = errors.New("ingestion already running for subject")

// ErrNotFound indicates the requested job or work item does not exist.
var ErrNotFound = errors.New("not found")
