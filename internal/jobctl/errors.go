package jobctl

import (
	"errors"
	"fmt"

	"caravan/internal/jobstore"
)

// ErrNothingToRetry indicates a retry-failed action on a job without failed
// work items.
var ErrNothingToRetry = errors.New("no failed items to retry")

// InvalidStateError reports an operator action that is illegal in the job's
// current status. The job is left untouched.
type InvalidStateError struct {
	Action string
	Status jobstore.JobStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a %s job", e.Action, e.Status)
}

// TriggerError reports that the scheduler refused to start a new execution
// after a retry was accepted. The job has been rolled back to failed.
type TriggerError struct {
	Cause error
}

func (e *TriggerError) Error() string {
	return fmt.Sprintf("failed to start execution: %v", e.Cause)
}

func (e *TriggerError) Unwrap() error {
	return e.Cause
}
