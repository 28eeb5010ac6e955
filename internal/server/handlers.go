package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"caravan/internal/api"
	"caravan/internal/jobctl"
	"caravan/internal/jobstore"
	"caravan/internal/logging"
	"caravan/internal/trigger"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.store.Health(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.StatusResponse{
		Phase:        s.phase,
		DatabasePath: s.store.Path(),
		Jobs: map[string]int{
			"total":      health.Total,
			"pending":    health.Pending,
			"processing": health.Processing,
			"completed":  health.Completed,
			"failed":     health.Failed,
		},
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleCreateJob(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	var statuses []jobstore.JobStatus
	for _, value := range r.URL.Query()["status"] {
		status, ok := jobstore.ParseJobStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.store.ListJobs(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := api.JobListResponse{}
	for _, job := range jobs {
		payload.Jobs = append(payload.Jobs, api.FromJob(job))
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		s.writeError(w, http.StatusBadRequest, "subjectId is required")
		return
	}
	if len(req.Items) == 0 {
		s.writeError(w, http.StatusBadRequest, "at least one item is required")
		return
	}

	ctx := r.Context()
	job, err := s.store.CreateJob(ctx, req.SubjectID, s.phase)
	if err != nil {
		if errors.Is(err, jobstore.ErrSubjectActive) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]jobstore.WorkItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, jobstore.WorkItem{SourceKey: item.SourceKey, MediaKind: item.MediaKind})
	}
	if _, err := s.store.EnqueueItems(ctx, job.ID, items); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	startErr := s.scheduler.StartExecution(ctx, trigger.StartRequest{
		JobID:     job.ID,
		SubjectID: job.SubjectID,
		Phase:     job.CurrentPhase,
	})
	if startErr != nil {
		job.SetFailed(fmt.Sprintf("failed to start execution: %v", startErr))
		if err := s.store.UpdateJob(ctx, job); err != nil {
			s.logger.Error("rollback after trigger failure",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
		}
		s.writeError(w, http.StatusBadGateway, fmt.Sprintf("failed to start execution: %v", startErr))
		return
	}

	if err := s.notifier.NotifyJobQueued(ctx, job.SubjectID, len(items)); err != nil {
		s.logger.Warn("queued notification failed", logging.Error(err))
	}
	s.logger.Info("job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldSubjectID, job.SubjectID),
		logging.Int("items", len(items)),
	)
	s.writeJSON(w, http.StatusCreated, api.JobDetailResponse{Job: api.FromJob(job)})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	jobID, action, _ := strings.Cut(rest, "/")
	if jobID == "" || strings.Contains(action, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleDescribeJob(w, r, jobID)
	case "batches":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleBatch(w, r, jobID)
	case "actions":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleAction(w, r, jobID)
	default:
		s.writeError(w, http.StatusNotFound, "job not found")
	}
}

func (s *Server) handleDescribeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}

	items, err := s.store.ListItems(ctx, jobID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	payload := api.JobDetailResponse{Job: api.FromJob(job)}
	for _, item := range items {
		payload.Items = append(payload.Items, api.FromWorkItem(item))
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, jobID string) {
	var req api.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BatchIndex < 0 {
		s.writeError(w, http.StatusBadRequest, "batchIndex must not be negative")
		return
	}

	response, err := s.processor.ProcessBatch(r.Context(), jobID, req.BatchIndex)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		// The batch could not run at all. Settle the job so the scheduler
		// stops redelivering into a broken run.
		s.failJob(r, jobID, fmt.Sprintf("batch %d failed: %v", req.BatchIndex, err))
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) failJob(r *http.Request, jobID, message string) {
	ctx := r.Context()
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil || job == nil || !job.Status.Active() {
		return
	}
	job.SetFailed(message)
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Error("settle job after batch failure",
			logging.String(logging.FieldJobID, jobID),
			logging.Error(err),
		)
		return
	}
	if err := s.notifier.NotifyError(ctx, errors.New(message), "job "+jobID); err != nil {
		s.logger.Warn("failure notification failed", logging.Error(err))
	}
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, jobID string) {
	var req api.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	var (
		job     *jobstore.Job
		err     error
		message string
	)
	switch strings.TrimSpace(req.Action) {
	case api.ActionCancel:
		job, err = s.control.Cancel(ctx, jobID)
		message = "job cancelled"
	case api.ActionRetry:
		job, err = s.control.Retry(ctx, jobID)
		message = "job requeued for a full rerun"
	case api.ActionRetryFailed:
		job, err = s.control.RetryFailed(ctx, jobID)
		message = "failed items requeued"
	default:
		s.writeActionError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}

	if err != nil {
		var invalid *jobctl.InvalidStateError
		var triggerErr *jobctl.TriggerError
		switch {
		case errors.Is(err, jobstore.ErrNotFound):
			s.writeActionError(w, http.StatusNotFound, "job not found")
		case errors.As(err, &invalid), errors.Is(err, jobctl.ErrNothingToRetry):
			s.writeActionError(w, http.StatusConflict, err.Error())
		case errors.As(err, &triggerErr):
			s.writeActionError(w, http.StatusBadGateway, err.Error())
		default:
			s.writeActionError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.writeJSON(w, http.StatusOK, api.ActionResponse{
		Success: true,
		Message: message,
		JobID:   job.ID,
	})
}

func (s *Server) writeActionError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
