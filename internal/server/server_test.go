package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"caravan/internal/api"
	"caravan/internal/batch"
	"caravan/internal/config"
	"caravan/internal/enrich"
	"caravan/internal/jobctl"
	"caravan/internal/jobstore"
	"caravan/internal/notifications"
	"caravan/internal/server"
	"caravan/internal/testsupport"
	"caravan/internal/trigger"
)

type stubEnricher struct{}

func (stubEnricher) Enrich(_ context.Context, req enrich.Request) (enrich.Result, error) {
	return enrich.Result{AltText: "Alt text for " + req.SourceURL, Labels: []string{"wildlife"}}, nil
}

type stubScheduler struct {
	err   error
	calls int
}

func (s *stubScheduler) StartExecution(context.Context, trigger.StartRequest) error {
	s.calls++
	return s.err
}

type env struct {
	cfg       *config.Config
	store     *jobstore.Store
	scheduler *stubScheduler
	ts        *httptest.Server
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	scheduler := &stubScheduler{}
	notifier := notifications.NewService(cfg)
	processor := batch.NewProcessor(cfg, store, stubEnricher{}, notifier, nil)
	control := jobctl.NewController(cfg, store, scheduler, notifier, nil)

	srv, err := server.New(cfg, store, processor, control, notifier, scheduler, nil)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &env{cfg: cfg, store: store, scheduler: scheduler, ts: ts}
}

func (e *env) request(t *testing.T, method, path string, body any, token string) *http.Response {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.ts.URL+path, &payload)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createJob(t *testing.T, e *env, subjectID string, keys ...string) api.Job {
	t.Helper()
	items := make([]api.NewItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, api.NewItem{SourceKey: key})
	}
	resp := e.request(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{SubjectID: subjectID, Items: items}, "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create job: status %d", resp.StatusCode)
	}
	return decode[api.JobDetailResponse](t, resp).Job
}

func TestAuthRequiredWhenTokenConfigured(t *testing.T) {
	e := newEnv(t, testsupport.WithAPIToken("secret"))

	resp := e.request(t, http.MethodGet, "/api/status", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	resp = e.request(t, http.MethodGet, "/api/status", nil, "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", resp.StatusCode)
	}

	resp = e.request(t, http.MethodGet, "/api/status", nil, "secret")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
}

func TestCreateJobQueuesAndTriggers(t *testing.T) {
	e := newEnv(t)

	job := createJob(t, e, "lodge-amboseli", "sha256:a", "sha256:b")
	if job.Status != "pending" || job.SubjectID != "lodge-amboseli" {
		t.Fatalf("unexpected job payload: %+v", job)
	}
	if e.scheduler.calls != 1 {
		t.Fatalf("expected 1 scheduler start, got %d", e.scheduler.calls)
	}

	// A second submission for the same subject is rejected while active.
	resp := e.request(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{
		SubjectID: "lodge-amboseli",
		Items:     []api.NewItem{{SourceKey: "sha256:c"}},
	}, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for active subject, got %d", resp.StatusCode)
	}
}

func TestCreateJobValidation(t *testing.T) {
	e := newEnv(t)

	resp := e.request(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{SubjectID: "", Items: []api.NewItem{{SourceKey: "x"}}}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing subject, got %d", resp.StatusCode)
	}

	resp = e.request(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{SubjectID: "lodge-x"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty items, got %d", resp.StatusCode)
	}
}

func TestCreateJobTriggerFailureSettlesJob(t *testing.T) {
	e := newEnv(t)
	e.scheduler.err = errors.New("scheduler offline")

	resp := e.request(t, http.MethodPost, "/api/jobs", api.CreateJobRequest{
		SubjectID: "camp-okavango",
		Items:     []api.NewItem{{SourceKey: "sha256:a"}},
	}, "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}

	jobs, err := e.store.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != jobstore.JobFailed {
		t.Fatalf("expected settled failed job, got %+v", jobs)
	}
}

func TestBatchEndpointDrivesJobToCompletion(t *testing.T) {
	e := newEnv(t, testsupport.WithBatchShape(2, 2), testsupport.WithPhase("publish"))

	job := createJob(t, e, "reserve-mara", "sha256:a", "sha256:b", "sha256:c")

	wantRemaining := []int{1, 0}
	for i, want := range wantRemaining {
		resp := e.request(t, http.MethodPost, "/api/jobs/"+job.ID+"/batches", api.BatchRequest{BatchIndex: i}, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("batch %d: status %d", i, resp.StatusCode)
		}
		response := decode[batch.Response](t, resp)
		if response.Remaining != want {
			t.Fatalf("batch %d: remaining %d, want %d", i, response.Remaining, want)
		}
	}

	detail := decode[api.JobDetailResponse](t, e.request(t, http.MethodGet, "/api/jobs/"+job.ID, nil, ""))
	if detail.Job.Status != "completed" || detail.Job.Processed != 3 {
		t.Fatalf("job not completed: %+v", detail.Job)
	}
	if len(detail.Items) != 3 {
		t.Fatalf("expected 3 items in detail, got %d", len(detail.Items))
	}
}

func TestBatchEndpointUnknownJob(t *testing.T) {
	e := newEnv(t)
	resp := e.request(t, http.MethodPost, "/api/jobs/no-such-job/batches", api.BatchRequest{}, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActionEndpointCancelThenConflict(t *testing.T) {
	e := newEnv(t)
	job := createJob(t, e, "plains-laikipia", "sha256:a")

	resp := e.request(t, http.MethodPost, "/api/jobs/"+job.ID+"/actions", api.ActionRequest{Action: api.ActionCancel}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: status %d", resp.StatusCode)
	}
	action := decode[api.ActionResponse](t, resp)
	if !action.Success || action.JobID != job.ID {
		t.Fatalf("unexpected action response: %+v", action)
	}

	// Cancelling a settled job is an invalid transition.
	resp = e.request(t, http.MethodPost, "/api/jobs/"+job.ID+"/actions", api.ActionRequest{Action: api.ActionCancel}, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", resp.StatusCode)
	}
}

func TestActionEndpointRetryFailedWithoutFailures(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	job := testsupport.NewJob(t, e.store, "camp-kruger", "enrich")
	job.Status = jobstore.JobCompleted
	if err := e.store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	resp := e.request(t, http.MethodPost, "/api/jobs/"+job.ID+"/actions", api.ActionRequest{Action: api.ActionRetryFailed}, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestActionEndpointErrorShapes(t *testing.T) {
	e := newEnv(t)

	resp := e.request(t, http.MethodPost, "/api/jobs/no-such-job/actions", api.ActionRequest{Action: api.ActionRetry}, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	job := createJob(t, e, "delta-moremi", "sha256:a")
	resp = e.request(t, http.MethodPost, "/api/jobs/"+job.ID+"/actions", api.ActionRequest{Action: "explode"}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", resp.StatusCode)
	}
}

func TestListJobsStatusFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	createJob(t, e, "subject-a", "sha256:a")
	done := testsupport.NewJob(t, e.store, "subject-b", "enrich")
	done.Status = jobstore.JobCompleted
	if err := e.store.UpdateJob(ctx, done); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	list := decode[api.JobListResponse](t, e.request(t, http.MethodGet, "/api/jobs?status=completed", nil, ""))
	if len(list.Jobs) != 1 || list.Jobs[0].SubjectID != "subject-b" {
		t.Fatalf("unexpected filtered list: %+v", list.Jobs)
	}

	resp := e.request(t, http.MethodGet, "/api/jobs?status=bogus", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
}

func TestStatusEndpointReportsHealth(t *testing.T) {
	e := newEnv(t)
	createJob(t, e, "subject-a", "sha256:a")

	status := decode[api.StatusResponse](t, e.request(t, http.MethodGet, "/api/status", nil, ""))
	if status.Phase != "enrich" {
		t.Fatalf("unexpected phase: %q", status.Phase)
	}
	if status.Jobs["total"] != 1 || status.Jobs["pending"] != 1 {
		t.Fatalf("unexpected job counts: %+v", status.Jobs)
	}
}
