// Package trigger starts pipeline executions through the scheduler webhook.
// The scheduler then drives batches against the HTTP API until the job
// settles.
package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"caravan/internal/config"
)

// StartRequest identifies the job a new execution should drive.
type StartRequest struct {
	JobID     string `json:"jobId"`
	SubjectID string `json:"subjectId"`
	Phase     string `json:"phase"`
}

// Scheduler starts batch executions for queued jobs.
type Scheduler interface {
	StartExecution(ctx context.Context, req StartRequest) error
}

// NewScheduler builds a webhook-backed scheduler when configured. Without a
// webhook URL a noop implementation is returned, for deployments where the
// scheduler polls on its own.
func NewScheduler(cfg *config.Config) Scheduler {
	url := strings.TrimSpace(cfg.Scheduler.WebhookURL)
	if url == "" {
		return noopScheduler{}
	}

	timeout := time.Duration(cfg.Scheduler.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &webhookScheduler{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type webhookScheduler struct {
	url    string
	client *http.Client
}

func (s *webhookScheduler) StartExecution(ctx context.Context, req StartRequest) error {
	encoded, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build start request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("start execution: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("scheduler returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopScheduler struct{}

func (noopScheduler) StartExecution(context.Context, StartRequest) error { return nil }
