package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"caravan/internal/config"
)

const userAgent = "Caravan-Go/0.1.0"

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	NotifyJobQueued(ctx context.Context, subjectID string, totalItems int) error
	NotifyJobCompleted(ctx context.Context, subjectID string, processed, skipped, failed int) error
	NotifyJobCancelled(ctx context.Context, subjectID string) error
	NotifyJobRetried(ctx context.Context, subjectID string, version int, failedOnly bool) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint: topic,
		client:   client,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyJobQueued(ctx context.Context, subjectID string, totalItems int) error {
	subjectID = strings.TrimSpace(subjectID)
	data := payload{
		title:   "Caravan - Job Queued",
		message: fmt.Sprintf("Queued %s with %d media items", subjectID, totalItems),
		tags:    []string{"caravan", "job", "queued"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, subjectID string, processed, skipped, failed int) error {
	subjectID = strings.TrimSpace(subjectID)

	var title, message string
	if failed == 0 {
		title = "Caravan - Job Complete"
		message = fmt.Sprintf("%s: %d processed, %d deduplicated", subjectID, processed, skipped)
	} else {
		title = "Caravan - Job Complete (with errors)"
		message = fmt.Sprintf("%s: %d processed, %d deduplicated, %d failed", subjectID, processed, skipped, failed)
	}

	data := payload{
		title:    title,
		message:  message,
		tags:     []string{"caravan", "job", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCancelled(ctx context.Context, subjectID string) error {
	subjectID = strings.TrimSpace(subjectID)
	data := payload{
		title:   "Caravan - Job Cancelled",
		message: fmt.Sprintf("Cancelled ingestion for %s", subjectID),
		tags:    []string{"caravan", "job", "cancelled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobRetried(ctx context.Context, subjectID string, version int, failedOnly bool) error {
	subjectID = strings.TrimSpace(subjectID)
	scope := "full rerun"
	if failedOnly {
		scope = "failed items only"
	}
	data := payload{
		title:   "Caravan - Job Retried",
		message: fmt.Sprintf("Retrying %s as version %d (%s)", subjectID, version, scope),
		tags:    []string{"caravan", "job", "retried"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Caravan - Error",
		message:  builder.String(),
		tags:     []string{"caravan", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Caravan - Test",
		message:  "Notification system test",
		tags:     []string{"caravan", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobQueued(context.Context, string, int) error             { return nil }
func (noopService) NotifyJobCompleted(context.Context, string, int, int, int) error { return nil }
func (noopService) NotifyJobCancelled(context.Context, string) error               { return nil }
func (noopService) NotifyJobRetried(context.Context, string, int, bool) error      { return nil }
func (noopService) NotifyError(context.Context, error, string) error               { return nil }
func (noopService) TestNotification(context.Context) error                         { return nil }
