package enrich_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caravan/internal/config"
	"caravan/internal/enrich"
)

func testConfig(baseURL string) config.Enrichment {
	return config.Enrichment{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "vision-standard",
	}
}

const resultPayload = `{"result":{"altText":"Lion pride at dusk","caption":"Lions resting","labels":["lion","savanna"],"confidence":0.92}}`

func TestEnrichReturnsResult(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resultPayload))
	}))
	defer server.Close()

	client := enrich.NewClient(testConfig(server.URL))
	result, err := client.Enrich(context.Background(), enrich.Request{
		SourceURL: "https://example.com/lion.jpg",
		MediaKind: "image",
	})
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if result.AltText != "Lion pride at dusk" {
		t.Fatalf("unexpected alt text: %q", result.AltText)
	}
	if len(result.Labels) != 2 || result.Labels[0] != "lion" {
		t.Fatalf("unexpected labels: %v", result.Labels)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
}

func TestEnrichRetriesServerErrorsWithExponentialBackoff(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 4 {
			http.Error(w, "upstream flake", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(resultPayload))
	}))
	defer server.Close()

	var delays []time.Duration
	client := enrich.NewClient(
		testConfig(server.URL),
		enrich.WithRetryMaxAttempts(5),
		enrich.WithRetryBackoff(10*time.Millisecond, time.Second),
		enrich.WithSleeper(func(d time.Duration) { delays = append(delays, d) }),
	)

	if _, err := client.Enrich(context.Background(), enrich.Request{SourceURL: "https://example.com/a.jpg"}); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 requests, got %d", calls)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, delays)
		}
	}
}

func TestEnrichHonorsRetryAfterOnRateLimit(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "5")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(resultPayload))
	}))
	defer server.Close()

	var delays []time.Duration
	client := enrich.NewClient(
		testConfig(server.URL),
		enrich.WithRetryBackoff(10*time.Millisecond, time.Minute),
		enrich.WithSleeper(func(d time.Duration) { delays = append(delays, d) }),
	)

	if _, err := client.Enrich(context.Background(), enrich.Request{SourceURL: "https://example.com/a.jpg"}); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(delays) != 1 {
		t.Fatalf("expected 1 sleep, got %v", delays)
	}
	// Server asked for 5s; that wins over the much smaller backoff.
	if delays[0] != 5*time.Second {
		t.Fatalf("expected 5s delay, got %v", delays[0])
	}
}

func TestEnrichRateLimitUsesBackoffWhenLarger(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 4 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(resultPayload))
	}))
	defer server.Close()

	var delays []time.Duration
	client := enrich.NewClient(
		testConfig(server.URL),
		enrich.WithRetryBackoff(2*time.Second, time.Minute),
		enrich.WithSleeper(func(d time.Duration) { delays = append(delays, d) }),
	)

	if _, err := client.Enrich(context.Background(), enrich.Request{SourceURL: "https://example.com/a.jpg"}); err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, delays)
		}
	}
}

func TestEnrichNetworkErrorsBackOffLinearly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	// Closed immediately so every request fails at the transport layer.
	serverURL := server.URL
	server.Close()

	var delays []time.Duration
	client := enrich.NewClient(
		testConfig(serverURL),
		enrich.WithRetryMaxAttempts(4),
		enrich.WithRetryBackoff(10*time.Millisecond, time.Second),
		enrich.WithSleeper(func(d time.Duration) { delays = append(delays, d) }),
	)

	_, err := client.Enrich(context.Background(), enrich.Request{SourceURL: "https://example.com/a.jpg"})
	var exhausted *enrich.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 4 {
		t.Fatalf("expected 4 attempts, got %d", exhausted.Attempts)
	}
	if exhausted.Unwrap() == nil {
		t.Fatal("expected wrapped cause")
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, delays)
		}
	}
}

func TestEnrichPerAttemptTimeoutsBackOffLinearly(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// Slower than the client's per-attempt timeout, so every attempt
		// times out at the transport layer.
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
	}))
	defer server.Close()

	var delays []time.Duration
	client := enrich.NewClient(
		testConfig(server.URL),
		enrich.WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}),
		enrich.WithRetryMaxAttempts(3),
		enrich.WithRetryBackoff(10*time.Millisecond, time.Second),
		enrich.WithSleeper(func(d time.Duration) { delays = append(delays, d) }),
	)

	_, err := client.Enrich(context.Background(), enrich.Request{SourceURL: "https://example.com/a.jpg"})
	var exhausted *enrich.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", exhausted.Attempts)
	}
	if calls != 3 {
		t.Fatalf("expected 3 requests, got %d", calls)
	}

	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("expected delays %v, got %v", want, delays)
		}
	}
}

func TestEnrichMalformedResponseIsTerminal(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("not json"))
	}))
	defer server.Close()

	var delays []time.Duration
	client := enrich.NewClient(
		testConfig(server.URL),
		enrich.WithSleeper(func(d time.Duration) { delays = append(delays, d) }),
	)

	_, err := client.Enrich(context.Background(), enrich.Request{SourceURL: "https://example.com/a.jpg"})
	if err == nil {
		t.Fatal("expected error for malformed response")
	}
	var exhausted *enrich.ExhaustedError
	if errors.As(err, &exhausted) {
		t.Fatalf("malformed response must not be retried: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 request, got %d", calls)
	}
	if len(delays) != 0 {
		t.Fatalf("expected no sleeps, got %v", delays)
	}
}

func TestEnrichRequiresSourceURL(t *testing.T) {
	client := enrich.NewClient(testConfig("https://example.invalid"))
	if _, err := client.Enrich(context.Background(), enrich.Request{}); err == nil {
		t.Fatal("expected error for missing source url")
	}
}

func TestEnrichStopsWhenContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream flake", http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := enrich.NewClient(
		testConfig(server.URL),
		enrich.WithRetryBackoff(10*time.Millisecond, time.Second),
		enrich.WithSleeper(func(time.Duration) { cancel() }),
	)

	_, err := client.Enrich(ctx, enrich.Request{SourceURL: "https://example.com/a.jpg"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
