package testsupport

import (
	"path/filepath"
	"testing"

	"caravan/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Enrichment.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithPhase overrides the pipeline phase this instance drives.
func WithPhase(phase string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.Phase = phase
	}
}

// WithBatchShape sets the batch size and wave concurrency on the test config.
func WithBatchShape(batchSize, concurrency int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.BatchSize = batchSize
		cfg.Pipeline.Concurrency = concurrency
	}
}

// WithAPIToken sets the bearer token required by the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Paths.APIToken = token
	}
}
