package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.BatchSize <= 0 {
		return errors.New("pipeline.batch_size must be positive")
	}
	if c.Pipeline.Concurrency <= 0 {
		return errors.New("pipeline.concurrency must be positive")
	}
	if c.Pipeline.Concurrency > c.Pipeline.BatchSize {
		return fmt.Errorf("pipeline.concurrency (%d) must not exceed pipeline.batch_size (%d)", c.Pipeline.Concurrency, c.Pipeline.BatchSize)
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	if c.Enrichment.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/caravan/config.toml"
		}
		return fmt.Errorf("enrichment.api_key is required. Set ENRICH_API_KEY env var or edit %s (create with 'caravan config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	return ensurePositiveMap(map[string]int{
		"enrichment.timeout_seconds":    c.Enrichment.TimeoutSeconds,
		"enrichment.retry_max_attempts": c.Enrichment.RetryMaxAttempts,
		"scheduler.request_timeout":     c.Scheduler.RequestTimeout,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}
