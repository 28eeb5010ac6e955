package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	c.normalizeEnrichment()
	c.normalizeScheduler()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	return nil
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = defaultBatchSize
	}
	if c.Pipeline.Concurrency <= 0 {
		c.Pipeline.Concurrency = defaultConcurrency
	}
	c.Pipeline.Phase = strings.ToLower(strings.TrimSpace(c.Pipeline.Phase))
	if c.Pipeline.Phase == "" {
		c.Pipeline.Phase = defaultPhase
	}
}

func (c *Config) normalizeEnrichment() {
	if c.Enrichment.APIKey == "" {
		if value, ok := os.LookupEnv("ENRICH_API_KEY"); ok {
			c.Enrichment.APIKey = value
		}
	}
	c.Enrichment.APIKey = strings.TrimSpace(c.Enrichment.APIKey)
	c.Enrichment.BaseURL = strings.TrimSpace(c.Enrichment.BaseURL)
	if c.Enrichment.BaseURL == "" {
		c.Enrichment.BaseURL = defaultEnrichBaseURL
	}
	c.Enrichment.Model = strings.TrimSpace(c.Enrichment.Model)
	if c.Enrichment.Model == "" {
		c.Enrichment.Model = defaultEnrichModel
	}
	if c.Enrichment.TimeoutSeconds <= 0 {
		c.Enrichment.TimeoutSeconds = defaultEnrichTimeoutSeconds
	}
	if c.Enrichment.RetryMaxAttempts <= 0 {
		c.Enrichment.RetryMaxAttempts = defaultEnrichRetryMaxAttempts
	}
	if c.Enrichment.RetryBaseDelayMS <= 0 {
		c.Enrichment.RetryBaseDelayMS = defaultEnrichRetryBaseDelayMS
	}
}

func (c *Config) normalizeScheduler() {
	c.Scheduler.WebhookURL = strings.TrimSpace(c.Scheduler.WebhookURL)
	if c.Scheduler.RequestTimeout <= 0 {
		c.Scheduler.RequestTimeout = defaultSchedulerRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}
