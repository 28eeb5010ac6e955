package config

const (
	defaultDataDir                 = "~/.local/share/caravan"
	defaultLogDir                  = "~/.local/share/caravan/logs"
	defaultAPIBind                 = "127.0.0.1:7823"
	defaultBatchSize               = 10
	defaultConcurrency             = 3
	defaultPhase                   = "enrich"
	defaultEnrichBaseURL           = "https://api.kiuli.com/enrich/v1/media"
	defaultEnrichModel             = "vision-standard"
	defaultEnrichTimeoutSeconds    = 60
	defaultEnrichRetryMaxAttempts  = 5
	defaultEnrichRetryBaseDelayMS  = 1000
	defaultSchedulerRequestTimeout = 15
	defaultNotifyRequestTimeout    = 10
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Pipeline: Pipeline{
			BatchSize:   defaultBatchSize,
			Concurrency: defaultConcurrency,
			Phase:       defaultPhase,
		},
		Enrichment: Enrichment{
			BaseURL:          defaultEnrichBaseURL,
			Model:            defaultEnrichModel,
			TimeoutSeconds:   defaultEnrichTimeoutSeconds,
			RetryMaxAttempts: defaultEnrichRetryMaxAttempts,
			RetryBaseDelayMS: defaultEnrichRetryBaseDelayMS,
		},
		Scheduler: Scheduler{
			RequestTimeout: defaultSchedulerRequestTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
