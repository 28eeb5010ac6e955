// Package config loads, normalizes, and validates the TOML configuration
// used by the caravan ingestion daemon and CLI.
package config
