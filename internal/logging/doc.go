// Package logging constructs the slog loggers used across caravan and
// provides standardized attribute helpers and context-derived fields.
package logging
