// Package main hosts the caravan CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into job
// store queries, operator actions, configuration scaffolding, and the
// foreground API server. It centralizes configuration resolution so
// subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
