/*
Package log provides structured logging for the decompile-and-translate
service using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, a configurable level, and a small set
of helpers for the context fields that recur across this service's
request and job pipelines.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all packages without being passed around

Log Levels:
  - Debug: detailed tracing, disassembler/provider request bodies
  - Info: job lifecycle transitions, server start/stop
  - Warn: recoverable conditions (breaker opened, provider degraded)
  - Error: operation failures requiring investigation
  - Fatal: unrecoverable startup errors (process exits)

Context Loggers:
  - WithComponent: tag logs with the subsystem that emitted them
    ("serve", "jobengine", "api", "gc", ...)
  - WithJobID: scope logs to one decompile job
  - WithWorkerID: scope logs to one job engine worker goroutine
  - WithProviderKey: scope logs to one LLM provider/model pair
  - WithCorrelationID: propagate the caller's X-Correlation-Id header

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	jobLog := log.WithJobID(job.ID)
	jobLog.Info().Str("stage", "disassembly").Msg("stage started")
	jobLog.Error().Err(err).Msg("stage failed")

	log.WithComponent("serve").Info().Str("addr", cfg.HTTPAddr).Msg("listening")

# Security

Never log the raw API key secret, provider API keys, or the database
DSN. Handlers and the admin config endpoint redact these before they
reach a logger or a response body.
*/
package log
