/*
Package log provides structured logging for the sbox daemon using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

The daemon's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                     │          │
	│  │  - WithComponent("session.manager")         │          │
	│  │  - WithSessionID("conv-1")                  │          │
	│  │  - WithContainerID("3f2a9c...")             │          │
	│  │  - WithArtifactID("art_4be1...")            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "session.manager",          │          │
	│  │    "session_id": "conv-1",                  │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "session started"             │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF session started component=session.manager │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every daemon package
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithSessionID: Add session key context
  - WithContainerID: Add container ID context
  - WithArtifactID: Add artifact ID context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "port unavailable, trying next"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "session started session_id=conv-1"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "session REPL unhealthy consecutive_failures=2"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "failed to create container: image not found"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "cannot open artifact catalog: %v"

# Usage

Initializing the Logger:

	import "github.com/sboxhq/sbox/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/sbox/daemon.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("daemon started")
	log.Debug("checking container state")
	log.Warn("artifact over size cap, skipped")
	log.Error("failed to reach Docker daemon")
	log.Fatal("cannot start without a blobstore") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("component", "session.manager").
		Str("session_id", "conv-1").
		Str("container_id", cid).
		Msg("session started")

	log.Logger.Error().
		Err(err).
		Str("component", "datasets.staging").
		Str("dataset_id", "sales_2024").
		Msg("dataset fetch failed")

Component Loggers:

	// Create component-specific logger
	apiLog := log.WithComponent("api.server")
	apiLog.Info().Int("port", 8000).Msg("listening")
	apiLog.Debug().Str("route", "/v1/exec").Msg("request received")

	// Multiple context fields
	execLog := log.WithComponent("session.manager").
		With().Str("session_id", "conv-1").
		Str("container_id", cid).Logger()
	execLog.Info().Msg("executing code")
	execLog.Error().Err(err).Msg("execution failed")

Context Logger Helpers:

	// Session-scoped logs
	sessLog := log.WithSessionID("conv-1")
	sessLog.Info().Msg("datasets staged")

	// Container-scoped logs
	ctrLog := log.WithContainerID("3f2a9c81d0")
	ctrLog.Info().Msg("container removed")

	// Artifact-scoped logs
	artLog := log.WithArtifactID("art_4be12c90aa317d44f2a901bc")
	artLog.Info().Msg("blob ingested")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/sboxhq/sbox/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("sbox daemon starting")

		// Component-specific logging
		mgrLog := log.WithComponent("session.manager")
		mgrLog.Info().
			Str("session_id", "conv-1").
			Int("host_port", 49213).
			Msg("session started")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "runtime.docker").
			Msg("failed to reach Docker daemon")

		log.Info("sbox daemon stopped")
	}

# Integration Points

This package integrates with:

  - pkg/session: Logs session lifecycle, execution, and idle eviction
  - pkg/runtime: Logs Docker API calls and container I/O
  - pkg/api: Logs HTTP serving and download denials
  - pkg/artifacts: Logs ingest decisions and store maintenance
  - pkg/datasets: Logs staging, cache writes, and fetch failures
  - pkg/reconciler: Logs stale records and orphan containers

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"session.manager","session_id":"conv-1","time":"2024-10-13T10:30:00Z","message":"session started"}
	{"level":"info","component":"artifacts.ingest","artifact_id":"art_4be12c90","time":"2024-10-13T10:30:01Z","message":"artifact stored"}
	{"level":"error","component":"runtime.docker","container_id":"3f2a9c","error":"image not found","time":"2024-10-13T10:30:02Z","message":"failed to create container"}

Console Format (Development):

	10:30:00 INF session started component=session.manager session_id=conv-1
	10:30:01 INF artifact stored component=artifacts.ingest artifact_id=art_4be12c90
	10:30:02 ERR failed to create container component=runtime.docker container_id=3f2a9c error="image not found"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at daemon start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Provides stack trace information
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)
  - Amortized by buffer pooling

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component or ID fields
  - Cause: Using global Logger instead of context logger
  - Solution: Use WithComponent() or create child loggers

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Check: Embedded quotes or control characters
  - Solution: Use .Str() instead of string interpolation

# Log Rotation

File-Based Logging:

The daemon doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):
	# /etc/logrotate.d/sbox
	/var/log/sbox/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:
	# Automatic rotation by systemd
	journalctl -u sboxd -f

Docker/Kubernetes:
	# Use container runtime log drivers
	# JSON logs to stdout (already implemented)

# Log Aggregation

Recommended Tools:

Elasticsearch + Filebeat:
  - Filebeat ships logs to Elasticsearch
  - Kibana for visualization and search
  - Query: component:"session.manager" AND level:"error"

Loki + Promtail:
  - Lightweight log aggregation
  - Grafana integration
  - Query: {component="session.manager"} |= "error"

# Monitoring

Log-Based Alerts:

High Error Rate:
  - Query: rate(log entries with level="error"[5m]) > 10
  - Description: More than 10 errors per second
  - Action: Check recent errors, investigate root cause

No Logs:
  - Query: absent(log entries[1m])
  - Description: No logs received in 1 minute
  - Action: Check daemon process, log pipeline

Specific Error Pattern:
  - Query: log entries containing "failed to reach Docker daemon"
  - Description: Docker connectivity issues
  - Action: Check Docker status, socket permissions

# Security

Log Content:
  - Never log the artifact signing secret or full download tokens
  - Executed code appears in the per-session session.log, not here
  - Redact tokens and credentials before logging request URLs
  - Review logs before sharing externally

Log Access:
  - Restrict log file permissions (0640)
  - Limit log aggregation access (RBAC)
  - Audit log access in production

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user code into log messages
  - Use typed fields (.Str, .Int) for user data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (session ID, container ID, artifact ID)

Don't:
  - Log sensitive data (signing secret, tokens)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
