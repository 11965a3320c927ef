/*
Package log provides structured logging for Gantry using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Gantry's logging system provides structured JSON logging with minimal overhead:

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
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("pipeline")                │          │
	│  │  - WithDeploymentID("deploy-abc123")        │          │
	│  │  - WithApplication("accounts")              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "pipeline",                 │          │
	│  │    "time": "2026-08-25T10:30:00Z",         │          │
	│  │    "message": "task started"                │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF task started component=pipeline │         │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Gantry packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithDeploymentID: Add deployment ID context
  - WithApplication: Add application name context

# Usage

Initializing the Logger:

	import "github.com/gantryhq/gantry/pkg/log"

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

Simple Logging:

	log.Info("Orchestrator started")
	log.Warn("Retrying remote task poll")
	log.Error("Failed to persist deployment")
	log.Fatal("Cannot open deployment store") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("deployment", "deploy-123").
		Str("action", "create-asg").
		Msg("Task started")

	log.Logger.Error().
		Err(err).
		Str("application", "accounts").
		Msg("Deployment failed")

Component Loggers:

	pipelineLog := log.WithComponent("pipeline")
	pipelineLog.Info().Msg("Starting task")
	pipelineLog.Debug().Str("task", "task-123").Msg("Dispatching action")

	deployLog := log.WithComponent("orchestrator").
		With().Str("deployment", "deploy-abc").Logger()
	deployLog.Info().Msg("Deployment begun")

# Integration Points

This package integrates with:

  - pkg/orchestrator: Logs queue consumption and deployment lifecycle
  - pkg/pipeline: Logs task dispatch and completion
  - pkg/tracker: Logs remote task polling and retries
  - pkg/asg: Logs remote service calls
  - pkg/api: Logs HTTP requests and errors
  - pkg/storage: Logs persistence failures

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for consistent error formatting
  - Include context (deployment ID, application, action)

Don't:
  - Log ticket contents or user-supplied messages unescaped
  - Use Debug level in production
  - Log inside the 1s poll loop at Info level
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
