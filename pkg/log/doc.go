/*
Package log provides structured logging for Magpie using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

Magpie's logging system provides structured JSON logging with minimal overhead:

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
	│  │  - WithComponent("scheduler")               │          │
	│  │  - WithTaskID("task-abc123")                │          │
	│  │  - WithExecutionID("exec-xyz")              │          │
	│  │  - WithScheduleID("sched-def456")           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "scheduler",                │          │
	│  │    "time": "2024-10-13T10:30:00Z",         │          │
	│  │    "message": "schedule fired"              │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF schedule fired component=scheduler │      │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Magpie packages
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
  - WithTaskID: Add task ID context
  - WithExecutionID: Add execution ID context
  - WithScheduleID: Add schedule ID context

# Usage

Initializing the Logger:

	import "github.com/cuemby/magpie/pkg/log"

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

	log.Info("Orchestrator initialized successfully")
	log.Debug("Checking due schedules")
	log.Warn("Heartbeat older than threshold")
	log.Error("Failed to reach container host")
	log.Fatal("Cannot start without store") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("execution_id", "exec-123").
		Int("host_port", 50123).
		Msg("Container started")

	log.Logger.Error().
		Err(err).
		Str("task_id", "task-abc").
		Msg("Execution start failed")

Component Loggers:

	// Create component-specific logger
	schedulerLog := log.WithComponent("scheduler")
	schedulerLog.Info().Msg("Starting scheduler loop")
	schedulerLog.Debug().Str("schedule_id", "sched-123").Msg("Schedule due")

	// Multiple context fields
	execLog := log.WithComponent("engine").
		With().Str("task_id", "task-abc").
		Str("execution_id", "exec-123").Logger()
	execLog.Info().Msg("Starting execution")
	execLog.Error().Err(err).Msg("Execution failed")

Context Logger Helpers:

	// Task-specific logs
	taskLog := log.WithTaskID("task-abc123")
	taskLog.Info().Msg("Task created")

	// Execution-specific logs
	execLog := log.WithExecutionID("exec-xyz789")
	execLog.Info().Msg("Heartbeat received")

	// Schedule-specific logs
	schedLog := log.WithScheduleID("sched-def456")
	schedLog.Info().Msg("Next fire recomputed")

# Integration Points

This package integrates with:

  - pkg/manager: Logs task CRUD and lifecycle operations
  - pkg/scheduler: Logs leadership, ticks, and fire decisions
  - pkg/engine: Logs container start/stop and port allocation
  - pkg/reconciler: Logs liveness resolution and cleanup
  - pkg/callback: Logs heartbeat and completion ingestion
  - pkg/hostdriver: Logs host command execution

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"scheduler","time":"2024-10-13T10:30:00Z","message":"Leader lease acquired"}
	{"level":"info","component":"engine","execution_id":"exec-123","time":"2024-10-13T10:30:01Z","message":"Container started"}
	{"level":"error","component":"reconciler","execution_id":"exec-abc","error":"container missing","time":"2024-10-13T10:30:02Z","message":"Execution resolved as failed"}

Console Format (Development):

	10:30:00 INF Leader lease acquired component=scheduler
	10:30:01 INF Container started component=engine execution_id=exec-123
	10:30:02 ERR Execution resolved as failed component=reconciler execution_id=exec-abc error="container missing"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
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
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Include context (task ID, execution ID, schedule ID)

Don't:
  - Log sensitive data (credentials, session cookies)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
