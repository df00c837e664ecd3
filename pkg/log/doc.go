/*
Package log provides structured logging shared by the RM, TM, and WC
services using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

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
	│  │  - WithComponent("rm-flights")               │          │
	│  │  - WithXid(xid) -- the transaction id        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "rm-flights",                │          │
	│  │    "xid": 482,                               │          │
	│  │    "time": "2026-01-15T10:30:00Z",           │          │
	│  │    "message": "prepared"                    │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-01-15T10:30:00Z INF prepared component=rm-flights xid=482 │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from rm, tm, wc and their service/cmd packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name (e.g. "rm-flights", "tm", "wc")
  - WithXid: Add the transaction identifier, the one correlation field
    that threads through essentially every RM/TM/WC log line

# Usage

Initializing the Logger:

	import "github.com/JoDio-zd/resvoy/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("recovery complete")
	log.Warn("lock conflict on prepare")
	log.Error("decision log write failed")

Structured and xid-scoped Logging:

	xlog := log.WithXid(xid)
	xlog.Info().Str("key", key).Msg("record inserted")
	xlog.Error().Err(err).Str("rm", "flights").Msg("prepare failed")

Component Loggers:

	rmLog := log.WithComponent("rm-flights")
	rmLog.Info().Msg("listening")
	rmLog.Debug().Int64("xid", xid).Msg("enlisting with tm")

# Integration Points

This package integrates with:

  - pkg/rm, pkg/rmservice: per-xid logging of prepare/commit/abort and CRUD
  - pkg/tm, pkg/tmservice: per-xid logging of the two-phase commit protocol
  - pkg/wc, pkg/wc/reservation: per-request logging of cross-RM reservations

# Best Practices

Do:
  - Use WithXid for anything inside a transaction's lifecycle
  - Use structured fields for queryable data
  - Log errors with .Err() rather than string-formatting them in

Don't:
  - Log sensitive customer payment data
  - Use Debug level in production
  - Concatenate strings into the message instead of using fields

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
