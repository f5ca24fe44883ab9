// Package logging provides the structured, per-function logging used across
// the function host.
//
// Design principles, carried over from the log/slog conventions this package
// generalizes:
//   - Logging is dependency-injected, never global
//   - Each component owns its own scoped logger
//   - Logger scoping happens once at construction time
//   - If no logger is provided, a discard logger is used
//
// Global configuration (output format, level, destination, rotation) belongs
// only in main(). Components must never call slog.SetDefault.
package logging

import "log/slog"

// Levels beyond the four slog defines. ACCESS is used by the route
// multiplexer's request-completion hook; CRON and CRON_ERROR by the
// scheduler. Values are chosen to sort sensibly alongside the standard
// levels: ACCESS and CRON sit between INFO and WARN, CRON_ERROR sits
// just above ERROR.
const (
	LevelDebug     = slog.LevelDebug
	LevelInfo      = slog.LevelInfo
	LevelAccess    = slog.Level(2)
	LevelCron      = slog.Level(3)
	LevelWarn      = slog.LevelWarn
	LevelError     = slog.LevelError
	LevelCronError = slog.Level(9)
)

// levelNames maps the non-standard levels to their wire names. Standard
// levels already render correctly via slog.Level.String().
var levelNames = map[slog.Level]string{
	LevelAccess:    "ACCESS",
	LevelCron:      "CRON",
	LevelCronError: "CRON_ERROR",
}

// levelString renders a level the way records in logs/*.log should show it.
func levelString(l slog.Level) string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return l.String()
}

// ParseLevel maps a level name (as read from LOG_LEVEL or a filter query)
// to its slog.Level. Unknown names fall back to INFO.
func ParseLevel(s string) slog.Level {
	switch s {
	case "DEBUG", "debug":
		return LevelDebug
	case "INFO", "info", "":
		return LevelInfo
	case "ACCESS", "access":
		return LevelAccess
	case "CRON", "cron":
		return LevelCron
	case "WARN", "warn", "WARNING", "warning":
		return LevelWarn
	case "ERROR", "error":
		return LevelError
	case "CRON_ERROR", "cron_error":
		return LevelCronError
	default:
		return LevelInfo
	}
}
