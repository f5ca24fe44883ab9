package logging

import (
	"fmt"
	"io"
	"log/slog"
)

// Discard returns a logger that drops everything. Used as the fallback
// when a component is constructed without an explicit logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Default returns logger if non-nil, otherwise Discard(). Every component
// constructor should call this once, at construction time, and never touch
// the package-level default logger:
//
//	l := logging.Default(cfg.Logger).With("function", name)
func Default(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// Config controls where and how a Logger persists records.
type Config struct {
	// Dir is the root logs directory. The global sink is written to
	// Dir/main.log; per-function sinks to Dir/functions/<name>.log and
	// Dir/functions/<name>.error.log.
	Dir string

	// MaxBytes is the size at which a sink rotates. Zero uses a 100MB
	// default.
	MaxBytes int64

	// MaxBackups is how many compressed generations are kept per sink.
	// Zero uses a default of 5.
	MaxBackups int

	// Compression selects the codec for rotated backups. Defaults to gzip.
	Compression Compression

	// DefaultLevel is the minimum level for functions with no explicit
	// override. Defaults to INFO.
	DefaultLevel slog.Level

	// Enrich augments ACCESS records in place (GeoIP country/ASN lookup).
	// Nil disables enrichment.
	Enrich EnrichFunc
}

// Logger is the host-wide logging facility: a *slog.Logger for general use,
// plus the per-function level control and bounded-read API the management
// surface and route multiplexer need.
type Logger struct {
	*slog.Logger
	filter  *FunctionFilterHandler
	writers *writers
}

// New builds a Logger backed by a global sink and per-function sinks under
// cfg.Dir, all rotated and compressed in place.
func New(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("logging: Dir is required")
	}
	w, err := newWriters(cfg.Dir, cfg.MaxBytes, cfg.MaxBackups, cfg.Compression, cfg.Enrich)
	if err != nil {
		return nil, err
	}

	defaultLevel := cfg.DefaultLevel
	if defaultLevel == 0 {
		defaultLevel = LevelInfo
	}

	sink := newSinkHandler(w)
	filter := NewFunctionFilterHandler(sink, defaultLevel)

	return &Logger{
		Logger:  slog.New(filter),
		filter:  filter,
		writers: w,
	}, nil
}

// WithFunction scopes a logger to a function name. Every record emitted
// through the returned logger carries "function": name, which the
// per-function filter, sinks, and ring buffers all key on.
func (l *Logger) WithFunction(name string) *slog.Logger {
	return l.Logger.With("function", name)
}

// SetLevel overrides the minimum level logged for function.
func (l *Logger) SetLevel(function string, level slog.Level) {
	l.filter.SetLevel(function, level)
}

// ClearLevel reverts function to the host default level.
func (l *Logger) ClearLevel(function string) {
	l.filter.ClearLevel(function)
}

// Level returns the effective minimum level for function.
func (l *Logger) Level(function string) slog.Level {
	return l.filter.Level(function)
}

// Recent returns up to n of the most recent log records for function at
// the given level (or any level, if level is ""), oldest first.
func (l *Logger) Recent(function, level string, n int) []Record {
	return l.writers.Recent(function, level, n)
}

// Close flushes and closes every sink.
func (l *Logger) Close() error {
	return l.writers.Close()
}
