// Package mux resolves inbound HTTP requests against the currently
// installed functions and dispatches to their handlers.
package mux

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"faasd/internal/faasfunction"
	"faasd/internal/invocation"
	"faasd/internal/logging"
)

// Config configures a Mux.
type Config struct {
	// Logger backs per-request loggers and ACCESS records. Required.
	Logger *logging.Logger
	// FunctionCount reports the number of currently running functions,
	// used to answer GET /health.
	FunctionCount func() int
}

// Mux dispatches requests to loaded function handlers. Safe for concurrent
// use; Rebuild publishes a new route table with a single atomic pointer
// swap so in-flight requests always see one complete generation.
type Mux struct {
	table         atomic.Pointer[Table]
	logger        *logging.Logger
	functionCount func() int
	limiter       *rateLimiter
}

// New creates an empty Mux. Call Rebuild once functions are loaded.
func New(cfg Config) *Mux {
	m := &Mux{
		logger:        cfg.Logger,
		functionCount: cfg.FunctionCount,
		limiter:       newRateLimiter(),
	}
	m.table.Store(&Table{})
	return m
}

// Rebuild computes a fresh route table from the current function set and
// publishes it. Readers in flight keep using the old table until they
// finish; the next request sees the new one.
func (m *Mux) Rebuild(functions []*faasfunction.Function) {
	m.table.Store(BuildTable(functions))
}

// SetRateLimit installs a per-function request-rate limit. rps <= 0
// removes any limit for that function.
func (m *Mux) SetRateLimit(function string, rps float64, burst int) {
	m.limiter.Set(function, rps, burst)
}

func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		m.serveHealth(w)
		return
	}

	start := time.Now()
	table := m.table.Load()
	result, ok := table.Resolve(r.Method, r.URL.Path)

	if !ok {
		m.writeNotFound(w, r, table)
		return
	}
	if result.entry == nil {
		m.writeMethodNotAllowed(w, result)
		return
	}

	if !m.limiter.Allow(result.entry.Function) {
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	m.dispatch(w, r, result, start)
}

func (m *Mux) serveHealth(w http.ResponseWriter) {
	count := 0
	if m.functionCount != nil {
		count = m.functionCount()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"functions": count,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (m *Mux) writeNotFound(w http.ResponseWriter, r *http.Request, table *Table) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"method":          r.Method,
		"path":            r.URL.Path,
		"availableRoutes": table.patterns(),
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	})
}

func (m *Mux) writeMethodNotAllowed(w http.ResponseWriter, result match) {
	w.Header().Set("Allow", allowHeader(result.allMethods))
	w.WriteHeader(http.StatusMethodNotAllowed)
}

// patterns lists every distinct route pattern, for 404 diagnostics.
func (t *Table) patterns() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range t.entries {
		if !seen[e.Pattern] {
			seen[e.Pattern] = true
			out = append(out, e.Pattern)
		}
	}
	return out
}

func (m *Mux) dispatch(w http.ResponseWriter, r *http.Request, result match, start time.Time) {
	entry := result.entry
	logger := m.logger.WithFunction(entry.Function)

	body, _ := readBody(r)
	req := &invocation.Request{
		Method:       r.Method,
		FullPath:     entry.Pattern,
		RoutePath:    r.URL.Path,
		PathParams:   result.pathParams,
		QueryParams:  r.URL.Query(),
		Headers:      r.Header,
		Body:         body,
		Env:          entry.Env,
		Logger:       logger,
		FunctionName: entry.Function,
		RequestID:    uuid.NewString(),
	}
	resp := newHTTPResponse(w)

	err := m.invoke(entry, req, resp, logger)

	if err != nil {
		logger.Error("handler error", "route", entry.Pattern, "error", err)
		if !resp.Written() {
			resp.Header().Set("Content-Type", "application/json")
			resp.WriteStatus(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":     err.Error(),
				"function":  entry.Function,
				"route":     entry.Pattern,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		}
	} else if !resp.Written() {
		resp.WriteStatus(http.StatusOK)
	}

	m.logAccess(entry.Function, r, resp.status, time.Since(start))
}

// invoke calls the handler, converting a panic into an error the same way
// a returned error is handled — both surface as a 500 unless the handler
// had already written a response.
func (m *Mux) invoke(entry *routeEntry, req *invocation.Request, resp *httpResponse, logger *slog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("handler panicked", "route", entry.Pattern, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return entry.Handler(req, resp)
}

func (m *Mux) logAccess(function string, r *http.Request, status int, duration time.Duration) {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	m.logger.WithFunction(function).Log(r.Context(), logging.LevelAccess, "request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"remote_addr", addr,
		"user_agent", r.UserAgent(),
	)
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
