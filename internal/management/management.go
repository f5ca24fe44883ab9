// Package management implements the JSON-over-HTTP surface described in
// SPEC_FULL.md §4.10: Reload, List, and Health, the only RPC-style entry
// points an external management surface (out of scope for this
// repository) needs to drive the host.
package management

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"faasd/internal/faasfunction"
	"faasd/internal/logging"
)

// Orchestrator is the subset of *orchestrator.Orchestrator this package
// depends on, kept as an interface so tests don't need a real watcher.
type Orchestrator interface {
	Reload(name string)
	Remove(name string)
}

// Config configures a Handler.
type Config struct {
	Registry     *faasfunction.Registry
	Orchestrator Orchestrator
	Logger       *slog.Logger
}

// Handler serves the three management endpoints. It carries no auth logic
// of its own — callers mount it behind auth.RequireBearer for TCP traffic
// and unwrapped on the home directory's unix socket.
type Handler struct {
	registry     *faasfunction.Registry
	orchestrator Orchestrator
	logger       *slog.Logger
}

// New creates a management Handler.
func New(cfg Config) *Handler {
	return &Handler{
		registry:     cfg.Registry,
		orchestrator: cfg.Orchestrator,
		logger:       logging.Default(cfg.Logger).With("component", "management"),
	}
}

// Mux returns an http.Handler with the three endpoints registered under
// /management/.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/management/reload", h.handleReload)
	mux.HandleFunc("/management/list", h.handleList)
	mux.HandleFunc("/management/health", h.handleHealth)
	return mux
}

type reloadRequest struct {
	Name string `json:"name"`
}

type reloadResponse struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	Generation    uint64 `json:"generation"`
	FailureReason string `json:"failureReason,omitempty"`
}

// handleReload drives a synchronous reload of the named function, exactly
// as a directoryAdded/configChanged filesystem event would, and reports
// the resulting terminal status.
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	h.logger.Info("management reload requested", "function", req.Name)
	h.orchestrator.Reload(req.Name)

	fn, ok := h.registry.GetByName(req.Name)
	if !ok {
		writeJSON(w, http.StatusNotFound, reloadResponse{Name: req.Name, Status: "absent"})
		return
	}
	writeJSON(w, http.StatusOK, reloadResponse{
		Name:          fn.Name,
		Status:        string(fn.Status),
		Generation:    fn.Generation,
		FailureReason: fn.FailureReason,
	})
}

type functionSummary struct {
	Name          string   `json:"name"`
	Status        string   `json:"status"`
	Generation    uint64   `json:"generation"`
	Routes        []string `json:"routes"`
	Jobs          []string `json:"jobs"`
	FailureReason string   `json:"failureReason,omitempty"`
	LoadedAt      string   `json:"loadedAt"`
}

// handleList is a direct JSON projection of Registry.List.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	functions := h.registry.List()
	out := make([]functionSummary, 0, len(functions))
	for _, fn := range functions {
		out = append(out, summarize(fn))
	}
	writeJSON(w, http.StatusOK, out)
}

func summarize(fn *faasfunction.Function) functionSummary {
	routes := make([]string, 0, len(fn.RouteKeys))
	for _, k := range fn.RouteKeys {
		routes = append(routes, k.Method+" "+k.FullPath)
	}
	jobs := make([]string, 0, len(fn.Jobs))
	for _, j := range fn.Jobs {
		jobs = append(jobs, j.Name)
	}
	return functionSummary{
		Name:          fn.Name,
		Status:        string(fn.Status),
		Generation:    fn.Generation,
		Routes:        routes,
		Jobs:          jobs,
		FailureReason: fn.FailureReason,
		LoadedAt:      fn.LoadedAt.UTC().Format(time.RFC3339),
	}
}

// handleHealth mirrors GET /health's payload shape.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	running := 0
	for _, fn := range h.registry.List() {
		if fn.Status == faasfunction.StatusRunning {
			running++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"functions": running,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
