package management_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"faasd/internal/faasfunction"
	"faasd/internal/invocation"
	"faasd/internal/management"
	"faasd/internal/manifest"
)

type fakeOrchestrator struct {
	reloaded []string
	onReload func(name string)
}

func (f *fakeOrchestrator) Reload(name string) {
	f.reloaded = append(f.reloaded, name)
	if f.onReload != nil {
		f.onReload(name)
	}
}

func (f *fakeOrchestrator) Remove(name string) {}

func newHandler(orch *fakeOrchestrator) (*management.Handler, *faasfunction.Registry) {
	registry := faasfunction.New(faasfunction.Config{})
	h := management.New(management.Config{Registry: registry, Orchestrator: orch})
	return h, registry
}

func installRunning(registry *faasfunction.Registry, name string, generation uint64) {
	rm := manifest.RouteManifest{
		Base:   "/" + name,
		Routes: []manifest.Route{{Path: "/", Methods: []string{"GET"}, Handler: "handler.go"}},
	}
	fn := faasfunction.NewRunning(name, "/tmp/"+name, generation, rm, manifest.CronManifest{},
		map[string]string{}, map[string]invocation.HTTPHandler{}, map[string]invocation.JobHandler{})
	_, _ = registry.Install(fn)
}

func TestReloadInstallsAndReportsRunning(t *testing.T) {
	orch := &fakeOrchestrator{}
	h, registry := newHandler(orch)
	orch.onReload = func(name string) { installRunning(registry, name, 1) }

	req := httptest.NewRequest(http.MethodPost, "/management/reload", strings.NewReader(`{"name":"greet"}`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Name != "greet" || resp.Status != "running" {
		t.Errorf("got %+v", resp)
	}
	if len(orch.reloaded) != 1 || orch.reloaded[0] != "greet" {
		t.Errorf("expected orchestrator.Reload to be called with greet, got %v", orch.reloaded)
	}
}

func TestReloadReportsAbsentWhenRegistryHasNoRecord(t *testing.T) {
	h, _ := newHandler(&fakeOrchestrator{})
	req := httptest.NewRequest(http.MethodPost, "/management/reload", strings.NewReader(`{"name":"ghost"}`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestReloadRejectsMissingName(t *testing.T) {
	h, _ := newHandler(&fakeOrchestrator{})
	req := httptest.NewRequest(http.MethodPost, "/management/reload", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestReloadRejectsNonPost(t *testing.T) {
	h, _ := newHandler(&fakeOrchestrator{})
	req := httptest.NewRequest(http.MethodGet, "/management/reload", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestListProjectsRegistry(t *testing.T) {
	h, registry := newHandler(&fakeOrchestrator{})
	installRunning(registry, "greet", 3)

	req := httptest.NewRequest(http.MethodGet, "/management/list", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0]["name"] != "greet" {
		t.Errorf("got %+v", out)
	}
	routes, _ := out[0]["routes"].([]any)
	if len(routes) != 1 || routes[0] != "GET /greet" {
		t.Errorf("routes = %v, want [\"GET /greet\"]", routes)
	}
}

func TestHealthReportsRunningCount(t *testing.T) {
	h, registry := newHandler(&fakeOrchestrator{})
	installRunning(registry, "greet", 1)

	req := httptest.NewRequest(http.MethodGet, "/management/health", nil)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)

	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "healthy" {
		t.Errorf("status = %v", out["status"])
	}
	if out["functions"].(float64) != 1 {
		t.Errorf("functions = %v, want 1", out["functions"])
	}
}
