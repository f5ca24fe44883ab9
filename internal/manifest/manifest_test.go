package manifest_test

import (
	"os"
	"path/filepath"
	"testing"

	"faasd/internal/manifest"
)

func writeFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadRoutesDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "route.config.json", `{
		"routes": [
			{"path": "hello", "methods": ["get", "post"]}
		]
	}`)

	rm, err := manifest.LoadRoutes(dir, "myfunc")
	if err != nil {
		t.Fatalf("LoadRoutes: %v", err)
	}
	if rm.Base != "/myfunc" {
		t.Errorf("Base = %q, want /myfunc", rm.Base)
	}
	if len(rm.Routes) != 1 {
		t.Fatalf("len(Routes) = %d, want 1", len(rm.Routes))
	}
	r := rm.Routes[0]
	if r.Path != "/hello" {
		t.Errorf("Path = %q, want /hello", r.Path)
	}
	if r.Handler != "handler.go" {
		t.Errorf("Handler = %q, want handler.go (default)", r.Handler)
	}
	if r.Methods[0] != "GET" || r.Methods[1] != "POST" {
		t.Errorf("Methods = %v, want [GET POST] (upper-cased)", r.Methods)
	}
}

func TestLoadRoutesRejectsEmptyRoutes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "route.config.json", `{"routes": []}`)

	if _, err := manifest.LoadRoutes(dir, "f"); err == nil {
		t.Fatal("expected error for empty routes array")
	}
}

func TestLoadRoutesRejectsUnknownMethod(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "route.config.json", `{"routes": [{"path": "/x", "methods": ["FETCH"]}]}`)

	if _, err := manifest.LoadRoutes(dir, "f"); err == nil {
		t.Fatal("expected error for unknown method")
	}
}

func TestLoadRoutesParsesRateLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "route.config.json", `{
		"routes": [{"path": "/x", "methods": ["GET"]}],
		"rateLimit": {"requestsPerSecond": 5, "burst": 10}
	}`)

	rm, err := manifest.LoadRoutes(dir, "f")
	if err != nil {
		t.Fatalf("LoadRoutes: %v", err)
	}
	if rm.RateLimit == nil {
		t.Fatal("expected RateLimit to be set")
	}
	if rm.RateLimit.RequestsPerSecond != 5 || rm.RateLimit.Burst != 10 {
		t.Errorf("RateLimit = %+v, want {5 10}", rm.RateLimit)
	}
}

func TestLoadRoutesRateLimitDefaultsBurstToRate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "route.config.json", `{
		"routes": [{"path": "/x", "methods": ["GET"]}],
		"rateLimit": {"requestsPerSecond": 3}
	}`)

	rm, err := manifest.LoadRoutes(dir, "f")
	if err != nil {
		t.Fatalf("LoadRoutes: %v", err)
	}
	if rm.RateLimit == nil || rm.RateLimit.Burst != 3 {
		t.Errorf("RateLimit = %+v, want burst defaulted to 3", rm.RateLimit)
	}
}

func TestLoadRoutesRejectsNonPositiveRateLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "route.config.json", `{
		"routes": [{"path": "/x", "methods": ["GET"]}],
		"rateLimit": {"requestsPerSecond": 0}
	}`)

	if _, err := manifest.LoadRoutes(dir, "f"); err == nil {
		t.Fatal("expected error for non-positive requestsPerSecond")
	}
}

func TestLoadRoutesNoRateLimitBlockLeavesNilRateLimit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "route.config.json", `{"routes": [{"path": "/x", "methods": ["GET"]}]}`)

	rm, err := manifest.LoadRoutes(dir, "f")
	if err != nil {
		t.Fatalf("LoadRoutes: %v", err)
	}
	if rm.RateLimit != nil {
		t.Errorf("RateLimit = %+v, want nil", rm.RateLimit)
	}
}

func TestLoadCronMissingFileIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	cm, err := manifest.LoadCron(dir)
	if err != nil {
		t.Fatalf("LoadCron: %v", err)
	}
	if len(cm.Jobs) != 0 {
		t.Errorf("expected zero jobs, got %d", len(cm.Jobs))
	}
}

func TestLoadCronEmptyJobsArrayIsNotError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cron.json", `{"jobs": []}`)
	cm, err := manifest.LoadCron(dir)
	if err != nil {
		t.Fatalf("LoadCron: %v", err)
	}
	if len(cm.Jobs) != 0 {
		t.Errorf("expected zero jobs, got %d", len(cm.Jobs))
	}
}

func TestLoadCronDefaultsTimezoneAndAllowsMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cron.json", `{
		"jobs": [
			{"name": "tick", "schedule": "*/1 * * * *", "handler": "missing.go"}
		]
	}`)
	cm, err := manifest.LoadCron(dir)
	if err != nil {
		t.Fatalf("LoadCron: %v", err)
	}
	if len(cm.Jobs) != 1 {
		t.Fatalf("len(Jobs) = %d, want 1", len(cm.Jobs))
	}
	if cm.Jobs[0].Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC default", cm.Jobs[0].Timezone)
	}
}

func TestLoadCronRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cron.json", `{
		"jobs": [
			{"name": "tick", "schedule": "* * * * *", "handler": "h.go"},
			{"name": "tick", "schedule": "* * * * *", "handler": "h.go"}
		]
	}`)
	if _, err := manifest.LoadCron(dir); err == nil {
		t.Fatal("expected error for duplicate job name")
	}
}
