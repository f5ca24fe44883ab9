package env_test

import (
	"os"
	"path/filepath"
	"testing"

	"faasd/internal/logging"

	"faasd/internal/env"
)

func writeEnvFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	return path
}

func TestParseBasic(t *testing.T) {
	path := writeEnvFile(t, "FOO=bar\n# a comment\nBAZ=\"quoted value\"\nEMPTY=\n")
	vars, err := env.Parse(path, logging.Discard())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := map[string]string{"FOO": "bar", "BAZ": "quoted value", "EMPTY": ""}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("vars[%q] = %q, want %q", k, vars[k], v)
		}
	}
}

func TestParseMissingFileReturnsEmpty(t *testing.T) {
	vars, err := env.Parse(filepath.Join(t.TempDir(), ".env"), logging.Discard())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(vars) != 0 {
		t.Errorf("expected empty map, got %v", vars)
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	path := writeEnvFile(t, "GOOD=1\nthis is not valid\n2BAD=no\nexport ALSO_GOOD=2\n")
	vars, err := env.Parse(path, logging.Discard())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if vars["GOOD"] != "1" {
		t.Errorf("GOOD = %q, want 1", vars["GOOD"])
	}
	if vars["ALSO_GOOD"] != "2" {
		t.Errorf("ALSO_GOOD = %q, want 2", vars["ALSO_GOOD"])
	}
	if _, ok := vars["2BAD"]; ok {
		t.Error("expected invalid key 2BAD to be skipped")
	}
}
