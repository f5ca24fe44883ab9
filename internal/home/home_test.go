package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	d := New("/tmp/faasd-test")
	if d.Root() != "/tmp/faasd-test" {
		t.Errorf("expected root /tmp/faasd-test, got %s", d.Root())
	}
}

func TestDefault(t *testing.T) {
	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.Root() == "" {
		t.Fatal("expected non-empty root")
	}
	if filepath.Base(d.Root()) != ".faasd" {
		t.Errorf("expected root to end with '.faasd', got %s", d.Root())
	}
}

func TestFunctionsDir(t *testing.T) {
	d := New("/data")
	if got := d.FunctionsDir(); got != "/data/functions" {
		t.Errorf("got %s", got)
	}
}

func TestLogDir(t *testing.T) {
	d := New("/data")
	if got := d.LogDir(); got != "/data/logs" {
		t.Errorf("got %s", got)
	}
}

func TestSocketPath(t *testing.T) {
	d := New("/data")
	if got := d.SocketPath(); got != "/data/faasd.sock" {
		t.Errorf("got %s", got)
	}
}

func TestTokenPath(t *testing.T) {
	d := New("/data")
	if got := d.TokenPath(); got != "/data/token" {
		t.Errorf("got %s", got)
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "faasd")
	d := New(root)
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory")
	}

	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists (idempotent): %v", err)
	}
}
