package installer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"faasd/internal/installer"
)

func TestInstallNoManifestSucceedsImmediately(t *testing.T) {
	in := installer.New(installer.Config{})
	dir := t.TempDir()
	err := in.Install(context.Background(), "f", dir, installer.Manifest{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
}

func TestInstallCacheHitSkipsResolver(t *testing.T) {
	dir := t.TempDir()
	decl := filepath.Join(dir, "deps.json")
	lock := filepath.Join(dir, "deps.lock")
	if err := os.WriteFile(decl, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(lock, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	in := installer.New(installer.Config{})
	m := installer.Manifest{
		DeclarationFile: "deps.json",
		LockFile:        "deps.lock",
		Command:         "does-not-exist-should-never-run",
	}
	if err := in.Install(context.Background(), "f", dir, m); err != nil {
		t.Fatalf("Install should cache-hit without invoking resolver: %v", err)
	}
}

func TestInstallRunsResolverOnStaleCacheAndFailsOnNonzeroExit(t *testing.T) {
	dir := t.TempDir()
	decl := filepath.Join(dir, "deps.json")
	if err := os.WriteFile(decl, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	in := installer.New(installer.Config{Timeout: time.Second})
	m := installer.Manifest{
		DeclarationFile: "deps.json",
		Command:         "false",
	}
	err := in.Install(context.Background(), "f", dir, m)
	if err == nil {
		t.Fatal("expected error from resolver exiting non-zero")
	}
}

func TestInstallSucceedsWithWorkingResolver(t *testing.T) {
	dir := t.TempDir()
	decl := filepath.Join(dir, "deps.json")
	if err := os.WriteFile(decl, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	in := installer.New(installer.Config{Timeout: time.Second})
	m := installer.Manifest{
		DeclarationFile: "deps.json",
		Command:         "true",
	}
	if err := in.Install(context.Background(), "f", dir, m); err != nil {
		t.Fatalf("Install: %v", err)
	}
}
