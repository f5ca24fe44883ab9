// Package installer ensures a function's declared dependencies are
// materialized on disk before the Handler Loader runs.
package installer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"faasd/internal/logging"
)

// Error is returned when installation fails; it is terminal for the
// current load attempt.
type Error struct {
	Function string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dependency install failed for %q: %s", e.Function, e.Reason)
}

// Manifest names the dependency declaration and lock file an installer
// implementation looks for within a function directory.
type Manifest struct {
	// DeclarationFile is the dependency manifest (e.g. go.mod). If absent,
	// install succeeds immediately with no work done.
	DeclarationFile string
	// LockFile records a completed install. If it exists and is at least
	// as new as DeclarationFile, install is a cache hit.
	LockFile string
	// Command and Args invoke the platform's dependency resolver, run with
	// the function directory as its working directory.
	Command string
	Args    []string
}

// Config configures an Installer.
type Config struct {
	// Timeout bounds each resolver invocation. Zero uses a 60s default.
	Timeout time.Duration
	// Concurrency bounds how many installs run at once across functions.
	// Zero uses a default of 4.
	Concurrency int
	// Logger is scoped with "component": "installer". Nil discards.
	Logger *slog.Logger
}

// Installer serializes dependency installation per function and bounds
// install concurrency across functions.
type Installer struct {
	timeout time.Duration
	sem     chan struct{}
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Installer from cfg.
func New(cfg Config) *Installer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Installer{
		timeout: timeout,
		sem:     make(chan struct{}, concurrency),
		logger:  logging.Default(cfg.Logger).With("component", "installer"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Install ensures function's dependencies (per m) are ready, blocking until
// done or ctx is cancelled. Installs for the same function name never run
// concurrently with themselves; installs for different functions proceed
// in parallel up to the configured bound.
func (in *Installer) Install(ctx context.Context, function, dir string, m Manifest) error {
	if m.DeclarationFile == "" {
		return nil
	}

	declPath := filepath.Join(dir, m.DeclarationFile)
	declInfo, err := os.Stat(declPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &Error{Function: function, Reason: fmt.Sprintf("stat %s: %v", m.DeclarationFile, err)}
	}

	lock := in.lockFor(function)
	lock.Lock()
	defer lock.Unlock()

	if m.LockFile != "" {
		lockPath := filepath.Join(dir, m.LockFile)
		if lockInfo, err := os.Stat(lockPath); err == nil && !lockInfo.ModTime().Before(declInfo.ModTime()) {
			in.logger.Debug("dependency cache hit", "function", function)
			return nil
		}
	}

	in.sem <- struct{}{}
	defer func() { <-in.sem }()

	return in.run(ctx, function, dir, m)
}

func (in *Installer) lockFor(function string) *sync.Mutex {
	in.mu.Lock()
	defer in.mu.Unlock()
	l, ok := in.locks[function]
	if !ok {
		l = &sync.Mutex{}
		in.locks[function] = l
	}
	return l
}

func (in *Installer) run(ctx context.Context, function, dir string, m Manifest) error {
	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	if m.Command == "" {
		return &Error{Function: function, Reason: "no resolver command configured"}
	}

	cmd := exec.CommandContext(ctx, m.Command, m.Args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if stderr.Len() > 0 {
		in.logger.Warn("dependency resolver diagnostics", "function", function, "output", stderr.String())
	}

	if ctx.Err() == context.DeadlineExceeded {
		return &Error{Function: function, Reason: fmt.Sprintf("resolver timed out after %s", in.timeout)}
	}
	if err != nil {
		return &Error{Function: function, Reason: fmt.Sprintf("resolver failed: %v", err)}
	}

	in.logger.Info("dependencies installed", "function", function, "duration_ms", elapsed.Milliseconds())
	return nil
}
