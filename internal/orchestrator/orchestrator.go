// Package orchestrator serializes load and unload decisions for every
// function and coordinates the manifest loader, dependency installer,
// handler loader, function registry, route multiplexer, and cron
// scheduler into one atomic generation swap per reload.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"faasd/internal/cron"
	"faasd/internal/env"
	"faasd/internal/faasfunction"
	"faasd/internal/installer"
	"faasd/internal/invocation"
	"faasd/internal/loader"
	"faasd/internal/logging"
	"faasd/internal/manifest"
	"faasd/internal/mux"
	"faasd/internal/watcher"
)

// dependencyManifest is the Go-native dependency declaration a function
// directory may carry: a go.mod naming third-party packages the handler
// imports, resolved with "go mod download" and marked complete by go.sum.
var dependencyManifest = installer.Manifest{
	DeclarationFile: "go.mod",
	LockFile:        "go.sum",
	Command:         "go",
	Args:            []string{"mod", "download"},
}

// Config configures an Orchestrator.
type Config struct {
	// FunctionsDir is the root directory holding one subdirectory per
	// function. Required.
	FunctionsDir string
	Registry     *faasfunction.Registry
	Mux          *mux.Mux
	Cron         *cron.Scheduler
	Installer    *installer.Installer
	Loader       *loader.Loader
	Logger       *slog.Logger
}

// Orchestrator is the single authority for function lifecycle transitions.
// Reloads for different functions run concurrently; reloads for the same
// function are strictly serialized by a per-function lock.
type Orchestrator struct {
	dir       string
	registry  *faasfunction.Registry
	mux       *mux.Mux
	cron      *cron.Scheduler
	installer *installer.Installer
	loader    *loader.Loader
	logger    *slog.Logger

	watcher *watcher.Watcher

	generation atomic.Uint64

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	wg   sync.WaitGroup
	done chan struct{}
}

// New creates an Orchestrator. Call Run to start consuming watcher events;
// Reload and Remove can be called directly (e.g. from the management
// surface) independently of Run.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		dir:       cfg.FunctionsDir,
		registry:  cfg.Registry,
		mux:       cfg.Mux,
		cron:      cfg.Cron,
		installer: cfg.Installer,
		loader:    cfg.Loader,
		logger:    logging.Default(cfg.Logger).With("component", "orchestrator"),
		locks:     make(map[string]*sync.Mutex),
		done:      make(chan struct{}),
	}
}

// Bootstrap performs the initial scan of the functions directory, loading
// every existing subdirectory as if a directoryAdded event had fired for
// it. Call once before Run.
func (o *Orchestrator) Bootstrap() error {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		return fmt.Errorf("orchestrator: read functions dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		o.Reload(e.Name())
	}
	return nil
}

// Run starts a Watcher over the functions directory and consumes its
// events until ctx is cancelled or Stop is called. IsHandlerArtifact is
// wired to the registry so the Watcher can distinguish HandlerChanged
// from AuxiliaryChanged.
func (o *Orchestrator) Run(ctx context.Context) error {
	w, err := watcher.New(watcher.Config{
		Root:              o.dir,
		Logger:            o.logger,
		IsHandlerArtifact: o.isHandlerArtifact,
	})
	if err != nil {
		return fmt.Errorf("orchestrator: create watcher: %w", err)
	}
	o.watcher = w

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		w.Run()
	}()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.consume(ctx, w)
	}()

	return nil
}

func (o *Orchestrator) consume(ctx context.Context, w *watcher.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.done:
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			o.wg.Add(1)
			go func(ev watcher.Event) {
				defer o.wg.Done()
				o.handleEvent(ev)
			}(ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ev watcher.Event) {
	switch ev.Kind {
	case watcher.DirectoryRemoved:
		o.Remove(ev.Function)
	case watcher.ConfigChanged, watcher.HandlerChanged, watcher.DirectoryAdded:
		o.Reload(ev.Function)
	case watcher.AuxiliaryChanged:
		// Forwarded but de-prioritized: logged at DEBUG, no reload.
		o.logger.Debug("auxiliary change observed", "function", ev.Function)
	}
}

func (o *Orchestrator) isHandlerArtifact(function, relPath string) bool {
	fn, ok := o.registry.GetByName(function)
	if !ok {
		return false
	}
	for _, r := range fn.Routes.Routes {
		if r.Handler == relPath {
			return true
		}
	}
	for _, j := range fn.CronJobs.Jobs {
		if j.Handler == relPath {
			return true
		}
	}
	return false
}

// Stop stops the watcher, if running, and waits for Run's goroutines to
// finish.
func (o *Orchestrator) Stop() error {
	close(o.done)
	var err error
	if o.watcher != nil {
		err = o.watcher.Close()
	}
	o.wg.Wait()
	return err
}

func (o *Orchestrator) lockFor(function string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[function]
	if !ok {
		l = &sync.Mutex{}
		o.locks[function] = l
	}
	return l
}

// Reload is the RPC-style entry point the management surface and the
// watcher both use to (re)load a function. It blocks until the load
// attempt completes (terminal state: running or failed).
func (o *Orchestrator) Reload(name string) {
	lock := o.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Join(o.dir, name)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		o.unloadLocked(name)
		return
	}

	gen := o.generation.Add(1)
	o.logger.Info("loading function", "function", name, "generation", gen)

	routes, err := manifest.LoadRoutes(dir, name)
	if err != nil {
		o.failLocked(name, dir, gen, err)
		return
	}
	cronManifest, err := manifest.LoadCron(dir)
	if err != nil {
		o.failLocked(name, dir, gen, err)
		return
	}

	envVars, err := env.Parse(filepath.Join(dir, ".env"), o.logger.With("function", name))
	if err != nil {
		o.failLocked(name, dir, gen, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	if err := o.installer.Install(ctx, name, dir, dependencyManifest); err != nil {
		o.failLocked(name, dir, gen, err)
		return
	}

	httpHandlers, jobHandlers, err := o.loadRouteHandlers(name, dir, routes, cronManifest)
	if err != nil {
		o.failLocked(name, dir, gen, err)
		return
	}

	fn := faasfunction.NewRunning(name, dir, gen, routes, cronManifest, envVars, httpHandlers, jobHandlers)

	if _, err := o.registry.Install(fn); err != nil {
		o.failLocked(name, dir, gen, err)
		return
	}

	o.mux.Rebuild(o.registry.List())
	if rl := routes.RateLimit; rl != nil {
		o.mux.SetRateLimit(name, rl.RequestsPerSecond, rl.Burst)
	} else {
		o.mux.SetRateLimit(name, 0, 0)
	}
	o.cron.Sync(fn)

	o.logger.Info("function running", "function", name, "generation", gen, "routes", len(fn.RouteKeys), "jobs", len(fn.Jobs))
}

// loadRouteHandlers loads every distinct artifact referenced by routes.
// A failure loading a route-referenced artifact is terminal for the whole
// function, matching the state diagram's single "load handlers" step. A
// cron-only artifact that fails to load is simply left out of jobHandlers;
// the Cron Scheduler logs its own WARN and skips that job without failing
// the function, per §4.7.
func (o *Orchestrator) loadRouteHandlers(name, dir string, routes manifest.RouteManifest, cronManifest manifest.CronManifest) (map[string]invocation.HTTPHandler, map[string]invocation.JobHandler, error) {
	httpHandlers := make(map[string]invocation.HTTPHandler)
	jobHandlers := make(map[string]invocation.JobHandler)

	routeArtifacts := make(map[string]bool)
	for _, r := range routes.Routes {
		routeArtifacts[r.Handler] = true
	}

	for artifact := range routeArtifacts {
		loaded, err := o.loader.Load(name, dir, artifact)
		if err != nil {
			return nil, nil, err
		}
		if loaded.HTTP == nil {
			return nil, nil, fmt.Errorf("artifact %s is referenced as a route handler but exports a job handler signature", artifact)
		}
		httpHandlers[artifact] = loaded.HTTP
	}

	for _, j := range cronManifest.Jobs {
		if routeArtifacts[j.Handler] {
			continue
		}
		if _, ok := jobHandlers[j.Handler]; ok {
			continue
		}
		loaded, err := o.loader.Load(name, dir, j.Handler)
		if err != nil {
			o.logger.Warn("cron handler artifact failed to load, job will be skipped", "function", name, "job", j.Name, "handler", j.Handler, "error", err)
			continue
		}
		if loaded.Job == nil {
			o.logger.Warn("cron handler artifact exports an HTTP signature, job will be skipped", "function", name, "job", j.Name, "handler", j.Handler)
			continue
		}
		jobHandlers[j.Handler] = loaded.Job
	}

	return httpHandlers, jobHandlers, nil
}

func (o *Orchestrator) failLocked(name, dir string, gen uint64, cause error) {
	o.logger.Error("function load failed", "function", name, "generation", gen, "error", cause)
	fn := faasfunction.NewFailed(name, dir, gen, cause.Error())
	if prev, exists := o.registry.GetByName(name); exists && prev.Status == faasfunction.StatusRunning {
		// Per invariant: a failed load does not remove a prior successful
		// generation. We record the failure reason but leave the
		// previous running entry and its routes/jobs untouched.
		o.logger.Warn("keeping previous generation live after failed reload", "function", name, "previous_generation", prev.Generation)
		return
	}
	_, _ = o.registry.Install(fn)
	o.mux.Rebuild(o.registry.List())
	o.mux.SetRateLimit(name, 0, 0)
}

// Remove handles a directoryRemoved event: it unloads a previously running
// function, stopping its jobs and releasing its routes.
func (o *Orchestrator) Remove(name string) {
	lock := o.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	o.unloadLocked(name)
}

func (o *Orchestrator) unloadLocked(name string) {
	fn, ok := o.registry.GetByName(name)
	if !ok {
		return
	}
	o.cron.Remove(name)
	o.registry.Remove(name)
	o.mux.Rebuild(o.registry.List())
	o.mux.SetRateLimit(name, 0, 0)
	o.logger.Info("function removed", "function", name, "previous_generation", fn.Generation)
}
