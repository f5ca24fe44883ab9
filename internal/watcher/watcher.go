// Package watcher observes the functions directory and emits a coalesced,
// classified stream of change events for the Reload Orchestrator to
// consume. It never reads manifests itself — classification only needs
// path shape and the orchestrator-supplied handler-artifact predicate.
package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// EventKind classifies one coalesced change.
type EventKind string

const (
	ConfigChanged    EventKind = "configChanged"
	HandlerChanged   EventKind = "handlerChanged"
	DirectoryAdded   EventKind = "directoryAdded"
	DirectoryRemoved EventKind = "directoryRemoved"
	AuxiliaryChanged EventKind = "auxiliaryChanged"
)

// precedence ranks event kinds when several fire for the same function
// within one stability window; the highest-ranked kind wins the coalesced
// emission.
var precedence = map[EventKind]int{
	DirectoryRemoved: 5,
	DirectoryAdded:   4,
	ConfigChanged:    3,
	HandlerChanged:   2,
	AuxiliaryChanged: 1,
}

// Event is one coalesced, classified change ready for the orchestrator.
type Event struct {
	Function string
	Kind     EventKind
}

// maxDepth is how many directory levels below the functions root are
// watched: function dir (1), and two more levels of nested structure (2, 3).
const maxDepth = 3

// stabilityWindow is how long a function's events must go quiet before a
// coalesced reload is emitted; it doubles as the write-finish guard since
// no event is classified as "final" until nothing else follows it.
const stabilityWindow = 2 * time.Second

// minReloadInterval is the hard floor between two successive reload
// emissions for the same function.
const minReloadInterval = 5 * time.Second

// denyPatterns are doublestar globs (matched against the path relative to
// the functions root) for files and directories that never constitute a
// meaningful change, regardless of what directory they live under.
var denyPatterns = []string{
	"**/node_modules/**",
	"**/node_modules",
	"**/.git/**",
	"**/.git",
	"**/.svn/**",
	"**/.hg/**",
	"**/.DS_Store",
	"**/Thumbs.db",
	"**/*.swp",
	"**/*.swx",
	"**/*~",
	"**/.#*",
	"**/#*#",
	"**/package-lock.json.lock",
	"**/*.lock",
	"**/.cache/**",
	"**/__pycache__/**",
	"**/*.pyc",
}

// Config configures a Watcher.
type Config struct {
	// Root is the functions directory to observe.
	Root string
	// Logger is required.
	Logger *slog.Logger
	// IsHandlerArtifact reports whether relPath (relative to the
	// function's own directory) is currently referenced as a route or
	// cron handler for function. A change to such a path classifies as
	// HandlerChanged instead of AuxiliaryChanged.
	IsHandlerArtifact func(function, relPath string) bool
}

// Watcher observes Root and emits classified, debounced events on Events().
type Watcher struct {
	root    string
	logger  *slog.Logger
	isHandl func(function, relPath string) bool

	fsw *fsnotify.Watcher
	out chan Event

	mu      sync.Mutex
	pending map[string]*pendingFunc
	lastRun map[string]time.Time

	watchedDirs map[string]bool

	done chan struct{}
	wg   sync.WaitGroup
}

type pendingFunc struct {
	timer *time.Timer
	kind  EventKind
}

// New creates a Watcher and performs the initial recursive scan of Root,
// registering fsnotify watches up to maxDepth. Call Run to start emitting.
func New(cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		root:        cfg.Root,
		logger:      cfg.Logger,
		isHandl:     cfg.IsHandlerArtifact,
		fsw:         fsw,
		out:         make(chan Event, 64),
		pending:     make(map[string]*pendingFunc),
		lastRun:     make(map[string]time.Time),
		watchedDirs: make(map[string]bool),
		done:        make(chan struct{}),
	}
	if err := w.watchTree(cfg.Root, 0); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Events returns the channel of coalesced, classified events.
func (w *Watcher) Events() <-chan Event { return w.out }

// Run processes fsnotify events until Close is called. Intended to run in
// its own goroutine.
func (w *Watcher) Run() {
	w.wg.Add(1)
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Close stops the watcher and waits for Run to return.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()

	w.mu.Lock()
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.mu.Unlock()
	close(w.out)
	return err
}

func (w *Watcher) watchTree(dir string, depth int) error {
	if depth > maxDepth {
		return nil
	}
	if w.denied(dir) {
		return nil
	}
	if !w.watchedDirs[dir] {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
		w.watchedDirs[dir] = true
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := w.watchTree(filepath.Join(dir, e.Name()), depth+1); err != nil {
			w.logger.Warn("failed to watch subdirectory", "dir", filepath.Join(dir, e.Name()), "error", err)
		}
	}
	return nil
}

func (w *Watcher) denied(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(strings.ToLower(rel))
	for _, pat := range denyPatterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}

// functionOf returns the top-level function directory name for path, and
// whether path is exactly that top-level directory (depth 1).
func (w *Watcher) functionOf(path string) (function string, isTopLevel bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	function = parts[0]
	return function, len(parts) == 1
}

func (w *Watcher) relToFunction(path, function string) string {
	rel, err := filepath.Rel(filepath.Join(w.root, function), path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) handle(event fsnotify.Event) {
	if w.denied(event.Name) {
		return
	}

	function, topLevel := w.functionOf(event.Name)
	if function == "" {
		return
	}

	if topLevel {
		switch {
		case event.Has(fsnotify.Create):
			if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
				if err := w.watchTree(event.Name, 1); err != nil {
					w.logger.Warn("failed to watch new function directory", "dir", event.Name, "error", err)
				}
				w.coalesce(function, DirectoryAdded)
				return
			}
		case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
			// A removed top-level entry could be the whole function
			// directory; fsnotify can't tell us post-hoc, so always
			// report it and let the orchestrator check reality.
			w.coalesce(function, DirectoryRemoved)
			return
		}
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			depth := len(strings.Split(w.relToFunction(event.Name, function), "/")) + 1
			if err := w.watchTree(event.Name, depth); err != nil {
				w.logger.Warn("failed to watch new subdirectory", "dir", event.Name, "error", err)
			}
			return
		}
	}

	rel := w.relToFunction(event.Name, function)
	kind := w.classify(function, rel)
	w.coalesce(function, kind)
}

func (w *Watcher) classify(function, rel string) EventKind {
	base := filepath.Base(rel)
	switch base {
	case "route.config.json", "cron.json":
		return ConfigChanged
	}
	if w.isHandl != nil && w.isHandl(function, rel) {
		return HandlerChanged
	}
	return AuxiliaryChanged
}

// coalesce folds kind into the in-flight debounce state for function,
// resetting the stability timer. The highest-precedence kind observed
// during the window wins the eventual emission.
func (w *Watcher) coalesce(function string, kind EventKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.pending[function]
	if !ok {
		p = &pendingFunc{kind: kind}
		w.pending[function] = p
	} else if precedence[kind] > precedence[p.kind] {
		p.kind = kind
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(stabilityWindow, func() { w.fire(function) })
}

func (w *Watcher) fire(function string) {
	w.mu.Lock()
	p, ok := w.pending[function]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, function)
	kind := p.kind

	if last, ok := w.lastRun[function]; ok {
		if wait := minReloadInterval - time.Since(last); wait > 0 {
			w.mu.Unlock()
			time.Sleep(wait)
			w.mu.Lock()
		}
	}
	w.lastRun[function] = time.Now()
	w.mu.Unlock()

	select {
	case w.out <- Event{Function: function, Kind: kind}:
	case <-w.done:
	}
}
