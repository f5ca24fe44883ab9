package faasfunction

import (
	"fmt"
	"log/slog"
	"sync"

	"faasd/internal/logging"
)

// RouteConflictError reports that a route key a newcomer wants to install
// is already owned by a different, still-running function. Per §4.9 this
// is terminal for the newcomer's load attempt; the incumbent is untouched.
type RouteConflictError struct {
	Key      RouteKey
	Owner    string
	Newcomer string
}

func (e *RouteConflictError) Error() string {
	return fmt.Sprintf("route conflict: %s %s already owned by %q (newcomer %q)", e.Key.Method, e.Key.FullPath, e.Owner, e.Newcomer)
}

// Config configures a Registry.
type Config struct {
	// Logger is scoped with "component": "function-registry". Nil uses a
	// discard logger.
	Logger *slog.Logger
}

// Registry is the single source of truth for loaded functions: their
// status, routes, jobs, and environment. Its lock is held only across
// index mutations, never across user code.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	byName map[string]*Function
	owners map[RouteKey]string // route key -> owning function name
}

// New creates an empty Registry.
func New(cfg Config) *Registry {
	return &Registry{
		logger: logging.Default(cfg.Logger).With("component", "function-registry"),
		byName: make(map[string]*Function),
		owners: make(map[RouteKey]string),
	}
}

// GetByName returns the current record for name, if any.
func (r *Registry) GetByName(name string) (*Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.byName[name]
	return fn, ok
}

// List returns a point-in-time snapshot of every function currently known
// to the registry, including failed ones.
func (r *Registry) List() []*Function {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Function, 0, len(r.byName))
	for _, fn := range r.byName {
		out = append(out, fn)
	}
	return out
}

// Install atomically replaces name's entry with fn. If fn declares a route
// key already owned by a different function, the install is rejected in
// its entirety — the registry is left exactly as it was — and a
// *RouteConflictError is returned naming the incumbent.
//
// Installing over a function's own prior generation is not a conflict:
// the previous generation's route keys are released before the new ones
// are checked.
func (r *Registry) Install(fn *Function) (previous *Function, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.byName[fn.Name]

	// Check conflicts as if the function's own prior routes were already
	// released, so re-registering the same paths is never a conflict.
	for _, key := range fn.RouteKeys {
		if owner, ok := r.owners[key]; ok && owner != fn.Name {
			r.logger.Error("route conflict on install", "route_method", key.Method, "route_path", key.FullPath, "owner", owner, "newcomer", fn.Name)
			return nil, &RouteConflictError{Key: key, Owner: owner, Newcomer: fn.Name}
		}
	}

	if prev != nil {
		for _, key := range prev.RouteKeys {
			delete(r.owners, key)
		}
	}
	for _, key := range fn.RouteKeys {
		r.owners[key] = fn.Name
	}
	r.byName[fn.Name] = fn

	r.logger.Info("function installed", "function", fn.Name, "status", fn.Status, "generation", fn.Generation, "routes", len(fn.RouteKeys), "jobs", len(fn.Jobs))
	return prev, nil
}

// Remove deletes name's entry and releases its route keys. Returns the
// removed value, if any existed.
func (r *Registry) Remove(name string) (*Function, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fn, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	for _, key := range fn.RouteKeys {
		delete(r.owners, key)
	}
	delete(r.byName, name)
	r.logger.Info("function removed", "function", name)
	return fn, true
}

// IterateRoutes returns every (route-key, owner-name) pair currently
// registered, for the multiplexer to build its route table under a single
// read lock.
func (r *Registry) IterateRoutes() map[RouteKey]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[RouteKey]string, len(r.owners))
	for k, v := range r.owners {
		out[k] = v
	}
	return out
}
