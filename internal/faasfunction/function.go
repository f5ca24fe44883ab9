// Package faasfunction holds the Function type and the Registry that is
// the single source of truth for what's currently loaded.
package faasfunction

import (
	"time"

	"faasd/internal/invocation"
	"faasd/internal/manifest"
)

// Status is one of the four states a Function moves through.
type Status string

const (
	StatusLoading   Status = "loading"
	StatusRunning   Status = "running"
	StatusFailed    Status = "failed"
	StatusUnloading Status = "unloading"
)

// RouteKey is the (method, full-path) pair used as the global uniqueness
// criterion across every loaded function.
type RouteKey struct {
	Method   string
	FullPath string
}

// JobHandle is the Registry's weak descriptor for a scheduled job; the
// Scheduler owns the real handle, the Registry keeps only enough to report
// status and to know which names belong to which function.
type JobHandle struct {
	Name     string
	Schedule string
}

// Function is the authoritative record of one loaded (or failed) function
// directory. Mutated only through Registry.Install/Remove; every other
// reader treats it as immutable once observed.
type Function struct {
	Name       string
	Dir        string
	Generation uint64
	Status     Status

	Routes   manifest.RouteManifest
	CronJobs manifest.CronManifest
	Env      map[string]string

	// HTTPHandlers and JobHandlers hold the loaded callables, keyed by
	// artifact name, produced by the Handler Loader for every distinct
	// artifact this generation references.
	HTTPHandlers map[string]invocation.HTTPHandler
	JobHandlers  map[string]invocation.JobHandler

	RouteKeys []RouteKey
	Jobs      []JobHandle

	LoadedAt      time.Time
	FailureReason string
}

// routeKeys derives the full (method, full-path) pairs this function's
// route manifest declares, used both for registry bookkeeping and for the
// multiplexer's route table.
func routeKeys(base string, routes []manifest.Route) []RouteKey {
	var keys []RouteKey
	for _, r := range routes {
		full := joinPath(base, r.Path)
		for _, m := range r.Methods {
			keys = append(keys, RouteKey{Method: m, FullPath: full})
		}
	}
	return keys
}

func joinPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		return path
	case path == "/":
		return base
	default:
		return base + path
	}
}

// NewRunning builds a Function in the running state from a validated
// manifest pair and its loaded handlers, computing its route keys and job
// descriptors. Only jobs with a resolved handler in jobHandlers are kept —
// §4.7 drops jobs with missing artifacts rather than failing the load.
func NewRunning(name, dir string, generation uint64, routes manifest.RouteManifest, cronJobs manifest.CronManifest, env map[string]string, httpHandlers map[string]invocation.HTTPHandler, jobHandlers map[string]invocation.JobHandler) *Function {
	jobs := make([]JobHandle, 0, len(cronJobs.Jobs))
	for _, j := range cronJobs.Jobs {
		if _, ok := jobHandlers[j.Handler]; !ok {
			continue
		}
		jobs = append(jobs, JobHandle{Name: j.Name, Schedule: j.Schedule})
	}
	return &Function{
		Name:         name,
		Dir:          dir,
		Generation:   generation,
		Status:       StatusRunning,
		Routes:       routes,
		CronJobs:     cronJobs,
		Env:          env,
		HTTPHandlers: httpHandlers,
		JobHandlers:  jobHandlers,
		RouteKeys:    routeKeys(routes.Base, routes.Routes),
		Jobs:         jobs,
		LoadedAt:     time.Now(),
	}
}

// NewFailed builds a Function record representing a rejected load attempt.
// It carries no routes and no jobs, per invariant 3.
func NewFailed(name, dir string, generation uint64, reason string) *Function {
	return &Function{
		Name:          name,
		Dir:           dir,
		Generation:    generation,
		Status:        StatusFailed,
		FailureReason: reason,
		LoadedAt:      time.Now(),
	}
}
