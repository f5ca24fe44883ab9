// Package manifest parses and validates the two descriptor files a function
// directory carries: route.config.json and the optional cron.json.
package manifest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// validMethods is the standard HTTP method set route declarations may draw
// from, after upper-casing.
var validMethods = map[string]bool{
	http.MethodGet: true, http.MethodHead: true, http.MethodPost: true,
	http.MethodPut: true, http.MethodPatch: true, http.MethodDelete: true,
	http.MethodConnect: true, http.MethodOptions: true, http.MethodTrace: true,
}

// Route is a single validated route declaration.
type Route struct {
	Path    string
	Methods []string
	Handler string
}

// RateLimit is an optional per-function token-bucket limit.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// RouteManifest is the parsed, validated form of route.config.json.
// Immutable once returned by Load; callers must not mutate it.
type RouteManifest struct {
	Base      string
	Handler   string
	Routes    []Route
	RateLimit *RateLimit
}

// Job is a single validated cron job declaration.
type Job struct {
	Name        string
	Schedule    string
	Handler     string
	Timezone    string
	Description string
}

// CronManifest is the parsed, validated form of cron.json. A function with
// no cron.json file has an empty CronManifest; that is not an error.
type CronManifest struct {
	Jobs []Job
}

// Error names the manifest file and reason a load was rejected.
type Error struct {
	File   string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("manifest: %s: %s", e.File, e.Reason)
}

// rawRouteManifest and rawCronManifest mirror the wire schema in §6 exactly;
// RouteManifest/CronManifest are the validated, normalized forms derived
// from them.
type rawRouteManifest struct {
	Base      string `json:"base"`
	Handler   string `json:"handler"`
	Routes    []struct {
		Path    string   `json:"path"`
		Methods []string `json:"methods"`
		Handler string   `json:"handler"`
	} `json:"routes"`
	RateLimit *struct {
		RequestsPerSecond float64 `json:"requestsPerSecond"`
		Burst             int     `json:"burst"`
	} `json:"rateLimit"`
}

type rawCronManifest struct {
	Jobs []struct {
		Name        string `json:"name"`
		Schedule    string `json:"schedule"`
		Handler     string `json:"handler"`
		Timezone    string `json:"timezone"`
		Description string `json:"description"`
	} `json:"jobs"`
}

// LoadRoutes reads and validates route.config.json in dir. functionName
// supplies the default base prefix ("/<function-name>") when the manifest
// omits one.
func LoadRoutes(dir, functionName string) (RouteManifest, error) {
	path := filepath.Join(dir, "route.config.json")
	data, err := os.ReadFile(path) //nolint:gosec // dir is operator-controlled
	if err != nil {
		return RouteManifest{}, &Error{File: path, Reason: fmt.Sprintf("read: %v", err)}
	}

	var raw rawRouteManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return RouteManifest{}, &Error{File: path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	if len(raw.Routes) == 0 {
		return RouteManifest{}, &Error{File: path, Reason: "must declare at least one route"}
	}

	defaultHandler := raw.Handler
	if defaultHandler == "" {
		defaultHandler = "handler.go"
	}

	base := raw.Base
	if base == "" {
		base = "/" + functionName
	}

	routes := make([]Route, 0, len(raw.Routes))
	for i, r := range raw.Routes {
		if len(r.Methods) == 0 {
			return RouteManifest{}, &Error{File: path, Reason: fmt.Sprintf("route %d: must declare at least one method", i)}
		}
		methods := make([]string, 0, len(r.Methods))
		for _, m := range r.Methods {
			up := strings.ToUpper(strings.TrimSpace(m))
			if !validMethods[up] {
				return RouteManifest{}, &Error{File: path, Reason: fmt.Sprintf("route %d: unknown method %q", i, m)}
			}
			methods = append(methods, up)
		}

		p := r.Path
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}

		handler := r.Handler
		if handler == "" {
			handler = defaultHandler
		}

		routes = append(routes, Route{Path: p, Methods: methods, Handler: handler})
	}

	var rateLimit *RateLimit
	if raw.RateLimit != nil {
		if raw.RateLimit.RequestsPerSecond <= 0 {
			return RouteManifest{}, &Error{File: path, Reason: "rateLimit.requestsPerSecond must be > 0"}
		}
		burst := raw.RateLimit.Burst
		if burst <= 0 {
			burst = int(raw.RateLimit.RequestsPerSecond)
			if burst <= 0 {
				burst = 1
			}
		}
		rateLimit = &RateLimit{RequestsPerSecond: raw.RateLimit.RequestsPerSecond, Burst: burst}
	}

	return RouteManifest{Base: base, Handler: defaultHandler, Routes: routes, RateLimit: rateLimit}, nil
}

// LoadCron reads and validates cron.json in dir. A missing file, or a
// present file with an empty or absent jobs array, both yield a
// CronManifest with zero jobs — not an error.
func LoadCron(dir string) (CronManifest, error) {
	path := filepath.Join(dir, "cron.json")
	data, err := os.ReadFile(path) //nolint:gosec // dir is operator-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return CronManifest{}, nil
		}
		return CronManifest{}, &Error{File: path, Reason: fmt.Sprintf("read: %v", err)}
	}

	var raw rawCronManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return CronManifest{}, &Error{File: path, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	seen := make(map[string]bool, len(raw.Jobs))
	jobs := make([]Job, 0, len(raw.Jobs))
	for i, j := range raw.Jobs {
		if j.Name == "" {
			return CronManifest{}, &Error{File: path, Reason: fmt.Sprintf("job %d: name is required", i)}
		}
		if seen[j.Name] {
			return CronManifest{}, &Error{File: path, Reason: fmt.Sprintf("job %d: duplicate job name %q", i, j.Name)}
		}
		seen[j.Name] = true

		// Schedule parseability, timezone validity, and handler-artifact
		// existence are NOT checked here: per §4.7 an individual bad job is
		// skipped with a WARN by the Cron Scheduler, it does not fail the
		// whole manifest. Only structural shape (name/schedule/handler all
		// present, names unique) is a manifest error.
		if j.Schedule == "" {
			return CronManifest{}, &Error{File: path, Reason: fmt.Sprintf("job %q: schedule is required", j.Name)}
		}
		if j.Handler == "" {
			return CronManifest{}, &Error{File: path, Reason: fmt.Sprintf("job %q: handler is required", j.Name)}
		}

		tz := j.Timezone
		if tz == "" {
			tz = "UTC"
		}

		jobs = append(jobs, Job{
			Name:        j.Name,
			Schedule:    j.Schedule,
			Handler:     j.Handler,
			Timezone:    tz,
			Description: j.Description,
		})
	}

	// Deterministic order for round-tripping and snapshot comparisons.
	sort.SliceStable(jobs, func(i, k int) bool { return jobs[i].Name < jobs[k].Name })

	return CronManifest{Jobs: jobs}, nil
}
