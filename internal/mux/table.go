package mux

import (
	"sort"
	"strings"
	"time"

	"faasd/internal/faasfunction"
	"faasd/internal/invocation"
)

// segment is one slash-delimited piece of a route pattern.
type segment struct {
	literal string
	isParam bool
	name    string // without the leading ':'
}

func splitSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func compileSegments(path string) []segment {
	parts := splitSegments(path)
	segs := make([]segment, len(parts))
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			segs[i] = segment{isParam: true, name: p[1:]}
		} else {
			segs[i] = segment{literal: p}
		}
	}
	return segs
}

// routeEntry is one matchable route, already resolved to a live handler.
type routeEntry struct {
	Function    string
	FunctionDir string
	Pattern     string
	segments    []segment
	Methods     map[string]bool
	Handler     invocation.HTTPHandler
	Env         map[string]string
	registered  time.Time
}

// specificity returns a sort key where lower is more specific: 0 for a
// literal segment, 1 for a parameter, compared position by position.
func (e *routeEntry) specificity() []int {
	key := make([]int, len(e.segments))
	for i, s := range e.segments {
		if s.isParam {
			key[i] = 1
		}
	}
	return key
}

// Table is an immutable, pre-sorted route snapshot. Readers dereference an
// atomic.Pointer to one of these without taking a lock.
type Table struct {
	entries []*routeEntry
}

// BuildTable snapshots every running function's declared routes into a
// Table ordered for matching: literal-heavy patterns before
// parameterized ones at the same depth, ties broken by earliest load time
// then by function name.
func BuildTable(functions []*faasfunction.Function) *Table {
	var entries []*routeEntry
	for _, fn := range functions {
		if fn.Status != faasfunction.StatusRunning {
			continue
		}
		for _, r := range fn.Routes.Routes {
			handler, ok := fn.HTTPHandlers[r.Handler]
			if !ok {
				continue
			}
			full := joinPath(fn.Routes.Base, r.Path)
			methods := make(map[string]bool, len(r.Methods))
			for _, m := range r.Methods {
				methods[m] = true
			}
			entries = append(entries, &routeEntry{
				Function:    fn.Name,
				FunctionDir: fn.Dir,
				Pattern:     full,
				segments:    compileSegments(full),
				Methods:     methods,
				Handler:     handler,
				Env:         fn.Env,
				registered:  fn.LoadedAt,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if len(a.segments) != len(b.segments) {
			return len(a.segments) < len(b.segments)
		}
		ak, bk := a.specificity(), b.specificity()
		for k := range ak {
			if ak[k] != bk[k] {
				return ak[k] < bk[k]
			}
		}
		if !a.registered.Equal(b.registered) {
			return a.registered.Before(b.registered)
		}
		return a.Function < b.Function
	})

	return &Table{entries: entries}
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

// match is the outcome of resolving a request path against the table.
type match struct {
	entry      *routeEntry
	pathParams map[string]string
	// allMethods is the union of methods declared by every pattern that
	// structurally matches the path, used to build a 405 Allow header.
	allMethods map[string]bool
}

// Resolve finds the best route for (method, path). ok is false only when
// no pattern matches the path at all (404); a path match with no method
// match returns ok=true, entry=nil, and a populated allMethods set (405).
func (t *Table) Resolve(method, path string) (m match, ok bool) {
	want := splitSegments(path)
	m.allMethods = map[string]bool{}

	for _, e := range t.entries {
		params, matched := matchSegments(e.segments, want)
		if !matched {
			continue
		}
		ok = true
		for meth := range e.Methods {
			m.allMethods[meth] = true
		}
		if m.entry == nil && e.Methods[method] {
			m.entry = e
			m.pathParams = params
		}
	}
	return m, ok
}

func matchSegments(pattern []segment, path []string) (map[string]string, bool) {
	if len(pattern) != len(path) {
		return nil, false
	}
	var params map[string]string
	for i, s := range pattern {
		if s.isParam {
			if params == nil {
				params = make(map[string]string)
			}
			params[s.name] = path[i]
			continue
		}
		if s.literal != path[i] {
			return nil, false
		}
	}
	return params, true
}

// allowHeader renders a deterministic Allow header value from a method set.
func allowHeader(methods map[string]bool) string {
	list := make([]string, 0, len(methods))
	for m := range methods {
		list = append(list, m)
	}
	sort.Strings(list)
	return strings.Join(list, ",")
}
