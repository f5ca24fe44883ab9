// Package invocation defines the values passed into user handler code: the
// per-request view and response builder for HTTP routes, and the reduced
// per-job view for cron fires. These are the only capabilities a handler
// receives — no ambient globals.
package invocation

import (
	"log/slog"
	"net/http"
)

// Request is the view an HTTP handler receives.
type Request struct {
	Method       string
	FullPath     string
	RoutePath    string
	PathParams   map[string]string
	QueryParams  map[string][]string
	Headers      http.Header
	Body         []byte
	Env          map[string]string
	Logger       *slog.Logger
	FunctionName string
	RequestID    string
}

// Response lets a handler select a status, set headers, and write a body
// exactly once. Writes after the first are ignored, matching the
// completion contract: a handler indicates it's done by writing a response
// or by returning.
type Response interface {
	Header() http.Header
	WriteStatus(code int)
	WriteJSON(v any) error
	WriteText(s string) error
	WriteBytes(b []byte) error
	// Written reports whether a response has already been sent.
	Written() bool
}

// HTTPHandler is the signature an HTTP handler artifact must export.
type HTTPHandler func(req *Request, resp Response) error

// Job is the reduced view a cron-only handler receives.
type Job struct {
	JobName      string
	FunctionName string
	Env          map[string]string
	Logger       *slog.Logger
}

// JobHandler is the signature a cron handler artifact must export.
type JobHandler func(job *Job) error
