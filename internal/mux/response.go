package mux

import (
	"encoding/json"
	"net/http"

	"faasd/internal/invocation"
)

// httpResponse adapts an http.ResponseWriter to invocation.Response,
// tracking whether a response has been sent so late writes from a handler
// that already errored, or from a panic recovery, are ignored.
type httpResponse struct {
	w          http.ResponseWriter
	status     int
	headerSent bool
	written    bool
}

func newHTTPResponse(w http.ResponseWriter) *httpResponse {
	return &httpResponse{w: w, status: http.StatusOK}
}

func (r *httpResponse) Header() http.Header { return r.w.Header() }

func (r *httpResponse) WriteStatus(code int) {
	if r.headerSent {
		return
	}
	r.status = code
	r.w.WriteHeader(code)
	r.headerSent = true
}

func (r *httpResponse) WriteJSON(v any) error {
	if r.written {
		return nil
	}
	if !r.headerSent {
		r.Header().Set("Content-Type", "application/json")
		r.WriteStatus(http.StatusOK)
	}
	r.written = true
	return json.NewEncoder(r.w).Encode(v)
}

func (r *httpResponse) WriteText(s string) error {
	if r.written {
		return nil
	}
	if !r.headerSent {
		r.Header().Set("Content-Type", "text/plain; charset=utf-8")
		r.WriteStatus(http.StatusOK)
	}
	r.written = true
	_, err := r.w.Write([]byte(s))
	return err
}

func (r *httpResponse) WriteBytes(b []byte) error {
	if r.written {
		return nil
	}
	r.WriteStatus(http.StatusOK)
	r.written = true
	_, err := r.w.Write(b)
	return err
}

func (r *httpResponse) Written() bool { return r.headerSent || r.written }

var _ invocation.Response = (*httpResponse)(nil)
