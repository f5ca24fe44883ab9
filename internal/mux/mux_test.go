package mux_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"faasd/internal/faasfunction"
	"faasd/internal/invocation"
	"faasd/internal/logging"
	"faasd/internal/manifest"
	"faasd/internal/mux"
)

func newLogger(t *testing.T) *logging.Logger {
	t.Helper()
	l, err := logging.New(logging.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func textHandler(body string) invocation.HTTPHandler {
	return func(req *invocation.Request, resp invocation.Response) error {
		return resp.WriteText(body)
	}
}

func runningFuncWithRoutes(name string, routes []manifest.Route, handlers map[string]invocation.HTTPHandler) *faasfunction.Function {
	rm := manifest.RouteManifest{Base: "/" + name, Handler: "handler", Routes: routes}
	return faasfunction.NewRunning(name, "/functions/"+name, 1, rm, manifest.CronManifest{}, map[string]string{}, handlers, nil)
}

func TestDispatchBasicRoutes(t *testing.T) {
	a := runningFuncWithRoutes("a",
		[]manifest.Route{{Path: "/", Methods: []string{"GET"}, Handler: "handler"}},
		map[string]invocation.HTTPHandler{"handler": textHandler("a-ok")})
	b := runningFuncWithRoutes("b",
		[]manifest.Route{{Path: "/info", Methods: []string{"GET", "POST"}, Handler: "handler"}},
		map[string]invocation.HTTPHandler{"handler": textHandler("b-ok")})

	m := mux.New(mux.Config{Logger: newLogger(t), FunctionCount: func() int { return 2 }})
	m.Rebuild([]*faasfunction.Function{a, b})

	cases := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/a/", 200},
		{"GET", "/b/info", 200},
		{"POST", "/b/info", 200},
		{"PUT", "/b/info", 405},
		{"GET", "/c/", 404},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(c.method, c.path, nil)
		m.ServeHTTP(rec, req)
		if rec.Code != c.status {
			t.Errorf("%s %s = %d, want %d", c.method, c.path, rec.Code, c.status)
		}
	}
}

func TestMethodNotAllowedIncludesAllowHeader(t *testing.T) {
	b := runningFuncWithRoutes("b",
		[]manifest.Route{{Path: "/info", Methods: []string{"GET", "POST"}, Handler: "handler"}},
		map[string]invocation.HTTPHandler{"handler": textHandler("ok")})

	m := mux.New(mux.Config{Logger: newLogger(t)})
	m.Rebuild([]*faasfunction.Function{b})

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("PUT", "/b/info", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	allow := rec.Header().Get("Allow")
	if allow != "GET,POST" {
		t.Errorf("Allow = %q, want GET,POST", allow)
	}
}

func TestLiteralOutranksParam(t *testing.T) {
	a := runningFuncWithRoutes("a", []manifest.Route{
		{Path: "/users/:id", Methods: []string{"GET"}, Handler: "handler"},
		{Path: "/users/list", Methods: []string{"GET"}, Handler: "handler2"},
	}, map[string]invocation.HTTPHandler{
		"handler":  textHandler("param"),
		"handler2": textHandler("literal"),
	})

	m := mux.New(mux.Config{Logger: newLogger(t)})
	m.Rebuild([]*faasfunction.Function{a})

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/a/users/list", nil))
	if rec.Body.String() != "literal" {
		t.Errorf("body = %q, want literal route to win over param route", rec.Body.String())
	}
}

func TestHandlerErrorYields500(t *testing.T) {
	a := runningFuncWithRoutes("a", []manifest.Route{
		{Path: "/boom", Methods: []string{"GET"}, Handler: "handler"},
	}, map[string]invocation.HTTPHandler{
		"handler": func(req *invocation.Request, resp invocation.Response) error {
			return http.ErrBodyNotAllowed
		},
	})

	m := mux.New(mux.Config{Logger: newLogger(t)})
	m.Rebuild([]*faasfunction.Function{a})

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/a/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHandlerPanicYields500(t *testing.T) {
	a := runningFuncWithRoutes("a", []manifest.Route{
		{Path: "/panic", Methods: []string{"GET"}, Handler: "handler"},
	}, map[string]invocation.HTTPHandler{
		"handler": func(req *invocation.Request, resp invocation.Response) error {
			panic("boom")
		},
	})

	m := mux.New(mux.Config{Logger: newLogger(t)})
	m.Rebuild([]*faasfunction.Function{a})

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/a/panic", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	m := mux.New(mux.Config{Logger: newLogger(t), FunctionCount: func() int { return 3 }})
	m.Rebuild(nil)

	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRateLimitReturns429(t *testing.T) {
	a := runningFuncWithRoutes("a", []manifest.Route{
		{Path: "/x", Methods: []string{"GET"}, Handler: "handler"},
	}, map[string]invocation.HTTPHandler{"handler": textHandler("ok")})

	m := mux.New(mux.Config{Logger: newLogger(t)})
	m.Rebuild([]*faasfunction.Function{a})
	m.SetRateLimit("a", 0.0001, 1)

	rec1 := httptest.NewRecorder()
	m.ServeHTTP(rec1, httptest.NewRequest("GET", "/a/x", nil))
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	m.ServeHTTP(rec2, httptest.NewRequest("GET", "/a/x", nil))
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec2.Code)
	}
}
