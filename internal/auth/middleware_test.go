package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequireBearerRejectsMissingHeader(t *testing.T) {
	ts := NewTokenService([]byte("secret"), time.Hour)
	called := false
	h := RequireBearer(ts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/management/list", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Error("handler should not have been called")
	}
}

func TestRequireBearerAcceptsValidToken(t *testing.T) {
	ts := NewTokenService([]byte("secret"), time.Hour)
	token, err := ts.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	called := false
	h := RequireBearer(ts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/management/list", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if !called {
		t.Error("handler should have been called")
	}
}

func TestRequireBearerRejectsWrongScheme(t *testing.T) {
	ts := NewTokenService([]byte("secret"), time.Hour)
	token, _ := ts.Issue()

	h := RequireBearer(ts, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/management/list", nil)
	req.Header.Set("Authorization", "Basic "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
