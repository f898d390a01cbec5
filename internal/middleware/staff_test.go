package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStaffAuth_WithValidToken(t *testing.T) {
	a := NewStaffAuth("staff-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	r := httptest.NewRequest(http.MethodPatch, "/orders/SF-123456789ABC", nil)
	r.Header.Set("X-Staff-Token", "staff-secret")

	handler := a.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestStaffAuth_WithoutToken(t *testing.T) {
	a := NewStaffAuth("staff-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPatch, "/orders/SF-123456789ABC", nil)

	handler := a.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestStaffAuth_WithWrongToken(t *testing.T) {
	a := NewStaffAuth("staff-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPatch, "/orders/SF-123456789ABC", nil)
	r.Header.Set("X-Staff-Token", "guessed")

	handler := a.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestStaffAuth_EmptyConfiguredTokenLocksEverythingOut(t *testing.T) {
	a := NewStaffAuth("")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPatch, "/orders/SF-123456789ABC", nil)
	r.Header.Set("X-Staff-Token", "")

	handler := a.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}
