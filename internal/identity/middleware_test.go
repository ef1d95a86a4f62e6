package identity

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMiddleware_StoresIdentity(t *testing.T) {
	var got Identity
	handler := Middleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/cart", nil)
	req.Header.Set(HeaderName, `user="u-1", auth=?1`)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got.Owner() != "u-1" {
		t.Errorf("owner = %q, want u-1", got.Owner())
	}
}

func TestMiddleware_MissingHeaderIsGuest(t *testing.T) {
	var got Identity
	handler := Middleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/cart", nil))

	if got != Guest {
		t.Errorf("identity = %+v, want Guest", got)
	}
}

func TestMiddleware_RejectsMalformedHeader(t *testing.T) {
	called := false
	handler := Middleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("POST", "/cart/items", nil)
	req.Header.Set(HeaderName, `auth=?1`)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if called {
		t.Error("handler should not run")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "INVALID_SESSION" {
		t.Errorf("code = %q, want INVALID_SESSION", body.Error.Code)
	}
}

func TestMiddleware_ExemptPaths(t *testing.T) {
	for _, path := range []string{"/health", "/healthz"} {
		called := false
		handler := Middleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set(HeaderName, `garbage===`)
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if !called {
			t.Errorf("%s: handler not called", path)
		}
	}
}

func TestMiddleware_MCPRequiresValidHeader(t *testing.T) {
	called := false
	handler := Middleware(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("POST", "/mcp", nil)
	req.Header.Set(HeaderName, `garbage===`)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if called {
		t.Error("handler should not run")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
