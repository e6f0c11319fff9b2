package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestKernelProxyStripsRoutePrefix(t *testing.T) {
	var observedPath string
	kernel := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observedPath = r.URL.Path
		w.Write([]byte(`{"kernels":[]}`))
	}))
	t.Cleanup(kernel.Close)

	fixture := newServerFixture(t)
	fixture.register(t, "user-1", "user")

	handler, err := NewHTTPHandler(Dependencies{
		Catalog:       fixture.catalog,
		Authenticator: fixture.tokens,
		KernelURL:     kernel.URL,
	})
	if err != nil {
		t.Fatalf("building handler with proxy: %v", err)
	}

	signed, _, err := fixture.tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	request := httptest.NewRequest(http.MethodGet, "/api/kernels/api/sessions", nil).WithContext(ctx)
	request.Header.Set("Authorization", "Bearer "+signed)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected proxied 200, got %d", recorder.Code)
	}
	if observedPath != "/api/sessions" {
		t.Fatalf("expected prefix-stripped path /api/sessions, got %q", observedPath)
	}
	body, _ := io.ReadAll(recorder.Body)
	if string(body) != `{"kernels":[]}` {
		t.Fatalf("unexpected proxied body %q", body)
	}
}

func TestKernelProxyReportsUpstreamFailure(t *testing.T) {
	fixture := newServerFixture(t)
	fixture.register(t, "user-1", "user")

	// Nothing listens on this address.
	handler, err := NewHTTPHandler(Dependencies{
		Catalog:       fixture.catalog,
		Authenticator: fixture.tokens,
		KernelURL:     "http://127.0.0.1:1",
	})
	if err != nil {
		t.Fatalf("building handler with proxy: %v", err)
	}

	signed, _, err := fixture.tokens.Issue("user-1")
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	request := httptest.NewRequest(http.MethodGet, "/api/kernels/api/sessions", nil).WithContext(ctx)
	request.Header.Set("Authorization", "Bearer "+signed)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for unreachable kernel, got %d", recorder.Code)
	}
}
