// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sigil-dev/gita/internal/server"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_New_EmptyListenAddr(t *testing.T) {
	_, err := server.New(server.Config{})
	require.Error(t, err)
	assert.True(t, gitaerr.HasCode(err, gitaerr.CodeServerConfigInvalid), "got %s", gitaerr.CodeOf(err))
	assert.Contains(t, err.Error(), "listen address is required")
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := newServer(t, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, stripSchema(t, w.Body.Bytes()))
}

func TestServer_OpenAPISpecListsEveryRoute(t *testing.T) {
	srv := newServer(t, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var spec struct {
		Paths map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &spec))

	for path, method := range map[string]string{
		"/health":                 "get",
		"/api/v1/status":          "get",
		"/api/v1/ingest/text":     "post",
		"/api/v1/ingest/document": "post",
		"/api/v1/search":          "post",
		"/api/v1/match":           "post",
		"/api/v1/chat/stream":     "post",
	} {
		require.Contains(t, spec.Paths, path)
		assert.Contains(t, spec.Paths[path], method, path)
	}
}

func TestServer_SecurityHeaders(t *testing.T) {
	srv := newServer(t, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestServer_CORS(t *testing.T) {
	srv, err := server.New(server.Config{
		ListenAddr:  "127.0.0.1:0",
		CORSOrigins: []string{"https://gita.example.com"},
	})
	require.NoError(t, err)

	tests := []struct {
		origin string
		want   string
	}{
		{"https://gita.example.com", "https://gita.example.com"},
		{"http://localhost:3000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", "POST")
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestServer_CORSDefaultsToLocalFrontend(t *testing.T) {
	srv := newServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/chat/stream", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_CORSWildcardRejected(t *testing.T) {
	_, err := server.New(server.Config{
		ListenAddr:  "127.0.0.1:0",
		CORSOrigins: []string{"*"},
	})
	require.Error(t, err)
	assert.True(t, gitaerr.HasCode(err, gitaerr.CodeServerConfigInvalid))
	assert.Contains(t, err.Error(), "CORS origin")
}

func TestServer_GracefulShutdown(t *testing.T) {
	srv := newServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	<-ctx.Done()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}
}

func TestServer_ServeOnListener(t *testing.T) {
	srv := newServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down within timeout")
	}
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	srv, err := server.New(server.Config{ListenAddr: ln.Addr().String()})
	require.NoError(t, err)

	err = srv.Start(context.Background())
	require.Error(t, err)
	assert.True(t, gitaerr.HasCode(err, gitaerr.CodeServerStartFailure))
}

// stripSchema drops the $schema link huma adds to JSON bodies.
func stripSchema(t *testing.T, body []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	delete(m, "$schema")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}
