// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sigil-dev/gita/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandler_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(server.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := server.WithCorrelationID(context.Background(), "req-42")
	logger.With("component", "test").InfoContext(ctx, "hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "req-42", rec["correlation_id"])
	assert.Equal(t, "test", rec["component"])
}

func TestContextHandler_NoIDNoAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(server.NewContextHandler(slog.NewJSONHandler(&buf, nil)))

	logger.InfoContext(context.Background(), "hello")

	assert.NotContains(t, buf.String(), "correlation_id")
}

func TestCorrelationMiddleware(t *testing.T) {
	srv := newServer(t, nil)

	tests := []struct {
		name   string
		header string
		reused bool
	}{
		{"client supplied", "abc-123", true},
		{"minted", "", false},
		{"oversized replaced", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			if tt.header != "" {
				req.Header.Set(server.CorrelationHeader, tt.header)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			got := w.Header().Get(server.CorrelationHeader)
			require.NotEmpty(t, got)
			if tt.reused {
				assert.Equal(t, tt.header, got)
			} else {
				assert.NotEqual(t, tt.header, got)
				assert.Len(t, got, 36)
			}
		})
	}
}
