// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/ingest"
	"github.com/sigil-dev/gita/internal/retrieval"
	"github.com/sigil-dev/gita/internal/server"
	"github.com/sigil-dev/gita/internal/store"
	"github.com/stretchr/testify/require"
)

type mockIngester struct {
	mu       sync.Mutex
	textReqs []ingest.Request
	fileReqs []ingest.FileRequest
	fileBody string
	result   ingest.Result
	docRes   ingest.DocumentResult
	err      error
}

func (m *mockIngester) IngestText(_ context.Context, req ingest.Request) (ingest.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.textReqs = append(m.textReqs, req)
	return m.result, m.err
}

func (m *mockIngester) IngestFile(_ context.Context, req ingest.FileRequest) (ingest.DocumentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, err := io.ReadAll(req.Reader)
	if err != nil {
		return ingest.DocumentResult{}, err
	}
	m.fileBody = string(body)
	m.fileReqs = append(m.fileReqs, req)
	return m.docRes, m.err
}

type mockSearcher struct {
	query  string
	k      int
	result retrieval.ToolResult
}

func (m *mockSearcher) RetrieveForTool(_ context.Context, query string, k int) retrieval.ToolResult {
	m.query, m.k = query, k
	return m.result
}

type mockMatcher struct {
	matches   []store.Match
	err       error
	threshold float64
	count     int
}

func (m *mockMatcher) Search(_ context.Context, _ []float32, threshold float64, count int) ([]store.Match, error) {
	m.threshold, m.count = threshold, count
	return m.matches, m.err
}

// mockChat replays events and records the request it was given.
type mockChat struct {
	events []agent.Event
	err    error
	got    agent.Request
}

func (m *mockChat) Run(_ context.Context, req agent.Request) (<-chan agent.Event, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan agent.Event, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type countFunc func(ctx context.Context) (int, error)

func (f countFunc) Count(ctx context.Context) (int, error) { return f(ctx) }

func newServer(t *testing.T, svc *server.Services) *server.Server {
	t.Helper()
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		Services:   svc,
	})
	require.NoError(t, err)
	return srv
}
