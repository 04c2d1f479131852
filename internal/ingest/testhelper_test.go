// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest_test

import (
	"context"
	"io"
	"sync"

	"github.com/sigil-dev/gita/internal/store"
)

type mockEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	short bool
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, texts)
	if m.err != nil {
		return nil, m.err
	}
	n := len(texts)
	if m.short {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(i), 1, 0}
	}
	return out, nil
}

func (m *mockEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, m.err
}

func (m *mockEmbedder) Dimensions() int { return 3 }
func (m *mockEmbedder) Name() string    { return "mock" }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockWriter fails the calls listed in failOn (1-based).
type mockWriter struct {
	mu     sync.Mutex
	writes [][]store.Passage
	calls  int
	failOn map[int]error
}

func (m *mockWriter) Write(_ context.Context, rows []store.Passage) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err, ok := m.failOn[m.calls]; ok {
		return 0, err
	}
	m.writes = append(m.writes, rows)
	return len(rows), nil
}

func (m *mockWriter) rows() []store.Passage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []store.Passage
	for _, w := range m.writes {
		all = append(all, w...)
	}
	return all
}

type extractorFunc func(ctx context.Context, r io.Reader, name string) (string, error)

func (f extractorFunc) Extract(ctx context.Context, r io.Reader, name string) (string, error) {
	return f(ctx, r, name)
}
