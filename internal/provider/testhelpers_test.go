// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"time"

	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/pkg/health"
)

// mockProvider is a scripted provider.Provider. It is available unless a
// health tracker says otherwise.
type mockProvider struct {
	name    string
	down    bool
	closed  bool
	tracker *provider.HealthTracker
}

func newMockProvider(name string) *mockProvider {
	return &mockProvider{name: name, tracker: provider.MustHealthTracker(time.Minute)}
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Available(context.Context) bool {
	return !m.down && m.tracker.IsHealthy()
}

func (m *mockProvider) ListModels(context.Context) ([]provider.ModelInfo, error) { return nil, nil }

func (m *mockProvider) Chat(context.Context, provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	ch := make(chan provider.ChatEvent, 2)
	ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: "hello"}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, nil
}

func (m *mockProvider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: m.Available(ctx), Provider: m.name, Message: "ok"}, nil
}

func (m *mockProvider) Close() error {
	m.closed = true
	return nil
}

func (m *mockProvider) RecordFailure() { m.tracker.RecordFailure() }
func (m *mockProvider) RecordSuccess() { m.tracker.RecordSuccess() }

func (m *mockProvider) HealthMetrics() health.Metrics { return m.tracker.HealthMetrics() }
