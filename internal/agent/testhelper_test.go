// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent_test

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/internal/retrieval"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays one scripted step per Chat call. Calls beyond
// the script repeat the last step.
type scriptedProvider struct {
	mu       sync.Mutex
	name     string
	steps    [][]provider.ChatEvent
	requests []provider.ChatRequest
	chatErr  error
	block    bool
	failures int
}

func (p *scriptedProvider) Name() string {
	if p.name == "" {
		return "scripted"
	}
	return p.name
}

func (p *scriptedProvider) Available(context.Context) bool {
	return true
}

func (p *scriptedProvider) Close() error {
	return nil
}

func (p *scriptedProvider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *scriptedProvider) Status(context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: true, Provider: p.Name()}, nil
}

func (p *scriptedProvider) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
}

func (p *scriptedProvider) RecordSuccess() {}

func (p *scriptedProvider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chatErr != nil {
		return nil, p.chatErr
	}

	req.Messages = append([]provider.Message(nil), req.Messages...)
	p.requests = append(p.requests, req)

	ch := make(chan provider.ChatEvent, 16)
	if p.block {
		go func() {
			defer close(ch)
			<-ctx.Done()
			ch <- provider.ChatEvent{Type: provider.EventTypeError, Error: ctx.Err().Error()}
		}()
		return ch, nil
	}

	idx := min(len(p.requests)-1, len(p.steps)-1)
	for _, ev := range p.steps[idx] {
		ch <- ev
	}
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) failureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

type fixedRouter struct {
	p     provider.Provider
	err   error
	model string
	refs  []string
}

func (r *fixedRouter) Route(_ context.Context, ref string) (provider.Provider, string, error) {
	r.refs = append(r.refs, ref)
	if r.err != nil {
		return nil, "", r.err
	}
	return r.p, r.model, nil
}

func (r *fixedRouter) Close() error {
	return nil
}

// chainRouter routes to the first provider in chain not yet excluded.
type chainRouter struct {
	chain    []provider.Provider
	excluded [][]string
}

func (r *chainRouter) Route(ctx context.Context, ref string) (provider.Provider, string, error) {
	return r.RouteExcluding(ctx, ref, nil)
}

func (r *chainRouter) RouteExcluding(_ context.Context, _ string, exclude []string) (provider.Provider, string, error) {
	r.excluded = append(r.excluded, slices.Clone(exclude))
	for _, p := range r.chain {
		if !slices.Contains(exclude, p.Name()) {
			return p, "model", nil
		}
	}
	return nil, "", gitaerr.New(gitaerr.CodeProviderAllUnavailable, "all providers unavailable")
}

func (r *chainRouter) MaxAttempts() int {
	return len(r.chain)
}

func (r *chainRouter) Close() error {
	return nil
}

type toolQuery struct {
	query string
	k     int
}

type mockRetriever struct {
	mu      sync.Mutex
	cfg     retrieval.Config
	seed    retrieval.Result
	tool    retrieval.ToolResult
	seeded  []string
	queries []toolQuery
}

func (m *mockRetriever) Retrieve(_ context.Context, q string) retrieval.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeded = append(m.seeded, q)
	if m.seed.Context == "" {
		return retrieval.Result{Status: retrieval.StatusOK, Context: "[1] source=gita.txt similarity=0.900\nYou have a right to action alone."}
	}
	return m.seed
}

func (m *mockRetriever) Config() retrieval.Config {
	if m.cfg == (retrieval.Config{}) {
		return retrieval.DefaultConfig()
	}
	return m.cfg
}

func (m *mockRetriever) RetrieveForTool(_ context.Context, q string, k int) retrieval.ToolResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, toolQuery{query: q, k: k})
	if m.tool.Passages == nil && m.tool.RetrievalError == "" {
		return retrieval.ToolResult{Passages: []retrieval.ToolPassage{{Ref: 1, Source: "gita.txt", Relevance: 0.7, Text: "Yoga is skill in action."}}}
	}
	return m.tool
}

func text(s string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: s}
}

func call(id, name, args string) provider.ChatEvent {
	return provider.ChatEvent{Type: provider.EventTypeToolCall, ToolCall: &provider.ToolCall{ID: id, Name: name, Arguments: args}}
}

func userMsg(s string) []provider.Message {
	return []provider.Message{{Role: provider.MessageRoleUser, Content: s}}
}

// drain collects every event, failing the test if the channel stays open.
func drain(t *testing.T, ch <-chan agent.Event) []agent.Event {
	t.Helper()
	var out []agent.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			require.FailNow(t, "event channel was not closed")
			return nil
		}
	}
}

func streamedText(events []agent.Event) string {
	var s string
	for _, ev := range events {
		if ev.Type == agent.EventTextDelta {
			s += ev.Text
		}
	}
	return s
}

func ofType(events []agent.Event, typ agent.EventType) []agent.Event {
	var out []agent.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}
