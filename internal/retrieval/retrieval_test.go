// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package retrieval_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/sigil-dev/gita/internal/retrieval"
	"github.com/sigil-dev/gita/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmbedder struct {
	queries []string
	err     error
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, m.err
}

func (m *mockEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	m.queries = append(m.queries, text)
	if m.err != nil {
		return nil, m.err
	}
	return []float32{1, 0}, nil
}

func (m *mockEmbedder) Dimensions() int { return 2 }
func (m *mockEmbedder) Name() string    { return "mock" }

type searchCall struct {
	threshold float64
	count     int
}

// mockStore returns responses[i] for the i-th search call; calls past the
// end of responses return no matches.
type mockStore struct {
	responses [][]store.Match
	errs      []error
	calls     []searchCall
}

func (m *mockStore) Search(_ context.Context, _ []float32, threshold float64, count int) ([]store.Match, error) {
	i := len(m.calls)
	m.calls = append(m.calls, searchCall{threshold: threshold, count: count})
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return m.responses[i], nil
	}
	return []store.Match{}, nil
}

func match(content, source string, sim float64) store.Match {
	var meta map[string]any
	if source != "" {
		meta = map[string]any{"source": source}
	}
	return store.Match{Content: content, Metadata: meta, Similarity: sim}
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	emb := &mockEmbedder{}
	st := &mockStore{}
	o := retrieval.New(emb, st)

	for _, q := range []string{"", "   \n"} {
		res := o.Retrieve(context.Background(), q)
		assert.Equal(t, retrieval.StatusDegraded, res.Status)
		assert.Equal(t, retrieval.ReasonEmptyQuery, res.Reason)
		assert.Equal(t, retrieval.SentinelEmptyQuery, res.Context)
	}
	assert.Empty(t, emb.queries, "no search for an empty query")
	assert.Empty(t, st.calls)
}

func TestRetrieve_PrimaryHit(t *testing.T) {
	emb := &mockEmbedder{}
	st := &mockStore{responses: [][]store.Match{{
		match("You have a right to your actions.", "gita.txt", 0.8123),
		match("The soul is eternal.", "", 0.5),
	}}}
	o := retrieval.New(emb, st)

	res := o.Retrieve(context.Background(), "what is my duty?")

	require.True(t, res.OK())
	assert.Equal(t, retrieval.ReasonNone, res.Reason)
	assert.Empty(t, res.FallbackQuery)
	assert.Equal(t,
		"[1] source=gita.txt similarity=0.812\nYou have a right to your actions.\n\n[2] source=unknown-source similarity=0.500\nThe soul is eternal.",
		res.Context)
	require.Len(t, st.calls, 1)
	assert.InDelta(t, 0.32, st.calls[0].threshold, 1e-9)
	assert.Equal(t, 8, st.calls[0].count)
	assert.Equal(t, []string{"what is my duty?"}, emb.queries)
}

func TestRetrieve_ConceptFallback(t *testing.T) {
	emb := &mockEmbedder{}
	st := &mockStore{responses: [][]store.Match{
		{},
		{match("Perform your duty with equanimity.", "gita.txt", 0.41)},
	}}
	o := retrieval.New(emb, st)

	res := o.Retrieve(context.Background(), "I'm frustrated and stuck on this bug")

	require.True(t, res.OK())
	require.Len(t, st.calls, 2)
	assert.LessOrEqual(t, st.calls[1].threshold, st.calls[0].threshold)
	assert.InDelta(t, 0.30, st.calls[1].threshold, 1e-9)
	assert.Equal(t, 8, st.calls[1].count)

	require.Len(t, emb.queries, 2)
	fallback := emb.queries[1]
	assert.Equal(t, fallback, res.FallbackQuery)
	for _, term := range []string{"perseverance", "resilience", "karma yoga", "dharma", "dealing with difficulties"} {
		assert.Contains(t, fallback, term)
	}
	assert.Contains(t, res.Context, "Perform your duty with equanimity.")
}

func TestRetrieve_NoMatchesAfterFallback(t *testing.T) {
	st := &mockStore{}
	o := retrieval.New(&mockEmbedder{}, st)

	res := o.Retrieve(context.Background(), "hello")

	assert.Equal(t, retrieval.StatusDegraded, res.Status)
	assert.Equal(t, retrieval.ReasonNoMatches, res.Reason)
	assert.Equal(t, retrieval.SentinelNoMatches, res.Context)
	assert.Len(t, st.calls, 2)
}

func TestRetrieve_EmbeddingFailureDegrades(t *testing.T) {
	st := &mockStore{}
	o := retrieval.New(&mockEmbedder{err: errors.New("openai down")}, st)

	res := o.Retrieve(context.Background(), "what is karma?")

	assert.Equal(t, retrieval.StatusDegraded, res.Status)
	assert.Equal(t, retrieval.ReasonFailed, res.Reason)
	assert.Equal(t, retrieval.SentinelRetrievalFailed, res.Context)
	assert.Empty(t, st.calls)
}

func TestRetrieve_FallbackStoreFailureDegrades(t *testing.T) {
	st := &mockStore{
		responses: [][]store.Match{{}},
		errs:      []error{nil, errors.New("connection reset")},
	}
	o := retrieval.New(&mockEmbedder{}, st)

	res := o.Retrieve(context.Background(), "why bother")

	assert.Equal(t, retrieval.ReasonFailed, res.Reason)
	assert.Equal(t, retrieval.SentinelRetrievalFailed, res.Context)
	assert.NotEmpty(t, res.FallbackQuery)
}

func TestRetrieve_CustomConfig(t *testing.T) {
	st := &mockStore{responses: [][]store.Match{{match("x", "s", 0.9)}}}
	cfg := retrieval.DefaultConfig()
	cfg.PrimaryThreshold = 0.5
	cfg.PrimaryCount = 3
	o := retrieval.New(&mockEmbedder{}, st, retrieval.WithConfig(cfg))

	o.Retrieve(context.Background(), "q")

	require.Len(t, st.calls, 1)
	assert.InDelta(t, 0.5, st.calls[0].threshold, 1e-9)
	assert.Equal(t, 3, st.calls[0].count)
}

func TestRetrieveForTool(t *testing.T) {
	st := &mockStore{responses: [][]store.Match{{
		match("Yoga is skill in action.", "gita.txt", 0.67891),
		match("Abandon attachment.", "", 0.4),
	}}}
	o := retrieval.New(&mockEmbedder{}, st)

	res := o.RetrieveForTool(context.Background(), "skill in action", 3)

	assert.Empty(t, res.RetrievalError)
	require.Len(t, res.Passages, 2)
	assert.Equal(t, retrieval.ToolPassage{Ref: 1, Source: "gita.txt", Relevance: 0.679, Text: "Yoga is skill in action."}, res.Passages[0])
	assert.Equal(t, retrieval.ToolPassage{Ref: 2, Source: "Bhagavad Gita", Relevance: 0.4, Text: "Abandon attachment."}, res.Passages[1])

	require.Len(t, st.calls, 1)
	assert.InDelta(t, 0.35, st.calls[0].threshold, 1e-9)
	assert.Equal(t, 3, st.calls[0].count)
}

func TestRetrieveForTool_NoFallback(t *testing.T) {
	st := &mockStore{}
	emb := &mockEmbedder{}
	o := retrieval.New(emb, st)

	res := o.RetrieveForTool(context.Background(), "frustrated", 5)

	assert.Empty(t, res.RetrievalError)
	assert.NotNil(t, res.Passages)
	assert.Empty(t, res.Passages)
	assert.Len(t, st.calls, 1)
	assert.Equal(t, []string{"frustrated"}, emb.queries)
}

func TestRetrieveForTool_ClampsK(t *testing.T) {
	tests := []struct {
		k    int
		want int
	}{
		{k: 0, want: 5},
		{k: -3, want: 1},
		{k: 1, want: 1},
		{k: 7, want: 7},
		{k: 10, want: 10},
		{k: 50, want: 10},
	}
	for _, tt := range tests {
		st := &mockStore{}
		o := retrieval.New(&mockEmbedder{}, st)
		o.RetrieveForTool(context.Background(), "dharma", tt.k)
		require.Len(t, st.calls, 1)
		assert.Equal(t, tt.want, st.calls[0].count, "k=%d", tt.k)
	}
}

func TestRetrieveForTool_ErrorKeepsLoopAlive(t *testing.T) {
	o := retrieval.New(&mockEmbedder{}, &mockStore{errs: []error{errors.New("db locked")}})

	res := o.RetrieveForTool(context.Background(), "dharma", 5)

	assert.NotNil(t, res.Passages)
	assert.Empty(t, res.Passages)
	assert.Equal(t, retrieval.ToolRetrievalError, res.RetrievalError)

	raw, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"passages":[],"retrievalError":"Context retrieval is temporarily unavailable. Do not fabricate quotes or verse numbers."}`, string(raw))
}

func TestRetrieveForTool_EmptyQuery(t *testing.T) {
	st := &mockStore{}
	o := retrieval.New(&mockEmbedder{}, st)

	res := o.RetrieveForTool(context.Background(), " ", 5)

	assert.Equal(t, retrieval.ToolEmptyQueryError, res.RetrievalError)
	assert.Empty(t, st.calls)
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, retrieval.NoPassagesText, retrieval.FormatContext(nil))

	got := retrieval.FormatContext([]store.Match{
		match("a", "one", 1),
		match("b", "two", math.NaN()),
	})
	parts := strings.Split(got, "\n\n")
	require.Len(t, parts, 2)
	assert.Equal(t, "[1] source=one similarity=1.000\na", parts[0])
	assert.Equal(t, "[2] source=two similarity=n/a\nb", parts[1])
}

func TestToolPassages_SuccessOmitsError(t *testing.T) {
	raw, err := json.Marshal(retrieval.ToolResult{Passages: retrieval.ToolPassages([]store.Match{match("t", "s", 0.12345)})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"passages":[{"ref":1,"source":"s","relevance":0.123,"text":"t"}]}`, string(raw))
}
