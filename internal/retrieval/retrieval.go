// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package retrieval turns user queries into context for the model. It never
// returns an error: failures degrade into instructive sentinel text so the
// conversation always has something to work with.
package retrieval

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/sigil-dev/gita/internal/embedding"
	"github.com/sigil-dev/gita/internal/store"
)

// Sentinel context strings handed to the model in place of passages.
const (
	SentinelEmptyQuery      = "No query provided. Wait for user input, then retrieve context using search_gita_context tool before answering."
	SentinelNoMatches       = "No passages found. Use search_gita_context with related Gita concepts before answering."
	SentinelRetrievalFailed = "Context retrieval failed. You MUST use the search_gita_context tool to find relevant passages. The Gita has wisdom for every situation - search for related concepts."
	ToolRetrievalError      = "Context retrieval is temporarily unavailable. Do not fabricate quotes or verse numbers."
	ToolEmptyQueryError     = "Search query was empty. Call search_gita_context again with a query describing the Gita concepts to look for."
)

// Status tags a Result as usable passages or a degraded sentinel.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
)

// Reason explains why a Result is degraded.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonEmptyQuery Reason = "empty_query"
	ReasonNoMatches  Reason = "no_matches"
	ReasonFailed     Reason = "retrieval_failed"
)

// Result is the outcome of Retrieve. Context is always non-empty and ready
// to embed in a prompt.
type Result struct {
	Status        Status
	Reason        Reason
	Context       string
	Matches       []store.Match
	FallbackQuery string
}

// OK reports whether passages were found.
func (r Result) OK() bool { return r.Status == StatusOK }

// ToolPassage is one passage returned to the model by the search tool.
type ToolPassage struct {
	Ref       int     `json:"ref"`
	Source    string  `json:"source"`
	Relevance float64 `json:"relevance"`
	Text      string  `json:"text"`
}

// ToolResult is the search tool's response. Passages is never nil so it
// always serializes as a JSON array.
type ToolResult struct {
	Passages       []ToolPassage `json:"passages"`
	RetrievalError string        `json:"retrievalError,omitempty"`
}

// Config holds thresholds and counts for the three search shapes.
type Config struct {
	PrimaryThreshold  float64 `mapstructure:"primary_threshold"`
	PrimaryCount      int     `mapstructure:"primary_count"`
	FallbackThreshold float64 `mapstructure:"fallback_threshold"`
	FallbackCount     int     `mapstructure:"fallback_count"`
	ToolThreshold     float64 `mapstructure:"tool_threshold"`
	ToolDefaultK      int     `mapstructure:"tool_default_k"`
	ToolMaxK          int     `mapstructure:"tool_max_k"`
}

// DefaultConfig returns the tuned defaults: a recall-oriented primary
// search, a slightly looser concept fallback and a stricter tool search.
func DefaultConfig() Config {
	return Config{
		PrimaryThreshold:  0.32,
		PrimaryCount:      8,
		FallbackThreshold: 0.30,
		FallbackCount:     8,
		ToolThreshold:     0.35,
		ToolDefaultK:      5,
		ToolMaxK:          10,
	}
}

// Orchestrator runs searches against the passage store.
type Orchestrator struct {
	embedder embedding.Embedder
	searcher store.Searcher
	concepts *ConceptTable
	cfg      Config
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcepts replaces the built-in concept table.
func WithConcepts(t *ConceptTable) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.concepts = t
		}
	}
}

// WithConfig replaces the default thresholds and counts.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// New creates an Orchestrator.
func New(e embedding.Embedder, s store.Searcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		embedder: e,
		searcher: s,
		concepts: DefaultConcepts(),
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the active configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Concepts returns the active concept table.
func (o *Orchestrator) Concepts() *ConceptTable { return o.concepts }

// Retrieve builds the context block for the first model step.
func (o *Orchestrator) Retrieve(ctx context.Context, query string) Result {
	if strings.TrimSpace(query) == "" {
		return Result{Status: StatusDegraded, Reason: ReasonEmptyQuery, Context: SentinelEmptyQuery}
	}

	matches, err := o.search(ctx, query, o.cfg.PrimaryThreshold, o.cfg.PrimaryCount)
	if err != nil {
		return o.failed("primary", query, err)
	}
	if len(matches) > 0 {
		return Result{Status: StatusOK, Context: FormatContext(matches), Matches: matches}
	}

	fallback := o.concepts.Expand(query)
	slog.Debug("primary retrieval empty, using concept fallback",
		"query_len", utf8.RuneCountInString(query),
		"concepts", o.concepts.Matched(query),
	)

	matches, err = o.search(ctx, fallback, o.cfg.FallbackThreshold, o.cfg.FallbackCount)
	if err != nil {
		res := o.failed("fallback", query, err)
		res.FallbackQuery = fallback
		return res
	}
	if len(matches) == 0 {
		return Result{Status: StatusDegraded, Reason: ReasonNoMatches, Context: SentinelNoMatches, FallbackQuery: fallback}
	}
	return Result{Status: StatusOK, Context: FormatContext(matches), Matches: matches, FallbackQuery: fallback}
}

// RetrieveForTool serves the model-invoked search. There is no concept
// fallback here: the model is expected to refine its own query.
func (o *Orchestrator) RetrieveForTool(ctx context.Context, query string, k int) ToolResult {
	if strings.TrimSpace(query) == "" {
		return ToolResult{Passages: []ToolPassage{}, RetrievalError: ToolEmptyQueryError}
	}

	matches, err := o.search(ctx, query, o.cfg.ToolThreshold, o.ClampK(k))
	if err != nil {
		slog.Warn("tool retrieval failed",
			"stage", "tool",
			"query_len", utf8.RuneCountInString(query),
			"error", err,
		)
		return ToolResult{Passages: []ToolPassage{}, RetrievalError: ToolRetrievalError}
	}

	return ToolResult{Passages: ToolPassages(matches)}
}

// ClampK applies the tool's default and bounds to a requested k. Zero
// means "not given" and takes the default; a negative k becomes 1.
func (o *Orchestrator) ClampK(k int) int {
	switch {
	case k == 0:
		k = o.cfg.ToolDefaultK
	case k < 1:
		k = 1
	}
	return min(max(k, 1), o.cfg.ToolMaxK)
}

func (o *Orchestrator) search(ctx context.Context, query string, threshold float64, count int) ([]store.Match, error) {
	vec, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return o.searcher.Search(ctx, vec, threshold, count)
}

func (o *Orchestrator) failed(stage, query string, err error) Result {
	slog.Warn("initial retrieval failed",
		"stage", stage,
		"query_len", utf8.RuneCountInString(query),
		"error", err,
	)
	return Result{Status: StatusDegraded, Reason: ReasonFailed, Context: SentinelRetrievalFailed}
}

// roundRelevance rounds a similarity to three decimals. Non-finite scores
// become zero so the tool result always serializes.
func roundRelevance(s float64) float64 {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return math.Round(s*1000) / 1000
}
