// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"context"
	"fmt"
	"math"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// Passage is a persisted row: the chunk text, its metadata and the
// embedding computed for it. Passages are never mutated after Write.
type Passage struct {
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Embedding []float32      `json:"embedding"`
}

// Match is the read-only projection returned by a similarity search.
// Similarity is cosine similarity in [-1, 1].
type Match struct {
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Similarity float64        `json:"similarity"`
}

// Source returns metadata["source"] rendered as a string, or fallback
// when the metadata has no source.
func (m Match) Source(fallback string) string {
	if m.Metadata == nil {
		return fallback
	}
	v, ok := m.Metadata["source"]
	if !ok || v == nil {
		return fallback
	}
	return fmt.Sprint(v)
}

// MaxMatchCount caps match_count so one request cannot ask for an
// unbounded result set.
const MaxMatchCount = 4096

// MatchRequest is the wire shape of the store's match call.
type MatchRequest struct {
	QueryEmbedding []float32 `json:"query_embedding"`
	MatchThreshold float64   `json:"match_threshold"`
	MatchCount     int       `json:"match_count"`
}

// Validate checks the request against the store's expected dimensions.
// A dims value of zero skips the length check.
func (r MatchRequest) Validate(dims int) error {
	if len(r.QueryEmbedding) == 0 {
		return gitaerr.New(gitaerr.CodeStoreVectorInvalidInput, "query_embedding is empty")
	}
	if dims > 0 && len(r.QueryEmbedding) != dims {
		return gitaerr.Errorf(gitaerr.CodeStoreVectorInvalidInput,
			"query_embedding has %d dimensions, store expects %d", len(r.QueryEmbedding), dims)
	}
	if math.IsNaN(r.MatchThreshold) || r.MatchThreshold < -1 || r.MatchThreshold > 1 {
		return gitaerr.Errorf(gitaerr.CodeStoreVectorInvalidInput, "match_threshold %v out of range", r.MatchThreshold)
	}
	if r.MatchCount < 1 {
		return gitaerr.Errorf(gitaerr.CodeStoreVectorInvalidInput, "match_count must be positive, got %d", r.MatchCount)
	}
	if r.MatchCount > MaxMatchCount {
		return gitaerr.Errorf(gitaerr.CodeStoreVectorInvalidInput, "match_count must not exceed %d, got %d", MaxMatchCount, r.MatchCount)
	}
	return nil
}

// MatchRows runs req against s. It is the RPC-shaped entry point used by
// the HTTP match endpoint; results never include rows under the threshold.
func MatchRows(ctx context.Context, s Searcher, dims int, req MatchRequest) ([]Match, error) {
	if err := req.Validate(dims); err != nil {
		return nil, err
	}
	matches, err := s.Search(ctx, req.QueryEmbedding, req.MatchThreshold, req.MatchCount)
	if err != nil {
		return nil, err
	}
	if matches == nil {
		matches = []Match{}
	}
	return matches, nil
}
