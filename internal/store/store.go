// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import "context"

// Writer persists passages. Write is atomic per call: either every row
// lands or none does.
type Writer interface {
	Write(ctx context.Context, rows []Passage) (int, error)
}

// Searcher runs a similarity search. Only rows whose similarity is at
// least threshold are returned, best first, at most count of them. An
// empty corpus or a query that clears no row yields an empty slice and a
// nil error.
type Searcher interface {
	Search(ctx context.Context, query []float32, threshold float64, count int) ([]Match, error)
}

// VectorStore is the gateway between the pipeline and passage storage.
type VectorStore interface {
	Writer
	Searcher
	Count(ctx context.Context) (int, error)
	Close() error
}
