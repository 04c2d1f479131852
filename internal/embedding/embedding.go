// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package embedding turns text into fixed-width vectors. A Batcher wraps a
// remote Backend and owns batching, ordering and per-call deadlines.
package embedding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

const (
	// DefaultBatchSize bounds how many texts go into one remote call.
	DefaultBatchSize = 20
	// DefaultTimeout is the per-call deadline applied to every remote call.
	DefaultTimeout = 30 * time.Second
)

// Embedder produces embeddings. Embed returns one vector per input, in
// input order. EmbedQuery embeds a single query on its own.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// Backend performs a single remote embedding call. Implementations must
// return exactly one vector per text, in order.
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Config tunes the Batcher.
type Config struct {
	BatchSize int
	Timeout   time.Duration // 0 disables the per-call deadline.
}

// Batcher implements Embedder on top of a Backend. Batches are issued one
// after another and the first failure aborts the whole call, so callers
// never receive a partial set of vectors.
type Batcher struct {
	backend   Backend
	batchSize int
	timeout   time.Duration
}

var _ Embedder = (*Batcher)(nil)

// NewBatcher wraps backend. A non-positive batch size falls back to
// DefaultBatchSize.
func NewBatcher(backend Backend, cfg Config) *Batcher {
	size := cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batcher{backend: backend, batchSize: size, timeout: cfg.Timeout}
}

func (b *Batcher) Name() string    { return b.backend.Name() }
func (b *Batcher) Dimensions() int { return b.backend.Dimensions() }

// BatchSize reports the effective batch size.
func (b *Batcher) BatchSize() int { return b.batchSize }

// Embed embeds texts in sequential batches and concatenates the results.
func (b *Batcher) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		batch := texts[start:end]

		vectors, err := b.call(ctx, batch)
		if err != nil {
			slog.Warn("embedding batch failed",
				"backend", b.backend.Name(),
				"batch_start", start,
				"batch_len", len(batch),
				"error", err,
			)
			return nil, err
		}
		out = append(out, vectors...)
	}

	return out, nil
}

// EmbedQuery embeds one query text in its own call.
func (b *Batcher) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := b.call(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (b *Batcher) call(ctx context.Context, batch []string) ([][]float32, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	vectors, err := b.backend.EmbedBatch(ctx, batch)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, gitaerr.Wrapf(err, gitaerr.CodeEmbeddingTimeout,
				"%s: embedding call exceeded %s", b.backend.Name(), b.timeout)
		}
		return nil, gitaerr.Wrapf(err, gitaerr.CodeEmbeddingUpstreamFailure, "%s: embedding %d texts", b.backend.Name(), len(batch))
	}

	if len(vectors) != len(batch) {
		return nil, gitaerr.Errorf(gitaerr.CodeEmbeddingResponseInvalid,
			"%s: got %d vectors for %d texts", b.backend.Name(), len(vectors), len(batch))
	}
	if dims := b.backend.Dimensions(); dims > 0 {
		for i, v := range vectors {
			if len(v) != dims {
				return nil, gitaerr.Errorf(gitaerr.CodeEmbeddingResponseInvalid,
					"%s: vector %d has %d dimensions, want %d", b.backend.Name(), i, len(v), dims)
			}
		}
	}

	return vectors, nil
}
