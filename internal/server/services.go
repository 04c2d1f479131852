// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"fmt"

	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/embedding"
	"github.com/sigil-dev/gita/internal/ingest"
	"github.com/sigil-dev/gita/internal/retrieval"
	"github.com/sigil-dev/gita/internal/store"
	"github.com/sigil-dev/gita/pkg/health"
)

// Services holds dependencies injected into route handlers. Each field is
// an interface so subsystems can be mocked in tests.
type Services struct {
	Ingest  Ingester
	Search  ToolSearcher
	Chat    ChatRunner
	Matcher store.Searcher
	// VectorDimensions bounds the match endpoint's query length; zero
	// skips the check.
	VectorDimensions int
	Health           []HealthChecker
}

// Ingester stores uploaded text and files.
type Ingester interface {
	IngestText(ctx context.Context, req ingest.Request) (ingest.Result, error)
	IngestFile(ctx context.Context, req ingest.FileRequest) (ingest.DocumentResult, error)
}

// ToolSearcher runs the model-facing passage search.
type ToolSearcher interface {
	RetrieveForTool(ctx context.Context, query string, k int) retrieval.ToolResult
}

// ChatRunner drives one conversation turn.
type ChatRunner interface {
	Run(ctx context.Context, req agent.Request) (<-chan agent.Event, error)
}

// HealthChecker reports status lines for /api/v1/status.
type HealthChecker interface {
	Health(ctx context.Context) []health.Component
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) []health.Component

func (f HealthFunc) Health(ctx context.Context) []health.Component { return f(ctx) }

// Counter is the part of a vector store the status endpoint needs.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// StoreHealth reports the passage count, or the error counting failed.
func StoreHealth(name string, c Counter) HealthChecker {
	return HealthFunc(func(ctx context.Context) []health.Component {
		comp := health.Component{Name: name, Kind: "store"}
		n, err := c.Count(ctx)
		if err != nil {
			comp.Detail = err.Error()
			return []health.Component{comp}
		}
		comp.Healthy = true
		comp.Detail = fmt.Sprintf("%d passages", n)
		return []health.Component{comp}
	})
}

// EmbedderHealth reports the configured embedder. It makes no remote
// call; a broken key shows up as ingestion and retrieval errors instead.
func EmbedderHealth(e embedding.Embedder) HealthChecker {
	return HealthFunc(func(context.Context) []health.Component {
		return []health.Component{{
			Name:    e.Name(),
			Kind:    "embedder",
			Healthy: true,
			Detail:  fmt.Sprintf("%d dimensions", e.Dimensions()),
		}}
	})
}
