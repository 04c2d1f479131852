// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"context"

	"google.golang.org/genai"

	"github.com/sigil-dev/gita/internal/embedding"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

const (
	DefaultModel      = "gemini-embedding-001"
	DefaultDimensions = 1536
)

// Config holds Gemini embedding configuration.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	// TaskType is passed through to the API, e.g. RETRIEVAL_DOCUMENT.
	TaskType string
}

// Backend implements embedding.Backend with the Gemini EmbedContent API.
type Backend struct {
	client *genai.Client
	model  string
	dims   int
	task   string
}

var _ embedding.Backend = (*Backend)(nil)

// New creates a Gemini embedding backend. Returns an error if the API key
// is missing.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, gitaerr.New(gitaerr.CodeEmbeddingRequestInvalid, "google embeddings: missing api_key in config",
			gitaerr.FieldProvider("google"))
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeEmbeddingUpstreamFailure, "google embeddings: creating client")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}

	return &Backend{client: client, model: model, dims: dims, task: cfg.TaskType}, nil
}

func (b *Backend) Name() string    { return "google/" + b.model }
func (b *Backend) Dimensions() int { return b.dims }

// EmbedBatch sends every text as its own content part of one request.
func (b *Backend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	dims := int32(b.dims)
	cfg := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
		TaskType:             b.task,
	}

	resp, err := b.client.Models.EmbedContent(ctx, b.model, contents, cfg)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, gitaerr.Errorf(gitaerr.CodeEmbeddingResponseInvalid, "google embeddings: got %d vectors for %d texts", got, len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, gitaerr.Errorf(gitaerr.CodeEmbeddingResponseInvalid, "google embeddings: vector %d missing", i)
		}
		out[i] = e.Values
	}
	return out, nil
}
