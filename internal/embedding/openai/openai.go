// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package openai

import (
	"context"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/sigil-dev/gita/internal/embedding"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

const (
	DefaultModel      = "text-embedding-3-small"
	DefaultDimensions = 1536
)

// Config holds OpenAI embedding configuration.
type Config struct {
	APIKey     string
	BaseURL    string // optional, useful for testing against a mock server
	Model      string
	Dimensions int
}

// Backend implements embedding.Backend with the OpenAI embeddings API.
type Backend struct {
	client openaisdk.Client
	model  string
	dims   int
}

var _ embedding.Backend = (*Backend)(nil)

// New creates an OpenAI embedding backend. Returns an error if the API key
// is missing.
func New(cfg Config) (*Backend, error) {
	if cfg.APIKey == "" {
		return nil, gitaerr.New(gitaerr.CodeEmbeddingRequestInvalid, "openai embeddings: missing api_key in config",
			gitaerr.FieldProvider("openai"))
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}

	return &Backend{client: openaisdk.NewClient(opts...), model: model, dims: dims}, nil
}

func (b *Backend) Name() string    { return "openai/" + b.model }
func (b *Backend) Dimensions() int { return b.dims }

// EmbedBatch issues one embeddings request. Vectors are placed by the
// response index, not by arrival order.
func (b *Backend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	params := openaisdk.EmbeddingNewParams{
		Model: openaisdk.EmbeddingModel(b.model),
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	}
	if b.dims != DefaultDimensions {
		params.Dimensions = openaisdk.Int(int64(b.dims))
	}

	resp, err := b.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}

	return orderByIndex(resp.Data, len(texts))
}

func orderByIndex(data []openaisdk.Embedding, want int) ([][]float32, error) {
	if len(data) != want {
		return nil, gitaerr.Errorf(gitaerr.CodeEmbeddingResponseInvalid, "openai embeddings: got %d vectors for %d texts", len(data), want)
	}

	out := make([][]float32, want)
	for _, d := range data {
		idx := int(d.Index)
		if idx < 0 || idx >= want || out[idx] != nil {
			return nil, gitaerr.Errorf(gitaerr.CodeEmbeddingResponseInvalid, "openai embeddings: unexpected index %d", d.Index)
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[idx] = vec
	}
	return out, nil
}
