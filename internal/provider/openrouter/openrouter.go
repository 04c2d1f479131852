// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package openrouter routes chat through OpenRouter's OpenAI-compatible API.
package openrouter

import (
	"time"

	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/internal/provider/openai"
)

// BaseURL is OpenRouter's API root.
const BaseURL = "https://openrouter.ai/api/v1"

// Config holds OpenRouter provider configuration.
type Config struct {
	APIKey  string
	BaseURL string
	// AppName and AppURL are sent as attribution headers.
	AppName string
	AppURL  string

	HealthCooldown time.Duration
}

// New creates an OpenRouter provider. Model names keep their vendor
// prefix, e.g. "openrouter/meta-llama/llama-3.3-70b-instruct" routes the
// model "meta-llama/llama-3.3-70b-instruct".
func New(cfg Config) (*openai.Provider, error) {
	base := cfg.BaseURL
	if base == "" {
		base = BaseURL
	}

	headers := map[string]string{}
	if cfg.AppName != "" {
		headers["X-Title"] = cfg.AppName
	}
	if cfg.AppURL != "" {
		headers["HTTP-Referer"] = cfg.AppURL
	}

	return openai.New(openai.Config{
		APIKey:  cfg.APIKey,
		BaseURL: base,
		Name:    string(provider.ProviderOpenRouter),
		Headers: headers,
		Models:  knownModels(),

		HealthCooldown: cfg.HealthCooldown,
	})
}

func knownModels() []provider.ModelInfo {
	caps := func(ctx, out int) provider.ModelCapabilities {
		return provider.ModelCapabilities{SupportsTools: true, SupportsStreaming: true, MaxContextTokens: ctx, MaxOutputTokens: out}
	}
	return []provider.ModelInfo{
		{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", Provider: "openrouter", Capabilities: caps(128000, 16384)},
		{ID: "anthropic/claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Provider: "openrouter", Capabilities: caps(200000, 16000)},
		{ID: "google/gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: "openrouter", Capabilities: caps(1000000, 65536)},
		{ID: "meta-llama/llama-3.3-70b-instruct", Name: "Llama 3.3 70B Instruct", Provider: "openrouter", Capabilities: caps(128000, 32768)},
	}
}
