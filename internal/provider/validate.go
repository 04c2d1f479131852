// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"context"
	"io"
	"net/http"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// ProviderName identifies a supported LLM provider.
type ProviderName string

const (
	ProviderAnthropic  ProviderName = "anthropic"
	ProviderOpenAI     ProviderName = "openai"
	ProviderGoogle     ProviderName = "google"
	ProviderOpenRouter ProviderName = "openrouter"
)

// KnownProviders lists the backends gita can build, in menu order.
var KnownProviders = []ProviderName{ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderOpenRouter}

// modelsEndpoint returns the URL of the provider's model listing, which is
// the cheapest authenticated call each API offers.
func modelsEndpoint(p ProviderName, key string) (string, bool) {
	switch p {
	case ProviderAnthropic:
		return "https://api.anthropic.com/v1/models", true
	case ProviderOpenAI:
		return "https://api.openai.com/v1/models", true
	case ProviderGoogle:
		// The Generative Language API only accepts the key as a query parameter.
		return "https://generativelanguage.googleapis.com/v1/models?key=" + key, true
	case ProviderOpenRouter:
		return "https://openrouter.ai/api/v1/models", true
	}
	return "", false
}

// ValidateKey confirms an API key by listing the provider's models.
func ValidateKey(ctx context.Context, client *http.Client, p ProviderName, key string) error {
	url, ok := modelsEndpoint(p, key)
	if !ok {
		return gitaerr.Errorf(gitaerr.CodeProviderKeyInvalid, "unknown provider: %s", p)
	}
	return ValidateKeyWithURL(ctx, client, p, key, url)
}

// ValidateKeyWithURL is ValidateKey against an explicit endpoint.
func ValidateKeyWithURL(ctx context.Context, client *http.Client, p ProviderName, key, url string) error {
	if _, ok := modelsEndpoint(p, key); !ok {
		return gitaerr.Errorf(gitaerr.CodeProviderKeyInvalid, "unknown provider: %s", p)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return gitaerr.Errorf(gitaerr.CodeProviderKeyCheckFailed, "building validation request: %w", err)
	}
	switch p {
	case ProviderAnthropic:
		req.Header.Set("x-api-key", key)
		req.Header.Set("anthropic-version", "2023-06-01")
	case ProviderOpenAI, ProviderOpenRouter:
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return gitaerr.Errorf(gitaerr.CodeProviderKeyCheckFailed, "validating %s key: %w", p, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return gitaerr.Errorf(gitaerr.CodeProviderKeyInvalid, "invalid %s API key (HTTP %d)", p, resp.StatusCode)
	case resp.StatusCode >= 400:
		return gitaerr.Errorf(gitaerr.CodeProviderKeyCheckFailed, "%s validation failed (HTTP %d)", p, resp.StatusCode)
	}
	return nil
}
