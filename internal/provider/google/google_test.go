// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/internal/provider/google"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := google.New(context.Background(), google.Config{})
	require.Error(t, err)
	assert.True(t, gitaerr.HasCode(err, gitaerr.CodeProviderRequestInvalid))
}

func TestProvider_Basics(t *testing.T) {
	p, err := google.New(context.Background(), google.Config{APIKey: "test-key-not-real"})
	require.NoError(t, err)
	assert.Equal(t, "google", p.Name())
	assert.True(t, p.Available(context.Background()))

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, google.DefaultModel, models[0].ID)
}

func TestConvertMessages(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.MessageRoleSystem, Content: "skipped"},
		{Role: provider.MessageRoleUser, Content: "what is yoga?"},
		{Role: provider.MessageRoleAssistant, ToolCalls: []provider.ToolCall{
			{ID: "a", Name: "search_gita_context", Arguments: `{"query":"yoga","k":3}`},
			{ID: "b", Name: "search_gita_context", Arguments: `{"query":"skill"}`},
		}},
		{Role: provider.MessageRoleTool, ToolCallID: "a", ToolName: "search_gita_context", Content: `{"passages":[]}`},
		{Role: provider.MessageRoleTool, ToolCallID: "b", ToolName: "search_gita_context", Content: `plain text`},
	}

	out, err := google.ConvertMessages(msgs)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "user", out[0].Role)
	assert.Equal(t, "model", out[1].Role)
	require.Len(t, out[1].Parts, 2)
	assert.Equal(t, "yoga", out[1].Parts[0].FunctionCall.Args["query"])

	assert.Equal(t, "user", out[2].Role)
	require.Len(t, out[2].Parts, 2)
	assert.Equal(t, "search_gita_context", out[2].Parts[0].FunctionResponse.Name)
	assert.Equal(t, "plain text", out[2].Parts[1].FunctionResponse.Response["output"])
}

func TestBuildConfig(t *testing.T) {
	temp := float32(0.4)
	cfg := google.BuildConfig(provider.ChatRequest{
		SystemPrompt: "guide",
		Tools:        []provider.ToolDefinition{{Name: "search_gita_context", InputSchema: map[string]any{"type": "object"}}},
		Options:      provider.ChatOptions{Temperature: &temp, MaxTokens: 100},
	})

	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "guide", cfg.SystemInstruction.Parts[0].Text)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "search_gita_context", cfg.Tools[0].FunctionDeclarations[0].Name)
	assert.Equal(t, int32(100), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.4, *cfg.Temperature, 1e-6)
}

func TestChat_Streams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.Contains(r.URL.Path, "streamGenerateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Be steady "}]}}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":2}}`+"\n\n")
		_, _ = fmt.Fprint(w, `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"in yoga."},{"functionCall":{"name":"search_gita_context","args":{"query":"yoga"}}}]}}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":5}}`+"\n\n")
	}))
	defer srv.Close()

	p, err := google.New(context.Background(), google.Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	ch, err := p.Chat(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: "yoga?"}},
	})
	require.NoError(t, err)

	var text string
	var calls []*provider.ToolCall
	var usages []*provider.Usage
	var last provider.ChatEvent
	for ev := range ch {
		switch ev.Type {
		case provider.EventTypeTextDelta:
			text += ev.Text
		case provider.EventTypeToolCall:
			calls = append(calls, ev.ToolCall)
		case provider.EventTypeUsage:
			usages = append(usages, ev.Usage)
		}
		last = ev
	}

	assert.Equal(t, "Be steady in yoga.", text)
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"query":"yoga"}`, calls[0].Arguments)
	require.Len(t, usages, 1)
	assert.Equal(t, 5, usages[0].OutputTokens)
	assert.Equal(t, provider.EventTypeDone, last.Type)
}
