// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package openai implements provider.Provider on the Chat Completions API.
// Any OpenAI-compatible endpoint works through Config.BaseURL.
package openai

import (
	"context"
	"sort"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/sigil-dev/gita/internal/provider"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/sigil-dev/gita/pkg/health"
)

// DefaultModel is used when a request names no model.
const DefaultModel = "gpt-4o-mini"

// Config holds OpenAI provider configuration. Name and Models let other
// OpenAI-compatible services reuse this provider.
type Config struct {
	APIKey  string
	BaseURL string
	Name    string
	Headers map[string]string
	Models  []provider.ModelInfo

	// HealthCooldown defaults to provider.DefaultHealthCooldown.
	HealthCooldown time.Duration
}

// Provider implements provider.Provider using the Chat Completions API.
type Provider struct {
	client openaisdk.Client
	name   string
	models []provider.ModelInfo
	health *provider.HealthTracker
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.HealthReporter = (*Provider)(nil)
)

// New creates a provider. The API key is required.
func New(cfg Config) (*Provider, error) {
	name := cfg.Name
	if name == "" {
		name = string(provider.ProviderOpenAI)
	}
	if cfg.APIKey == "" {
		return nil, gitaerr.New(gitaerr.CodeProviderRequestInvalid, name+": missing api_key in config", gitaerr.FieldProvider(name))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	models := cfg.Models
	if models == nil {
		models = knownModels()
	}

	return &Provider{
		client: openaisdk.NewClient(opts...),
		name:   name,
		models: models,
		health: provider.MustHealthTracker(provider.CooldownOrDefault(cfg.HealthCooldown)),
	}, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Available(context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) RecordFailure() { p.health.RecordFailure() }
func (p *Provider) RecordSuccess() { p.health.RecordSuccess() }

// HealthMetrics exposes the tracker snapshot.
func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func knownModels() []provider.ModelInfo {
	caps := provider.ModelCapabilities{SupportsTools: true, SupportsStreaming: true, MaxContextTokens: 128000}
	return []provider.ModelInfo{
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai", Capabilities: withOutput(caps, 16384)},
		{ID: "gpt-4o", Name: "GPT-4o", Provider: "openai", Capabilities: withOutput(caps, 16384)},
		{ID: "gpt-4.1", Name: "GPT-4.1", Provider: "openai", Capabilities: withOutput(caps, 32768)},
		{ID: "gpt-4.1-mini", Name: "GPT-4.1 Mini", Provider: "openai", Capabilities: withOutput(caps, 16384)},
	}
}

func withOutput(c provider.ModelCapabilities, out int) provider.ModelCapabilities {
	c.MaxOutputTokens = out
	return c
}

func (p *Provider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return p.models, nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := BuildParams(req)
	if err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeProviderRequestInvalid, "%s: building request params", p.name)
	}

	ch := make(chan provider.ChatEvent, 100)
	go func() {
		defer close(ch)
		p.streamChat(ctx, params, ch)
	}()
	return ch, nil
}

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: p.Available(ctx), Provider: p.name, Message: "ok"}, nil
}

func (p *Provider) Close() error { return nil }

// BuildParams converts a provider.ChatRequest into SDK params.
func BuildParams(req provider.ChatRequest) (openaisdk.ChatCompletionNewParams, error) {
	msgs, err := ConvertMessages(req.Messages, req.SystemPrompt)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
		StreamOptions: openaisdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if req.Options.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.Options.MaxTokens))
	}
	if req.Options.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Options.Temperature))
	}
	if len(req.Options.StopSequences) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{OfStringArray: req.Options.StopSequences}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// ConvertMessages maps conversation turns onto SDK messages, with the
// system prompt first when present.
func ConvertMessages(msgs []provider.Message, systemPrompt string) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	var out []openaisdk.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		out = append(out, openaisdk.SystemMessage(systemPrompt))
	}

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			out = append(out, openaisdk.UserMessage(msg.Content))
		case provider.MessageRoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openaisdk.AssistantMessage(msg.Content))
				continue
			}
			asst := openaisdk.ChatCompletionAssistantMessageParam{ToolCalls: convertToolCalls(msg.ToolCalls)}
			if msg.Content != "" {
				asst.Content.OfString = param.NewOpt(msg.Content)
			}
			out = append(out, openaisdk.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		case provider.MessageRoleTool:
			out = append(out, openaisdk.ToolMessage(msg.Content, msg.ToolCallID))
		case provider.MessageRoleSystem:
			out = append(out, openaisdk.SystemMessage(msg.Content))
		default:
			return nil, gitaerr.Errorf(gitaerr.CodeProviderRequestInvalid, "openai: unsupported message role %q", msg.Role)
		}
	}
	return out, nil
}

func convertToolCalls(calls []provider.ToolCall) []openaisdk.ChatCompletionMessageToolCallParam {
	out := make([]openaisdk.ChatCompletionMessageToolCallParam, 0, len(calls))
	for _, c := range calls {
		out = append(out, openaisdk.ChatCompletionMessageToolCallParam{
			ID: c.ID,
			Function: openaisdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      c.Name,
				Arguments: c.Arguments,
			},
		})
	}
	return out
}

func convertTools(tools []provider.ToolDefinition) []openaisdk.ChatCompletionToolParam {
	out := make([]openaisdk.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		fn := shared.FunctionDefinitionParam{
			Name:       t.Name,
			Parameters: shared.FunctionParameters(t.InputSchema),
		}
		if t.Description != "" {
			fn.Description = param.NewOpt(t.Description)
		}
		out = append(out, openaisdk.ChatCompletionToolParam{Function: fn})
	}
	return out
}

type toolAccum struct {
	id   string
	name string
	args string
}

func (p *Provider) streamChat(ctx context.Context, params openaisdk.ChatCompletionNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	calls := make(map[int64]*toolAccum)

	for stream.Next() {
		chunk := stream.Current()

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc, ok := calls[tc.Index]
				if !ok {
					acc = &toolAccum{}
					calls[tc.Index] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args += tc.Function.Arguments
			}
			if choice.FinishReason == "tool_calls" {
				flushToolCalls(calls, ch)
			}
		}

		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			ch <- provider.ChatEvent{
				Type: provider.EventTypeUsage,
				Usage: &provider.Usage{
					InputTokens:     int(chunk.Usage.PromptTokens),
					OutputTokens:    int(chunk.Usage.CompletionTokens),
					CacheReadTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
				},
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.health.RecordFailure()
		ch <- provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()}
		return
	}

	flushToolCalls(calls, ch)
	p.health.RecordSuccess()
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
}

// flushToolCalls emits accumulated calls in index order. Arguments that
// are not valid JSON are passed through as-is so the caller can report
// them back to the model.
func flushToolCalls(calls map[int64]*toolAccum, ch chan<- provider.ChatEvent) {
	idx := make([]int64, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })

	for _, i := range idx {
		acc := calls[i]
		args := acc.args
		if args == "" {
			args = "{}"
		}
		ch <- provider.ChatEvent{
			Type:     provider.EventTypeToolCall,
			ToolCall: &provider.ToolCall{ID: acc.id, Name: acc.name, Arguments: args},
		}
		delete(calls, i)
	}
}
