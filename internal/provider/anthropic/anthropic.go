// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package anthropic

import (
	"context"
	"encoding/json"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/sigil-dev/gita/internal/provider"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/sigil-dev/gita/pkg/health"
)

const (
	// DefaultModel is used when a request names no model.
	DefaultModel = "claude-haiku-4-5"

	defaultMaxTokens = 4096
)

// Config holds Anthropic provider configuration.
type Config struct {
	APIKey         string
	BaseURL        string
	HealthCooldown time.Duration
}

// Provider implements provider.Provider using the Messages API.
type Provider struct {
	client anthropicsdk.Client
	health *provider.HealthTracker
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.HealthReporter = (*Provider)(nil)
)

// New creates an Anthropic provider. The API key is required.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, gitaerr.New(gitaerr.CodeProviderRequestInvalid, "anthropic: missing api_key in config", gitaerr.FieldProvider("anthropic"))
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client: anthropicsdk.NewClient(opts...),
		health: provider.MustHealthTracker(provider.CooldownOrDefault(cfg.HealthCooldown)),
	}, nil
}

func (p *Provider) Name() string { return string(provider.ProviderAnthropic) }

func (p *Provider) Available(context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) RecordFailure() { p.health.RecordFailure() }
func (p *Provider) RecordSuccess() { p.health.RecordSuccess() }

func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	caps := func(out int) provider.ModelCapabilities {
		return provider.ModelCapabilities{SupportsTools: true, SupportsStreaming: true, MaxContextTokens: 200000, MaxOutputTokens: out}
	}
	return []provider.ModelInfo{
		{ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", Provider: "anthropic", Capabilities: caps(8192)},
		{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Provider: "anthropic", Capabilities: caps(16000)},
	}, nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	params, err := BuildParams(req)
	if err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeProviderRequestInvalid, "anthropic: building request params")
	}

	ch := make(chan provider.ChatEvent, 100)
	go func() {
		defer close(ch)
		p.streamChat(ctx, params, ch)
	}()
	return ch, nil
}

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: p.Available(ctx), Provider: p.Name(), Message: "ok"}, nil
}

func (p *Provider) Close() error { return nil }

// BuildParams converts a provider.ChatRequest into SDK params.
func BuildParams(req provider.ChatRequest) (anthropicsdk.MessageNewParams, error) {
	msgs, err := ConvertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropicsdk.Float(float64(*req.Options.Temperature))
	}
	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = req.Options.StopSequences
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// ConvertMessages maps conversation turns onto Anthropic messages. Tool
// results that follow one another are folded into a single user turn, as
// the API expects every result for an assistant turn in one message.
// System turns are dropped; the system prompt travels separately.
func ConvertMessages(msgs []provider.Message) ([]anthropicsdk.MessageParam, error) {
	var out []anthropicsdk.MessageParam
	lastWasTool := false

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content)))
			lastWasTool = false
		case provider.MessageRoleAssistant:
			var blocks []anthropicsdk.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
			lastWasTool = false
		case provider.MessageRoleTool:
			block := anthropicsdk.NewToolResultBlock(msg.ToolCallID, msg.Content, false)
			if lastWasTool {
				last := &out[len(out)-1]
				last.Content = append(last.Content, block)
				continue
			}
			out = append(out, anthropicsdk.NewUserMessage(block))
			lastWasTool = true
		case provider.MessageRoleSystem:
			continue
		default:
			return nil, gitaerr.Errorf(gitaerr.CodeProviderRequestInvalid, "anthropic: unsupported message role %q", msg.Role)
		}
	}
	return out, nil
}

// toolInput decodes tool arguments for replay. Invalid JSON becomes an
// empty object since the API rejects non-object inputs.
func toolInput(args string) any {
	var v map[string]any
	if err := json.Unmarshal([]byte(args), &v); err != nil || v == nil {
		return map[string]any{}
	}
	return v
}

func convertTools(tools []provider.ToolDefinition) []anthropicsdk.ToolUnionParam {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := &anthropicsdk.ToolParam{
			Name:        t.Name,
			InputSchema: inputSchema(t.InputSchema),
		}
		if t.Description != "" {
			tool.Description = anthropicsdk.String(t.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: tool})
	}
	return out
}

// inputSchema splits a JSON Schema object into the SDK's properties and
// required fields.
func inputSchema(raw map[string]any) anthropicsdk.ToolInputSchemaParam {
	schema := anthropicsdk.ToolInputSchemaParam{}
	if props, ok := raw["properties"]; ok {
		schema.Properties = props
	}
	switch req := raw["required"].(type) {
	case []string:
		schema.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

type toolAccum struct {
	id   string
	name string
	json string
}

func (p *Provider) streamChat(ctx context.Context, params anthropicsdk.MessageNewParams, ch chan<- provider.ChatEvent) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	defer func() { _ = stream.Close() }()

	blocks := make(map[int64]*toolAccum)

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			u := event.Message.Usage
			if u.InputTokens > 0 || u.OutputTokens > 0 {
				ch <- provider.ChatEvent{
					Type: provider.EventTypeUsage,
					Usage: &provider.Usage{
						InputTokens:      int(u.InputTokens),
						OutputTokens:     int(u.OutputTokens),
						CacheReadTokens:  int(u.CacheReadInputTokens),
						CacheWriteTokens: int(u.CacheCreationInputTokens),
					},
				}
			}

		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				blocks[event.Index] = &toolAccum{id: event.ContentBlock.ID, name: event.ContentBlock.Name}
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: event.Delta.Text}
			case "input_json_delta":
				if acc, ok := blocks[event.Index]; ok {
					acc.json += event.Delta.PartialJSON
				}
			}

		case "content_block_stop":
			if acc, ok := blocks[event.Index]; ok {
				args := acc.json
				if args == "" {
					args = "{}"
				}
				ch <- provider.ChatEvent{
					Type:     provider.EventTypeToolCall,
					ToolCall: &provider.ToolCall{ID: acc.id, Name: acc.name, Arguments: args},
				}
				delete(blocks, event.Index)
			}

		case "message_delta":
			ch <- provider.ChatEvent{
				Type:  provider.EventTypeUsage,
				Usage: &provider.Usage{OutputTokens: int(event.Usage.OutputTokens)},
			}
		}
	}

	if err := stream.Err(); err != nil {
		p.health.RecordFailure()
		ch <- provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()}
		return
	}

	p.health.RecordSuccess()
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
}
