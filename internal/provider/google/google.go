// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package google

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"google.golang.org/genai"

	"github.com/sigil-dev/gita/internal/provider"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/sigil-dev/gita/pkg/health"
)

// DefaultModel is used when a request names no model.
const DefaultModel = "gemini-2.5-flash"

// Config holds Google provider configuration.
type Config struct {
	APIKey         string
	BaseURL        string
	HealthCooldown time.Duration
}

// Provider implements provider.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	health *provider.HealthTracker
}

var (
	_ provider.Provider       = (*Provider)(nil)
	_ provider.HealthReporter = (*Provider)(nil)
)

// New creates a Gemini provider. The API key is required.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, gitaerr.New(gitaerr.CodeProviderRequestInvalid, "google: missing api_key in config", gitaerr.FieldProvider("google"))
	}

	clientCfg := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeProviderUpstreamFailure, "google: creating client")
	}

	return &Provider{client: client, health: provider.MustHealthTracker(provider.CooldownOrDefault(cfg.HealthCooldown))}, nil
}

func (p *Provider) Name() string { return string(provider.ProviderGoogle) }

func (p *Provider) Available(context.Context) bool { return p.health.IsHealthy() }

func (p *Provider) RecordFailure() { p.health.RecordFailure() }
func (p *Provider) RecordSuccess() { p.health.RecordSuccess() }

func (p *Provider) HealthMetrics() health.Metrics { return p.health.HealthMetrics() }

func (p *Provider) ListModels(context.Context) ([]provider.ModelInfo, error) {
	caps := provider.ModelCapabilities{SupportsTools: true, SupportsStreaming: true, MaxContextTokens: 1000000, MaxOutputTokens: 65536}
	return []provider.ModelInfo{
		{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: "google", Capabilities: caps},
		{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro", Provider: "google", Capabilities: caps},
	}, nil
}

func (p *Provider) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	contents, err := ConvertMessages(req.Messages)
	if err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeProviderRequestInvalid, "google: converting messages")
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	cfg := BuildConfig(req)

	ch := make(chan provider.ChatEvent, 100)
	go func() {
		defer close(ch)
		p.streamChat(ctx, model, contents, cfg, ch)
	}()
	return ch, nil
}

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: p.Available(ctx), Provider: p.Name(), Message: "ok"}, nil
}

func (p *Provider) Close() error { return nil }

// BuildConfig maps request options, system prompt and tools onto a
// generation config.
func BuildConfig(req provider.ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Options.Temperature != nil {
		cfg.Temperature = genai.Ptr(*req.Options.Temperature)
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}
	if len(req.Options.StopSequences) > 0 {
		cfg.StopSequences = req.Options.StopSequences
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.InputSchema,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cfg
}

// ConvertMessages maps conversation turns onto Gemini contents. Function
// responses that follow one another share one user turn.
func ConvertMessages(msgs []provider.Message) ([]*genai.Content, error) {
	var out []*genai.Content
	lastWasTool := false

	for _, msg := range msgs {
		switch msg.Role {
		case provider.MessageRoleUser:
			out = append(out, genai.NewContentFromText(msg.Content, genai.RoleUser))
			lastWasTool = false
		case provider.MessageRoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: decodeArgs(tc.Arguments)}})
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
			lastWasTool = false
		case provider.MessageRoleTool:
			part := &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     msg.ToolName,
				Response: map[string]any{"output": json.RawMessage(msg.Content)},
			}}
			if !json.Valid([]byte(msg.Content)) {
				part.FunctionResponse.Response = map[string]any{"output": msg.Content}
			}
			if lastWasTool {
				last := out[len(out)-1]
				last.Parts = append(last.Parts, part)
				continue
			}
			out = append(out, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
			lastWasTool = true
		case provider.MessageRoleSystem:
			continue
		default:
			return nil, gitaerr.Errorf(gitaerr.CodeProviderRequestInvalid, "google: unsupported message role %q", msg.Role)
		}
	}
	return out, nil
}

func decodeArgs(args string) map[string]any {
	var v map[string]any
	if err := json.Unmarshal([]byte(args), &v); err != nil || v == nil {
		return map[string]any{}
	}
	return v
}

func (p *Provider) streamChat(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig, ch chan<- provider.ChatEvent) {
	var usage *genai.GenerateContentResponseUsageMetadata

	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
		if err != nil {
			p.health.RecordFailure()
			ch <- provider.ChatEvent{Type: provider.EventTypeError, Error: err.Error()}
			return
		}

		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Text != "" && !part.Thought {
					ch <- provider.ChatEvent{Type: provider.EventTypeTextDelta, Text: part.Text}
				}
				if part.FunctionCall == nil {
					continue
				}
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					slog.Warn("google: tool call arguments not encodable",
						"function", part.FunctionCall.Name,
						"error", err,
					)
					args = []byte("{}")
				}
				ch <- provider.ChatEvent{
					Type: provider.EventTypeToolCall,
					ToolCall: &provider.ToolCall{
						ID:        part.FunctionCall.ID,
						Name:      part.FunctionCall.Name,
						Arguments: string(args),
					},
				}
			}
		}

		// Gemini repeats cumulative usage on every chunk; report the last.
		if resp.UsageMetadata != nil {
			usage = resp.UsageMetadata
		}
	}

	if usage != nil {
		ch <- provider.ChatEvent{
			Type: provider.EventTypeUsage,
			Usage: &provider.Usage{
				InputTokens:     int(usage.PromptTokenCount),
				OutputTokens:    int(usage.CandidatesTokenCount),
				CacheReadTokens: int(usage.CachedContentTokenCount),
			},
		}
	}

	p.health.RecordSuccess()
	ch <- provider.ChatEvent{Type: provider.EventTypeDone}
}
