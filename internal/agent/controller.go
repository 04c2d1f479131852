// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package agent drives the bounded conversation between the model and the
// passage search tool.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/internal/retrieval"
	"github.com/sigil-dev/gita/internal/security/scanner"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

const (
	DefaultMaxSteps    = 6
	DefaultStepTimeout = 120 * time.Second

	// ExhaustedText is streamed when the step cap is reached before the
	// model produced any text.
	ExhaustedText = "I was not able to finish searching the Bhagavad Gita for this question. " +
		"Please ask again, perhaps naming the situation or teaching you are most interested in."
)

// Retriever is the part of the retrieval orchestrator the controller uses.
// Config supplies the k bounds advertised in the search tool schema, so the
// model sees the same limits the retriever enforces.
type Retriever interface {
	Retrieve(ctx context.Context, query string) retrieval.Result
	RetrieveForTool(ctx context.Context, query string, k int) retrieval.ToolResult
	Config() retrieval.Config
}

// Screener checks text crossing a trust boundary. It returns the text to
// use, possibly redacted, or an error when the text must not be used.
type Screener interface {
	Screen(ctx context.Context, stage scanner.Stage, text string) (string, error)
}

// Config tunes the controller. Zero values take the defaults.
type Config struct {
	MaxSteps    int           `mapstructure:"max_steps"`
	StepTimeout time.Duration `mapstructure:"step_timeout"`
	Model       string        `mapstructure:"model"`
	Temperature *float32      `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
}

func (c Config) withDefaults() Config {
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = DefaultStepTimeout
	}
	return c
}

// Request is one chat turn: the full client-held history plus optional
// system text, client-executed tools and a model reference.
type Request struct {
	Messages    []provider.Message
	System      string
	ClientTools []provider.ToolDefinition
	Model       string
}

// Controller runs conversation loops. It holds no per-request state and is
// safe for concurrent use.
type Controller struct {
	router    provider.Router
	retriever  Retriever
	screener   Screener
	cfg        Config
	searchTool provider.ToolDefinition
}

// Option configures a Controller.
type Option func(*Controller)

// WithScreener screens the latest user message and every passage handed
// to the model.
func WithScreener(sc Screener) Option {
	return func(c *Controller) { c.screener = sc }
}

// New creates a Controller.
func New(router provider.Router, retriever Retriever, cfg Config, opts ...Option) *Controller {
	rc := retriever.Config()
	def := retrieval.DefaultConfig()
	if rc.ToolMaxK <= 0 {
		rc.ToolMaxK = def.ToolMaxK
	}
	if rc.ToolDefaultK <= 0 {
		rc.ToolDefaultK = min(def.ToolDefaultK, rc.ToolMaxK)
	}
	c := &Controller{
		router:     router,
		retriever:  retriever,
		cfg:        cfg.withDefaults(),
		searchTool: SearchToolDefinition(rc.ToolDefaultK, rc.ToolMaxK),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Run validates req and starts a loop. Events are streamed on the returned
// channel, which is always closed. Cancelling ctx abandons the run.
func (c *Controller) Run(ctx context.Context, req Request) (<-chan Event, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	r := &run{
		c:        c,
		req:      req,
		out:      out,
		messages: slices.Clone(req.Messages),
		tools:    mergeTools(req.ClientTools, c.searchTool),
		state:    StateAwaitingModel,
		started:  time.Now(),
	}
	if err := r.screenInput(ctx); err != nil {
		return nil, err
	}
	for _, t := range r.tools {
		if t.Name != SearchToolName {
			r.clientTools = append(r.clientTools, t.Name)
		}
	}

	go func() {
		defer close(out)
		r.execute(ctx)
	}()
	return out, nil
}

func validateRequest(req Request) error {
	if len(req.Messages) == 0 {
		return gitaerr.New(gitaerr.CodeAgentLoopInvalidInput, "messages must not be empty")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case provider.MessageRoleUser, provider.MessageRoleAssistant, provider.MessageRoleTool, provider.MessageRoleSystem:
		default:
			return gitaerr.Errorf(gitaerr.CodeAgentLoopInvalidInput, "message %d has unsupported role %q", i, m.Role)
		}
	}
	return nil
}

// run is the state of one loop. It owns the step counter.
type run struct {
	c   *Controller
	req Request
	out chan<- Event

	system      string
	messages    []provider.Message
	tools       []provider.ToolDefinition
	clientTools []string

	state    State
	final    State
	step     int
	pending  []provider.ToolCall
	streamed bool
	failed   bool
	searches int
	usage    provider.Usage
	started  time.Time
}

func (r *run) execute(ctx context.Context) {
	seed := r.c.retriever.Retrieve(ctx, LatestUserText(r.messages))
	if !seed.OK() {
		slog.Info("starting conversation without passages", "reason", string(seed.Reason))
	}
	r.system = BuildSystemPrompt(r.req.System, r.screenPassage(ctx, seed.Context))

	for r.state != StateTerminal {
		if ctx.Err() != nil {
			slog.Debug("conversation abandoned by caller", "step", r.step)
			return
		}

		switch r.state {
		case StateAwaitingModel:
			if r.step >= r.c.cfg.MaxSteps {
				r.state = StateExhausted
				continue
			}
			r.state = r.callModel(ctx)
		case StateToolInvoked:
			r.runSearches(ctx)
			r.state = StateAwaitingModel
		case StateAnswered:
			r.final = StateAnswered
			r.state = StateTerminal
		case StateExhausted:
			r.final = StateExhausted
			if !r.streamed {
				r.emit(ctx, Event{Type: EventTextDelta, Text: ExhaustedText})
			}
			r.state = StateTerminal
		}
	}

	if r.failed {
		return
	}

	usage := r.usage
	slog.Info("conversation finished",
		"state", r.final.String(),
		"steps", r.step,
		"searches", r.searches,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"duration", time.Since(r.started),
	)
	r.emit(ctx, Event{Type: EventDone, Step: r.step, State: r.final.String(), Usage: &usage})
}

// callModel runs one model step and returns the next state. A provider
// that fails before any text reaches the caller is swapped for the next
// candidate in the router's failover chain.
func (r *run) callModel(ctx context.Context) State {
	r.step++
	r.emit(ctx, Event{Type: EventStep, Step: r.step})

	modelRef := r.req.Model
	if modelRef == "" {
		modelRef = r.c.cfg.Model
	}

	var tried []string
	for {
		prov, model, err := r.route(ctx, modelRef, tried)
		if err != nil {
			return r.fail(ctx, gitaerr.Wrapf(err, gitaerr.CodeAgentLoopFailure, "routing model for step %d", r.step))
		}

		out, err := r.streamStep(ctx, prov, model)
		if err == nil {
			return r.afterStep(ctx, out)
		}
		tried = append(tried, prov.Name())
		if out.streamed || ctx.Err() != nil || gitaerr.HasCode(err, gitaerr.CodeAgentStepTimeout) || !r.canFailover(len(tried)) {
			return r.fail(ctx, err)
		}
		slog.Warn("provider failed, trying next candidate",
			"step", r.step, "provider", prov.Name(), "attempt", len(tried), "error", err)
	}
}

func (r *run) route(ctx context.Context, modelRef string, tried []string) (provider.Provider, string, error) {
	if len(tried) == 0 {
		return r.c.router.Route(ctx, modelRef)
	}
	return r.c.router.(provider.FailoverRouter).RouteExcluding(ctx, modelRef, tried)
}

func (r *run) canFailover(attempts int) bool {
	fr, ok := r.c.router.(provider.FailoverRouter)
	return ok && attempts < fr.MaxAttempts()
}

// stepOutput is what one model call produced.
type stepOutput struct {
	text     string
	calls    []provider.ToolCall
	streamed bool
}

// streamStep sends the conversation to prov and forwards text and usage as
// they arrive.
func (r *run) streamStep(ctx context.Context, prov provider.Provider, model string) (stepOutput, error) {
	var out stepOutput

	stepCtx, cancel := context.WithTimeout(ctx, r.c.cfg.StepTimeout)
	defer cancel()

	events, err := prov.Chat(stepCtx, provider.ChatRequest{
		Model:        model,
		Messages:     r.messages,
		Tools:        r.tools,
		SystemPrompt: r.system,
		Options:      provider.ChatOptions{Temperature: r.c.cfg.Temperature, MaxTokens: r.c.cfg.MaxTokens},
	})
	if err != nil {
		// Providers record stream outcomes themselves; a call that never
		// opened a stream is only visible here.
		if hr, ok := prov.(provider.HealthReporter); ok && !gitaerr.HasCode(err, gitaerr.CodeProviderRequestInvalid) {
			hr.RecordFailure()
		}
		return out, gitaerr.Wrapf(err, gitaerr.CodeProviderUpstreamFailure, "chat call to %s", prov.Name())
	}

	var text strings.Builder
	var streamErr string
	for ev := range events {
		switch ev.Type {
		case provider.EventTypeTextDelta:
			if ev.Text == "" {
				continue
			}
			text.WriteString(ev.Text)
			out.streamed = true
			r.streamed = true
			r.emit(ctx, Event{Type: EventTextDelta, Text: ev.Text})
		case provider.EventTypeToolCall:
			if ev.ToolCall == nil {
				continue
			}
			tc := *ev.ToolCall
			if tc.ID == "" {
				tc.ID = "call_" + uuid.NewString()
			}
			out.calls = append(out.calls, tc)
		case provider.EventTypeUsage:
			if ev.Usage != nil {
				r.usage.Add(ev.Usage)
				r.emit(ctx, Event{Type: EventUsage, Usage: ev.Usage, Step: r.step})
			}
		case provider.EventTypeError:
			streamErr = ev.Error
		}
	}
	out.text = text.String()

	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return out, gitaerr.Errorf(gitaerr.CodeAgentStepTimeout, "model step %d exceeded %s", r.step, r.c.cfg.StepTimeout)
	}
	if streamErr != "" {
		return out, gitaerr.New(gitaerr.CodeProviderUpstreamFailure, streamErr, gitaerr.FieldProvider(prov.Name()))
	}
	return out, nil
}

// afterStep records the model's tool calls and decides the next state.
func (r *run) afterStep(ctx context.Context, out stepOutput) State {
	calls := out.calls
	if len(calls) == 0 {
		return StateAnswered
	}

	r.messages = append(r.messages, provider.Message{
		Role:      provider.MessageRoleAssistant,
		Content:   out.text,
		ToolCalls: calls,
	})

	var frontend []provider.ToolCall
	r.pending = r.pending[:0]
	for _, tc := range calls {
		if slices.Contains(r.clientTools, tc.Name) {
			frontend = append(frontend, tc)
			continue
		}
		r.pending = append(r.pending, tc)
	}

	// Client tools run in the caller; the turn ends here and resumes with
	// a new request carrying their results. Search calls made alongside
	// them are not part of the caller's history, so they are dropped and
	// the model can search again on the next turn.
	if len(frontend) > 0 {
		if len(r.pending) > 0 {
			slog.Warn("dropping search calls made alongside client tools",
				"step", r.step, "searches", len(r.pending), "client_tools", len(frontend))
			r.pending = r.pending[:0]
		}
		for i := range frontend {
			r.emit(ctx, Event{Type: EventToolCall, ToolCall: &frontend[i], Step: r.step})
		}
		return StateAnswered
	}

	if r.step >= r.c.cfg.MaxSteps {
		return StateExhausted
	}
	return StateToolInvoked
}

// runSearches answers every pending server-side call with a tool message.
func (r *run) runSearches(ctx context.Context) {
	for _, tc := range r.pending {
		var content string
		switch tc.Name {
		case SearchToolName:
			args, ok := parseSearchArgs(tc.Arguments)
			if !ok {
				slog.Warn("model sent malformed search arguments", "step", r.step, "arguments_len", len(tc.Arguments))
				content = errorResultJSON(InvalidArgumentsError)
				break
			}
			r.searches++
			content = toolResultJSON(r.screenToolResult(ctx, r.c.retriever.RetrieveForTool(ctx, args.Query, args.K)))
		default:
			slog.Warn("model called an unknown tool", "step", r.step, "tool", tc.Name)
			content = errorResultJSON(unknownToolError)
		}

		r.messages = append(r.messages, provider.Message{
			Role:       provider.MessageRoleTool,
			Content:    content,
			ToolCallID: tc.ID,
			ToolName:   tc.Name,
		})
	}
	r.pending = r.pending[:0]
}

// screenInput screens the latest user message in place. A blocked message
// rejects the whole request.
func (r *run) screenInput(ctx context.Context) error {
	if r.c.screener == nil {
		return nil
	}
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Role != provider.MessageRoleUser {
			continue
		}
		text, err := r.c.screener.Screen(ctx, scanner.StageInput, r.messages[i].Content)
		if err != nil {
			return err
		}
		r.messages[i].Content = text
		return nil
	}
	return nil
}

// screenPassage returns text as screened for the model, or "" when it is
// blocked.
func (r *run) screenPassage(ctx context.Context, text string) string {
	if r.c.screener == nil || text == "" {
		return text
	}
	out, err := r.c.screener.Screen(ctx, scanner.StageTool, text)
	if err != nil {
		slog.Warn("dropping passage text", "step", r.step, "code", gitaerr.CodeOf(err))
		return ""
	}
	return out
}

func (r *run) screenToolResult(ctx context.Context, res retrieval.ToolResult) retrieval.ToolResult {
	if r.c.screener == nil {
		return res
	}
	kept := make([]retrieval.ToolPassage, 0, len(res.Passages))
	for _, p := range res.Passages {
		if p.Text = r.screenPassage(ctx, p.Text); p.Text != "" {
			kept = append(kept, p)
		}
	}
	res.Passages = kept
	return res
}

func (r *run) fail(ctx context.Context, err error) State {
	slog.Error("conversation step failed", "step", r.step, "error", err)
	r.failed = true
	r.emit(ctx, Event{Type: EventError, Error: err.Error(), Step: r.step})
	return StateTerminal
}

func (r *run) emit(ctx context.Context, ev Event) bool {
	select {
	case r.out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
