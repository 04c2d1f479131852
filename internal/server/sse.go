// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/provider"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// ChatStreamRequest is the request body for the streaming chat endpoint.
type ChatStreamRequest struct {
	Messages []provider.Message        `json:"messages"`
	System   string                    `json:"system,omitempty"`
	Tools    []provider.ToolDefinition `json:"tools,omitempty"`
	Model    string                    `json:"model,omitempty"`
}

func (s *Server) registerSSERoute() {
	s.router.Post("/api/v1/chat/stream", s.handleChatStream)

	// The handler needs the raw ResponseWriter to flush events, so the
	// OpenAPI entry is added by hand.
	minMessages := 1
	s.api.OpenAPI().AddOperation(&huma.Operation{
		OperationID: "chat-stream",
		Method:      http.MethodPost,
		Path:        "/api/v1/chat/stream",
		Summary:     "Stream a grounded chat answer",
		Description: "Runs the tool loop for one turn. Set Accept: text/event-stream for SSE, otherwise receives a JSON array of events.",
		Tags:        []string{"chat"},
		RequestBody: &huma.RequestBody{
			Required: true,
			Content: map[string]*huma.MediaType{
				"application/json": {
					Schema: &huma.Schema{
						Type:     "object",
						Required: []string{"messages"},
						Properties: map[string]*huma.Schema{
							"messages": {
								Type:        "array",
								MinItems:    &minMessages,
								Description: "Conversation so far, oldest first",
								Items: &huma.Schema{
									Type:     "object",
									Required: []string{"role", "content"},
									Properties: map[string]*huma.Schema{
										"role":    {Type: "string", Enum: []any{"user", "assistant", "system", "tool"}},
										"content": {Type: "string"},
									},
								},
							},
							"system": {
								Type:        "string",
								Description: "Extra system instructions appended to the built-in prompt",
							},
							"tools": {
								Type:        "array",
								Description: "Client-side tools; calls to these end the turn",
								Items:       &huma.Schema{Type: "object"},
							},
							"model": {
								Type:        "string",
								Description: "Model reference as provider/model",
							},
						},
					},
				},
			},
		},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Streaming response (SSE or JSON depending on Accept header)",
				Content: map[string]*huma.MediaType{
					"text/event-stream": {
						Schema: &huma.Schema{
							Type:        "string",
							Description: "Server-sent events named text_delta, tool_call, usage, step, done and error",
						},
					},
					"application/json": {
						Schema: &huma.Schema{
							Type: "object",
							Properties: map[string]*huma.Schema{
								"events": {
									Type:        "array",
									Description: "Collected events as JSON objects",
									Items:       &huma.Schema{Type: "object"},
								},
							},
						},
					},
				},
			},
			"400": {Description: "Invalid request body"},
			"413": {Description: "Request body too large"},
			"503": {Description: "Chat not configured"},
		},
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if s.services.Chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.ChatBodyLimit)
	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	events, err := s.services.Chat.Run(r.Context(), agent.Request{
		Messages:    req.Messages,
		System:      req.System,
		ClientTools: req.Tools,
		Model:       req.Model,
	})
	if err != nil {
		status := gitaerr.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			slog.ErrorContext(r.Context(), "starting chat failed", "code", gitaerr.CodeOf(err), "error", err)
		}
		writeError(w, status, errorMessage(err))
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeSSE(w, events)
		return
	}
	writeEvents(w, events)
}

func writeSSE(w http.ResponseWriter, events <-chan agent.Event) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
			// Client went away; drain so the producer can finish.
			drain(events)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func writeEvents(w http.ResponseWriter, events <-chan agent.Event) {
	collected := []agent.Event{}
	for ev := range events {
		collected = append(collected, ev)
	}

	w.Header().Set("Content-Type", "application/json")
	resp := struct {
		Events []agent.Event `json:"events"`
	}{Events: collected}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Warn("encoding chat response", "error", err)
	}
}

func drain(events <-chan agent.Event) {
	for range events {
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
