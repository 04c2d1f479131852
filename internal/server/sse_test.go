// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/internal/server"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatBody = `{"messages":[{"role":"user","content":"What is my duty?"}],"system":"Be brief.","model":"openai/gpt-4o-mini"}`

func chatEvents() []agent.Event {
	return []agent.Event{
		{Type: agent.EventToolCall, ToolCall: &provider.ToolCall{ID: "call_1", Name: "searchGita", Arguments: `{"query":"duty"}`}},
		{Type: agent.EventTextDelta, Text: "Act without "},
		{Type: agent.EventTextDelta, Text: "attachment [1]."},
		{Type: agent.EventDone, State: "done", Step: 2},
	}
}

type sseFrame struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.event != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		}
	}
	require.NoError(t, sc.Err())
	return frames
}

func TestChatStream_SSE(t *testing.T) {
	chat := &mockChat{events: chatEvents()}
	srv := newServer(t, &server.Services{Chat: chat})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(chatBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"))

	frames := parseSSE(t, w.Body.String())
	require.Len(t, frames, 4)
	assert.Equal(t, "tool_call", frames[0].event)
	assert.Equal(t, "text_delta", frames[1].event)
	assert.Equal(t, "done", frames[3].event)

	var ev agent.Event
	require.NoError(t, json.Unmarshal([]byte(frames[2].data), &ev))
	assert.Equal(t, "attachment [1].", ev.Text)

	require.NoError(t, json.Unmarshal([]byte(frames[0].data), &ev))
	require.NotNil(t, ev.ToolCall)
	assert.Equal(t, "searchGita", ev.ToolCall.Name)

	require.Len(t, chat.got.Messages, 1)
	assert.Equal(t, provider.MessageRoleUser, chat.got.Messages[0].Role)
	assert.Equal(t, "What is my duty?", chat.got.Messages[0].Content)
	assert.Equal(t, "Be brief.", chat.got.System)
	assert.Equal(t, "openai/gpt-4o-mini", chat.got.Model)
}

func TestChatStream_JSONFallback(t *testing.T) {
	srv := newServer(t, &server.Services{Chat: &mockChat{events: chatEvents()}})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(chatBody))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body struct {
		Events []agent.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Events, 4)
	assert.Equal(t, agent.EventDone, body.Events[3].Type)
	assert.Equal(t, "done", body.Events[3].State)
}

func TestChatStream_ClientTools(t *testing.T) {
	chat := &mockChat{events: []agent.Event{{Type: agent.EventDone, State: "client_tool"}}}
	srv := newServer(t, &server.Services{Chat: chat})

	body := `{"messages":[{"role":"user","content":"show me a chart"}],"tools":[{"name":"renderChart","description":"Draw a chart","parameters":{"type":"object"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, chat.got.ClientTools, 1)
	assert.Equal(t, "renderChart", chat.got.ClientTools[0].Name)
	assert.Equal(t, "object", chat.got.ClientTools[0].InputSchema["type"])
}

func TestChatStream_Rejected(t *testing.T) {
	tests := []struct {
		name string
		chat *mockChat
		body string
		want int
	}{
		{"malformed body", &mockChat{}, `{"messages":`, http.StatusBadRequest},
		{"invalid request", &mockChat{err: gitaerr.New(gitaerr.CodeAgentLoopInvalidInput, "messages are required")}, `{"messages":[]}`, http.StatusBadRequest},
		{"too large", &mockChat{}, `{"messages":[{"role":"user","content":"` + strings.Repeat("a", 1<<20) + `"}]}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &server.Services{Chat: tt.chat})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
}

func TestChatStream_CustomBodyLimit(t *testing.T) {
	srv, err := server.New(server.Config{
		ListenAddr:    "127.0.0.1:0",
		ChatBodyLimit: 64,
		Services:      &server.Services{Chat: &mockChat{}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(chatBody))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestChatStream_NotConfigured(t *testing.T) {
	srv := newServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/stream", strings.NewReader(chatBody))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
