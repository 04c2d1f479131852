// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent

import "github.com/sigil-dev/gita/internal/provider"

// State is a position in the conversation loop.
//
//	AwaitingModel -> ToolInvoked | Answered | Exhausted | Terminal
//	ToolInvoked   -> AwaitingModel
//	Answered      -> Terminal
//	Exhausted     -> Terminal
type State int

const (
	StateAwaitingModel State = iota
	StateToolInvoked
	StateAnswered
	StateExhausted
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "awaiting_model"
	case StateToolInvoked:
		return "tool_invoked"
	case StateAnswered:
		return "answered"
	case StateExhausted:
		return "exhausted"
	case StateTerminal:
		return "terminal"
	}
	return "unknown"
}

// EventType identifies a controller output event.
type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventToolCall  EventType = "tool_call"
	EventUsage     EventType = "usage"
	EventStep      EventType = "step"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one item on a run's output stream. Done carries the final state,
// the number of model steps and the summed usage.
type Event struct {
	Type     EventType          `json:"type"`
	Text     string             `json:"text,omitempty"`
	ToolCall *provider.ToolCall `json:"toolCall,omitempty"`
	Usage    *provider.Usage    `json:"usage,omitempty"`
	Step     int                `json:"step,omitempty"`
	State    string             `json:"state,omitempty"`
	Error    string             `json:"error,omitempty"`
}
