// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent

import (
	"encoding/json"
	"math"

	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/internal/retrieval"
)

// SearchToolName is the server-side search tool offered to the model.
const SearchToolName = "search_gita_context"

const (
	// InvalidArgumentsError is returned to the model when its search call
	// cannot be decoded.
	InvalidArgumentsError = "Search arguments were not valid. Call " + SearchToolName + ` again with {"query": string, "k": integer between 1 and 10}.`

	unknownToolError = "Unknown tool. Only " + SearchToolName + " can be called here."
)

// SearchToolDefinition describes the search tool to the model. maxK bounds
// the advertised k.
func SearchToolDefinition(defaultK, maxK int) provider.ToolDefinition {
	return provider.ToolDefinition{
		Name: SearchToolName,
		Description: "Search the Bhagavad Gita knowledge base for relevant passages, verses, and shlokas. Use this when you need more context. " +
			"IMPORTANT: If the user's question seems specific (like coding, work, etc.), search for related Gita concepts like " +
			"'perseverance', 'detachment from results', 'duty and action', 'overcoming obstacles', 'karma yoga', etc. " +
			"The Gita addresses all human experiences through universal principles.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type": "string",
					"description": "The search query - use Gita concepts (perseverance, detachment, duty, karma, dharma, etc.) even if the user's question is about modern topics. " +
						"Map their situation to universal Gita teachings.",
				},
				"k": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     maxK,
					"default":     defaultK,
					"description": "Number of passages to retrieve",
				},
			},
			"required":             []string{"query"},
			"additionalProperties": false,
		},
	}
}

// searchArgs is the decoded search tool input. K is zero when absent.
type searchArgs struct {
	Query string
	K     int
}

// parseSearchArgs decodes a tool call's JSON arguments. A fractional k is
// rounded; range clamping is left to the orchestrator.
func parseSearchArgs(raw string) (searchArgs, bool) {
	var in struct {
		Query *string  `json:"query"`
		K     *float64 `json:"k"`
	}
	if err := json.Unmarshal([]byte(raw), &in); err != nil || in.Query == nil {
		return searchArgs{}, false
	}
	out := searchArgs{Query: *in.Query}
	if in.K != nil {
		if math.IsNaN(*in.K) || math.IsInf(*in.K, 0) {
			return searchArgs{}, false
		}
		out.K = int(math.Round(*in.K))
	}
	return out, true
}

// mergeTools returns the client tools followed by the search tool. A
// client tool that reuses the search tool's name is dropped.
func mergeTools(client []provider.ToolDefinition, search provider.ToolDefinition) []provider.ToolDefinition {
	out := make([]provider.ToolDefinition, 0, len(client)+1)
	for _, t := range client {
		if t.Name == search.Name || t.Name == "" {
			continue
		}
		out = append(out, t)
	}
	return append(out, search)
}

func toolResultJSON(r retrieval.ToolResult) string {
	if r.Passages == nil {
		r.Passages = []retrieval.ToolPassage{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(retrieval.ToolResult{Passages: []retrieval.ToolPassage{}, RetrievalError: retrieval.ToolRetrievalError})
	}
	return string(b)
}

func errorResultJSON(msg string) string {
	return toolResultJSON(retrieval.ToolResult{RetrievalError: msg})
}
