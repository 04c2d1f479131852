// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package agent_test

import (
	"strings"
	"testing"

	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/provider"
	"github.com/stretchr/testify/assert"
)

func TestBuildSystemPrompt_Order(t *testing.T) {
	got := agent.BuildSystemPrompt("Be concise.", "[1] source=a similarity=0.500\ntext")

	override := strings.Index(got, "Be concise.")
	persona := strings.Index(got, "You are **Gita AI**")
	ctx := strings.Index(got, "## Retrieved Context (from the Bhagavad Gita knowledge base)\n\n[1] source=a")
	mandatory := strings.Index(got, "**MANDATORY**")

	assert.Equal(t, 0, override)
	assert.Greater(t, persona, override)
	assert.Greater(t, ctx, persona)
	assert.Greater(t, mandatory, ctx)
	assert.True(t, strings.HasSuffix(got, "Never give generic answers without specific Gita references."))
}

func TestBuildSystemPrompt_NoOverrideIsTrimmed(t *testing.T) {
	got := agent.BuildSystemPrompt("", "ctx")
	assert.True(t, strings.HasPrefix(got, "You are **Gita AI**"))
	assert.Contains(t, got, "call the `search_gita_context` tool")
}

func TestLatestUserText(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.MessageRoleUser, Content: "first"},
		{Role: provider.MessageRoleAssistant, Content: "reply"},
		{Role: provider.MessageRoleUser, Content: "  second question \n"},
		{Role: provider.MessageRoleTool, Content: "{}"},
	}
	assert.Equal(t, "second question", agent.LatestUserText(msgs))
	assert.Empty(t, agent.LatestUserText(nil))
	assert.Empty(t, agent.LatestUserText(msgs[1:2]))
}

func TestSearchToolDefinition(t *testing.T) {
	def := agent.SearchToolDefinition(5, 10)
	assert.Equal(t, agent.SearchToolName, def.Name)

	props := def.InputSchema["properties"].(map[string]any)
	k := props["k"].(map[string]any)
	assert.Equal(t, 1, k["minimum"])
	assert.Equal(t, 10, k["maximum"])
	assert.Equal(t, 5, k["default"])
	assert.Equal(t, []string{"query"}, def.InputSchema["required"])
}
