// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package retrieval

import (
	"fmt"
	"math"
	"strings"

	"github.com/sigil-dev/gita/internal/store"
)

const (
	// NoPassagesText is what FormatContext renders for an empty match list.
	NoPassagesText = "No direct source passages found."

	contextDefaultSource = "unknown-source"
	toolDefaultSource    = "Bhagavad Gita"
)

// FormatContext renders matches as a numbered list:
//
//	[1] source=gita.txt similarity=0.812
//	<passage text>
//
// Entries are separated by a blank line.
func FormatContext(matches []store.Match) string {
	if len(matches) == 0 {
		return NoPassagesText
	}

	var b strings.Builder
	for i, m := range matches {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] source=%s similarity=%s\n%s", i+1, m.Source(contextDefaultSource), formatScore(m.Similarity), m.Content)
	}
	return b.String()
}

// ToolPassages converts matches into the search tool's passage list.
func ToolPassages(matches []store.Match) []ToolPassage {
	out := make([]ToolPassage, len(matches))
	for i, m := range matches {
		out[i] = ToolPassage{
			Ref:       i + 1,
			Source:    m.Source(toolDefaultSource),
			Relevance: roundRelevance(m.Similarity),
			Text:      m.Content,
		}
	}
	return out
}

func formatScore(s float64) string {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return "n/a"
	}
	return fmt.Sprintf("%.3f", s)
}
