// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package retrieval

import (
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// ConceptRule maps a family of keywords to the concept terms searched
// for when the literal query finds nothing.
type ConceptRule struct {
	Name    string
	Pattern *regexp.Regexp
	Terms   []string
}

// ConceptTable is an ordered list of rules plus baseline terms that are
// always appended. Rules are evaluated independently; every matching rule
// contributes its terms.
type ConceptTable struct {
	rules    []ConceptRule
	baseline []string
}

// conceptFile is the YAML shape accepted by LoadConcepts.
type conceptFile struct {
	Rules []struct {
		Name     string   `yaml:"name"`
		Keywords []string `yaml:"keywords"`
		Terms    []string `yaml:"terms"`
	} `yaml:"rules"`
	Baseline []string `yaml:"baseline"`
}

var defaultBaseline = []string{"karma yoga", "dharma", "dealing with difficulties"}

// DefaultConcepts returns the built-in keyword-to-concept table.
func DefaultConcepts() *ConceptTable {
	t := &ConceptTable{baseline: defaultBaseline}
	t.add("frustration",
		[]string{"frustrat*", "angry", "mad", "annoy*", "upset", "done", "tired", "exhaust*"},
		[]string{"perseverance", "equanimity", "detachment from results", "overcoming obstacles"})
	t.add("failure",
		[]string{"fail*", "stuck", "can't", "unable", "impossible", "hopeless", "give up"},
		[]string{"duty and action", "resilience", "karma yoga"})
	t.add("confusion",
		[]string{"confus*", "lost", "don't know", "uncertain", "doubt*"},
		[]string{"self-knowledge", "wisdom", "dharma"})
	t.add("work",
		[]string{"work", "job", "career", "code", "project", "task"},
		[]string{"nishkama karma", "action without attachment", "duty"})
	t.add("purpose",
		[]string{"why", "purpose", "meaning", "point", "reason"},
		[]string{"purpose of life", "self-realization"})
	return t
}

// LoadConcepts reads a YAML concept table. An empty baseline in the file
// keeps the built-in baseline terms.
func LoadConcepts(path string) (*ConceptTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeConfigLoadReadFailure, "reading concepts file %s", path)
	}
	return ParseConcepts(raw)
}

// ParseConcepts parses a YAML concept table.
func ParseConcepts(raw []byte) (*ConceptTable, error) {
	var f conceptFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeRetrievalConceptsInvalid, "parsing concepts")
	}

	t := &ConceptTable{baseline: f.Baseline}
	if len(t.baseline) == 0 {
		t.baseline = defaultBaseline
	}
	for i, r := range f.Rules {
		if len(r.Keywords) == 0 || len(r.Terms) == 0 {
			return nil, gitaerr.Errorf(gitaerr.CodeRetrievalConceptsInvalid,
				"concept rule %d (%q) needs keywords and terms", i, r.Name)
		}
		for _, k := range r.Keywords {
			if strings.TrimSuffix(strings.TrimSpace(k), "*") == "" {
				return nil, gitaerr.Errorf(gitaerr.CodeRetrievalConceptsInvalid,
					"concept rule %d (%q) has a blank keyword", i, r.Name)
			}
		}
		t.add(r.Name, r.Keywords, r.Terms)
	}
	return t, nil
}

// Rules returns the rules in evaluation order.
func (t *ConceptTable) Rules() []ConceptRule {
	return t.rules
}

// Expand builds the fallback query for a user query: the terms of every
// matching rule in table order, then the baseline, deduplicated keeping
// the first occurrence and joined with single spaces.
func (t *ConceptTable) Expand(query string) string {
	q := normalizeQuery(query)

	var terms []string
	for _, r := range t.rules {
		if r.Pattern.MatchString(q) {
			terms = append(terms, r.Terms...)
		}
	}
	terms = append(terms, t.baseline...)

	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return strings.Join(out, " ")
}

// Matched returns the names of the rules that fire for query.
func (t *ConceptTable) Matched(query string) []string {
	q := normalizeQuery(query)
	var names []string
	for _, r := range t.rules {
		if r.Pattern.MatchString(q) {
			names = append(names, r.Name)
		}
	}
	return names
}

func (t *ConceptTable) add(name string, keywords, terms []string) {
	t.rules = append(t.rules, ConceptRule{
		Name:    name,
		Pattern: keywordPattern(keywords),
		Terms:   terms,
	})
}

// keywordPattern compiles keywords into one word-bounded alternation. A
// trailing '*' marks a stem: "frustrat*" matches "frustrated" and
// "frustration".
func keywordPattern(keywords []string) *regexp.Regexp {
	alts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if stem, ok := strings.CutSuffix(k, "*"); ok {
			alts = append(alts, regexp.QuoteMeta(stem)+`\w*`)
			continue
		}
		alts = append(alts, regexp.QuoteMeta(k))
	}
	return regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`)
}

var curlyApostrophes = strings.NewReplacer("’", "'", "‘", "'")

func normalizeQuery(q string) string {
	return curlyApostrophes.Replace(strings.ToLower(q))
}
