// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scanner

import (
	"log/slog"
	"os"
	"regexp"
	"strings"
	"unicode"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"gopkg.in/yaml.v3"
)

// rulesFile is the layout of an extra rules file, compatible with the
// secrets-patterns-db export format plus an optional stage list:
//
//	patterns:
//	  - pattern:
//	      name: Internal Wiki Token
//	      regex: 'wiki_[a-z0-9]{32}'
//	      confidence: high
//	      stages: [ingest, tool]
type rulesFile struct {
	Patterns []struct {
		Pattern filePattern `yaml:"pattern"`
	} `yaml:"patterns"`
}

type filePattern struct {
	Name       string  `yaml:"name"`
	Regex      string  `yaml:"regex"`
	Confidence string  `yaml:"confidence"`
	Stages     []Stage `yaml:"stages"`
}

// defaultFileStages applies to file rules that name no stage: they are
// treated as credential patterns.
var defaultFileStages = []Stage{StageIngest, StageTool}

// LoadRules reads extra rules from a YAML file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, gitaerr.Errorf(gitaerr.CodeScannerRulesFileInvalid, "reading scanner rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules decodes a rules file. Low-confidence patterns are skipped
// since they misfire on ordinary prose. A pattern that does not compile
// fails the whole file so coverage is never silently partial.
func ParseRules(data []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, gitaerr.Errorf(gitaerr.CodeScannerRulesFileInvalid, "parsing scanner rules: %w", err)
	}

	seen := make(map[string]bool, len(f.Patterns))
	var out []Rule
	var failed []string
	for _, entry := range f.Patterns {
		p := entry.Pattern
		var sev Severity
		switch strings.ToLower(p.Confidence) {
		case "high", "":
			sev = SeverityHigh
		case "medium":
			sev = SeverityMedium
		default:
			continue
		}

		name := toSnakeCase(p.Name)
		if name == "" {
			return nil, gitaerr.Errorf(gitaerr.CodeScannerRulesFileInvalid, "pattern %q has no name", p.Regex)
		}
		if seen[name] {
			slog.Warn("duplicate scanner rule name, skipping", "name", name)
			continue
		}
		seen[name] = true

		re, err := regexp.Compile(p.Regex)
		if err != nil {
			failed = append(failed, name)
			continue
		}

		stages := p.Stages
		if len(stages) == 0 {
			stages = defaultFileStages
		}
		for _, st := range stages {
			if !st.Valid() {
				return nil, gitaerr.Errorf(gitaerr.CodeScannerRulesFileInvalid, "pattern %s has invalid stage %q", name, st)
			}
			out = append(out, Rule{Stage: st, Name: name, Pattern: re, Severity: sev})
		}
	}

	if len(failed) > 0 {
		return nil, gitaerr.Errorf(gitaerr.CodeScannerRulesFileInvalid,
			"%d pattern(s) failed to compile: %s", len(failed), strings.Join(failed, ", "))
	}
	return out, nil
}

// toSnakeCase converts a display name like "AWS API Key" to "aws_api_key".
func toSnakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	prevWasUnderscore := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			prevWasUnderscore = false
		default:
			if !prevWasUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				prevWasUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}
