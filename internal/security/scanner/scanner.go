// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package scanner screens text entering the store or the model context for
// prompt injection and leaked credentials.
package scanner

import (
	"context"
	"regexp"
	"slices"
	"strings"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Stage identifies where in the pipeline scanning occurs.
type Stage string

const (
	// StageIngest covers uploaded text before it is chunked and stored.
	StageIngest Stage = "ingest"
	// StageInput covers the user's latest chat message.
	StageInput Stage = "input"
	// StageTool covers retrieved passages before they reach the model.
	StageTool Stage = "tool"
)

// Valid reports whether the stage is a known pipeline stage.
func (s Stage) Valid() bool {
	switch s {
	case StageIngest, StageInput, StageTool:
		return true
	default:
		return false
	}
}

// Severity indicates how critical a detection is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Valid reports whether the severity is a known severity level.
func (s Severity) Valid() bool {
	switch s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return true
	default:
		return false
	}
}

// ScanResult holds the outcome of a scan.
type ScanResult struct {
	Threat  bool
	Matches []Match
	// Content is the normalized text the match offsets refer to. Redaction
	// must use it rather than the caller's original string.
	Content string
}

// Rules returns the distinct rule names that matched, in match order.
func (r ScanResult) Rules() []string {
	var names []string
	for _, m := range r.Matches {
		if !slices.Contains(names, m.Rule) {
			names = append(names, m.Rule)
		}
	}
	return names
}

// Match describes a single pattern match. Location and Length are byte
// offsets into ScanResult.Content and are never negative.
type Match struct {
	Rule     string
	Location int
	Length   int
	Severity Severity
}

// Scanner scans content for threats.
type Scanner interface {
	Scan(ctx context.Context, content string, stage Stage) (ScanResult, error)
}

// Rule defines a detection pattern.
type Rule struct {
	// Stage is the pipeline phase this rule applies to.
	Stage    Stage
	Name     string
	Pattern  *regexp.Regexp
	Severity Severity
}

// DefaultMaxContentLength bounds the text a RegexScanner accepts. Ingest
// segments stay well below it.
const DefaultMaxContentLength = 1 << 20

// RegexScanner implements Scanner using compiled regexes.
type RegexScanner struct {
	rules            []Rule
	maxContentLength int
}

// NewRegexScanner creates a scanner with the given rules.
func NewRegexScanner(rules []Rule) (*RegexScanner, error) {
	for i, r := range rules {
		if r.Pattern == nil {
			return nil, gitaerr.Errorf(gitaerr.CodeScannerRuleInvalid, "rule %d (%s) has nil pattern", i, r.Name)
		}
		if !r.Stage.Valid() {
			return nil, gitaerr.Errorf(gitaerr.CodeScannerRuleInvalid, "rule %d (%s) has invalid stage %q", i, r.Name, r.Stage)
		}
		if r.Name == "" {
			return nil, gitaerr.Errorf(gitaerr.CodeScannerRuleInvalid, "rule %d has empty name", i)
		}
		if !r.Severity.Valid() {
			return nil, gitaerr.Errorf(gitaerr.CodeScannerRuleInvalid, "rule %d (%s) has invalid severity %q", i, r.Name, r.Severity)
		}
	}
	return &RegexScanner{rules: rules, maxContentLength: DefaultMaxContentLength}, nil
}

// invisibleCharReplacer strips zero-width and other invisible characters
// used to split trigger phrases.
var invisibleCharReplacer = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // zero-width no-break space / BOM
	"\u00ad", "", // soft hyphen
	"\u034f", "", // combining grapheme joiner
	"\u061c", "", // Arabic letter mark
	"\u180e", "", // Mongolian vowel separator
	"\u2060", "", // word joiner
	"\u2061", "", // invisible function application
	"\u2062", "", // invisible times
	"\u2063", "", // invisible separator
	"\u2064", "", // invisible plus
	"\ufff9", "", // interlinear annotation anchor
	"\ufffa", "", // interlinear annotation separator
	"\ufffb", "", // interlinear annotation terminator
)

// normalize strips invisible characters and applies NFKC, which folds
// full-width and other compatibility forms onto ASCII. Precomposed IAST
// letters such as ā and ṣ are unchanged.
func normalize(s string) string {
	s = invisibleCharReplacer.Replace(s)
	return norm.NFKC.String(s)
}

// Scan checks content against the rules for stage.
func (s *RegexScanner) Scan(_ context.Context, content string, stage Stage) (ScanResult, error) {
	if !stage.Valid() {
		return ScanResult{}, gitaerr.Errorf(gitaerr.CodeScannerStageInvalid, "invalid scan stage %q", stage)
	}

	content = normalize(content)

	if len(content) > s.maxContentLength {
		return ScanResult{Threat: true, Content: content, Matches: []Match{{
			Rule:     "content_too_large",
			Location: 0,
			Length:   len(content),
			Severity: SeverityHigh,
		}}}, nil
	}

	result := ScanResult{Content: content}

	for _, rule := range s.rules {
		if rule.Stage != stage {
			continue
		}
		for _, loc := range rule.Pattern.FindAllStringIndex(content, -1) {
			result.Threat = true
			result.Matches = append(result.Matches, Match{
				Rule:     rule.Name,
				Location: loc[0],
				Length:   loc[1] - loc[0],
				Severity: rule.Severity,
			})
		}
	}

	return result, nil
}

// DefaultRules returns the built-in rule set for every stage.
func DefaultRules() []Rule {
	return slices.Concat(SecretRules(StageIngest), InputRules(), PassageRules(), SecretRules(StageTool))
}

// InputRules returns prompt injection patterns for user messages.
func InputRules() []Rule {
	return stamp(StageInput, slices.Concat(injectionRules(), []Rule{
		{
			Name:     "role_confusion",
			Pattern:  regexp.MustCompile(`(?i)you\s+are\s+now\s+\w+[,.]?\s*(do|ignore|forget|disregard)`),
			Severity: SeverityHigh,
		},
		{
			Name:     "delimiter_abuse",
			Pattern:  regexp.MustCompile("(?i)```system\\b"),
			Severity: SeverityMedium,
		},
		{
			Name:     "new_task_injection",
			Pattern:  regexp.MustCompile(`(?i)(new\s+task:|from\s+now\s+on\s+you|pretend\s+(?:the\s+)?(?:above|previous)\s+(?:rules?|instructions?)\s+(?:do\s+not|don'?t)\s+exist)`),
			Severity: SeverityMedium,
		},
	}))
}

// PassageRules returns patterns that should never appear in a stored
// passage handed to the model: instructions aimed at the model itself.
func PassageRules() []Rule {
	return stamp(StageTool, slices.Concat(injectionRules(), []Rule{
		{
			Name:     "system_prompt_leak",
			Pattern:  regexp.MustCompile(`(?im)^SYSTEM:\s`),
			Severity: SeverityHigh,
		},
		{
			Name:     "role_impersonation",
			Pattern:  regexp.MustCompile(`(?is)\[INST\].{0,1000}?\[/INST\]`),
			Severity: SeverityHigh,
		},
	}))
}

// injectionRules are shared by the input and tool stages.
func injectionRules() []Rule {
	return []Rule{
		{
			Name:     "instruction_override",
			Pattern:  regexp.MustCompile(`(?i)(ignore|disregard|override|forget|do\s+not\s+follow)\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts|rules)`),
			Severity: SeverityHigh,
		},
		{
			Name:     "system_block_injection",
			Pattern:  regexp.MustCompile(`(?i)(?:<\|?system\|?>|\[system\]|<<SYS>>)`),
			Severity: SeverityHigh,
		},
	}
}

// SecretRules returns credential patterns for stage.
func SecretRules(stage Stage) []Rule {
	return stamp(stage, []Rule{
		{Name: "aws_access_key", Pattern: regexp.MustCompile(`AKIA[0-9A-Z]{16}`), Severity: SeverityHigh},
		{Name: "openai_api_key", Pattern: regexp.MustCompile(`sk-proj-[A-Za-z0-9_-]{20,}`), Severity: SeverityHigh},
		{Name: "openai_legacy_key", Pattern: regexp.MustCompile(`sk-[A-Za-z0-9]{40,}`), Severity: SeverityMedium},
		{Name: "anthropic_api_key", Pattern: regexp.MustCompile(`sk-ant-api\d{2}-[A-Za-z0-9_-]{20,}`), Severity: SeverityHigh},
		{Name: "openrouter_api_key", Pattern: regexp.MustCompile(`sk-or-v1-[a-f0-9]{64}`), Severity: SeverityHigh},
		{Name: "google_api_key", Pattern: regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`), Severity: SeverityHigh},
		{Name: "github_pat", Pattern: regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`), Severity: SeverityHigh},
		{Name: "github_fine_grained_pat", Pattern: regexp.MustCompile(`github_pat_[A-Za-z0-9_]{22,}`), Severity: SeverityHigh},
		{Name: "slack_token", Pattern: regexp.MustCompile(`xox[bpas]-[A-Za-z0-9-]+`), Severity: SeverityHigh},
		{Name: "bearer_token", Pattern: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.]{20,}`), Severity: SeverityHigh},
		{Name: "pem_private_key", Pattern: regexp.MustCompile(`-----BEGIN\s+(RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`), Severity: SeverityHigh},
		{
			Name:     "database_connection_string",
			Pattern:  regexp.MustCompile(`(?i)(postgres(?:ql)?|mysql|mongodb|redis|jdbc:[a-z]+)://[^\s:@]+:(?:[^@\s%]|%[0-9A-Fa-f]{2})+@[^\s/:]+(?:[:/][^\s]*)?`),
			Severity: SeverityHigh,
		},
		{Name: "keyring_uri", Pattern: regexp.MustCompile(`keyring://[^\s]+`), Severity: SeverityMedium},
	})
}

func stamp(stage Stage, rules []Rule) []Rule {
	for i := range rules {
		rules[i].Stage = stage
	}
	return rules
}

// Mode defines how a detection is handled.
type Mode string

const (
	// ModeOff skips scanning for a stage.
	ModeOff    Mode = "off"
	ModeBlock  Mode = "block"
	ModeFlag   Mode = "flag"
	ModeRedact Mode = "redact"
)

// Valid reports whether the mode is a known scanner mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeOff, ModeBlock, ModeFlag, ModeRedact:
		return true
	default:
		return false
	}
}

// ParseMode parses a mode string (case-insensitive).
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", gitaerr.Errorf(gitaerr.CodeConfigValidateInvalidValue, "invalid scanner mode: %q", s)
	}
	return m, nil
}

// MessageBlocked is the client-facing text of a block-mode rejection.
const MessageBlocked = "content blocked by security scanner"

// ApplyMode applies mode to a scan result. Block returns an error when a
// threat was found. Flag returns content unchanged. Redact replaces every
// match in the normalized content with [REDACTED].
func ApplyMode(mode Mode, content string, result ScanResult) (string, error) {
	if !result.Threat {
		return content, nil
	}

	switch mode {
	case ModeOff, ModeFlag:
		return content, nil
	case ModeBlock:
		return "", gitaerr.New(gitaerr.CodeScannerContentBlocked, MessageBlocked,
			gitaerr.Field("matches", len(result.Matches)),
			gitaerr.Field("rules", strings.Join(result.Rules(), ",")),
		)
	case ModeRedact:
		return redact(result.Content, result.Matches), nil
	default:
		return "", gitaerr.Errorf(gitaerr.CodeScannerRuleInvalid, "unknown scanner mode %q", mode)
	}
}

// redact replaces matched regions in content with [REDACTED], merging
// overlapping matches first.
func redact(content string, matches []Match) string {
	sorted := slices.DeleteFunc(slices.Clone(matches), func(m Match) bool {
		return m.Location < 0 || m.Length < 0 || m.Location > len(content)
	})
	if len(sorted) == 0 {
		return content
	}
	slices.SortFunc(sorted, func(a, b Match) int { return a.Location - b.Location })

	type span struct{ start, end int }
	spans := []span{{sorted[0].Location, sorted[0].Location + sorted[0].Length}}
	for _, m := range sorted[1:] {
		last := &spans[len(spans)-1]
		end := m.Location + m.Length
		if m.Location <= last.end {
			last.end = max(last.end, end)
		} else {
			spans = append(spans, span{m.Location, end})
		}
	}

	var b strings.Builder
	b.Grow(len(content))
	pos := 0
	for _, s := range spans {
		b.WriteString(content[pos:s.start])
		b.WriteString("[REDACTED]")
		pos = min(s.end, len(content))
	}
	b.WriteString(content[pos:])
	return b.String()
}
