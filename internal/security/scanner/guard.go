// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package scanner

import (
	"context"
	"log/slog"
	"slices"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// Config selects a mode per stage. RulesFile adds rules on top of the
// built-in set.
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Ingest    Mode   `mapstructure:"ingest"`
	Input     Mode   `mapstructure:"input"`
	Tool      Mode   `mapstructure:"tool"`
	RulesFile string `mapstructure:"rules_file"`
}

// DefaultConfig redacts credentials from uploads and injected
// instructions from passages, and only logs suspicious questions.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Ingest:  ModeRedact,
		Input:   ModeFlag,
		Tool:    ModeRedact,
	}
}

// Validate reports every invalid mode.
func (c Config) Validate() []error {
	var errs []error
	for _, m := range []struct {
		key  string
		mode Mode
	}{
		{"ingest", c.Ingest},
		{"input", c.Input},
		{"tool", c.Tool},
	} {
		if !m.mode.Valid() {
			errs = append(errs, gitaerr.Errorf(gitaerr.CodeConfigValidateInvalidValue,
				"security.scanner.%s must be one of [off, flag, redact, block], got %q", m.key, m.mode))
		}
	}
	return errs
}

// Guard applies the configured mode for each stage. A nil Guard passes
// all text through.
type Guard struct {
	scanner Scanner
	modes   map[Stage]Mode
}

// NewGuard builds a Guard over the default rules plus any rules file. It
// returns nil when scanning is disabled.
func NewGuard(cfg Config) (*Guard, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs[0]
	}

	rules := DefaultRules()
	if cfg.RulesFile != "" {
		extra, err := LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = slices.Concat(rules, extra)
	}

	s, err := NewRegexScanner(rules)
	if err != nil {
		return nil, err
	}
	return NewGuardWith(s, cfg), nil
}

// NewGuardWith builds a Guard over an existing scanner.
func NewGuardWith(s Scanner, cfg Config) *Guard {
	return &Guard{
		scanner: s,
		modes: map[Stage]Mode{
			StageIngest: cfg.Ingest,
			StageInput:  cfg.Input,
			StageTool:   cfg.Tool,
		},
	}
}

// Mode returns the mode in force for stage.
func (g *Guard) Mode(stage Stage) Mode {
	if g == nil {
		return ModeOff
	}
	if m, ok := g.modes[stage]; ok && m != "" {
		return m
	}
	return ModeOff
}

// Screen scans text for stage and applies the stage's mode. It returns the
// text to use in its place, or a CodeScannerContentBlocked error.
func (g *Guard) Screen(ctx context.Context, stage Stage, text string) (string, error) {
	mode := g.Mode(stage)
	if mode == ModeOff || text == "" {
		return text, nil
	}

	res, err := g.scanner.Scan(ctx, text, stage)
	if err != nil {
		return "", err
	}
	if res.Threat {
		slog.WarnContext(ctx, "scanner matched content",
			"stage", string(stage),
			"mode", string(mode),
			"rules", res.Rules(),
			"matches", len(res.Matches),
		)
	}
	return ApplyMode(mode, text, res)
}
