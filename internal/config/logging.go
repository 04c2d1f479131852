// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"io"
	"log/slog"
	"strings"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// ParseLevel maps logging.level to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, gitaerr.Errorf(gitaerr.CodeConfigValidateInvalidValue,
		"config: logging.level must be one of [debug, info, warn, error], got %q", level)
}

// Handler builds the slog handler described by c, writing to w.
func (c LoggingConfig) Handler(w io.Writer) slog.Handler {
	level, _ := ParseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
