// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

const (
	DefaultExtractTimeout = 120 * time.Second
	DefaultMaxOutput      = 10 << 20

	placeholderInput  = "{input}"
	placeholderOutput = "{output}"
)

// Extractor turns an uploaded file into plain text.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader, name string) (string, error)
}

// ExtractorConfig describes the external extraction program. Args may
// reference {input} and {output}; without {output} the text is read from
// stdout.
type ExtractorConfig struct {
	Command   string        `mapstructure:"command"`
	Args      []string      `mapstructure:"args"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxOutput int64         `mapstructure:"max_output"`
}

// DefaultExtractorConfig runs poppler's pdftotext.
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Command:   "pdftotext",
		Args:      []string{"-layout", "-enc", "UTF-8", placeholderInput, placeholderOutput},
		Timeout:   DefaultExtractTimeout,
		MaxOutput: DefaultMaxOutput,
	}
}

// CommandExtractor runs one process per file inside a private temp dir
// that is removed afterwards.
type CommandExtractor struct {
	cfg ExtractorConfig
}

// NewCommandExtractor returns an extractor for cfg. An empty command
// disables extraction.
func NewCommandExtractor(cfg ExtractorConfig) (*CommandExtractor, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, gitaerr.New(gitaerr.CodeIngestExtractorDisabled, "no extractor command configured")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExtractTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}
	return &CommandExtractor{cfg: cfg}, nil
}

// Extract copies r to a temp file, runs the command and returns its text.
func (e *CommandExtractor) Extract(ctx context.Context, r io.Reader, name string) (string, error) {
	dir, err := os.MkdirTemp("", "gita-extract-*")
	if err != nil {
		return "", gitaerr.Wrap(err, gitaerr.CodeIngestExtractFailure, "creating temp dir")
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := filepath.Join(dir, "input"+strings.ToLower(filepath.Ext(name)))
	output := filepath.Join(dir, "output.txt")
	if err := writeInput(input, r); err != nil {
		return "", gitaerr.Wrap(err, gitaerr.CodeIngestExtractFailure, "writing upload", gitaerr.FieldSource(name))
	}

	args := make([]string, len(e.cfg.Args))
	toFile := false
	for i, a := range e.cfg.Args {
		if strings.Contains(a, placeholderOutput) {
			toFile = true
		}
		a = strings.ReplaceAll(a, placeholderInput, input)
		args[i] = strings.ReplaceAll(a, placeholderOutput, output)
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	stdout := &capped{limit: e.cfg.MaxOutput}
	stderr := &capped{limit: 4096}
	cmd := exec.CommandContext(ctx, e.cfg.Command, args...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", gitaerr.New(gitaerr.CodeIngestExtractTimeout,
				fmt.Sprintf("extraction exceeded %s", e.cfg.Timeout), gitaerr.FieldSource(name))
		}
		if stdout.overflow {
			return "", errOutputTooLarge(name, e.cfg.MaxOutput)
		}
		return "", gitaerr.Wrap(err, gitaerr.CodeIngestExtractFailure, "running extractor",
			gitaerr.FieldSource(name),
			gitaerr.Field("command", e.cfg.Command),
			gitaerr.Field("stderr", strings.TrimSpace(stderr.buf.String())))
	}
	if stdout.overflow {
		return "", errOutputTooLarge(name, e.cfg.MaxOutput)
	}

	if !toFile {
		return stdout.buf.String(), nil
	}

	info, err := os.Stat(output)
	if err != nil {
		return "", gitaerr.Wrap(err, gitaerr.CodeIngestExtractFailure, "extractor wrote no output", gitaerr.FieldSource(name))
	}
	if info.Size() > e.cfg.MaxOutput {
		return "", errOutputTooLarge(name, e.cfg.MaxOutput)
	}
	text, err := os.ReadFile(output)
	if err != nil {
		return "", gitaerr.Wrap(err, gitaerr.CodeIngestExtractFailure, "reading extractor output", gitaerr.FieldSource(name))
	}
	return string(text), nil
}

func writeInput(path string, r io.Reader) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func errOutputTooLarge(name string, limit int64) error {
	return gitaerr.New(gitaerr.CodeIngestExtractFailure,
		fmt.Sprintf("extracted text exceeds %d bytes", limit), gitaerr.FieldSource(name))
}

// capped buffers up to limit bytes and silently drops the rest, so a
// runaway process cannot exhaust memory.
type capped struct {
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (c *capped) Write(p []byte) (int, error) {
	room := c.limit - int64(c.buf.Len())
	if int64(len(p)) > room {
		c.overflow = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

// TextExtractor reads plain text uploads, bounded by Limit bytes.
type TextExtractor struct {
	Limit int64
}

func (t TextExtractor) Extract(_ context.Context, r io.Reader, name string) (string, error) {
	limit := t.Limit
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", gitaerr.Wrap(err, gitaerr.CodeIngestExtractFailure, "reading upload", gitaerr.FieldSource(name))
	}
	if int64(len(data)) > limit {
		return "", errOutputTooLarge(name, limit)
	}
	return string(data), nil
}
