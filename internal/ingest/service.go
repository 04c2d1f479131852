// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package ingest turns raw text and uploaded files into stored, searchable
// passages: chunk, embed, then write.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sigil-dev/gita/internal/chunker"
	"github.com/sigil-dev/gita/internal/embedding"
	"github.com/sigil-dev/gita/internal/security/scanner"
	"github.com/sigil-dev/gita/internal/store"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

const (
	DefaultMinChars      = 50
	DefaultMaxChars      = 120_000
	DefaultSegmentSize   = 100_000
	DefaultSourceName    = "uploaded-text"
	MessageTextTooShort  = "Text is too short or missing"
	MessageTextTooLarge  = "Text too large for one request. Max 120,000 chars."
	messageSegmentStored = "\"%s\" segment stored as %d searchable chunks"
)

// SegmentPolicy decides what IngestDocument does when one segment fails.
type SegmentPolicy string

const (
	// PolicyFailFast stops at the first failed segment.
	PolicyFailFast SegmentPolicy = "fail_fast"
	// PolicyContinue attempts every segment and reports all failures.
	PolicyContinue SegmentPolicy = "continue"
)

// Valid reports whether p is a known policy.
func (p SegmentPolicy) Valid() bool {
	return p == PolicyFailFast || p == PolicyContinue
}

// Config bounds a single ingestion request.
type Config struct {
	MinChars      int             `mapstructure:"min_chars"`
	MaxChars      int             `mapstructure:"max_chars"`
	SegmentSize   int             `mapstructure:"segment_size"`
	SegmentPolicy SegmentPolicy   `mapstructure:"segment_policy"`
	Extractor     ExtractorConfig `mapstructure:"extractor"`
}

// DefaultConfig returns the limits enforced by the upload endpoints.
func DefaultConfig() Config {
	return Config{
		MinChars:      DefaultMinChars,
		MaxChars:      DefaultMaxChars,
		SegmentSize:   DefaultSegmentSize,
		SegmentPolicy: PolicyFailFast,
		Extractor:     DefaultExtractorConfig(),
	}
}

// Request is one text ingestion call. SegmentIndex and SegmentTotal are
// stamped onto every chunk when the text is part of a larger document.
type Request struct {
	Text         string
	SourceName   string
	SegmentIndex *int
	SegmentTotal *int
}

// Result reports how many passages were stored.
type Result struct {
	ChunksProcessed int    `json:"chunksProcessed"`
	Message         string `json:"message"`
}

// Screener inspects text before it is stored. It returns the text to
// store in its place or an error to reject it.
type Screener interface {
	Screen(ctx context.Context, stage scanner.Stage, text string) (string, error)
}

// Service runs the chunk, embed and write pipeline.
type Service struct {
	chunker   *chunker.Chunker
	embedder  embedding.Embedder
	writer    store.Writer
	extractor Extractor
	screener  Screener
	cfg       Config
}

// Option configures a Service.
type Option func(*Service)

// WithConfig replaces the default limits. Zero values keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		def := DefaultConfig()
		if cfg.MinChars <= 0 {
			cfg.MinChars = def.MinChars
		}
		if cfg.MaxChars <= 0 {
			cfg.MaxChars = def.MaxChars
		}
		if cfg.SegmentSize <= 0 {
			cfg.SegmentSize = def.SegmentSize
		}
		if !cfg.SegmentPolicy.Valid() {
			cfg.SegmentPolicy = def.SegmentPolicy
		}
		s.cfg = cfg
	}
}

// WithExtractor enables IngestFile for binary documents such as PDFs.
func WithExtractor(e Extractor) Option {
	return func(s *Service) {
		s.extractor = e
	}
}

// WithScreener scans every text before chunking, for example to redact
// credentials pasted into an upload.
func WithScreener(sc Screener) Option {
	return func(s *Service) {
		s.screener = sc
	}
}

// New returns a Service. A nil chunker uses the default window.
func New(c *chunker.Chunker, embedder embedding.Embedder, writer store.Writer, opts ...Option) *Service {
	if c == nil {
		c, _ = chunker.New(chunker.DefaultConfig())
	}
	s := &Service{
		chunker:  c,
		embedder: embedder,
		writer:   writer,
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the limits in use.
func (s *Service) Config() Config {
	return s.cfg
}

// IngestText validates and stores one piece of text. Either every chunk is
// stored or none is.
func (s *Service) IngestText(ctx context.Context, req Request) (Result, error) {
	source := sourceName(req.SourceName)
	if utf8.RuneCountInString(strings.TrimSpace(req.Text)) < s.cfg.MinChars {
		return Result{}, gitaerr.New(gitaerr.CodeIngestTextInvalid, MessageTextTooShort, gitaerr.FieldSource(source))
	}
	if n := utf8.RuneCountInString(req.Text); n > s.cfg.MaxChars {
		return Result{}, gitaerr.New(gitaerr.CodeIngestTextTooLarge, MessageTextTooLarge,
			gitaerr.FieldSource(source), gitaerr.Field("length", n))
	}

	req.SourceName = source
	n, err := s.store(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{
		ChunksProcessed: n,
		Message:         fmt.Sprintf(messageSegmentStored, source, n),
	}, nil
}

// store runs the pipeline without length validation.
func (s *Service) store(ctx context.Context, req Request) (int, error) {
	if s.screener != nil {
		text, err := s.screener.Screen(ctx, scanner.StageIngest, req.Text)
		if err != nil {
			return 0, gitaerr.With(err, gitaerr.FieldSource(req.SourceName))
		}
		req.Text = text
	}

	chunks := s.chunker.Split(req.Text, chunker.Document{
		Source:       req.SourceName,
		SegmentIndex: req.SegmentIndex,
		SegmentTotal: req.SegmentTotal,
	})
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		slog.Error("embedding chunks failed",
			"source", req.SourceName,
			"chunks", len(chunks),
			"error", err,
		)
		return 0, gitaerr.Wrap(err, gitaerr.CodeIngestEmbedFailure, "embedding chunks", gitaerr.FieldSource(req.SourceName))
	}
	if len(vectors) != len(chunks) {
		return 0, gitaerr.New(gitaerr.CodeIngestEmbedFailure,
			fmt.Sprintf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)),
			gitaerr.FieldSource(req.SourceName))
	}

	rows := make([]store.Passage, len(chunks))
	for i, c := range chunks {
		rows[i] = store.Passage{
			Content:   c.Content,
			Metadata:  c.Metadata.Map(),
			Embedding: vectors[i],
		}
	}

	n, err := s.writer.Write(ctx, rows)
	if err != nil {
		slog.Error("storing chunks failed",
			"source", req.SourceName,
			"chunks", len(rows),
			"error", err,
		)
		return 0, gitaerr.Wrap(err, gitaerr.CodeIngestStoreFailure, "storing chunks", gitaerr.FieldSource(req.SourceName))
	}

	slog.Info("ingested text",
		"source", req.SourceName,
		"chunks", n,
		"embedder", s.embedder.Name(),
	)
	return n, nil
}

func sourceName(name string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return DefaultSourceName
}
