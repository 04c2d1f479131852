// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package chunker splits raw text into overlapping, offset-tagged windows
// ready for embedding.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

const (
	DefaultSize      = 2000
	DefaultOverlap   = 200
	DefaultMinLength = 40
)

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// Config controls the sliding window. Lengths are counted in characters
// (runes), never bytes.
type Config struct {
	Size      int `mapstructure:"size"`
	Overlap   int `mapstructure:"overlap"`
	MinLength int `mapstructure:"min_length"`
}

// DefaultConfig returns the window used for every ingestion unless
// overridden.
func DefaultConfig() Config {
	return Config{Size: DefaultSize, Overlap: DefaultOverlap, MinLength: DefaultMinLength}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Size <= 0 {
		return gitaerr.Errorf(gitaerr.CodeChunkerOptionsInvalid, "chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return gitaerr.Errorf(gitaerr.CodeChunkerOptionsInvalid, "chunk overlap must not be negative, got %d", c.Overlap)
	}
	if c.MinLength < 0 {
		return gitaerr.Errorf(gitaerr.CodeChunkerOptionsInvalid, "minimum chunk length must not be negative, got %d", c.MinLength)
	}
	return nil
}

// Step is the distance between window starts. It is never below one, even
// when the overlap swallows the whole window.
func (c Config) Step() int {
	return max(1, c.Size-c.Overlap)
}

// Document identifies where the text came from. SegmentIndex and
// SegmentTotal are set when one logical document is ingested in several
// calls; they are stamped verbatim onto every chunk.
type Document struct {
	Source       string
	SegmentIndex *int
	SegmentTotal *int
}

// Metadata is persisted alongside each chunk.
type Metadata struct {
	ChunkIndex   int    `json:"chunk_index"`
	CharStart    int    `json:"char_start"`
	CharEnd      int    `json:"char_end"`
	Source       string `json:"source"`
	SegmentIndex *int   `json:"segment_index,omitempty"`
	SegmentTotal *int   `json:"segment_total,omitempty"`
}

// Map renders the metadata as a JSON-ready map, omitting unset segment
// fields.
func (m Metadata) Map() map[string]any {
	out := map[string]any{
		"chunk_index": m.ChunkIndex,
		"char_start":  m.CharStart,
		"char_end":    m.CharEnd,
		"source":      m.Source,
	}
	if m.SegmentIndex != nil {
		out["segment_index"] = *m.SegmentIndex
	}
	if m.SegmentTotal != nil {
		out["segment_total"] = *m.SegmentTotal
	}
	return out
}

// Chunk is one trimmed window of normalized text.
type Chunk struct {
	Content  string
	Metadata Metadata
}

// Chunker splits text with a fixed Config.
type Chunker struct {
	cfg Config
}

// New returns a Chunker after validating cfg.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the window configuration in use.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Normalize converts CRLF to LF, collapses runs of three or more newlines
// into exactly two and trims surrounding whitespace. Chunk offsets are
// relative to the normalized text.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = excessNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Split slides the window across the normalized text. Windows whose trimmed
// content is shorter than MinLength are skipped and do not consume a chunk
// index. Empty or whitespace-only input yields no chunks.
func (c *Chunker) Split(text string, doc Document) []Chunk {
	runes := []rune(Normalize(text))
	total := len(runes)
	if total == 0 {
		return nil
	}

	step := c.cfg.Step()
	chunks := make([]Chunk, 0, total/step+1)

	index := 0
	for start := 0; start < total; start += step {
		end := min(start+c.cfg.Size, total)
		content := strings.TrimSpace(string(runes[start:end]))
		if utf8.RuneCountInString(content) < c.cfg.MinLength {
			continue
		}

		chunks = append(chunks, Chunk{
			Content: content,
			Metadata: Metadata{
				ChunkIndex:   index,
				CharStart:    start,
				CharEnd:      end,
				Source:       doc.Source,
				SegmentIndex: doc.SegmentIndex,
				SegmentTotal: doc.SegmentTotal,
			},
		})
		index++
	}

	return chunks
}

// Split chunks text with the default configuration.
func Split(text string, doc Document) []Chunk {
	c := &Chunker{cfg: DefaultConfig()}
	return c.Split(text, doc)
}
