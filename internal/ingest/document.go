// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// DocumentRequest is a document of any length. It is split into segments
// that each go through the text pipeline.
type DocumentRequest struct {
	Text       string
	SourceName string
}

// DocumentResult summarizes a segmented ingestion. On failure it still
// reports what was stored before the error.
type DocumentResult struct {
	ChunksProcessed int    `json:"chunksProcessed"`
	Segments        int    `json:"segments"`
	SegmentsStored  int    `json:"segmentsStored"`
	FailedSegments  []int  `json:"failedSegments,omitempty"`
	Message         string `json:"message"`
}

// Segments cuts text into pieces of at most size characters. Each piece is
// trimmed and empty pieces are dropped.
func Segments(text string, size int) []string {
	if size <= 0 {
		size = DefaultSegmentSize
	}
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		if seg := strings.TrimSpace(string(runes[start:end])); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// IngestDocument stores a document segment by segment, in order. Segment
// indexes are 1-based. Only the whole document is checked against the
// minimum length, so a short trailing segment is still stored. Segments
// already written are never rolled back.
func (s *Service) IngestDocument(ctx context.Context, req DocumentRequest) (DocumentResult, error) {
	source := sourceName(req.SourceName)
	if utf8.RuneCountInString(strings.TrimSpace(req.Text)) < s.cfg.MinChars {
		return DocumentResult{}, gitaerr.New(gitaerr.CodeIngestTextInvalid, MessageTextTooShort, gitaerr.FieldSource(source))
	}

	segments := Segments(req.Text, s.cfg.SegmentSize)
	total := len(segments)
	res := DocumentResult{Segments: total}

	var errs []error
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return res, gitaerr.Wrap(err, gitaerr.CodeIngestSegmentFailure, "ingestion cancelled", gitaerr.FieldSource(source))
		}

		index := i + 1
		n, err := s.store(ctx, Request{
			Text:         seg,
			SourceName:   source,
			SegmentIndex: &index,
			SegmentTotal: &total,
		})
		if err != nil {
			res.FailedSegments = append(res.FailedSegments, index)
			// The code set by store classifies the failure.
			err = gitaerr.Wrap(err, gitaerr.CodeOf(err),
				fmt.Sprintf("segment %d of %d", index, total),
				gitaerr.FieldSource(source), gitaerr.FieldSegment(index))
			if s.cfg.SegmentPolicy == PolicyFailFast {
				res.Message = documentMessage(source, res.ChunksProcessed)
				return res, err
			}
			errs = append(errs, err)
			continue
		}

		res.ChunksProcessed += n
		res.SegmentsStored++
		slog.Debug("stored segment",
			"source", source,
			"segment_index", index,
			"segment_total", total,
			"chunks", n,
		)
	}

	res.Message = documentMessage(source, res.ChunksProcessed)
	if len(errs) > 0 {
		return res, gitaerr.Wrap(gitaerr.Join(errs...), gitaerr.CodeIngestSegmentFailure,
			fmt.Sprintf("%d of %d segments failed", len(errs), total),
			gitaerr.FieldSource(source), gitaerr.Field("failed_segments", res.FailedSegments))
	}
	return res, nil
}

func documentMessage(source string, chunks int) string {
	return fmt.Sprintf("\"%s\" stored as %d searchable chunks.", source, chunks)
}
