// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package ingest

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

const (
	ContentTypePDF  = "application/pdf"
	ContentTypeText = "text/plain"
)

// FileRequest is an uploaded file. ContentType may be empty, in which case
// it is inferred from the file name.
type FileRequest struct {
	Reader      io.Reader
	Name        string
	ContentType string
	SourceName  string
}

// FileKind reports the supported content type for an upload, or "" when
// the file is neither a PDF nor plain text.
func FileKind(name, contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case ContentTypePDF, ContentTypeText:
			return mt
		}
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return ContentTypePDF
	case ".txt", ".md", ".text":
		return ContentTypeText
	}
	return ""
}

// IngestFile extracts text from an upload and ingests it as a document.
// The file name is the source unless SourceName is set.
func (s *Service) IngestFile(ctx context.Context, req FileRequest) (DocumentResult, error) {
	if req.Reader == nil {
		return DocumentResult{}, gitaerr.New(gitaerr.CodeIngestExtractInvalid, "No file provided")
	}

	var extractor Extractor
	switch FileKind(req.Name, req.ContentType) {
	case ContentTypeText:
		extractor = TextExtractor{Limit: s.cfg.Extractor.MaxOutput}
	case ContentTypePDF:
		if s.extractor == nil {
			return DocumentResult{}, gitaerr.New(gitaerr.CodeIngestExtractorDisabled,
				"PDF extraction is not configured", gitaerr.FieldSource(req.Name))
		}
		extractor = s.extractor
	default:
		return DocumentResult{}, gitaerr.New(gitaerr.CodeIngestExtractInvalid,
			"Only PDF and plain text files are supported", gitaerr.FieldSource(req.Name))
	}

	text, err := extractor.Extract(ctx, req.Reader, req.Name)
	if err != nil {
		return DocumentResult{}, err
	}

	source := req.SourceName
	if strings.TrimSpace(source) == "" {
		source = req.Name
	}
	res, err := s.IngestDocument(ctx, DocumentRequest{Text: text, SourceName: source})
	if err != nil {
		return res, err
	}
	res.Message = fmt.Sprintf("Processed \"%s\" into %d searchable chunks", sourceName(req.Name), res.ChunksProcessed)
	return res, nil
}
