// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sigil-dev/gita/internal/ingest"
	"github.com/sigil-dev/gita/internal/retrieval"
	"github.com/sigil-dev/gita/internal/store"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/sigil-dev/gita/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:  "ingest-text",
		Method:       http.MethodPost,
		Path:         "/api/v1/ingest/text",
		Summary:      "Chunk, embed and store raw text",
		Tags:         []string{"ingest"},
		MaxBodyBytes: s.cfg.UploadLimit,
	}, s.handleIngestText)

	huma.Register(s.api, huma.Operation{
		OperationID:  "ingest-document",
		Method:       http.MethodPost,
		Path:         "/api/v1/ingest/document",
		Summary:      "Extract, segment and store an uploaded PDF or text file",
		Tags:         []string{"ingest"},
		MaxBodyBytes: s.cfg.UploadLimit,
	}, s.handleIngestDocument)

	huma.Register(s.api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodPost,
		Path:        "/api/v1/search",
		Summary:     "Run the model-facing passage search",
		Tags:        []string{"retrieval"},
	}, s.handleSearch)

	huma.Register(s.api, huma.Operation{
		OperationID: "match",
		Method:      http.MethodPost,
		Path:        "/api/v1/match",
		Summary:     "Raw similarity match against stored passages",
		Tags:        []string{"retrieval"},
	}, s.handleMatch)

	huma.Register(s.api, huma.Operation{
		OperationID: "gateway-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Gateway status",
		Tags:        []string{"system"},
	}, s.handleStatus)
}

// --- Request/Response types for huma ---

type ingestTextInput struct {
	Body struct {
		Text         string `json:"text,omitempty" doc:"Raw text, 50 to 120,000 characters"`
		SourceName   string `json:"sourceName,omitempty" doc:"Source label stored with every chunk (default uploaded-text)"`
		SegmentIndex *int   `json:"segmentIndex,omitempty" minimum:"1" doc:"1-based segment number when uploading a document in parts"`
		SegmentTotal *int   `json:"segmentTotal,omitempty" minimum:"1" doc:"Total number of segments"`
	}
}

type ingestOutput struct {
	Body struct {
		Success         bool   `json:"success"`
		ChunksProcessed int    `json:"chunksProcessed"`
		Message         string `json:"message"`
	}
}

type ingestDocumentInput struct {
	RawBody multipart.Form
}

type searchInput struct {
	Body struct {
		Query string `json:"query,omitempty" doc:"Natural language search query"`
		K     int    `json:"k,omitempty" doc:"Number of passages, clamped to [1, 10]; 0 means 5"`
	}
}

type searchOutput struct {
	Body retrieval.ToolResult
}

type matchInput struct {
	Body store.MatchRequest
}

type matchOutput struct {
	Body []store.Match
}

type statusOutput struct {
	Body struct {
		Status     string             `json:"status" example:"ok" doc:"ok when every component is healthy, degraded otherwise"`
		Components []health.Component `json:"components"`
	}
}

// --- Handlers ---

func (s *Server) handleIngestText(ctx context.Context, input *ingestTextInput) (*ingestOutput, error) {
	if s.services.Ingest == nil {
		return nil, huma.Error503ServiceUnavailable("ingestion not configured")
	}

	res, err := s.services.Ingest.IngestText(ctx, ingest.Request{
		Text:         input.Body.Text,
		SourceName:   input.Body.SourceName,
		SegmentIndex: input.Body.SegmentIndex,
		SegmentTotal: input.Body.SegmentTotal,
	})
	if err != nil {
		return nil, apiError(ctx, "ingesting text", err)
	}

	out := &ingestOutput{}
	out.Body.Success = true
	out.Body.ChunksProcessed = res.ChunksProcessed
	out.Body.Message = res.Message
	return out, nil
}

func (s *Server) handleIngestDocument(ctx context.Context, input *ingestDocumentInput) (*ingestOutput, error) {
	if s.services.Ingest == nil {
		return nil, huma.Error503ServiceUnavailable("ingestion not configured")
	}

	files := input.RawBody.File["file"]
	if len(files) == 0 {
		return nil, huma.Error400BadRequest("No file provided")
	}
	fh := files[0]
	if ingest.FileKind(fh.Filename, fh.Header.Get("Content-Type")) == "" {
		return nil, huma.Error400BadRequest("Only PDF and plain text files are supported")
	}

	f, err := fh.Open()
	if err != nil {
		return nil, huma.Error400BadRequest("reading uploaded file", err)
	}
	defer func() { _ = f.Close() }()

	var source string
	if v := input.RawBody.Value["sourceName"]; len(v) > 0 {
		source = strings.TrimSpace(v[0])
	}

	res, err := s.services.Ingest.IngestFile(ctx, ingest.FileRequest{
		Reader:      f,
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		SourceName:  source,
	})
	if err != nil {
		return nil, apiError(ctx, "ingesting document", err)
	}

	out := &ingestOutput{}
	out.Body.Success = true
	out.Body.ChunksProcessed = res.ChunksProcessed
	out.Body.Message = res.Message
	return out, nil
}

func (s *Server) handleSearch(ctx context.Context, input *searchInput) (*searchOutput, error) {
	if s.services.Search == nil {
		return nil, huma.Error503ServiceUnavailable("retrieval not configured")
	}
	return &searchOutput{Body: s.services.Search.RetrieveForTool(ctx, input.Body.Query, input.Body.K)}, nil
}

func (s *Server) handleMatch(ctx context.Context, input *matchInput) (*matchOutput, error) {
	if s.services.Matcher == nil {
		return nil, huma.Error503ServiceUnavailable("store not configured")
	}
	rows, err := store.MatchRows(ctx, s.services.Matcher, s.services.VectorDimensions, input.Body)
	if err != nil {
		return nil, apiError(ctx, "matching passages", err)
	}
	return &matchOutput{Body: rows}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	components := []health.Component{}
	for _, h := range s.services.Health {
		components = append(components, h.Health(ctx)...)
	}

	out := &statusOutput{}
	out.Body.Status = health.Overall(components)
	out.Body.Components = components
	return out, nil
}

// apiError converts a coded error into a huma error with the matching
// status. Client errors carry the message verbatim; server errors are
// logged.
func apiError(ctx context.Context, op string, err error) error {
	status := gitaerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, op+" failed",
			"code", gitaerr.CodeOf(err),
			"status", status,
			"error", err,
		)
	}
	return huma.NewError(status, errorMessage(err), err)
}

// errorMessage is the text shown to clients: the innermost message for
// validation failures, the full chain otherwise.
func errorMessage(err error) string {
	msg := err.Error()
	if gitaerr.IsInvalidInput(err) || gitaerr.IsTooLarge(err) {
		if i := strings.LastIndex(msg, ": "); i >= 0 {
			return msg[i+2:]
		}
	}
	return msg
}
