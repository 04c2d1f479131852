// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/sigil-dev/gita/internal/ingest"
	"github.com/sigil-dev/gita/internal/retrieval"
	"github.com/sigil-dev/gita/internal/server"
	"github.com/sigil-dev/gita/internal/store"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/sigil-dev/gita/pkg/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postJSON(t *testing.T, srv *server.Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestIngestText(t *testing.T) {
	ing := &mockIngester{result: ingest.Result{ChunksProcessed: 3, Message: `"Gita ch2" segment stored as 3 searchable chunks`}}
	srv := newServer(t, &server.Services{Ingest: ing})

	w := postJSON(t, srv, "/api/v1/ingest/text",
		`{"text":"You have a right to perform your prescribed duties.","sourceName":"Gita ch2","segmentIndex":2,"segmentTotal":5}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t,
		`{"success":true,"chunksProcessed":3,"message":"\"Gita ch2\" segment stored as 3 searchable chunks"}`,
		stripSchema(t, w.Body.Bytes()))

	require.Len(t, ing.textReqs, 1)
	got := ing.textReqs[0]
	assert.Equal(t, "Gita ch2", got.SourceName)
	require.NotNil(t, got.SegmentIndex)
	require.NotNil(t, got.SegmentTotal)
	assert.Equal(t, 2, *got.SegmentIndex)
	assert.Equal(t, 5, *got.SegmentTotal)
}

func TestIngestText_MissingTextReachesValidation(t *testing.T) {
	ing := &mockIngester{err: gitaerr.New(gitaerr.CodeIngestTextInvalid, ingest.MessageTextTooShort)}
	srv := newServer(t, &server.Services{Ingest: ing})

	w := postJSON(t, srv, "/api/v1/ingest/text", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), ingest.MessageTextTooShort)
	require.Len(t, ing.textReqs, 1)
	assert.Empty(t, ing.textReqs[0].Text)
	assert.Nil(t, ing.textReqs[0].SegmentIndex)
}

func TestIngestText_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"too large", gitaerr.New(gitaerr.CodeIngestTextTooLarge, ingest.MessageTextTooLarge), http.StatusRequestEntityTooLarge},
		{"embed", gitaerr.Wrap(errors.New("429"), gitaerr.CodeIngestEmbedFailure, "embedding chunks"), http.StatusBadGateway},
		{"store", gitaerr.Wrap(errors.New("disk full"), gitaerr.CodeIngestStoreFailure, "storing chunks"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &server.Services{Ingest: &mockIngester{err: tt.err}})

			w := postJSON(t, srv, "/api/v1/ingest/text", `{"text":"x"}`)

			assert.Equal(t, tt.want, w.Code)
			assert.NotContains(t, w.Body.String(), `"success":true`)
		})
	}
}

func TestIngestText_TooLargeMessageIsVerbatim(t *testing.T) {
	err := gitaerr.New(gitaerr.CodeIngestTextTooLarge, ingest.MessageTextTooLarge)
	srv := newServer(t, &server.Services{Ingest: &mockIngester{err: err}})

	w := postJSON(t, srv, "/api/v1/ingest/text", `{"text":"x"}`)

	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, ingest.MessageTextTooLarge, body.Detail)
}

func multipartBody(t *testing.T, name, contentType, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if name != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func postForm(t *testing.T, srv *server.Server, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/document", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestIngestDocument(t *testing.T) {
	ing := &mockIngester{docRes: ingest.DocumentResult{
		ChunksProcessed: 12,
		Segments:        1,
		SegmentsStored:  1,
		Message:         `Processed "gita.txt" into 12 searchable chunks`,
	}}
	srv := newServer(t, &server.Services{Ingest: ing})

	body, ct := multipartBody(t, "gita.txt", "text/plain", "Arjuna said...", map[string]string{"sourceName": " Gita "})
	w := postForm(t, srv, body, ct)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t,
		`{"success":true,"chunksProcessed":12,"message":"Processed \"gita.txt\" into 12 searchable chunks"}`,
		stripSchema(t, w.Body.Bytes()))

	require.Len(t, ing.fileReqs, 1)
	assert.Equal(t, "gita.txt", ing.fileReqs[0].Name)
	assert.Equal(t, "text/plain", ing.fileReqs[0].ContentType)
	assert.Equal(t, "Gita", ing.fileReqs[0].SourceName)
	assert.Equal(t, "Arjuna said...", ing.fileBody)
}

func TestIngestDocument_Rejected(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		contentType string
		want        string
	}{
		{"no file", "", "", "No file provided"},
		{"unsupported type", "gita.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "Only PDF and plain text files are supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing := &mockIngester{}
			srv := newServer(t, &server.Services{Ingest: ing})

			body, ct := multipartBody(t, tt.file, tt.contentType, "data", map[string]string{"sourceName": "x"})
			w := postForm(t, srv, body, ct)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
			assert.Empty(t, ing.fileReqs)
		})
	}
}

func TestIngestDocument_ExtractorDisabled(t *testing.T) {
	ing := &mockIngester{err: gitaerr.New(gitaerr.CodeIngestExtractorDisabled, "PDF extraction is not configured")}
	srv := newServer(t, &server.Services{Ingest: ing})

	body, ct := multipartBody(t, "gita.pdf", "application/pdf", "%PDF-1.4", nil)
	w := postForm(t, srv, body, ct)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestSearch(t *testing.T) {
	s := &mockSearcher{result: retrieval.ToolResult{Passages: []retrieval.ToolPassage{
		{Ref: 1, Source: "Gita 2.47", Relevance: 0.81, Text: "You have a right to your actions"},
	}}}
	srv := newServer(t, &server.Services{Search: s})

	w := postJSON(t, srv, "/api/v1/search", `{"query":"duty without attachment","k":3}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "duty without attachment", s.query)
	assert.Equal(t, 3, s.k)
	assert.JSONEq(t,
		`{"passages":[{"ref":1,"source":"Gita 2.47","relevance":0.81,"text":"You have a right to your actions"}]}`,
		stripSchema(t, w.Body.Bytes()))
}

func TestSearch_RetrievalErrorIsStillOK(t *testing.T) {
	s := &mockSearcher{result: retrieval.ToolResult{Passages: []retrieval.ToolPassage{}, RetrievalError: "embedding failed"}}
	srv := newServer(t, &server.Services{Search: s})

	w := postJSON(t, srv, "/api/v1/search", `{"query":"karma"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"retrievalError":"embedding failed"`)
	assert.Equal(t, 0, s.k)
}

func TestMatch(t *testing.T) {
	m := &mockMatcher{matches: []store.Match{
		{Content: "Yoga is skill in action", Metadata: map[string]any{"source": "Gita 2.50"}, Similarity: 0.9},
	}}
	srv := newServer(t, &server.Services{Matcher: m, VectorDimensions: 3})

	w := postJSON(t, srv, "/api/v1/match", `{"query_embedding":[0.1,0.2,0.3],"match_threshold":0.3,"match_count":4}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t,
		`[{"content":"Yoga is skill in action","metadata":{"source":"Gita 2.50"},"similarity":0.9}]`,
		w.Body.String())
	assert.InDelta(t, 0.3, m.threshold, 1e-9)
	assert.Equal(t, 4, m.count)
}

func TestMatch_Errors(t *testing.T) {
	tests := []struct {
		name    string
		matcher *mockMatcher
		body    string
		want    int
	}{
		{"wrong dimensions", &mockMatcher{}, `{"query_embedding":[0.1,0.2],"match_threshold":0.3,"match_count":4}`, http.StatusBadRequest},
		{"zero count", &mockMatcher{}, `{"query_embedding":[0.1,0.2,0.3],"match_threshold":0.3,"match_count":0}`, http.StatusBadRequest},
		{"store failure", &mockMatcher{err: gitaerr.New(gitaerr.CodeStoreDatabaseFailure, "locked")}, `{"query_embedding":[0.1,0.2,0.3],"match_threshold":0.3,"match_count":4}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &server.Services{Matcher: tt.matcher, VectorDimensions: 3})
			w := postJSON(t, srv, "/api/v1/match", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestMatch_EmptyResultIsArray(t *testing.T) {
	srv := newServer(t, &server.Services{Matcher: &mockMatcher{}, VectorDimensions: 3})

	w := postJSON(t, srv, "/api/v1/match", `{"query_embedding":[0.1,0.2,0.3],"match_threshold":0.3,"match_count":4}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestStatus(t *testing.T) {
	tests := []struct {
		name     string
		count    countFunc
		want     string
		healthy  bool
		detailed string
	}{
		{"ok", func(context.Context) (int, error) { return 701, nil }, "ok", true, "701 passages"},
		{"degraded", func(context.Context) (int, error) { return 0, errors.New("database is locked") }, "degraded", false, "database is locked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, &server.Services{Health: []server.HealthChecker{
				server.StoreHealth("sqlite", tt.count),
			}})

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
			require.Equal(t, http.StatusOK, w.Code)

			var body struct {
				Status     string             `json:"status"`
				Components []health.Component `json:"components"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Status)
			require.Len(t, body.Components, 1)
			assert.Equal(t, "store", body.Components[0].Kind)
			assert.Equal(t, tt.healthy, body.Components[0].Healthy)
			assert.Equal(t, tt.detailed, body.Components[0].Detail)
		})
	}
}

func TestStatus_NoComponents(t *testing.T) {
	srv := newServer(t, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","components":[]}`, stripSchema(t, w.Body.Bytes()))
}

func TestRoutes_UnconfiguredServices(t *testing.T) {
	srv := newServer(t, nil)

	for _, path := range []string{"/api/v1/ingest/text", "/api/v1/search", "/api/v1/match"} {
		t.Run(path, func(t *testing.T) {
			body := `{}`
			if path == "/api/v1/match" {
				body = `{"query_embedding":[0.1],"match_threshold":0.3,"match_count":1}`
			}
			w := postJSON(t, srv, path, body)
			assert.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())
		})
	}
}
