// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/openai/openai-go/packages/ssestream"
	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/server"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/cobra"
)

// defaultGatewayAddr is used when neither --gateway nor a config file
// names one.
const defaultGatewayAddr = "127.0.0.1:8787"

// defaultHTTPClient serves quick status calls. Overridden in tests.
var defaultHTTPClient = &http.Client{Timeout: 5 * time.Second}

// longHTTPClient serves uploads and chat streams; those are bounded by the
// command's context instead of a fixed timeout.
var longHTTPClient = &http.Client{}

// gatewayClient provides HTTP access to a running gita gateway.
type gatewayClient struct {
	baseURL string
	http    *http.Client
	long    *http.Client
}

func newGatewayClient(addr string) *gatewayClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &gatewayClient{
		baseURL: strings.TrimRight(base, "/"),
		http:    defaultHTTPClient,
		long:    longHTTPClient,
	}
}

// gatewayAddr resolves --gateway, falling back to server.listen from the
// config and then to the built-in default.
func gatewayAddr(cmd *cobra.Command) string {
	if addr, _ := cmd.Flags().GetString("gateway"); addr != "" {
		return addr
	}
	if cfg, err := loadConfig(cmd); err == nil && cfg.Server.Listen != "" {
		return cfg.Server.Listen
	}
	return defaultGatewayAddr
}

func addGatewayFlag(cmd *cobra.Command) {
	cmd.Flags().String("gateway", "", "gateway address (default server.listen from config)")
}

// getJSON performs a GET request and decodes the JSON response into dest.
func (c *gatewayClient) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return gitaerr.Wrap(err, gitaerr.CodeCLIRequestFailure, "building request")
	}
	return c.do(c.http, req, dest)
}

// postJSON sends body as JSON and decodes the response into dest.
func (c *gatewayClient) postJSON(ctx context.Context, path string, body, dest any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return gitaerr.Wrap(err, gitaerr.CodeCLIRequestFailure, "encoding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return gitaerr.Wrap(err, gitaerr.CodeCLIRequestFailure, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.long, req, dest)
}

// postFile uploads r as the multipart field "file", with any extra form
// fields, and decodes the response into dest.
func (c *gatewayClient) postFile(ctx context.Context, path, name, contentType string, r io.Reader, fields map[string]string, dest any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeForm(mw, name, contentType, r, fields))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, pr)
	if err != nil {
		_ = pr.Close()
		return gitaerr.Wrap(err, gitaerr.CodeCLIRequestFailure, "building request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(c.long, req, dest)
}

func writeForm(mw *multipart.Writer, name, contentType string, r io.Reader, fields map[string]string) error {
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, r); err != nil {
		return err
	}
	return mw.Close()
}

// streamChat posts a chat request and calls fn for each event until the
// stream ends or fn returns an error.
func (c *gatewayClient) streamChat(ctx context.Context, body server.ChatStreamRequest, fn func(agent.Event) error) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return gitaerr.Wrap(err, gitaerr.CodeCLIRequestFailure, "encoding request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chat/stream", bytes.NewReader(raw))
	if err != nil {
		return gitaerr.Wrap(err, gitaerr.CodeCLIRequestFailure, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.long.Do(req)
	if err != nil {
		return requestError(err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return statusError(resp)
	}

	stream := ssestream.NewDecoder(resp)
	defer func() { _ = stream.Close() }()

	for stream.Next() {
		ev := stream.Event()
		var out agent.Event
		if err := json.Unmarshal(ev.Data, &out); err != nil {
			return gitaerr.Errorf(gitaerr.CodeCLIResponseInvalid, "decoding %s event: %w", ev.Type, err)
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return gitaerr.Wrap(err, gitaerr.CodeCLIRequestFailure, "reading event stream")
	}
	return nil
}

func (c *gatewayClient) do(hc *http.Client, req *http.Request, dest any) error {
	resp, err := hc.Do(req)
	if err != nil {
		return requestError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return gitaerr.Wrap(err, gitaerr.CodeCLIResponseInvalid, "invalid response")
	}
	return nil
}

func requestError(err error) error {
	if isDialError(err) {
		return gitaerr.New(gitaerr.CodeCLIGatewayNotRunning, "gateway is not running (connection refused); start it with 'gita serve'")
	}
	return gitaerr.Wrap(err, gitaerr.CodeCLIRequestFailure, "request failed")
}

// statusError turns a non-200 response into an error carrying the
// gateway's message. Both huma problem documents and {"error": ...}
// bodies are understood.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var problem struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &problem) == nil {
		switch {
		case problem.Detail != "":
			msg = problem.Detail
		case problem.Error != "":
			msg = problem.Error
		}
	}
	return gitaerr.Errorf(gitaerr.CodeCLIRequestFailure, "gateway returned status %d: %s", resp.StatusCode, msg)
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
