// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/sigil-dev/gita/internal/ingest"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Add text or PDF files to the passage store",
		Long: `Upload files to the gateway, which extracts, segments, chunks and embeds them.
With --local the pipeline runs in-process against the configured store instead.
PDF files need the extractor command (pdftotext by default) on the gateway host.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().StringP("source", "s", "", "source label for every chunk (default file name)")
	cmd.Flags().Bool("local", false, "ingest directly into the local store without a gateway")
	addGatewayFlag(cmd)

	return cmd
}

// fileIngester is what runIngest needs from either mode.
type fileIngester func(cmd *cobra.Command, path, source string) (ingest.DocumentResult, error)

func runIngest(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	local, _ := cmd.Flags().GetBool("local")

	var run fileIngester
	if local {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		pipe, err := WirePipeline(cmdContext(cmd), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = pipe.Close() }()
		run = localIngester(pipe.Ingest)
	} else {
		run = gatewayIngester(newGatewayClient(gatewayAddr(cmd)))
	}

	out := cmd.OutOrStdout()
	var errs []error
	for _, path := range args {
		res, err := run(cmd, path, source)
		if err != nil {
			if gitaerr.HasCode(err, gitaerr.CodeCLIGatewayNotRunning) {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			errs = append(errs, gitaerr.With(err, gitaerr.Field("file", path)))
			continue
		}
		_, _ = fmt.Fprintln(out, res.Message)
	}
	if len(errs) > 0 {
		return gitaerr.Errorf(gitaerr.CodeCLIRequestFailure, "%d of %d files failed: %w", len(errs), len(args), gitaerr.Join(errs...))
	}
	return nil
}

func localIngester(svc *ingest.Service) fileIngester {
	return func(cmd *cobra.Command, path, source string) (ingest.DocumentResult, error) {
		f, err := os.Open(path)
		if err != nil {
			return ingest.DocumentResult{}, gitaerr.Wrap(err, gitaerr.CodeCLIInputInvalid, "opening file")
		}
		defer func() { _ = f.Close() }()

		return svc.IngestFile(cmdContext(cmd), ingest.FileRequest{
			Reader:      f,
			Name:        filepath.Base(path),
			ContentType: mime.TypeByExtension(filepath.Ext(path)),
			SourceName:  source,
		})
	}
}

func gatewayIngester(gw *gatewayClient) fileIngester {
	return func(cmd *cobra.Command, path, source string) (ingest.DocumentResult, error) {
		name := filepath.Base(path)
		kind := ingest.FileKind(name, mime.TypeByExtension(filepath.Ext(path)))
		if kind == "" {
			return ingest.DocumentResult{}, gitaerr.Errorf(gitaerr.CodeCLIInputInvalid, "%s: only PDF and plain text files are supported", name)
		}

		f, err := os.Open(path)
		if err != nil {
			return ingest.DocumentResult{}, gitaerr.Wrap(err, gitaerr.CodeCLIInputInvalid, "opening file")
		}
		defer func() { _ = f.Close() }()

		fields := map[string]string{}
		if source != "" {
			fields["sourceName"] = source
		}

		var body struct {
			Success         bool   `json:"success"`
			ChunksProcessed int    `json:"chunksProcessed"`
			Message         string `json:"message"`
		}
		if err := gw.postFile(cmdContext(cmd), "/api/v1/ingest/document", name, kind, f, fields, &body); err != nil {
			return ingest.DocumentResult{}, err
		}
		return ingest.DocumentResult{ChunksProcessed: body.ChunksProcessed, Message: body.Message}, nil
	}
}
