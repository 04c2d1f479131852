// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sigil-dev/gita/internal/retrieval"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search stored passages",
		Long:  "Run the same passage search the model uses and print the numbered results.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}
	cmd.Flags().IntP("k", "k", 0, "number of passages (default retrieval.tool_default_k)")
	cmd.Flags().Bool("json", false, "print the raw tool result")
	addGatewayFlag(cmd)
	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return gitaerr.New(gitaerr.CodeCLIInputInvalid, "query must not be empty")
	}
	k, _ := cmd.Flags().GetInt("k")
	asJSON, _ := cmd.Flags().GetBool("json")

	var res retrieval.ToolResult
	body := map[string]any{"query": query, "k": k}
	if err := newGatewayClient(gatewayAddr(cmd)).postJSON(cmdContext(cmd), "/api/v1/search", body, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.RetrievalError != "" {
		return gitaerr.Errorf(gitaerr.CodeCLIResponseInvalid, "search failed: %s", res.RetrievalError)
	}
	if len(res.Passages) == 0 {
		_, _ = fmt.Fprintln(out, "No passages found.")
		return nil
	}
	for _, p := range res.Passages {
		_, _ = fmt.Fprintf(out, "[%d] %s (relevance %.2f)\n%s\n\n", p.Ref, p.Source, p.Relevance, indent(p.Text, "    "))
	}
	return nil
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
