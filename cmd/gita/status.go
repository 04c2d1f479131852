// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/sigil-dev/gita/pkg/health"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway status",
		Long:  "Query the running gateway's status endpoint and list the store, embedder and provider components.",
		RunE:  runStatus,
	}
	addGatewayFlag(cmd)
	return cmd
}

type statusBody struct {
	Status     string             `json:"status"`
	Components []health.Component `json:"components"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr := gatewayAddr(cmd)
	out := cmd.OutOrStdout()

	var body statusBody
	if err := newGatewayClient(addr).getJSON(cmdContext(cmd), "/api/v1/status", &body); err != nil {
		if gitaerr.HasCode(err, gitaerr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Gateway at %s is not running (connection refused)\n", addr)
			return nil
		}
		return err
	}

	_, _ = fmt.Fprintf(out, "Gateway at %s: %s\n", addr, body.Status)
	for _, c := range body.Components {
		mark := "ok"
		if !c.Healthy {
			mark = "unavailable"
		}
		line := fmt.Sprintf("  %-10s %-24s %s", c.Kind, c.Name, mark)
		if c.Detail != "" {
			line += " (" + c.Detail + ")"
		}
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}
