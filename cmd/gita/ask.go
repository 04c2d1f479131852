// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/internal/server"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and stream the answer",
		Long:  "Send a question to the gateway's chat endpoint and print the answer as it streams in. Tool calls and usage go to stderr with --verbose.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAsk,
	}
	cmd.Flags().StringP("model", "m", "", "model override as provider/model")
	cmd.Flags().String("system", "", "extra system instructions")
	addGatewayFlag(cmd)
	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		return gitaerr.New(gitaerr.CodeCLIInputInvalid, "question must not be empty")
	}
	model, _ := cmd.Flags().GetString("model")
	system, _ := cmd.Flags().GetString("system")
	verbose, _ := cmd.Flags().GetBool("verbose")

	req := server.ChatStreamRequest{
		Messages: []provider.Message{{Role: provider.MessageRoleUser, Content: question}},
		System:   system,
		Model:    model,
	}

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	var wrote bool
	err := newGatewayClient(gatewayAddr(cmd)).streamChat(cmdContext(cmd), req, func(ev agent.Event) error {
		switch ev.Type {
		case agent.EventTextDelta:
			wrote = true
			_, err := fmt.Fprint(out, ev.Text)
			return err
		case agent.EventToolCall:
			if verbose && ev.ToolCall != nil {
				_, _ = fmt.Fprintf(errOut, "[tool] %s %s\n", ev.ToolCall.Name, ev.ToolCall.Arguments)
			}
		case agent.EventUsage:
			if verbose && ev.Usage != nil {
				_, _ = fmt.Fprintf(errOut, "[usage] in=%d out=%d\n", ev.Usage.InputTokens, ev.Usage.OutputTokens)
			}
		case agent.EventError:
			return gitaerr.Errorf(gitaerr.CodeCLIResponseInvalid, "answer failed: %s", ev.Error)
		case agent.EventDone:
			if verbose {
				_, _ = fmt.Fprintf(errOut, "[done] state=%s steps=%d\n", ev.State, ev.Step)
			}
		}
		return nil
	})
	if wrote {
		_, _ = fmt.Fprintln(out)
	}
	return err
}
