// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sigil-dev/gita/internal/config"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the gita gateway",
		Long:    "Load configuration, open the passage store, register providers and serve the HTTP API until interrupted.",
		RunE:    runServe,
	}

	cmd.Flags().String("listen", "", "override listen address (host:port)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	if path, _ := cmd.Flags().GetString("config"); path == "" {
		if def, err := config.DefaultConfigPath(); err == nil {
			config.BootstrapConfig(def)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	for _, key := range cfg.Unresolved {
		slog.Warn("config secret could not be resolved", "key", key)
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := WireGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			slog.Warn("closing gateway", "error", err)
		}
	}()

	slog.Info("starting gita", "listen", cfg.Server.Listen, "store", cfg.Storage.Path, "config", cfg.File)
	if err := gw.Start(ctx); err != nil {
		return gitaerr.Wrap(err, gitaerr.CodeCLISetupFailure, "running gateway")
	}
	return nil
}

// cmdContext returns the command's context, or Background when it was run
// without one.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
