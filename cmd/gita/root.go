// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"io"
	"log/slog"

	"github.com/sigil-dev/gita/internal/config"
	"github.com/sigil-dev/gita/internal/server"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root gita command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gita",
		Short:         "Gita: a retrieval-grounded guide to the Bhagavad Gita",
		Long:          "Gita ingests texts into a local vector store and answers questions with an LLM that cites the passages it found.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default ./gita.yaml or ~/.gita/gita.yaml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newInitCmd(),
		newServeCmd(),
		newIngestCmd(),
		newAskCmd(),
		newSearchCmd(),
		newStatusCmd(),
		newDoctorCmd(),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig reads the config named by --config (or the default search
// path) and installs the slog handler it selects.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := configLoader(path)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	setupLogging(cfg.Logging, verbose, cmd.ErrOrStderr())
	return cfg, nil
}

// configLoader is swapped in tests to avoid the OS keyring.
var configLoader = config.Load

func setupLogging(lc config.LoggingConfig, verbose bool, w io.Writer) {
	if verbose {
		lc.Level = "debug"
	}
	slog.SetDefault(slog.New(server.NewContextHandler(lc.Handler(w))))
}
