// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/sigil-dev/gita/internal/secrets"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/cobra"
)

// secretStoreFactory creates a secrets.Store. It is a package-level variable
// so tests can substitute an in-memory store.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets stored in the OS keyring",
		Long: `Store, read, list and delete secrets kept under the "gita" service in the
operating system keyring. Reference them from gita.yaml as keyring://gita/<name>.`,
	}

	cmd.AddCommand(
		newSecretSetCmd(),
		newSecretGetCmd(),
		newSecretListCmd(),
		newSecretDeleteCmd(),
	)

	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name> [value]",
		Short: "Store a secret (reads the value from stdin when omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runSecretSet,
	}
}

func newSecretGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Print a secret, masked unless --reveal is given",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretGet,
	}
	cmd.Flags().Bool("reveal", false, "print the full value")
	return cmd
}

func newSecretListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all stored secret names",
		RunE:  runSecretList,
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret by name",
		Args:  cobra.ExactArgs(1),
		RunE:  runSecretDelete,
	}
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	name := args[0]
	var value string
	if len(args) == 2 {
		value = args[1]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return gitaerr.Errorf(gitaerr.CodeCLIInputInvalid, "reading secret value from stdin: %w", err)
		}
		value = strings.TrimRight(line, "\r\n")
	}
	if value == "" {
		return gitaerr.New(gitaerr.CodeCLIInputInvalid, "secret value must not be empty")
	}

	if err := secretStoreFactory().Store(secrets.DefaultService, name, value); err != nil {
		return gitaerr.Errorf(gitaerr.CodeSecretStoreFailure, "storing secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored secret: %s (reference it as %s)\n", name, secrets.KeyringURI(secrets.DefaultService, name))
	return nil
}

func runSecretGet(cmd *cobra.Command, args []string) error {
	name := args[0]
	reveal, _ := cmd.Flags().GetBool("reveal")

	value, err := secretStoreFactory().Retrieve(secrets.DefaultService, name)
	if err != nil {
		if gitaerr.HasCode(err, gitaerr.CodeSecretNotFound) {
			return gitaerr.Errorf(gitaerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return err
	}

	if !reveal {
		value = mask(value)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func runSecretList(cmd *cobra.Command, _ []string) error {
	keys, err := secretStoreFactory().List(secrets.DefaultService)
	if err != nil {
		return gitaerr.Errorf(gitaerr.CodeSecretListFailure, "listing secrets: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(keys) == 0 {
		_, _ = fmt.Fprintln(out, "No secrets stored.")
		return nil
	}

	for _, k := range keys {
		_, _ = fmt.Fprintln(out, k)
	}
	return nil
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	if err := secretStoreFactory().Delete(secrets.DefaultService, name); err != nil {
		if gitaerr.HasCode(err, gitaerr.CodeSecretNotFound) {
			return gitaerr.Errorf(gitaerr.CodeSecretNotFound, "secret %q not found", name)
		}
		return gitaerr.Errorf(gitaerr.CodeSecretDeleteFailure, "deleting secret %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted secret: %s\n", name)
	return nil
}

// mask keeps the first and last four characters of values long enough to
// stay unguessable.
func mask(v string) string {
	if len(v) <= 12 {
		return strings.Repeat("*", len(v))
	}
	return v[:4] + strings.Repeat("*", len(v)-8) + v[len(v)-4:]
}
