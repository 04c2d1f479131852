// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/sigil-dev/gita/internal/config"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, configuration, provider keys, gateway, passage database, PDF extractor and free disk space.",
		RunE:  runDoctor,
	}
	addGatewayFlag(cmd)
	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()

	cfg, cfgErr := loadConfig(cmd)
	addr, _ := cmd.Flags().GetString("gateway")
	if addr == "" {
		addr = defaultGatewayAddr
		if cfg != nil {
			addr = cfg.Server.Listen
		}
	}

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfg, cfgErr) }},
		{"Providers", func() string { return checkProviders(cfg) }},
		{"Gateway", func() string { return checkGateway(cmd, addr) }},
		{"Database", func() string { return checkDatabase(cfg) }},
		{"PDF Extractor", func() string { return checkExtractor(cfg) }},
		{"Disk Space", func() string { return checkDiskSpace(dataDir(cfg)) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("gita %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func checkConfig(cfg *config.Config, err error) string {
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	msg := "using defaults (no config file found)"
	if cfg.File != "" {
		msg = "loaded from " + cfg.File
	}
	if len(cfg.Unresolved) > 0 {
		msg += fmt.Sprintf("; unresolved secrets: %s", strings.Join(cfg.Unresolved, ", "))
	}
	return msg
}

func checkProviders(cfg *config.Config) string {
	if cfg == nil {
		return "unknown (config did not load)"
	}
	names := make([]string, 0, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if pc.APIKey != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "none configured (run 'gita init')"
	}
	sort.Strings(names)
	msg := strings.Join(names, ", ")
	if _, ok := cfg.Providers[cfg.Embedding.Provider]; !ok {
		msg += fmt.Sprintf("; embedding provider %q has no key", cfg.Embedding.Provider)
	}
	return msg
}

func checkGateway(cmd *cobra.Command, addr string) string {
	var body statusBody
	if err := newGatewayClient(addr).getJSON(cmdContext(cmd), "/api/v1/status", &body); err != nil {
		if gitaerr.HasCode(err, gitaerr.CodeCLIGatewayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'gita serve')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s", body.Status, addr)
}

func checkDatabase(cfg *config.Config) string {
	if cfg == nil {
		return "unknown (config did not load)"
	}
	path := cfg.Storage.Path
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("not created yet at %s (ingest a file first)", path)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s (%s, %s)", path, cfg.Storage.Backend, formatBytes(uint64(fi.Size())))
}

func checkExtractor(cfg *config.Config) string {
	if cfg == nil {
		return "unknown (config did not load)"
	}
	command := cfg.Ingest.Extractor.Command
	if command == "" {
		return "disabled (text files only)"
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return fmt.Sprintf("%s not found on PATH (PDF uploads disabled)", command)
	}
	return path
}

// dataDir is the directory holding the passage database.
func dataDir(cfg *config.Config) string {
	if cfg != nil && cfg.Storage.Path != "" {
		return filepath.Dir(cfg.Storage.Path)
	}
	return config.DefaultDir()
}

func checkDiskSpace(dir string) string {
	path := dir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Fall back to home directory if data dir doesn't exist yet.
		path, _ = os.UserHomeDir()
	}

	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return fmt.Sprintf("unable to check: %s", err)
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	return formatBytes(availBytes) + " available"
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
		kb = 1024
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", b)
	}
}
