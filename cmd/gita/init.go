// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sigil-dev/gita/internal/config"
	googleembed "github.com/sigil-dev/gita/internal/embedding/google"
	openaiembed "github.com/sigil-dev/gita/internal/embedding/openai"
	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/internal/secrets"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/cobra"
)

// initHTTPClient is the HTTP client used for key validation.
// Exposed as a variable so tests can replace it.
var initHTTPClient = &http.Client{Timeout: 10 * time.Second}

// validateKey is provider.ValidateKey, swapped in tests.
var validateKey = provider.ValidateKey

// initWizardStep tracks which step of the wizard is active.
type initWizardStep int

const (
	stepProvider      initWizardStep = iota // select chat provider
	stepAPIKey                              // enter chat API key
	stepValidateKey                         // validating chat key (spinner)
	stepEmbedKey                            // enter OpenAI key for embeddings
	stepValidateEmbed                       // validating embedding key (spinner)
	stepDone                                // wizard complete
	stepError                               // terminal error
)

// initResult holds the collected wizard configuration.
type initResult struct {
	Provider      provider.ProviderName
	APIKey        string
	EmbedProvider provider.ProviderName
	EmbedKey      string
}

// canEmbed reports whether p also serves embeddings.
func canEmbed(p provider.ProviderName) bool {
	return p == provider.ProviderOpenAI || p == provider.ProviderGoogle
}

// --- bubbletea messages ---

type (
	validationSuccessMsg struct{ step initWizardStep }
	validationErrorMsg   struct {
		step initWizardStep
		err  error
	}
)
type configWrittenMsg struct{ path string }

// --- lipgloss styles ---

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("216"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("172")).Padding(0, 1)
)

// initModel is the bubbletea model for the init wizard.
type initModel struct {
	step           initWizardStep
	providerIdx    int
	apiKeyInput    textinput.Model
	embedKeyInput  textinput.Model
	spinner        spinner.Model
	result         initResult
	validationErr  string
	configPath     string
	secretStore    secrets.Store
	errFinal       error
	forceOverwrite bool
}

func newKeyInput() textinput.Model {
	in := textinput.New()
	in.Placeholder = "paste API key here"
	in.EchoMode = textinput.EchoPassword
	in.EchoCharacter = '•'
	return in
}

func newInitModel(store secrets.Store) initModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:          stepProvider,
		apiKeyInput:   newKeyInput(),
		embedKeyInput: newKeyInput(),
		spinner:       sp,
		secretStore:   store,
	}
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case validationSuccessMsg:
		return m.handleValidationSuccess(msg)

	case validationErrorMsg:
		m.validationErr = msg.err.Error()
		switch msg.step {
		case stepValidateKey:
			m.step = stepAPIKey
			m.apiKeyInput.Focus()
		case stepValidateEmbed:
			m.step = stepEmbedKey
			m.embedKeyInput.Focus()
		}
		return m, nil

	case configWrittenMsg:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	return m.updateInputs(msg)
}

func (m initModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepProvider:
		return m.handleProviderKey(msg)
	case stepAPIKey:
		return m.handleKeyInput(msg, &m.apiKeyInput, stepValidateKey)
	case stepEmbedKey:
		return m.handleKeyInput(msg, &m.embedKeyInput, stepValidateEmbed)
	}
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleProviderKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.providerIdx > 0 {
			m.providerIdx--
		}
	case "down", "j":
		if m.providerIdx < len(provider.KnownProviders)-1 {
			m.providerIdx++
		}
	case "enter":
		m.result.Provider = provider.KnownProviders[m.providerIdx]
		m.step = stepAPIKey
		m.validationErr = ""
		m.apiKeyInput.SetValue("")
		m.apiKeyInput.Focus()
		return m, textinput.Blink
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

// handleKeyInput drives either key prompt. On enter it moves to the
// matching validation step.
func (m initModel) handleKeyInput(msg tea.KeyMsg, input *textinput.Model, next initWizardStep) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(input.Value())
		if key == "" {
			m.validationErr = "API key must not be empty"
			return m, nil
		}
		m.validationErr = ""
		m.step = next

		p := m.result.Provider
		if next == stepValidateEmbed {
			m.result.EmbedKey = key
			p = m.result.EmbedProvider
		} else {
			m.result.APIKey = key
		}
		return m, tea.Batch(m.spinner.Tick, validateKeyCmd(next, p, key))
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	*input, cmd = input.Update(msg)
	return m, cmd
}

func (m initModel) handleValidationSuccess(msg validationSuccessMsg) (tea.Model, tea.Cmd) {
	switch msg.step {
	case stepValidateKey:
		if canEmbed(m.result.Provider) {
			m.result.EmbedProvider = m.result.Provider
			m.result.EmbedKey = m.result.APIKey
			return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
		}
		m.result.EmbedProvider = provider.ProviderOpenAI
		m.step = stepEmbedKey
		m.embedKeyInput.SetValue("")
		m.embedKeyInput.Focus()
		return m, textinput.Blink
	case stepValidateEmbed:
		return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
	}
	return m, nil
}

func (m initModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.step {
	case stepAPIKey:
		m.apiKeyInput, cmd = m.apiKeyInput.Update(msg)
	case stepEmbedKey:
		m.embedKeyInput, cmd = m.embedKeyInput.Update(msg)
	}
	return m, cmd
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Gita Setup  ") + "\n\n")

	switch m.step {
	case stepProvider:
		b.WriteString(promptStyle.Render("Step 1/2: Choose the LLM provider that answers questions") + "\n\n")
		for i, p := range provider.KnownProviders {
			label := string(p)
			if canEmbed(p) {
				label += dimStyle.Render("  (also embeds)")
			}
			if i == m.providerIdx {
				b.WriteString(selectedStyle.Render("  > "+string(p)) + strings.TrimPrefix(label, string(p)) + "\n")
			} else {
				b.WriteString(dimStyle.Render("    "+string(p)) + strings.TrimPrefix(label, string(p)) + "\n")
			}
		}
		b.WriteString("\n" + dimStyle.Render("↑/↓ to navigate  enter to select  q to quit"))

	case stepAPIKey:
		b.WriteString(promptStyle.Render("Step 1/2: "+string(m.result.Provider)+" API key") + "\n\n")
		b.WriteString(m.apiKeyInput.View() + "\n")
		m.writeValidationErr(&b)
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepValidateKey:
		b.WriteString(m.spinner.View() + " Validating " + string(m.result.Provider) + " API key…\n")

	case stepEmbedKey:
		b.WriteString(promptStyle.Render("Step 2/2: OpenAI API key for embeddings") + "\n\n")
		b.WriteString(dimStyle.Render(string(m.result.Provider)+" has no embeddings API; passages are embedded with OpenAI.") + "\n\n")
		b.WriteString(m.embedKeyInput.View() + "\n")
		m.writeValidationErr(&b)
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepValidateEmbed:
		b.WriteString(m.spinner.View() + " Validating OpenAI API key…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		if m.configPath != "" {
			b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		}
		b.WriteString("Run " + promptStyle.Render("gita serve") + ", then " + promptStyle.Render("gita ingest <file>") + " and " + promptStyle.Render("gita ask") + ".\n")
		b.WriteString("Run " + promptStyle.Render("gita doctor") + " to verify setup.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

func (m initModel) writeValidationErr(b *strings.Builder) {
	if m.validationErr != "" {
		b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
	}
}

// --- tea.Cmd factories ---

func validateKeyCmd(step initWizardStep, p provider.ProviderName, key string) tea.Cmd {
	return func() tea.Msg {
		if err := validateKey(context.Background(), initHTTPClient, p, key); err != nil {
			return validationErrorMsg{step: step, err: err}
		}
		return validationSuccessMsg{step: step}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, forceOverwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, err := storeSecretAndWriteConfig(result, store, forceOverwrite)
		if err != nil {
			return err
		}
		return configWrittenMsg{path: path}
	}
}

// --- Config generation ---

// secretName is the keyring entry holding p's API key.
func secretName(p provider.ProviderName) string {
	return string(p) + "-api-key"
}

// GenerateConfigYAML produces a minimal gita.yaml from the wizard result.
// API keys are referenced via keyring:// URIs; the actual secrets are stored
// separately via storeSecretAndWriteConfig.
func GenerateConfigYAML(result initResult) string {
	var sb strings.Builder
	sb.WriteString("# gita configuration, generated by gita init.\n")
	sb.WriteString("# Unset keys use built-in defaults.\n\n")

	sb.WriteString("server:\n")
	sb.WriteString("  listen: \"127.0.0.1:8787\"\n\n")

	sb.WriteString("storage:\n")
	sb.WriteString("  backend: sqlite\n\n")

	model, dims := embeddingDefaults(result.EmbedProvider)
	sb.WriteString("embedding:\n")
	sb.WriteString(fmt.Sprintf("  provider: %s\n", result.EmbedProvider))
	sb.WriteString(fmt.Sprintf("  model: %s\n", model))
	sb.WriteString(fmt.Sprintf("  dimensions: %d\n\n", dims))

	sb.WriteString("providers:\n")
	for _, p := range provider.KnownProviders {
		if p != result.Provider && p != result.EmbedProvider {
			continue
		}
		sb.WriteString(fmt.Sprintf("  %s:\n", p))
		sb.WriteString(fmt.Sprintf("    api_key: \"%s\"\n", secrets.KeyringURI(secrets.DefaultService, secretName(p))))
	}
	sb.WriteString("\n")

	sb.WriteString("models:\n")
	sb.WriteString(fmt.Sprintf("  default: \"%s\"\n", defaultModelForProvider(result.Provider)))

	return sb.String()
}

func embeddingDefaults(p provider.ProviderName) (string, int) {
	if p == provider.ProviderGoogle {
		return googleembed.DefaultModel, googleembed.DefaultDimensions
	}
	return openaiembed.DefaultModel, openaiembed.DefaultDimensions
}

// defaultModelForProvider returns a sensible default model string for a provider.
func defaultModelForProvider(p provider.ProviderName) string {
	switch p {
	case provider.ProviderAnthropic:
		return "anthropic/claude-haiku-4-5"
	case provider.ProviderOpenAI:
		return "openai/gpt-4o-mini"
	case provider.ProviderGoogle:
		return "google/gemini-2.5-flash"
	case provider.ProviderOpenRouter:
		return "openrouter/openai/gpt-4o-mini"
	default:
		return string(p) + "/default"
	}
}

// storeSecretAndWriteConfig saves keys to the secret store and writes the
// config YAML to the default config path.
//
// When forceOverwrite is false and the config file already exists, an error
// is returned asking the user to pass --force.
func storeSecretAndWriteConfig(result initResult, store secrets.Store, forceOverwrite bool) (string, error) {
	cfgPath, err := configPathForWrite()
	if err != nil {
		return "", err
	}

	if !forceOverwrite {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return "", gitaerr.Errorf(gitaerr.CodeCLISetupFailure,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	// Keys stored before a failed config write are left in place; a
	// successful re-run overwrites them.
	if err := store.Store(secrets.DefaultService, secretName(result.Provider), result.APIKey); err != nil {
		return "", gitaerr.Errorf(gitaerr.CodeSecretStoreFailure, "storing %s API key: %w", result.Provider, err)
	}
	if result.EmbedProvider != result.Provider && result.EmbedKey != "" {
		if err := store.Store(secrets.DefaultService, secretName(result.EmbedProvider), result.EmbedKey); err != nil {
			return "", gitaerr.Errorf(gitaerr.CodeSecretStoreFailure, "storing %s API key: %w", result.EmbedProvider, err)
		}
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", gitaerr.Errorf(gitaerr.CodeCLISetupFailure, "creating config directory %s: %w", dir, err)
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateConfigYAML(result)), 0o600); err != nil {
		return "", gitaerr.Errorf(gitaerr.CodeCLISetupFailure, "writing config to %s: %w", cfgPath, err)
	}

	return cfgPath, nil
}

// configPathForWrite returns the config path init writes to. Tests
// override it.
var configPathForWrite = config.DefaultConfigPath

// --- Cobra command ---

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard",
		Long: `Run an interactive TUI wizard that walks you through:
  1. Choosing the LLM provider that answers questions
  2. Adding an OpenAI key for embeddings when that provider has none

API keys are stored in the OS keyring and referenced via keyring:// URIs
in ~/.gita/gita.yaml. No secrets are written in plain text.

After completion, run:
  gita serve          start the gateway
  gita ingest <file>  add a text or PDF
  gita ask "..."      ask a question
  gita doctor         verify your setup`,
		RunE: runInit,
	}

	cmd.Flags().Bool("force", false, "Overwrite existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"gita init requires an interactive terminal.\n"+
				"To configure gita non-interactively, use 'gita secret set' and edit ~/.gita/gita.yaml directly.")
		return gitaerr.New(gitaerr.CodeCLISetupFailure, "gita init: not an interactive terminal")
	}

	forceOverwrite, _ := cmd.Flags().GetBool("force")

	m := newInitModel(secretStoreFactory())
	m.forceOverwrite = forceOverwrite

	p := tea.NewProgram(m, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return gitaerr.Errorf(gitaerr.CodeCLISetupFailure, "init wizard error: %w", err)
	}

	fm, ok := finalModel.(initModel)
	if !ok {
		return gitaerr.New(gitaerr.CodeCLISetupFailure, "unexpected model type after wizard")
	}

	if fm.errFinal != nil {
		return gitaerr.Errorf(gitaerr.CodeCLISetupFailure, "init failed: %w", fm.errFinal)
	}
	if fm.step == stepDone {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", fm.configPath)
	}

	return nil
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
