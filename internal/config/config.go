// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/chunker"
	"github.com/sigil-dev/gita/internal/ingest"
	"github.com/sigil-dev/gita/internal/provider"
	"github.com/sigil-dev/gita/internal/retrieval"
	"github.com/sigil-dev/gita/internal/secrets"
	"github.com/sigil-dev/gita/internal/security/scanner"
	"github.com/sigil-dev/gita/internal/store"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GITA_SERVER_LISTEN.
const EnvPrefix = "GITA"

// Config is the top-level gita configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Storage   StorageConfig             `mapstructure:"storage"`
	Embedding EmbeddingConfig           `mapstructure:"embedding"`
	Chunking  chunker.Config            `mapstructure:"chunking"`
	Retrieval RetrievalConfig           `mapstructure:"retrieval"`
	Agent     agent.Config              `mapstructure:"agent"`
	Ingest    ingest.Config             `mapstructure:"ingest"`
	Security  SecurityConfig            `mapstructure:"security"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Models    ModelsConfig              `mapstructure:"models"`

	// File is the config file that was read, empty when running on
	// defaults and environment only.
	File string `mapstructure:"-"`
	// Unresolved lists config keys whose keyring:// reference could not be
	// resolved.
	Unresolved []string `mapstructure:"-"`
}

// SecurityConfig controls content screening.
type SecurityConfig struct {
	Scanner scanner.Config `mapstructure:"scanner"`
}

// ServerConfig controls the HTTP gateway.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ChatBodyLimit   int64         `mapstructure:"chat_body_limit"`
	UploadLimit     int64         `mapstructure:"upload_limit"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig selects and locates the passage store.
type StorageConfig struct {
	Backend string        `mapstructure:"backend"`
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StoreConfig converts to the store factory's config.
func (c Config) StoreConfig() store.StorageConfig {
	return store.StorageConfig{
		Backend:          c.Storage.Backend,
		Path:             c.Storage.Path,
		VectorDimensions: c.Embedding.Dimensions,
		Timeout:          c.Storage.Timeout,
	}
}

// EmbeddingConfig picks the embedding backend. The API key comes from the
// matching providers entry.
type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RetrievalConfig is the orchestrator's tuning plus an optional concept
// table override.
type RetrievalConfig struct {
	retrieval.Config `mapstructure:",squash"`
	ConceptsFile     string `mapstructure:"concepts_file"`
}

// ProviderConfig holds credentials and endpoint for an LLM provider.
type ProviderConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// ModelsConfig controls model selection and failover.
type ModelsConfig struct {
	Default        string        `mapstructure:"default"`
	Failover       []string      `mapstructure:"failover"`
	HealthCooldown time.Duration `mapstructure:"health_cooldown"`
}

// providerEnv lists the conventional variables each provider key is also
// read from.
var providerEnv = map[provider.ProviderName][]string{
	provider.ProviderOpenAI:     {"OPENAI_API_KEY"},
	provider.ProviderAnthropic:  {"ANTHROPIC_API_KEY"},
	provider.ProviderGoogle:     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	provider.ProviderOpenRouter: {"OPENROUTER_API_KEY"},
}

// DefaultDir returns ~/.gita, or "." when the home directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".gita")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8787")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.chat_body_limit", 1<<20)
	v.SetDefault("server.upload_limit", 32<<20)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", filepath.Join(DefaultDir(), "passages.db"))
	v.SetDefault("storage.timeout", 10*time.Second)

	v.SetDefault("embedding.provider", string(provider.ProviderOpenAI))
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 20)
	v.SetDefault("embedding.timeout", 30*time.Second)

	ch := chunker.DefaultConfig()
	v.SetDefault("chunking.size", ch.Size)
	v.SetDefault("chunking.overlap", ch.Overlap)
	v.SetDefault("chunking.min_length", ch.MinLength)

	rt := retrieval.DefaultConfig()
	v.SetDefault("retrieval.primary_threshold", rt.PrimaryThreshold)
	v.SetDefault("retrieval.primary_count", rt.PrimaryCount)
	v.SetDefault("retrieval.fallback_threshold", rt.FallbackThreshold)
	v.SetDefault("retrieval.fallback_count", rt.FallbackCount)
	v.SetDefault("retrieval.tool_threshold", rt.ToolThreshold)
	v.SetDefault("retrieval.tool_default_k", rt.ToolDefaultK)
	v.SetDefault("retrieval.tool_max_k", rt.ToolMaxK)

	v.SetDefault("agent.max_steps", agent.DefaultMaxSteps)
	v.SetDefault("agent.step_timeout", agent.DefaultStepTimeout)

	in := ingest.DefaultConfig()
	v.SetDefault("ingest.min_chars", in.MinChars)
	v.SetDefault("ingest.max_chars", in.MaxChars)
	v.SetDefault("ingest.segment_size", in.SegmentSize)
	v.SetDefault("ingest.segment_policy", string(in.SegmentPolicy))
	v.SetDefault("ingest.extractor.command", in.Extractor.Command)
	v.SetDefault("ingest.extractor.args", in.Extractor.Args)
	v.SetDefault("ingest.extractor.timeout", in.Extractor.Timeout)
	v.SetDefault("ingest.extractor.max_output", in.Extractor.MaxOutput)

	sc := scanner.DefaultConfig()
	v.SetDefault("security.scanner.enabled", sc.Enabled)
	v.SetDefault("security.scanner.ingest", string(sc.Ingest))
	v.SetDefault("security.scanner.input", string(sc.Input))
	v.SetDefault("security.scanner.tool", string(sc.Tool))
	v.SetDefault("security.scanner.rules_file", sc.RulesFile)

	v.SetDefault("models.default", "openai/gpt-4o-mini")
	v.SetDefault("models.health_cooldown", provider.DefaultHealthCooldown)
}

// Load reads configuration from path, or from gita.yaml in the working
// directory or ~/.gita when path is empty, applies GITA_* environment
// overrides and resolves keyring:// references from the OS keyring.
func Load(path string) (*Config, error) {
	return LoadWith(path, secrets.NewKeyringStore())
}

// LoadWith is Load with an explicit secret store.
func LoadWith(path string, secretStore secrets.Store) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, name := range provider.KnownProviders {
		key := "providers." + string(name) + ".api_key"
		env := append([]string{EnvPrefix + "_PROVIDERS_" + strings.ToUpper(string(name)) + "_API_KEY"}, providerEnv[name]...)
		if err := v.BindEnv(append([]string{key}, env...)...); err != nil {
			return nil, gitaerr.Errorf(gitaerr.CodeConfigLoadReadFailure, "binding %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, gitaerr.Errorf(gitaerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("gita")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, gitaerr.Errorf(gitaerr.CodeConfigParseInvalidFormat, "reading config: %w", err)
			}
		}
	}

	unresolved := secrets.ResolveViperSecrets(v, secretStore)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, gitaerr.Errorf(gitaerr.CodeConfigParseInvalidFormat, "unmarshalling config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Unresolved = unresolved
	cfg.dropEmptyProviders()

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, gitaerr.Errorf(gitaerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	WarnInsecurePermissions(cfg.File)
	return &cfg, nil
}

// dropEmptyProviders removes entries that only exist because an unset
// environment binding created them.
func (c *Config) dropEmptyProviders() {
	for name, p := range c.Providers {
		if p.APIKey == "" && p.Endpoint == "" {
			delete(c.Providers, name)
		}
	}
	if len(c.Providers) == 0 {
		c.Providers = nil
	}
}

// Validate checks the configuration for logical errors and reports all of
// them rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLogging()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateEmbedding()...)
	errs = append(errs, c.validateChunking()...)
	errs = append(errs, c.validateRetrieval()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateIngest()...)
	errs = append(errs, c.Security.Scanner.Validate()...)
	errs = append(errs, c.validateModels()...)

	return errs
}

func invalid(format string, args ...any) error {
	return gitaerr.Errorf(gitaerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, invalid("server.listen must not be empty"))
	} else if _, portStr, err := net.SplitHostPort(c.Server.Listen); err != nil {
		errs = append(errs, invalid("server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
	} else if port, err := strconv.Atoi(portStr); err != nil {
		errs = append(errs, invalid("server.listen port must be a number, got %q", portStr))
	} else if port < 0 || port > 65535 {
		// Port 0 asks the kernel for an ephemeral port.
		errs = append(errs, invalid("server.listen port must be between 0 and 65535, got %d", port))
	}

	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, invalid("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout))
	}
	if c.Server.ChatBodyLimit <= 0 {
		errs = append(errs, invalid("server.chat_body_limit must be positive, got %d", c.Server.ChatBodyLimit))
	}
	if c.Server.UploadLimit <= 0 {
		errs = append(errs, invalid("server.upload_limit must be positive, got %d", c.Server.UploadLimit))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		errs = append(errs, invalid("logging.format must be one of [text, json], got %q", c.Logging.Format))
	}
	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	if c.Storage.Backend != "sqlite" {
		errs = append(errs, invalid("storage.backend must be one of [sqlite], got %q", c.Storage.Backend))
	}
	if c.Storage.Path == "" {
		errs = append(errs, invalid("storage.path must not be empty"))
	}
	if c.Storage.Timeout < 0 {
		errs = append(errs, invalid("storage.timeout must not be negative, got %s", c.Storage.Timeout))
	}

	return errs
}

func (c *Config) validateEmbedding() []error {
	var errs []error

	switch provider.ProviderName(c.Embedding.Provider) {
	case provider.ProviderOpenAI, provider.ProviderGoogle:
	default:
		errs = append(errs, invalid("embedding.provider must be one of [openai, google], got %q", c.Embedding.Provider))
	}
	if c.Embedding.Model == "" {
		errs = append(errs, invalid("embedding.model must not be empty"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, invalid("embedding.dimensions must be greater than 0, got %d", c.Embedding.Dimensions))
	}
	if c.Embedding.BatchSize < 1 || c.Embedding.BatchSize > 2048 {
		errs = append(errs, invalid("embedding.batch_size must be between 1 and 2048, got %d", c.Embedding.BatchSize))
	}

	return errs
}

func (c *Config) validateChunking() []error {
	var errs []error

	if c.Chunking.Size <= 0 {
		errs = append(errs, invalid("chunking.size must be greater than 0, got %d", c.Chunking.Size))
	}
	if c.Chunking.Overlap < 0 {
		errs = append(errs, invalid("chunking.overlap must not be negative, got %d", c.Chunking.Overlap))
	}
	if c.Chunking.MinLength < 1 {
		errs = append(errs, invalid("chunking.min_length must be at least 1, got %d", c.Chunking.MinLength))
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	var errs []error
	r := c.Retrieval

	thresholds := []struct {
		key string
		val float64
	}{
		{"retrieval.primary_threshold", r.PrimaryThreshold},
		{"retrieval.fallback_threshold", r.FallbackThreshold},
		{"retrieval.tool_threshold", r.ToolThreshold},
	}
	for _, th := range thresholds {
		if th.val < 0 || th.val > 1 {
			errs = append(errs, invalid("%s must be within [0, 1], got %g", th.key, th.val))
		}
	}

	counts := []struct {
		key string
		val int
	}{
		{"retrieval.primary_count", r.PrimaryCount},
		{"retrieval.fallback_count", r.FallbackCount},
		{"retrieval.tool_default_k", r.ToolDefaultK},
		{"retrieval.tool_max_k", r.ToolMaxK},
	}
	for _, ct := range counts {
		if ct.val < 1 {
			errs = append(errs, invalid("%s must be at least 1, got %d", ct.key, ct.val))
		}
	}
	if r.FallbackThreshold > r.PrimaryThreshold {
		errs = append(errs, invalid("retrieval.fallback_threshold (%g) must not exceed retrieval.primary_threshold (%g)", r.FallbackThreshold, r.PrimaryThreshold))
	}
	if r.ToolDefaultK > r.ToolMaxK {
		errs = append(errs, invalid("retrieval.tool_default_k (%d) must not exceed retrieval.tool_max_k (%d)", r.ToolDefaultK, r.ToolMaxK))
	}

	return errs
}

func (c *Config) validateAgent() []error {
	var errs []error

	if c.Agent.MaxSteps < 1 {
		errs = append(errs, invalid("agent.max_steps must be at least 1, got %d", c.Agent.MaxSteps))
	}
	if c.Agent.StepTimeout <= 0 {
		errs = append(errs, invalid("agent.step_timeout must be positive, got %s", c.Agent.StepTimeout))
	}
	if c.Agent.Model != "" && !strings.Contains(c.Agent.Model, "/") {
		errs = append(errs, invalid("agent.model must be in \"provider/model\" format, got %q", c.Agent.Model))
	}

	return errs
}

func (c *Config) validateIngest() []error {
	var errs []error

	if c.Ingest.MinChars < 0 {
		errs = append(errs, invalid("ingest.min_chars must not be negative, got %d", c.Ingest.MinChars))
	}
	if c.Ingest.MaxChars <= c.Ingest.MinChars {
		errs = append(errs, invalid("ingest.max_chars (%d) must be greater than ingest.min_chars (%d)", c.Ingest.MaxChars, c.Ingest.MinChars))
	}
	if c.Ingest.SegmentSize <= 0 || c.Ingest.SegmentSize > c.Ingest.MaxChars {
		errs = append(errs, invalid("ingest.segment_size must be within [1, ingest.max_chars], got %d", c.Ingest.SegmentSize))
	}
	if !c.Ingest.SegmentPolicy.Valid() {
		errs = append(errs, invalid("ingest.segment_policy must be one of [fail_fast, continue], got %q", c.Ingest.SegmentPolicy))
	}

	return errs
}

func (c *Config) validateModels() []error {
	var errs []error

	for name := range c.Providers {
		if !slices.Contains(provider.KnownProviders, provider.ProviderName(name)) {
			errs = append(errs, invalid("providers.%s is not a supported provider", name))
		}
	}

	refs := append([]string{c.Models.Default}, c.Models.Failover...)
	for i, ref := range refs {
		key := "models.default"
		if i > 0 {
			key = fmt.Sprintf("models.failover[%d]", i-1)
		}
		if ref == "" {
			errs = append(errs, invalid("%s must not be empty", key))
			continue
		}
		name, _, ok := strings.Cut(ref, "/")
		if !ok || name == "" {
			errs = append(errs, invalid("%s must be in \"provider/model\" format, got %q", key, ref))
			continue
		}
		// A nil map means no providers section at all, which is valid on a
		// fresh install; only cross-check once something is configured.
		if c.Providers != nil {
			if _, ok := c.Providers[name]; !ok {
				errs = append(errs, invalid("%s %q references provider %q which is not configured", key, ref, name))
			}
		}
	}

	if c.Models.HealthCooldown <= 0 {
		errs = append(errs, invalid("models.health_cooldown must be positive, got %s", c.Models.HealthCooldown))
	}

	return errs
}
