// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/sigil-dev/gita/internal/agent"
	"github.com/sigil-dev/gita/internal/chunker"
	"github.com/sigil-dev/gita/internal/config"
	"github.com/sigil-dev/gita/internal/embedding"
	googleembed "github.com/sigil-dev/gita/internal/embedding/google"
	openaiembed "github.com/sigil-dev/gita/internal/embedding/openai"
	"github.com/sigil-dev/gita/internal/ingest"
	"github.com/sigil-dev/gita/internal/provider"
	anthropicprov "github.com/sigil-dev/gita/internal/provider/anthropic"
	googleprov "github.com/sigil-dev/gita/internal/provider/google"
	openaiprov "github.com/sigil-dev/gita/internal/provider/openai"
	openrouterprov "github.com/sigil-dev/gita/internal/provider/openrouter"
	"github.com/sigil-dev/gita/internal/retrieval"
	"github.com/sigil-dev/gita/internal/security/scanner"
	"github.com/sigil-dev/gita/internal/server"
	"github.com/sigil-dev/gita/internal/store"
	_ "github.com/sigil-dev/gita/internal/store/sqlite" // register sqlite backend
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// Pipeline is the ingestion and retrieval half of the gateway. The CLI's
// --local mode uses it without an HTTP server.
type Pipeline struct {
	Store     store.VectorStore
	Embedder  embedding.Embedder
	Ingest    *ingest.Service
	Retriever *retrieval.Orchestrator
	// Guard screens uploads, questions and passages; nil when scanning
	// is disabled.
	Guard *scanner.Guard
}

// Close releases the store.
func (p *Pipeline) Close() error {
	if p == nil || p.Store == nil {
		return nil
	}
	return p.Store.Close()
}

// Gateway holds all wired subsystems and manages their lifecycle.
type Gateway struct {
	*Pipeline
	Server     *server.Server
	Providers  *provider.Registry
	Controller *agent.Controller
}

// WirePipeline opens the store and builds the embedder, ingestion service
// and retrieval orchestrator.
func WirePipeline(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	emb, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ch, err := chunker.New(cfg.Chunking)
	if err != nil {
		return nil, gitaerr.Wrap(err, gitaerr.CodeCLISetupFailure, "configuring chunker")
	}

	var concepts *retrieval.ConceptTable
	if cfg.Retrieval.ConceptsFile != "" {
		concepts, err = retrieval.LoadConcepts(cfg.Retrieval.ConceptsFile)
		if err != nil {
			return nil, gitaerr.Wrapf(err, gitaerr.CodeCLISetupFailure, "loading concepts from %s", cfg.Retrieval.ConceptsFile)
		}
	}

	guard, err := scanner.NewGuard(cfg.Security.Scanner)
	if err != nil {
		return nil, gitaerr.Wrap(err, gitaerr.CodeCLISetupFailure, "configuring content scanner")
	}

	storeCfg := cfg.StoreConfig()
	if storeCfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(storeCfg.Path), 0o700); err != nil {
			return nil, gitaerr.Errorf(gitaerr.CodeCLISetupFailure, "creating data directory: %w", err)
		}
	}
	vs, err := store.NewVectorStore(&storeCfg)
	if err != nil {
		return nil, gitaerr.Wrap(err, gitaerr.CodeCLISetupFailure, "opening passage store")
	}

	opts := []ingest.Option{ingest.WithConfig(cfg.Ingest)}
	if ex := newExtractor(cfg.Ingest.Extractor); ex != nil {
		opts = append(opts, ingest.WithExtractor(ex))
	}
	if guard != nil {
		opts = append(opts, ingest.WithScreener(guard))
	}

	retOpts := []retrieval.Option{retrieval.WithConfig(cfg.Retrieval.Config)}
	if concepts != nil {
		retOpts = append(retOpts, retrieval.WithConcepts(concepts))
	}

	return &Pipeline{
		Store:     vs,
		Embedder:  emb,
		Ingest:    ingest.New(ch, emb, vs, opts...),
		Retriever: retrieval.New(emb, vs, retOpts...),
		Guard:     guard,
	}, nil
}

// WireGateway creates all subsystems and wires them together.
func WireGateway(ctx context.Context, cfg *config.Config) (*Gateway, error) {
	pipe, err := WirePipeline(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := provider.NewRegistry()
	registerBuiltinProviders(ctx, cfg, reg)

	services := &server.Services{
		Ingest:           pipe.Ingest,
		Search:           pipe.Retriever,
		Matcher:          pipe.Store,
		VectorDimensions: pipe.Embedder.Dimensions(),
		Health: []server.HealthChecker{
			server.StoreHealth(cfg.Storage.Backend, pipe.Store),
			server.EmbedderHealth(pipe.Embedder),
			reg,
		},
	}

	var ctrl *agent.Controller
	if len(reg.Names()) == 0 {
		slog.Warn("no chat providers configured; /api/v1/chat/stream will answer 503")
	} else {
		if err := reg.SetDefault(cfg.Models.Default); err != nil {
			_ = pipe.Close()
			return nil, gitaerr.Wrapf(err, gitaerr.CodeCLISetupFailure, "setting default model: %s", cfg.Models.Default)
		}
		if len(cfg.Models.Failover) > 0 {
			if err := reg.SetFailover(cfg.Models.Failover); err != nil {
				_ = pipe.Close()
				return nil, gitaerr.Wrapf(err, gitaerr.CodeCLISetupFailure, "setting failover chain")
			}
		}
		var agentOpts []agent.Option
		if pipe.Guard != nil {
			agentOpts = append(agentOpts, agent.WithScreener(pipe.Guard))
		}
		ctrl = agent.New(reg, pipe.Retriever, cfg.Agent, agentOpts...)
		services.Chat = ctrl
	}

	srv, err := server.New(server.Config{
		ListenAddr:      cfg.Server.Listen,
		CORSOrigins:     cfg.Server.CORSOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ChatBodyLimit:   cfg.Server.ChatBodyLimit,
		UploadLimit:     cfg.Server.UploadLimit,
		Services:        services,
	})
	if err != nil {
		_ = pipe.Close()
		_ = reg.Close()
		return nil, gitaerr.Wrap(err, gitaerr.CodeCLISetupFailure, "creating server")
	}

	return &Gateway{
		Pipeline:   pipe,
		Server:     srv,
		Providers:  reg,
		Controller: ctrl,
	}, nil
}

// Start runs the HTTP server and blocks until the context is cancelled.
func (gw *Gateway) Start(ctx context.Context) error {
	return gw.Server.Start(ctx)
}

// Close releases all resources held by the gateway.
func (gw *Gateway) Close() error {
	var errs []error
	if gw.Providers != nil {
		if err := gw.Providers.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := gw.Pipeline.Close(); err != nil {
		errs = append(errs, err)
	}
	return gitaerr.Join(errs...)
}

// embedderFactory builds the embedding backend for a provider entry.
type embedderFactory func(ctx context.Context, ec config.EmbeddingConfig, pc config.ProviderConfig) (embedding.Backend, error)

// embedderFactories maps embedding.provider values to constructors.
// Declared as a variable so tests can inject fakes.
var embedderFactories = map[string]embedderFactory{
	string(provider.ProviderOpenAI): func(_ context.Context, ec config.EmbeddingConfig, pc config.ProviderConfig) (embedding.Backend, error) {
		return openaiembed.New(openaiembed.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, Model: ec.Model, Dimensions: ec.Dimensions})
	},
	string(provider.ProviderGoogle): func(ctx context.Context, ec config.EmbeddingConfig, pc config.ProviderConfig) (embedding.Backend, error) {
		return googleembed.New(ctx, googleembed.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, Model: ec.Model, Dimensions: ec.Dimensions})
	},
}

func newEmbedder(ctx context.Context, cfg *config.Config) (embedding.Embedder, error) {
	ec := cfg.Embedding
	factory, ok := embedderFactories[ec.Provider]
	if !ok {
		return nil, gitaerr.Errorf(gitaerr.CodeCLISetupFailure, "unsupported embedding provider %q", ec.Provider)
	}
	pc := cfg.Providers[ec.Provider]
	if pc.APIKey == "" {
		return nil, gitaerr.Errorf(gitaerr.CodeCLISetupFailure,
			"embedding provider %q has no api_key; run 'gita init' or set providers.%s.api_key", ec.Provider, ec.Provider)
	}
	backend, err := factory(ctx, ec, pc)
	if err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeCLISetupFailure, "creating %s embedder", ec.Provider)
	}
	return embedding.NewBatcher(backend, embedding.Config{BatchSize: ec.BatchSize, Timeout: ec.Timeout}), nil
}

// newExtractor returns the configured PDF extractor, or nil when it is
// disabled or its command is not installed.
func newExtractor(ec ingest.ExtractorConfig) ingest.Extractor {
	if ec.Command == "" {
		return nil
	}
	if _, err := exec.LookPath(ec.Command); err != nil {
		slog.Warn("PDF extractor not found; PDF uploads are disabled", "command", ec.Command, "error", err)
		return nil
	}
	ex, err := ingest.NewCommandExtractor(ec)
	if err != nil {
		slog.Warn("PDF extractor disabled", "error", err)
		return nil
	}
	return ex
}

// providerFactory builds a provider.Provider from a ProviderConfig.
type providerFactory func(context.Context, config.ProviderConfig, *config.Config) (provider.Provider, error)

// builtinProviderFactories maps provider names to their constructors.
// Declared as a variable so tests can inject failing factories.
var builtinProviderFactories = map[string]providerFactory{
	string(provider.ProviderAnthropic): func(_ context.Context, pc config.ProviderConfig, cfg *config.Config) (provider.Provider, error) {
		return anthropicprov.New(anthropicprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, HealthCooldown: cfg.Models.HealthCooldown})
	},
	string(provider.ProviderGoogle): func(ctx context.Context, pc config.ProviderConfig, cfg *config.Config) (provider.Provider, error) {
		return googleprov.New(ctx, googleprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, HealthCooldown: cfg.Models.HealthCooldown})
	},
	string(provider.ProviderOpenAI): func(_ context.Context, pc config.ProviderConfig, cfg *config.Config) (provider.Provider, error) {
		return openaiprov.New(openaiprov.Config{APIKey: pc.APIKey, BaseURL: pc.Endpoint, HealthCooldown: cfg.Models.HealthCooldown})
	},
	string(provider.ProviderOpenRouter): func(_ context.Context, pc config.ProviderConfig, cfg *config.Config) (provider.Provider, error) {
		return openrouterprov.New(openrouterprov.Config{
			APIKey:         pc.APIKey,
			BaseURL:        pc.Endpoint,
			AppName:        "gita",
			HealthCooldown: cfg.Models.HealthCooldown,
		})
	},
}

// registerBuiltinProviders iterates configured providers and registers
// matching built-in implementations. Unknown names or empty API keys are
// logged and skipped; neither is fatal at startup.
func registerBuiltinProviders(ctx context.Context, cfg *config.Config, reg *provider.Registry) {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := cfg.Providers[name]
		if pc.APIKey == "" {
			slog.Warn("skipping provider with empty API key", "provider", name)
			continue
		}
		factory, ok := builtinProviderFactories[name]
		if !ok {
			slog.Warn("unknown provider in config, skipping", "provider", name)
			continue
		}
		p, err := factory(ctx, pc, cfg)
		if err != nil {
			slog.Warn("failed to create provider", "provider", name, "error", err)
			continue
		}
		reg.Register(name, p)
		slog.Info("registered provider", "provider", name)
	}
}
