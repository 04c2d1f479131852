// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import (
	"sort"
	"sync"

	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// DefaultVectorDimensions matches OpenAI text-embedding-3-small.
const DefaultVectorDimensions = 1536

// VectorStoreFactory opens a vector store for the given configuration.
// Dimensions are already resolved when the factory is called.
type VectorStoreFactory func(cfg StorageConfig) (VectorStore, error)

var (
	factories   = map[string]VectorStoreFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, f VectorStoreFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg *StorageConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// NewVectorStore opens the configured backend.
func NewVectorStore(cfg *StorageConfig) (VectorStore, error) {
	backend := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, gitaerr.Errorf(gitaerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", backend)
	}

	resolved := *cfg
	resolved.Backend = backend
	if resolved.VectorDimensions <= 0 {
		resolved.VectorDimensions = DefaultVectorDimensions
	}

	return factory(resolved)
}
