// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package store

import "time"

// StorageConfig controls which backend the store factory uses.
type StorageConfig struct {
	Backend          string        // "sqlite" is the only supported backend for now.
	Path             string        // Database file; backends may derive companion files from it.
	VectorDimensions int           // Embedding dimensions; 0 uses the default (1536).
	Timeout          time.Duration // Per-call deadline; 0 disables it.
}
