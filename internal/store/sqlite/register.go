// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"os"
	"path/filepath"

	"github.com/sigil-dev/gita/internal/store"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

// DefaultFileName is used when the storage config leaves the path empty.
const DefaultFileName = "passages.db"

func init() {
	store.RegisterBackend("sqlite", newVectorStore)
}

func newVectorStore(cfg store.StorageConfig) (store.VectorStore, error) {
	path := cfg.Path
	if path == "" {
		path = DefaultFileName
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, gitaerr.Wrapf(err, gitaerr.CodeStoreDatabaseFailure, "creating data directory %s", dir)
		}
	}

	return NewVectorStore(path, cfg.VectorDimensions, cfg.Timeout)
}
