// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/sigil-dev/gita/internal/store/sqlite"
	"github.com/stretchr/testify/require"
)

// testDBPath returns a temp SQLite database path.
func testDBPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".db")
}

// newTestStore opens a 3-dimensional store that is closed with the test.
func newTestStore(t *testing.T, name string) *sqlite.VectorStore {
	t.Helper()
	vs, err := sqlite.NewVectorStore(testDBPath(t, name), 3, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })
	return vs
}
