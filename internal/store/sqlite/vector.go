// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sigil-dev/gita/internal/store"
	gitaerr "github.com/sigil-dev/gita/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ store.VectorStore = (*VectorStore)(nil)

// VectorStore implements store.VectorStore backed by SQLite with sqlite-vec.
// Passage text and metadata live in a plain table; embeddings live in a
// vec0 virtual table using cosine distance, keyed by the same passage id.
type VectorStore struct {
	db         *sql.DB
	dimensions int
	timeout    time.Duration
}

// NewVectorStore opens (or creates) a SQLite database at dbPath and
// initialises the passage tables. A zero timeout disables the per-call
// deadline.
func NewVectorStore(dbPath string, dimensions int, timeout time.Duration) (*VectorStore, error) {
	if dimensions <= 0 {
		return nil, gitaerr.Errorf(gitaerr.CodeStoreVectorInvalidInput, "vector dimensions must be positive, got %d", dimensions)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, gitaerr.Wrapf(err, gitaerr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	if err := migratePassages(db, dimensions); err != nil {
		_ = db.Close()
		return nil, gitaerr.Wrapf(err, gitaerr.CodeStoreDatabaseFailure, "migrating passage tables")
	}

	return &VectorStore{db: db, dimensions: dimensions, timeout: timeout}, nil
}

func migratePassages(db *sql.DB, dimensions int) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS passage_vectors USING vec0(passage_id TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)`,
		dimensions,
	)
	if _, err := db.Exec(vecDDL); err != nil {
		return fmt.Errorf("creating passage_vectors virtual table: %w", err)
	}

	const passagesDDL = `
CREATE TABLE IF NOT EXISTS passages (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
)`
	if _, err := db.Exec(passagesDDL); err != nil {
		return fmt.Errorf("creating passages table: %w", err)
	}

	return nil
}

// Dimensions reports the embedding width the store was created with.
func (v *VectorStore) Dimensions() int {
	return v.dimensions
}

// Write inserts every row in a single transaction. Any failure rolls back
// the whole batch.
func (v *VectorStore) Write(ctx context.Context, rows []store.Passage) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	type encoded struct {
		blob []byte
		meta string
	}
	prepared := make([]encoded, len(rows))
	for i, row := range rows {
		if len(row.Embedding) != v.dimensions {
			return 0, gitaerr.Errorf(gitaerr.CodeStoreVectorInvalidInput,
				"row %d: embedding has %d dimensions, store expects %d", i, len(row.Embedding), v.dimensions)
		}
		blob, err := sqlite_vec.SerializeFloat32(row.Embedding)
		if err != nil {
			return 0, gitaerr.Wrapf(err, gitaerr.CodeStoreVectorWriteFailure, "serializing embedding for row %d", i)
		}
		meta := "{}"
		if len(row.Metadata) > 0 {
			raw, err := json.Marshal(row.Metadata)
			if err != nil {
				return 0, gitaerr.Wrapf(err, gitaerr.CodeStoreVectorInvalidInput, "marshalling metadata for row %d", i)
			}
			meta = string(raw)
		}
		prepared[i] = encoded{blob: blob, meta: meta}
	}

	ctx, cancel := v.withDeadline(ctx)
	defer cancel()

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, v.classify(err, gitaerr.CodeStoreVectorWriteFailure, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	passageStmt, err := tx.PrepareContext(ctx, `INSERT INTO passages(id, content, metadata, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, v.classify(err, gitaerr.CodeStoreVectorWriteFailure, "preparing passage insert")
	}
	defer func() { _ = passageStmt.Close() }()

	vectorStmt, err := tx.PrepareContext(ctx, `INSERT INTO passage_vectors(passage_id, embedding) VALUES (?, ?)`)
	if err != nil {
		return 0, v.classify(err, gitaerr.CodeStoreVectorWriteFailure, "preparing vector insert")
	}
	defer func() { _ = vectorStmt.Close() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for i, row := range rows {
		id := uuid.NewString()
		if _, err := passageStmt.ExecContext(ctx, id, row.Content, prepared[i].meta, now); err != nil {
			return 0, v.classify(err, gitaerr.CodeStoreVectorWriteFailure, fmt.Sprintf("inserting passage %d", i))
		}
		if _, err := vectorStmt.ExecContext(ctx, id, prepared[i].blob); err != nil {
			return 0, v.classify(err, gitaerr.CodeStoreVectorWriteFailure, fmt.Sprintf("inserting vector %d", i))
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, v.classify(err, gitaerr.CodeStoreVectorWriteFailure, "committing passages")
	}
	return len(rows), nil
}

// Search performs a k-nearest-neighbour search with k = count and keeps
// the neighbours whose cosine similarity (1 - cosine distance) is at
// least threshold. Results are ordered best first.
func (v *VectorStore) Search(ctx context.Context, query []float32, threshold float64, count int) ([]store.Match, error) {
	if count < 1 {
		return nil, gitaerr.Errorf(gitaerr.CodeStoreVectorInvalidInput, "count must be positive, got %d", count)
	}
	if len(query) != v.dimensions {
		return nil, gitaerr.Errorf(gitaerr.CodeStoreVectorInvalidInput,
			"query has %d dimensions, store expects %d", len(query), v.dimensions)
	}

	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, gitaerr.Wrapf(err, gitaerr.CodeStoreVectorSearchFailure, "serializing query vector")
	}

	ctx, cancel := v.withDeadline(ctx)
	defer cancel()

	const q = `WITH knn AS (
	SELECT passage_id, distance
	FROM passage_vectors
	WHERE embedding MATCH ? AND k = ?
)
SELECT p.content, p.metadata, knn.distance
FROM knn
JOIN passages p ON p.id = knn.passage_id
ORDER BY knn.distance`

	rows, err := v.db.QueryContext(ctx, q, blob, count)
	if err != nil {
		return nil, v.classify(err, gitaerr.CodeStoreVectorSearchFailure, "searching passages")
	}
	defer func() { _ = rows.Close() }()

	matches := []store.Match{}
	for rows.Next() {
		var (
			m        store.Match
			metaStr  string
			distance float64
		)
		if err := rows.Scan(&m.Content, &metaStr, &distance); err != nil {
			return nil, v.classify(err, gitaerr.CodeStoreVectorSearchFailure, "scanning passage")
		}

		m.Similarity = 1 - distance
		if math.IsNaN(m.Similarity) || m.Similarity < threshold {
			continue
		}

		if metaStr != "" && metaStr != "{}" {
			if err := json.Unmarshal([]byte(metaStr), &m.Metadata); err != nil {
				return nil, gitaerr.Wrapf(err, gitaerr.CodeStoreVectorSearchFailure, "unmarshalling passage metadata")
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, v.classify(err, gitaerr.CodeStoreVectorSearchFailure, "iterating passages")
	}

	return matches, nil
}

// Count returns the number of stored passages.
func (v *VectorStore) Count(ctx context.Context) (int, error) {
	ctx, cancel := v.withDeadline(ctx)
	defer cancel()

	var n int
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM passages`).Scan(&n); err != nil {
		return 0, v.classify(err, gitaerr.CodeStoreDatabaseFailure, "counting passages")
	}
	return n, nil
}

// Close closes the underlying database connection.
func (v *VectorStore) Close() error {
	return v.db.Close()
}

func (v *VectorStore) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, v.timeout)
}

// classify wraps err with code, or with the timeout code when the call
// ran past its deadline.
func (v *VectorStore) classify(err error, code gitaerr.Code, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return gitaerr.Wrapf(err, gitaerr.CodeStoreTimeout, "%s: deadline of %s exceeded", msg, v.timeout)
	}
	return gitaerr.Wrapf(err, code, "%s", msg)
}
