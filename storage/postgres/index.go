// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package postgres implements storage.VectorIndex on PostgreSQL with the
// pgvector extension.
//
// Records live in one table keyed by (namespace, id). Similarity is cosine,
// computed by the database with the <=> operator and reported as
// 1 - distance. Metadata is stored as jsonb and filters are compiled to SQL
// by BuildFilter.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/pagerag/core"
	"github.com/poiesic/pagerag/storage"
)

// DefaultTable is the table used when WithTable is not given.
const DefaultTable = "pagerag_vectors"

var (
	// ErrInvalidTable is returned for table names that are not plain identifiers.
	ErrInvalidTable = errors.New("invalid table name")

	// ErrInvalidDimension is returned when the index dimension is not positive.
	ErrInvalidDimension = errors.New("dimension must be positive")

	tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// DB is the subset of *pgxpool.Pool the index uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Index implements storage.VectorIndex on PostgreSQL.
type Index struct {
	db        DB
	table     string
	dimension int
	close     func()
	logger    *slog.Logger
}

var _ storage.VectorIndex = (*Index)(nil)

// Option configures an Index.
type Option func(*Index) error

// WithTable sets the table name.
// Default is DefaultTable.
func WithTable(name string) Option {
	return func(i *Index) error {
		if !tableName.MatchString(name) {
			return fmt.Errorf("%w: %q", ErrInvalidTable, name)
		}
		i.table = name
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		i.logger = logger.With("component", "pgvector-index")
		return nil
	}
}

// NewIndex creates an index over db, creating the extension and table if
// they do not exist. Closing the index leaves db open.
//
// Returns storage.VectorIndex interface to enforce abstraction.
func NewIndex(ctx context.Context, db DB, dimension int, opts ...Option) (storage.VectorIndex, error) {
	return newIndex(ctx, db, dimension, opts...)
}

// Open connects to dsn and creates an index that owns the connection pool.
func Open(ctx context.Context, dsn string, dimension int, opts ...Option) (storage.VectorIndex, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	index, err := newIndex(ctx, pool, dimension, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	index.close = pool.Close
	return index, nil
}

func newIndex(ctx context.Context, db DB, dimension int, opts ...Option) (*Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDimension, dimension)
	}
	i := &Index{
		db:        db,
		table:     DefaultTable,
		dimension: dimension,
		logger:    slog.Default().With("component", "pgvector-index"),
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	if err := i.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return i, nil
}

func (i *Index) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(i.table, i.dimension) {
		if _, err := i.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(table string, dimension int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	namespace  text NOT NULL,
	id         text NOT NULL,
	embedding  vector(%d) NOT NULL,
	metadata   jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, id)
)`, table, dimension),
	}
}

// Upsert writes records in one transaction, replacing existing ids entirely.
func (i *Index) Upsert(ctx context.Context, namespace string, records []core.VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for n := range records {
		if records[n].ID == "" {
			return 0, fmt.Errorf("%w: record %d has no id", storage.ErrInvalidQuery, n)
		}
		if len(records[n].Values) != i.dimension {
			return 0, fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(records[n].Values), i.dimension)
		}
	}

	tx, err := i.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (namespace, id, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, id) DO UPDATE SET
			embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata, updated_at = now()
	`, i.table)

	batch := &pgx.Batch{}
	for n := range records {
		metadata, err := json.Marshal(records[n].Metadata)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		batch.Queue(stmt, namespace, records[n].ID, pgvector.NewVector(records[n].Values), metadata)
	}

	br := tx.SendBatch(ctx, batch)
	for n := 0; n < batch.Len(); n++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("batch exec %d: %w", n, err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	i.logger.Debug("upserted vectors", "namespace", namespace, "count", len(records))
	return len(records), nil
}

// Query returns up to topK records nearest to vector that match filter.
func (i *Index) Query(ctx context.Context, namespace string, vector []float32, topK int, filter *core.SearchFilter) ([]core.SearchMatch, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", storage.ErrInvalidQuery)
	}
	if len(vector) != i.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", storage.ErrDimensionMismatch, len(vector), i.dimension)
	}

	sql, args := querySQL(i.table, namespace, pgvector.NewVector(vector), topK, filter)
	rows, err := i.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	matches := make([]core.SearchMatch, 0, topK)
	for rows.Next() {
		var id string
		var raw []byte
		var score float64
		if err := rows.Scan(&id, &raw, &score); err != nil {
			return nil, fmt.Errorf("scan vector result: %w", err)
		}
		var metadata core.VectorMetadata
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		matches = append(matches, core.SearchMatch{
			ID:       id,
			Score:    score,
			Content:  metadata.ContentPreview,
			Metadata: metadata.Map(),
			Location: metadata.URL,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	return matches, nil
}

func querySQL(table, namespace string, vector pgvector.Vector, topK int, filter *core.SearchFilter) (string, []any) {
	args := []any{namespace, vector, topK}
	where := "namespace = $1"
	if clause, filterArgs := BuildFilter(filter, len(args)+1); clause != "" {
		where += " AND " + clause
		args = append(args, filterArgs...)
	}
	sql := fmt.Sprintf(`
SELECT id, metadata, 1 - (embedding <=> $2) AS score
FROM %s
WHERE %s
ORDER BY embedding <=> $2, id
LIMIT $3`, table, where)
	return sql, args
}

// Delete removes the records selected by req.
func (i *Index) Delete(ctx context.Context, namespace string, req storage.DeleteRequest) (int, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	sql, args := deleteSQL(i.table, namespace, req)
	tag, err := i.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("delete vectors: %w", err)
	}
	i.logger.Debug("deleted vectors", "namespace", namespace, "count", tag.RowsAffected())
	return int(tag.RowsAffected()), nil
}

func deleteSQL(table, namespace string, req storage.DeleteRequest) (string, []any) {
	args := []any{namespace}
	where := "namespace = $1"
	switch {
	case len(req.IDs) > 0:
		where += " AND id = ANY($2)"
		args = append(args, req.IDs)
	case !req.All:
		clause, filterArgs := BuildFilter(req.Filter, 2)
		where += " AND " + clause
		args = append(args, filterArgs...)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", table, where), args
}

// Close closes the connection pool if the index opened it.
func (i *Index) Close() error {
	if i.close != nil {
		i.close()
	}
	return nil
}
