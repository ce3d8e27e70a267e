// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package postgres implements store.Store on PostgreSQL. All collections
// share one documents table with the row stored as jsonb; predicates
// compile to SQL over the jsonb payload so access scoping happens in the
// database, not after the fetch. The singleton one-row constraint is a
// partial unique index, closing the race the engine's count pre-check
// leaves open.
package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/quillcms/quill/internal/filter"
	"github.com/quillcms/quill/internal/schema"
	"github.com/quillcms/quill/internal/store"
)

// pool is the subset of pgxpool.Pool the adapter uses. pgxmock satisfies it
// for unit tests.
type pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements store.Store using PostgreSQL.
type Store struct {
	db  pool
	reg *schema.Registry
}

// New creates a Store backed by the given connection pool.
func New(db pool, reg *schema.Registry) *Store {
	return &Store{db: db, reg: reg}
}

// NewPool connects a pgx pool for the given DSN.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").Wrap(err)
	}
	return p, nil
}

// FindUnique retrieves a row by id.
func (s *Store) FindUnique(ctx context.Context, collection, id string) (map[string]any, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("collection", collection).With("id", id).Wrap(store.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "find unique").With("collection", collection).Wrap(err)
	}
	return decodeRow(raw)
}

// FindMany retrieves all rows matching the predicate, ordered and bounded by
// the pagination.
func (s *Store) FindMany(ctx context.Context, collection string, p filter.Predicate, page store.Pagination) ([]map[string]any, error) {
	b := &builder{args: []any{collection}}
	where, err := b.where(p)
	if err != nil {
		return nil, err
	}
	q := `SELECT data FROM documents WHERE collection = $1`
	if where != "" {
		q += " AND " + where
	}

	sortBy := page.SortBy
	if sortBy == "" {
		sortBy = schema.FieldID
	}
	order, err := jsonField(sortBy)
	if err != nil {
		return nil, err
	}
	q += " ORDER BY " + order
	if page.SortDesc {
		q += " DESC"
	}
	if page.Limit > 0 {
		q += " LIMIT " + b.bind(page.Limit)
	}
	if page.Offset > 0 {
		q += " OFFSET " + b.bind(page.Offset)
	}

	rows, err := s.db.Query(ctx, q, b.args...)
	if err != nil {
		return nil, oops.With("operation", "find many").With("collection", collection).Wrap(err)
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, oops.With("operation", "scan row").With("collection", collection).Wrap(err)
		}
		row, err := decodeRow(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate rows").With("collection", collection).Wrap(err)
	}
	return out, nil
}

// Create persists a new row. The data must already carry its id. The
// singleton flag drives the partial unique index that keeps flagged
// collections at one row even under concurrent creates.
func (s *Store) Create(ctx context.Context, collection string, data map[string]any) (map[string]any, error) {
	id, _ := data[schema.FieldID].(string)
	if id == "" {
		return nil, oops.With("collection", collection).Errorf("create data has no id")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, oops.With("collection", collection).Wrapf(err, "encode row")
	}

	singleton := false
	if col, ok := s.reg.Get(collection); ok {
		singleton = col.Singleton
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO documents (collection, id, singleton, data) VALUES ($1, $2, $3, $4)`,
		collection, id, singleton, raw)
	if isUniqueViolation(err) {
		return nil, oops.With("collection", collection).With("id", id).Wrap(store.ErrConflict)
	}
	if err != nil {
		return nil, oops.With("operation", "create").With("collection", collection).Wrap(err)
	}
	return decodeRow(raw)
}

// Update merges data into the row's jsonb payload only when both id and
// predicate match.
func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any, p filter.Predicate) (map[string]any, error) {
	delete(data, schema.FieldID)
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, oops.With("collection", collection).Wrapf(err, "encode row")
	}

	b := &builder{args: []any{collection, id, raw}}
	where, err := b.where(p)
	if err != nil {
		return nil, err
	}
	q := `UPDATE documents SET data = data || $3::jsonb, updated_at = now()
	      WHERE collection = $1 AND id = $2`
	if where != "" {
		q += " AND " + where
	}
	q += " RETURNING data"

	var updated []byte
	err = s.db.QueryRow(ctx, q, b.args...).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("collection", collection).With("id", id).Wrap(store.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "update").With("collection", collection).Wrap(err)
	}
	return decodeRow(updated)
}

// Delete removes the row only when both id and predicate match, returning
// its last known state.
func (s *Store) Delete(ctx context.Context, collection, id string, p filter.Predicate) (map[string]any, error) {
	b := &builder{args: []any{collection, id}}
	where, err := b.where(p)
	if err != nil {
		return nil, err
	}
	q := `DELETE FROM documents WHERE collection = $1 AND id = $2`
	if where != "" {
		q += " AND " + where
	}
	q += " RETURNING data"

	var raw []byte
	err = s.db.QueryRow(ctx, q, b.args...).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.With("collection", collection).With("id", id).Wrap(store.ErrNotFound)
	}
	if err != nil {
		return nil, oops.With("operation", "delete").With("collection", collection).Wrap(err)
	}
	return decodeRow(raw)
}

// Count returns the number of rows matching the predicate.
func (s *Store) Count(ctx context.Context, collection string, p filter.Predicate) (int64, error) {
	b := &builder{args: []any{collection}}
	where, err := b.where(p)
	if err != nil {
		return 0, err
	}
	q := `SELECT count(*) FROM documents WHERE collection = $1`
	if where != "" {
		q += " AND " + where
	}

	var n int64
	if err := s.db.QueryRow(ctx, q, b.args...).Scan(&n); err != nil {
		return 0, oops.With("operation", "count").With("collection", collection).Wrap(err)
	}
	return n, nil
}

func decodeRow(raw []byte) (map[string]any, error) {
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, oops.Wrapf(err, "decode row")
	}
	return row, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)
