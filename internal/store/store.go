// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package store defines the adapter interface the engine shapes its queries
// against. The engine never issues raw SQL; adapters translate predicates
// and payloads into whatever the underlying storage speaks.
package store

import (
	"context"
	"errors"

	"github.com/quillcms/quill/internal/filter"
)

// ErrNotFound is returned when no row matches a unique lookup, or when a
// conditional update/delete matches no row.
var ErrNotFound = errors.New("row not found")

// ErrConflict is returned when a storage integrity constraint rejects a
// write — notably the one-row constraint of a singleton collection. The
// constraint must hold even when two engine-level checks race.
var ErrConflict = errors.New("storage constraint violation")

// Pagination bounds and orders a FindMany call. A zero Limit means no limit.
type Pagination struct {
	Limit    int
	Offset   int
	SortBy   string
	SortDesc bool
}

// Store is the per-collection row adapter consumed by the engine.
//
// Update and Delete take an optional predicate in addition to the id; the
// adapter must apply both atomically (row changes only when id and predicate
// match) and return ErrNotFound otherwise, so an access predicate cannot
// race against a concurrent row change.
type Store interface {
	FindUnique(ctx context.Context, collection, id string) (map[string]any, error)
	FindMany(ctx context.Context, collection string, p filter.Predicate, page Pagination) ([]map[string]any, error)
	Create(ctx context.Context, collection string, data map[string]any) (map[string]any, error)
	Update(ctx context.Context, collection, id string, data map[string]any, p filter.Predicate) (map[string]any, error)
	Delete(ctx context.Context, collection, id string, p filter.Predicate) (map[string]any, error)
	Count(ctx context.Context, collection string, p filter.Predicate) (int64, error)
}
