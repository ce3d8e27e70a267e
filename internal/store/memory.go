// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/quillcms/quill/internal/filter"
	"github.com/quillcms/quill/internal/schema"
)

// Memory is an in-process Store used by tests and embedded callers that do
// not need durable storage. It is safe for concurrent use.
//
// Memory enforces the one-row constraint of singleton collections at the
// adapter level, mirroring the partial unique index the postgres adapter
// relies on, so a race between two engine-level count checks still loses.
type Memory struct {
	mu   sync.RWMutex
	reg  *schema.Registry
	rows map[string]map[string]map[string]any
}

// NewMemory creates an empty in-memory store for the given schema set.
func NewMemory(reg *schema.Registry) *Memory {
	return &Memory{
		reg:  reg,
		rows: make(map[string]map[string]map[string]any),
	}
}

// FindUnique retrieves a row by id.
func (m *Memory) FindUnique(ctx context.Context, collection, id string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Wrap(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[collection][id]
	if !ok {
		return nil, oops.With("collection", collection).With("id", id).Wrap(ErrNotFound)
	}
	return copyRow(row), nil
}

// FindMany retrieves all rows matching the predicate, ordered and bounded by
// the pagination.
func (m *Memory) FindMany(ctx context.Context, collection string, p filter.Predicate, page Pagination) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Wrap(err)
	}
	m.mu.RLock()
	matched := make([]map[string]any, 0)
	for _, row := range m.rows[collection] {
		if p == nil || p.Match(row) {
			matched = append(matched, copyRow(row))
		}
	}
	m.mu.RUnlock()

	sortBy := page.SortBy
	if sortBy == "" {
		sortBy = schema.FieldID
	}
	sort.SliceStable(matched, func(i, j int) bool {
		cmp, ok := filter.Compare(matched[i][sortBy], matched[j][sortBy])
		if !ok {
			return false
		}
		if page.SortDesc {
			return cmp > 0
		}
		return cmp < 0
	})

	if page.Offset > 0 {
		if page.Offset >= len(matched) {
			return []map[string]any{}, nil
		}
		matched = matched[page.Offset:]
	}
	if page.Limit > 0 && len(matched) > page.Limit {
		matched = matched[:page.Limit]
	}
	return matched, nil
}

// Create persists a new row. The data must already carry its id.
func (m *Memory) Create(ctx context.Context, collection string, data map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Wrap(err)
	}
	id, _ := data[schema.FieldID].(string)
	if id == "" {
		return nil, oops.With("collection", collection).Errorf("create data has no id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket, ok := m.rows[collection]
	if !ok {
		bucket = make(map[string]map[string]any)
		m.rows[collection] = bucket
	}
	if col, ok := m.reg.Get(collection); ok && col.Singleton && len(bucket) > 0 {
		return nil, oops.With("collection", collection).Wrap(ErrConflict)
	}
	if _, exists := bucket[id]; exists {
		return nil, oops.With("collection", collection).With("id", id).Wrap(ErrConflict)
	}
	bucket[id] = copyRow(data)
	return copyRow(data), nil
}

// Update modifies the row only when both id and predicate match.
func (m *Memory) Update(ctx context.Context, collection, id string, data map[string]any, p filter.Predicate) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[collection][id]
	if !ok || (p != nil && !p.Match(row)) {
		return nil, oops.With("collection", collection).With("id", id).Wrap(ErrNotFound)
	}
	for k, v := range data {
		if k == schema.FieldID {
			continue
		}
		row[k] = v
	}
	return copyRow(row), nil
}

// Delete removes the row only when both id and predicate match, returning
// its last known state.
func (m *Memory) Delete(ctx context.Context, collection, id string, p filter.Predicate) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[collection][id]
	if !ok || (p != nil && !p.Match(row)) {
		return nil, oops.With("collection", collection).With("id", id).Wrap(ErrNotFound)
	}
	delete(m.rows[collection], id)
	return row, nil
}

// Count returns the number of rows matching the predicate.
func (m *Memory) Count(ctx context.Context, collection string, p filter.Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, oops.Wrap(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, row := range m.rows[collection] {
		if p == nil || p.Match(row) {
			n++
		}
	}
	return n, nil
}

// copyRow copies a row one level deep, including slice values, so callers
// cannot mutate stored state through returned maps.
func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if s, ok := v.([]any); ok {
			copied := make([]any, len(s))
			copy(copied, s)
			out[k] = copied
			continue
		}
		out[k] = v
	}
	return out
}

// Compile-time interface check.
var _ Store = (*Memory)(nil)
