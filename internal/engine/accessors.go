// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package engine

import (
	"context"

	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/filter"
	"github.com/quillcms/quill/internal/session"
	"github.com/quillcms/quill/internal/store"
)

// Typed accessors wrapping Run for the common cases. Callers needing
// includes or combined options build an OperationRequest directly.

// FindUnique retrieves one row by id. A denied or missing row yields
// (nil, nil).
func (e *Engine) FindUnique(ctx context.Context, principal *session.Principal, collection, id string) (map[string]any, error) {
	res, err := e.Run(ctx, principal, OperationRequest{
		Collection: collection,
		Op:         access.OpFindUnique,
		ID:         id,
	})
	return res.Item, err
}

// FindMany lists rows matching the filter within the caller's access scope.
func (e *Engine) FindMany(ctx context.Context, principal *session.Principal, collection string, p filter.Predicate, page store.Pagination) ([]map[string]any, error) {
	res, err := e.Run(ctx, principal, OperationRequest{
		Collection: collection,
		Op:         access.OpFindMany,
		Filter:     p,
		Page:       page,
	})
	return res.Items, err
}

// Count counts rows matching the filter within the caller's access scope.
func (e *Engine) Count(ctx context.Context, principal *session.Principal, collection string, p filter.Predicate) (int64, error) {
	res, err := e.Run(ctx, principal, OperationRequest{
		Collection: collection,
		Op:         access.OpCount,
		Filter:     p,
	})
	return res.Count, err
}

// Create inserts a new row from the input payload.
func (e *Engine) Create(ctx context.Context, principal *session.Principal, collection string, data map[string]any) (map[string]any, error) {
	res, err := e.Run(ctx, principal, OperationRequest{
		Collection: collection,
		Op:         access.OpCreate,
		Data:       data,
	})
	return res.Item, err
}

// Update patches the identified row. A denied or missing row yields
// (nil, nil).
func (e *Engine) Update(ctx context.Context, principal *session.Principal, collection, id string, data map[string]any) (map[string]any, error) {
	res, err := e.Run(ctx, principal, OperationRequest{
		Collection: collection,
		Op:         access.OpUpdate,
		ID:         id,
		Data:       data,
	})
	return res.Item, err
}

// Delete removes the identified row, returning its last state. A denied or
// missing row yields (nil, nil).
func (e *Engine) Delete(ctx context.Context, principal *session.Principal, collection, id string) (map[string]any, error) {
	res, err := e.Run(ctx, principal, OperationRequest{
		Collection: collection,
		Op:         access.OpDelete,
		ID:         id,
	})
	return res.Item, err
}

// Get retrieves the row of a singleton collection, auto-creating it from
// field defaults when the schema enables that.
func (e *Engine) Get(ctx context.Context, principal *session.Principal, collection string) (map[string]any, error) {
	res, err := e.Run(ctx, principal, OperationRequest{
		Collection: collection,
		Op:         access.OpGet,
	})
	return res.Item, err
}
