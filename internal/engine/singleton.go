// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package engine

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/schema"
	"github.com/quillcms/quill/internal/session"
	"github.com/quillcms/quill/internal/store"
)

// guardSingleton enforces the at-most-one-row invariant for flagged
// collections. Unlike access rules this guard is never bypassable: elevated
// mode passes through it unchanged. The count-then-create window is closed
// by the store's own constraint; this check exists to fail early with a
// structural error instead of a bare conflict.
func (e *Engine) guardSingleton(ctx context.Context, col *schema.Collection, op access.Operation) error {
	if !col.Singleton {
		return nil
	}
	switch op {
	case access.OpDelete:
		return &StructuralError{
			Collection: col.Name,
			Operation:  op,
			Reason:     "singleton collections cannot be deleted",
		}
	case access.OpFindMany:
		return &StructuralError{
			Collection: col.Name,
			Operation:  op,
			Reason:     "singleton collections cannot be listed; use get",
		}
	case access.OpCreate:
		count, err := e.store.Count(ctx, col.Name, nil)
		if err != nil {
			return oops.With("collection", col.Name).Wrapf(err, "singleton count check")
		}
		if count > 0 {
			return &StructuralError{
				Collection: col.Name,
				Operation:  op,
				Reason:     "singleton collection already has a row",
			}
		}
	}
	return nil
}

// runGet implements the dedicated singleton accessor. It returns the single
// row, synthesizing it from declared field defaults when none exists and
// auto-creation is enabled. A lost creation race against a concurrent get is
// resolved by re-reading.
func (e *Engine) runGet(ctx context.Context, principal *session.Principal, col *schema.Collection, req OperationRequest) (Result, string, error) {
	if !col.Singleton {
		return Result{}, statusError, &StructuralError{
			Collection: col.Name,
			Operation:  access.OpGet,
			Reason:     "get is only supported for singleton collections",
		}
	}

	decision, err := e.collectionDecision(ctx, col, access.OpGet, principal, nil, nil)
	if err != nil {
		return Result{}, statusError, err
	}
	if decision.IsDeny() {
		return Result{}, statusDenied, nil
	}
	pred, _ := decision.Predicate()

	if err := e.runBeforeOperation(ctx, col, schema.HookArgs{
		Collection: col.Name,
		Operation:  access.OpGet,
		Principal:  principal,
	}); err != nil {
		return Result{}, statusError, err
	}

	rows, err := e.store.FindMany(ctx, col.Name, nil, store.Pagination{Limit: 1})
	if err != nil {
		return Result{}, statusError, oops.With("collection", col.Name).Wrapf(err, "get singleton")
	}
	if len(rows) == 0 {
		if !col.SingletonAutoCreate {
			return Result{}, statusOK, nil
		}
		row, err := e.autoCreateSingleton(ctx, principal, col)
		if err != nil {
			return Result{}, statusError, err
		}
		rows = []map[string]any{row}
	}

	row := rows[0]
	if pred != nil && !pred.Match(row) {
		return Result{}, statusDenied, nil
	}
	if err := e.runAfterOperation(ctx, col, schema.HookArgs{
		Collection: col.Name,
		Operation:  access.OpGet,
		Principal:  principal,
		Item:       row,
	}); err != nil {
		return Result{}, statusError, err
	}
	masked, err := e.filterReadable(ctx, col, row, principal, access.OpGet)
	if err != nil {
		return Result{}, statusError, err
	}
	items := []map[string]any{masked}
	if err := e.expandIncludes(ctx, col, items, req.Include, principal, 0); err != nil {
		return Result{}, statusError, err
	}
	return Result{Item: items[0]}, statusOK, nil
}

// autoCreateSingleton synthesizes the singleton row from field defaults.
// Creation is engine-initiated, so access evaluation is skipped, but the
// hook pipeline and the store constraint apply as for any create. If a
// concurrent get wins the creation race, the conflict resolves by
// re-reading the winner's row.
func (e *Engine) autoCreateSingleton(ctx context.Context, principal *session.Principal, col *schema.Collection) (map[string]any, error) {
	res, _, err := e.runCreate(session.Elevated(ctx), principal, col, OperationRequest{
		Collection: col.Name,
		Op:         access.OpCreate,
		Data:       map[string]any{},
	})
	if err == nil {
		singletonAutoCreates.Inc()
		return res.Item, nil
	}

	var structural *StructuralError
	if !errors.Is(err, store.ErrConflict) && !errors.As(err, &structural) {
		return nil, err
	}

	// Lost the race: another call created the row between our read and
	// create. The winner's row may not be visible immediately on a
	// read-replica store, so retry the read briefly.
	var row map[string]any
	backoff := retry.WithMaxRetries(3, retry.NewConstant(25*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		rows, err := e.store.FindMany(ctx, col.Name, nil, store.Pagination{Limit: 1})
		if err != nil {
			return oops.With("collection", col.Name).Wrapf(err, "re-read singleton after lost race")
		}
		if len(rows) == 0 {
			return retry.RetryableError(oops.Errorf("singleton row not yet visible"))
		}
		row = rows[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}
