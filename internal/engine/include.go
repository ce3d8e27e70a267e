// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"

	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/filter"
	"github.com/quillcms/quill/internal/schema"
	"github.com/quillcms/quill/internal/session"
	"github.com/quillcms/quill/internal/store"
)

// MaxIncludeDepth bounds recursive relationship expansion. Hooks that query
// back into the same entity during afterOperation could otherwise recurse
// indefinitely; past the bound further expansion is skipped rather than
// failed. The depth counter is per call tree, passed by value, and never
// shared across concurrent calls.
const MaxIncludeDepth = 3

// expandIncludes resolves requested relationship fields on the given rows
// in place. Each target collection's own query-level decision scopes the
// nested fetch, merged with any filter on the include itself. A denied
// target behaves as if no related rows exist.
func (e *Engine) expandIncludes(ctx context.Context, col *schema.Collection, rows []map[string]any, includes []Include, principal *session.Principal, depth int) error {
	if len(includes) == 0 || len(rows) == 0 {
		return nil
	}
	if depth >= MaxIncludeDepth {
		includeDepthSkips.Inc()
		slog.DebugContext(ctx, "include depth bound reached, skipping expansion",
			"collection", col.Name, "depth", depth)
		return nil
	}

	for _, inc := range includes {
		field, declared := col.Fields[inc.Field]
		if !declared || field.Relation == nil {
			return oops.Code("INVALID_INCLUDE").
				With("collection", col.Name).
				With("field", inc.Field).
				Errorf("include field %q is not a relationship of %s", inc.Field, col.Name)
		}
		target, ok := e.reg.Get(field.Relation.Collection)
		if !ok {
			return oops.Code("INVALID_INCLUDE").
				With("collection", col.Name).
				With("field", inc.Field).
				Errorf("include target collection %q is not registered", field.Relation.Collection)
		}

		decision, err := e.collectionDecision(ctx, target, access.OpFindMany, principal, nil, nil)
		if err != nil {
			return err
		}
		if decision.IsDeny() {
			for _, row := range rows {
				clearInclude(row, inc.Field, field.Relation.Many)
			}
			continue
		}
		accessPred, _ := decision.Predicate()
		pred := filter.And(accessPred, inc.Filter)

		for _, row := range rows {
			if field.Relation.Many {
				if err := e.expandMany(ctx, target, row, inc, pred, principal, depth); err != nil {
					return err
				}
			} else {
				if err := e.expandSingle(ctx, target, row, inc, pred, principal, depth); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Engine) expandSingle(ctx context.Context, target *schema.Collection, row map[string]any, inc Include, pred filter.Predicate, principal *session.Principal, depth int) error {
	raw, present := row[inc.Field]
	if !present {
		// The field was stripped by its read rule; expansion must not
		// reintroduce the key.
		return nil
	}
	id, ok := raw.(string)
	if !ok || id == "" {
		row[inc.Field] = nil
		return nil
	}
	related, err := e.store.FindUnique(ctx, target.Name, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			row[inc.Field] = nil
			return nil
		}
		return oops.With("collection", target.Name).With("id", id).Wrapf(err, "expand include")
	}
	if pred != nil && !pred.Match(related) {
		row[inc.Field] = nil
		return nil
	}
	masked, err := e.filterReadable(ctx, target, related, principal, access.OpFindUnique)
	if err != nil {
		return err
	}
	nested := []map[string]any{masked}
	if err := e.expandIncludes(ctx, target, nested, inc.Includes, principal, depth+1); err != nil {
		return err
	}
	row[inc.Field] = nested[0]
	return nil
}

func (e *Engine) expandMany(ctx context.Context, target *schema.Collection, row map[string]any, inc Include, pred filter.Predicate, principal *session.Principal, depth int) error {
	raw, present := row[inc.Field]
	if !present {
		return nil
	}
	ids := idList(raw)
	if len(ids) == 0 {
		row[inc.Field] = []map[string]any{}
		return nil
	}
	scoped := filter.And(filter.In(schema.FieldID, ids...), pred)
	related, err := e.store.FindMany(ctx, target.Name, scoped, store.Pagination{})
	if err != nil {
		return oops.With("collection", target.Name).Wrapf(err, "expand include")
	}
	items := make([]map[string]any, 0, len(related))
	for _, r := range related {
		masked, err := e.filterReadable(ctx, target, r, principal, access.OpFindMany)
		if err != nil {
			return err
		}
		items = append(items, masked)
	}
	if err := e.expandIncludes(ctx, target, items, inc.Includes, principal, depth+1); err != nil {
		return err
	}
	row[inc.Field] = items
	return nil
}

func clearInclude(row map[string]any, field string, many bool) {
	if _, present := row[field]; !present {
		return
	}
	if many {
		row[field] = []map[string]any{}
		return
	}
	row[field] = nil
}

func idList(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	default:
		return nil
	}
}
