// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package engine

import (
	"context"

	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/schema"
	"github.com/quillcms/quill/internal/session"
)

// filterReadable derives the readable projection of a stored row for the
// principal. System fields are always readable. Shadow foreign-key
// attributes surface under their owning relationship field name, subject to
// that field's read rule. Fields whose read rule denies — or whose
// predicate the concrete row does not satisfy — are stripped.
func (e *Engine) filterReadable(ctx context.Context, col *schema.Collection, item map[string]any, principal *session.Principal, op access.Operation) (map[string]any, error) {
	elevated := session.IsElevated(ctx)
	out := make(map[string]any, len(item))
	for name, value := range item {
		if schema.IsSystemField(name) {
			out[name] = value
			continue
		}

		fieldName := name
		if owner, ok := col.ShadowKeyOwner(name); ok {
			fieldName = owner
		}
		field, declared := col.Fields[fieldName]
		if !declared {
			continue
		}
		if !elevated {
			readable, err := e.fieldReadable(ctx, &field, item, principal, op)
			if err != nil {
				return nil, err
			}
			if !readable {
				continue
			}
		}
		out[fieldName] = value
	}
	return out, nil
}

func (e *Engine) fieldReadable(ctx context.Context, field *schema.Field, item map[string]any, principal *session.Principal, op access.Operation) (bool, error) {
	decision, err := access.Evaluate(ctx, field.Access.Read, access.RuleInput{
		Principal: principal,
		Item:      item,
		Operation: op,
	})
	if err != nil {
		return false, err
	}
	if decision.IsDeny() {
		return false, nil
	}
	if p, ok := decision.Predicate(); ok {
		return p.Match(item), nil
	}
	return true, nil
}

// stripStructural removes input keys that must never be independently
// writable: fields absent from the schema, system fields, and shadow
// foreign-key attributes whose owning relationship field is declared.
// Shadow keys are matched by the exact mapping resolved at schema load —
// a scalar field that merely ends in an Id-like suffix is preserved.
func stripStructural(col *schema.Collection, input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for name, value := range input {
		if schema.IsSystemField(name) {
			continue
		}
		if _, shadowed := col.ShadowKeyOwner(name); shadowed {
			continue
		}
		if _, declared := col.Fields[name]; !declared {
			continue
		}
		out[name] = value
	}
	return out
}

// maskWriteAccess removes fields whose field-level create/update rule
// denies the proposed value. Field predicates evaluate against the
// pre-operation row; on create there is no row, so a predicate decision
// strips the field. Skipped entirely in elevated mode.
func (e *Engine) maskWriteAccess(ctx context.Context, col *schema.Collection, op access.Operation, input map[string]any, principal *session.Principal, item map[string]any) (map[string]any, error) {
	if session.IsElevated(ctx) {
		return input, nil
	}
	out := make(map[string]any, len(input))
	for name, value := range input {
		field := col.Fields[name]
		var rule access.Rule
		switch op {
		case access.OpCreate:
			rule = field.Access.Create
		case access.OpUpdate:
			rule = field.Access.Update
		}
		decision, err := access.Evaluate(ctx, rule, access.RuleInput{
			Principal: principal,
			Item:      item,
			Input:     value,
			Operation: op,
		})
		if err != nil {
			return nil, err
		}
		if decision.IsDeny() {
			continue
		}
		if p, ok := decision.Predicate(); ok {
			if item == nil || !p.Match(item) {
				continue
			}
		}
		out[name] = value
	}
	return out, nil
}

// rewriteRelationships converts input payloads from field shape to stored
// shape: a non-many relationship value moves under its shadow foreign-key
// attribute. Many-relationship values stay under the field name as a list
// of identifiers.
func rewriteRelationships(col *schema.Collection, input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for name, value := range input {
		if shadow, ok := col.ShadowKeyFor(name); ok {
			out[shadow] = value
			continue
		}
		out[name] = value
	}
	return out
}
