// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package engine

import (
	"context"

	"github.com/samber/oops"

	"github.com/quillcms/quill/internal/schema"
)

// The hook pipeline runs strictly ordered around every operation:
//
//	resolveInput → validateInput → beforeOperation → [store call] → afterOperation
//
// resolveInput and validateInput apply to create/update only. Hooks of the
// same stage run sequentially in declaration order so one hook's side effect
// is visible to the next. A non-empty validation accumulator aborts the
// operation before any store mutation.

func (e *Engine) runResolveInput(ctx context.Context, col *schema.Collection, args schema.HookArgs) (map[string]any, error) {
	input := args.Input
	for i, hook := range col.Hooks.ResolveInput {
		args.Input = input
		replaced, err := hook(ctx, args)
		if err != nil {
			return nil, oops.Code("HOOK_FAULT").
				With("collection", col.Name).
				With("stage", "resolveInput").
				With("hook", i).
				Wrap(err)
		}
		if replaced != nil {
			input = replaced
		}
	}
	return input, nil
}

func (e *Engine) runValidateInput(ctx context.Context, col *schema.Collection, args schema.HookArgs, failures []schema.FieldMessage) ([]schema.FieldMessage, error) {
	for i, hook := range col.Hooks.ValidateInput {
		messages, err := hook(ctx, args)
		if err != nil {
			return nil, oops.Code("HOOK_FAULT").
				With("collection", col.Name).
				With("stage", "validateInput").
				With("hook", i).
				Wrap(err)
		}
		failures = append(failures, messages...)
	}
	return failures, nil
}

func (e *Engine) runBeforeOperation(ctx context.Context, col *schema.Collection, args schema.HookArgs) error {
	for i, hook := range col.Hooks.BeforeOperation {
		if err := hook(ctx, args); err != nil {
			return oops.Code("HOOK_FAULT").
				With("collection", col.Name).
				With("stage", "beforeOperation").
				With("hook", i).
				Wrap(err)
		}
	}
	return nil
}

func (e *Engine) runAfterOperation(ctx context.Context, col *schema.Collection, args schema.HookArgs) error {
	for i, hook := range col.Hooks.AfterOperation {
		if err := hook(ctx, args); err != nil {
			return oops.Code("HOOK_FAULT").
				With("collection", col.Name).
				With("stage", "afterOperation").
				With("hook", i).
				Wrap(err)
		}
	}
	return nil
}

// applyDefaults fills create input with each field's declared default when
// the input omits the field. Also used by singleton auto-creation.
func applyDefaults(col *schema.Collection, input map[string]any) map[string]any {
	out := make(map[string]any, len(col.Fields))
	for k, v := range input {
		out[k] = v
	}
	for name, field := range col.Fields {
		if field.Default == nil {
			continue
		}
		if _, present := out[name]; !present {
			out[name] = field.Default
		}
	}
	return out
}

// validateConstraints checks the payload against declared field constraints.
// On create, required fields must be present after defaults; on update only
// the supplied fields are checked.
func validateConstraints(col *schema.Collection, input map[string]any, create bool) []schema.FieldMessage {
	var failures []schema.FieldMessage
	if create {
		for name, field := range col.Fields {
			if !field.Required {
				continue
			}
			if _, present := input[name]; !present {
				failures = append(failures, schema.FieldMessage{Field: name, Message: "is required"})
			}
		}
	}
	for name, value := range input {
		field, declared := col.Fields[name]
		if !declared || value == nil {
			continue
		}
		if msg := field.ValidateValue(value); msg != "" {
			failures = append(failures, schema.FieldMessage{Field: name, Message: msg})
		}
	}
	return failures
}
