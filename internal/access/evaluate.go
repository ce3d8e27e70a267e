// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package access

import (
	"context"

	"github.com/samber/oops"

	"github.com/quillcms/quill/internal/session"
)

// RuleInput carries the evaluation context for one rule invocation.
//
// Item is the pre-operation row for update/delete and the fetched row for
// field-level read checks; it is never set for create. Input is the proposed
// payload (or field value) for field-level create/update checks.
type RuleInput struct {
	Principal *session.Principal
	Item      map[string]any
	Input     any
	Operation Operation
}

// Rule decides whether an operation is permitted. Rules are supplied by
// collection and field configuration and may consult the store (for
// ownership checks) via the context's deadline and cancellation.
//
// A returned error is a rule fault, not a denial, and aborts the operation.
type Rule func(ctx context.Context, in RuleInput) (Decision, error)

// Evaluate runs one rule. A nil rule defaults to Allow. Rule errors are
// wrapped with the RULE_FAULT code and propagate operation-fatally; they are
// never coerced into Deny, since that would mask a bug as a security
// decision.
func Evaluate(ctx context.Context, rule Rule, in RuleInput) (Decision, error) {
	if rule == nil {
		return Allow(), nil
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, oops.Wrapf(err, "context cancelled before rule evaluation")
	}
	decision, err := rule(ctx, in)
	if err != nil {
		return Decision{}, oops.Code("RULE_FAULT").
			With("operation", string(in.Operation)).
			Wrap(err)
	}
	return decision, nil
}
