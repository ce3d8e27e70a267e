// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package access evaluates collection- and field-level access rules and
// merges their decisions into a single predicate.
//
// A rule returns one of three decisions: Allow, Deny, or a structured
// Predicate restricting which rows (or writes) are in scope. Deny always
// dominates a merge; Allow is the identity. Rules signal policy failures
// through Deny, never through errors — an error returned by a rule is a
// rule fault and propagates to the caller unchanged.
package access

import "github.com/quillcms/quill/internal/filter"

// Operation identifies the kind of engine operation a rule is evaluated for.
type Operation string

// Engine operation kinds.
const (
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpFindUnique Operation = "findUnique"
	OpFindMany   Operation = "findMany"
	OpCount      Operation = "count"
	OpGet        Operation = "get"
)

// IsRead reports whether the operation only reads rows.
func (o Operation) IsRead() bool {
	switch o {
	case OpFindUnique, OpFindMany, OpCount, OpGet:
		return true
	default:
		return false
	}
}

// IsMutation reports whether the operation writes rows.
func (o Operation) IsMutation() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

type decisionKind int

const (
	decisionAllow decisionKind = iota
	decisionDeny
	decisionPredicate
)

// Decision is the outcome of evaluating one access rule.
// The zero value is Allow.
type Decision struct {
	kind      decisionKind
	predicate filter.Predicate
}

// Allow permits the operation without constraint.
func Allow() Decision {
	return Decision{kind: decisionAllow}
}

// Deny rejects the operation: no rows visible, no write permitted.
func Deny() Decision {
	return Decision{kind: decisionDeny}
}

// Filtered permits only rows or writes matching the predicate.
// A nil predicate is equivalent to Allow.
func Filtered(p filter.Predicate) Decision {
	if p == nil {
		return Allow()
	}
	return Decision{kind: decisionPredicate, predicate: p}
}

// IsAllow reports whether the decision permits without constraint.
func (d Decision) IsAllow() bool { return d.kind == decisionAllow }

// IsDeny reports whether the decision rejects outright.
func (d Decision) IsDeny() bool { return d.kind == decisionDeny }

// Predicate returns the constraining predicate and whether one is present.
func (d Decision) Predicate() (filter.Predicate, bool) {
	if d.kind != decisionPredicate {
		return nil, false
	}
	return d.predicate, true
}

// String returns a short description for logs.
func (d Decision) String() string {
	switch d.kind {
	case decisionDeny:
		return "deny"
	case decisionPredicate:
		return "predicate"
	default:
		return "allow"
	}
}
