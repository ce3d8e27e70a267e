// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package access

import (
	"context"

	"github.com/gobwas/glob"
)

// AllowAll returns a rule that permits unconditionally.
func AllowAll() Rule {
	return func(context.Context, RuleInput) (Decision, error) {
		return Allow(), nil
	}
}

// DenyAll returns a rule that rejects unconditionally.
func DenyAll() Rule {
	return func(context.Context, RuleInput) (Decision, error) {
		return Deny(), nil
	}
}

// Authenticated returns a rule permitting any non-anonymous principal.
func Authenticated() Rule {
	return func(_ context.Context, in RuleInput) (Decision, error) {
		if in.Principal.IsAnonymous() {
			return Deny(), nil
		}
		return Allow(), nil
	}
}

// RoleMatches returns a rule permitting principals whose role matches the
// glob pattern, e.g. "admin" or "editor-*". The pattern is compiled once;
// MustRoleMatches panics on a malformed pattern and is intended for schema
// construction at process start.
func RoleMatches(pattern string) (Rule, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return func(_ context.Context, in RuleInput) (Decision, error) {
		role, ok := in.Principal.Role()
		if !ok || !g.Match(role) {
			return Deny(), nil
		}
		return Allow(), nil
	}, nil
}

// MustRoleMatches is RoleMatches that panics on a malformed pattern.
func MustRoleMatches(pattern string) Rule {
	rule, err := RoleMatches(pattern)
	if err != nil {
		panic(err)
	}
	return rule
}
