// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

// Package session defines the acting identity for one engine call.
//
// A Principal is an opaque attribute bag constructed once per call by the
// authentication layer and passed by reference through every operation.
// A nil *Principal means anonymous. The engine never mutates a Principal.
package session

import "context"

// Well-known attribute keys. Rules should prefer the typed accessors
// over raw Get lookups.
const (
	KeySubject = "sub"
	KeyRole    = "role"
)

// Principal is the acting identity (or anonymous) for one call.
type Principal struct {
	attrs map[string]any
}

// New creates a Principal from an attribute map. The map is copied so the
// caller cannot mutate the Principal after construction.
func New(attrs map[string]any) *Principal {
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Principal{attrs: copied}
}

// Subject returns the well-known subject identifier, if present.
// Safe to call on a nil Principal.
func (p *Principal) Subject() (string, bool) {
	return p.str(KeySubject)
}

// Role returns the well-known role attribute, if present.
// Safe to call on a nil Principal.
func (p *Principal) Role() (string, bool) {
	return p.str(KeyRole)
}

// Get returns an arbitrary attribute. Safe to call on a nil Principal.
func (p *Principal) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.attrs[key]
	return v, ok
}

// IsAnonymous reports whether this call has no authenticated identity.
func (p *Principal) IsAnonymous() bool {
	if p == nil {
		return true
	}
	_, ok := p.attrs[KeySubject]
	return !ok
}

func (p *Principal) str(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p.attrs[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

type elevatedCtxKey struct{}

// Elevated derives a context whose operations skip collection- and
// field-level access evaluation. Structural invariants (singleton guard)
// and lifecycle hooks still apply.
func Elevated(parent context.Context) context.Context {
	return context.WithValue(parent, elevatedCtxKey{}, true)
}

// IsElevated reports whether the context carries elevated mode.
func IsElevated(ctx context.Context) bool {
	v, ok := ctx.Value(elevatedCtxKey{}).(bool)
	return ok && v
}
