// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package engine

import (
	"fmt"
	"strings"

	"github.com/quillcms/quill/internal/access"
	"github.com/quillcms/quill/internal/schema"
)

// ValidationError aborts an operation before any store mutation. It carries
// the accumulated field-scoped messages from constraint checks and
// validateInput hooks.
type ValidationError struct {
	Collection string
	Failures   []schema.FieldMessage
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("validation failed for %s: %s", e.Collection, strings.Join(parts, "; "))
}

// StructuralError reports a violated structural invariant, such as the
// one-row constraint of a singleton collection. Unlike access denials it is
// always surfaced explicitly and is never bypassable by elevated mode.
type StructuralError struct {
	Collection string
	Operation  access.Operation
	Reason     string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Collection, e.Operation, e.Reason)
}
