// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package access

import "github.com/quillcms/quill/internal/filter"

// Merge combines decisions into one. Any Deny short-circuits to Deny
// regardless of other entries. All-Allow merges to Allow. Otherwise the
// Predicate terms combine conjunctively; Allow terms contribute no
// constraint. Merge is associative and order-independent, and Merge() of
// zero decisions is Allow (the identity element).
func Merge(decisions ...Decision) Decision {
	preds := make([]filter.Predicate, 0, len(decisions))
	for _, d := range decisions {
		if d.IsDeny() {
			return Deny()
		}
		if p, ok := d.Predicate(); ok {
			preds = append(preds, p)
		}
	}
	return Filtered(filter.And(preds...))
}
