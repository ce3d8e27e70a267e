// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation outcome labels.
const (
	statusOK      = "ok"
	statusDenied  = "denied"
	statusInvalid = "invalid"
	statusError   = "error"
)

// Metrics for engine operations.
var (
	operationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quill_operation_duration_seconds",
		Help:    "Histogram of engine operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_operations_total",
		Help: "Total number of engine operations by collection, operation and status",
	}, []string{"collection", "operation", "status"})

	singletonAutoCreates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quill_singleton_autocreate_total",
		Help: "Total number of singleton rows synthesized by get",
	})

	includeDepthSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quill_include_depth_skips_total",
		Help: "Total number of include expansions skipped at the depth bound",
	})
)

// recordOperation records metrics for one completed operation.
func recordOperation(collection, operation, status string, duration time.Duration) {
	operationDuration.Observe(duration.Seconds())
	operationsTotal.WithLabelValues(collection, operation, status).Inc()
}
