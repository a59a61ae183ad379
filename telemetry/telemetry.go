// Package telemetry exposes the bridge's invocation counters.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Invocations counts guest method calls by function kind (udf, udaf)
	// and method name.
	Invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wudf",
		Name:      "invocations_total",
		Help:      "Guest method invocations.",
	}, []string{"kind", "method"})

	// InvocationErrors counts guest method calls that raised.
	InvocationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wudf",
		Name:      "invocation_errors_total",
		Help:      "Guest method invocations that raised.",
	}, []string{"kind", "method"})
)
