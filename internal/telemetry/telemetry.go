// Package telemetry wires the Request Dispatcher's per-call events (spec §4.6 step 7)
// into Prometheus counters/histograms, grounded on
// haasonsaas-nexus/internal/observability/metrics.go's CounterVec/HistogramVec style
// (labels by tool/status rather than a single series) and mirroring the role
// svrcore/policies/metrics.go plays for the teacher's HTTP policy chain — a single
// "observe one call" hook invoked once per request.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/apify/apify-mcp-server-sub001/internal/dispatch"
)

// Recorder implements dispatch.Telemetry. Env distinguishes the destination per spec §6
// ("telemetry.env ∈ {prod,dev}"); it is carried as a constant label so both can share one
// registry when dev traffic is proxied through the same process during testing.
type Recorder struct {
	env string

	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
}

// New registers the telemetry series on reg (pass prometheus.DefaultRegisterer in
// production, a fresh prometheus.NewRegistry() in tests).
func New(reg prometheus.Registerer, env string) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		env: env,
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apify_mcp",
			Name:      "tool_calls_total",
			Help:      "Total tools/call requests by tool name and final status.",
			ConstLabels: prometheus.Labels{"env": env},
		}, []string{"tool", "status", "transport"}),
		callDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apify_mcp",
			Name:      "tool_call_duration_seconds",
			Help:      "tools/call execution time in seconds, by tool name.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			ConstLabels: prometheus.Labels{"env": env},
		}, []string{"tool"}),
	}
}

// Emit implements dispatch.Telemetry (spec §4.6 step 7: "one event per call ... final
// status"). Aborted calls are recorded too, per SPEC_FULL.md §13(c).
func (r *Recorder) Emit(event dispatch.Event) {
	r.callsTotal.WithLabelValues(event.ToolName, string(event.Status), event.Transport).Inc()
	r.callDuration.WithLabelValues(event.ToolName).Observe(event.ExecutionTime.Seconds())
}

var _ dispatch.Telemetry = (*Recorder)(nil)
