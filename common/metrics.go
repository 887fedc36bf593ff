package common

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Operation counters
// --------------------------------------------------------------------------

// Counters for the request lifecycle. Exposed through the default
// VictoriaMetrics set; callers can dump them with metrics.WritePrometheus.
var (
	OpsDispatched = metrics.NewCounter(`nkv_ops_dispatched_total`)
	OpsCompleted  = metrics.NewCounter(`nkv_ops_completed_total`)
	OpsRetried    = metrics.NewCounter(`nkv_ops_retried_total`)
	OpsTimedOut   = metrics.NewCounter(`nkv_ops_timed_out_total`)
	OpsCancelled  = metrics.NewCounter(`nkv_ops_cancelled_total`)

	DurabilityPolls     = metrics.NewCounter(`nkv_durability_polls_total`)
	DurabilitySatisfied = metrics.NewCounter(`nkv_durability_satisfied_total`)
	DurabilityConflicts = metrics.NewCounter(`nkv_durability_conflicts_total`)

	PoolDialed = metrics.NewCounter(`nkv_pool_endpoints_dialed_total`)
	PoolClosed = metrics.NewCounter(`nkv_pool_endpoints_closed_total`)
)

// OpCounter returns the per-opcode dispatch counter, created on first use.
func OpCounter(op string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`nkv_ops_dispatched_total{op=%q}`, op))
}
