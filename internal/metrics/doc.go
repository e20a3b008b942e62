/*
Package metrics exposes the daemon's Prometheus counters, histograms, and
gauges: rename-pass outcomes, coalescer dispatch outcomes, reconciliation
actions by kind, and mount-apply outcomes. internal/diagnostics mounts the
Collector's registry behind /metrics; this package never runs its own HTTP
server.

# Recording

	collector, err := metrics.NewCollector(metrics.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}

	collector.RecordRenameOutcome("renamed")
	collector.RecordCoalescerDispatch("success")
	collector.RecordReconcileAction("remount")
	collector.RecordMountApplyOutcome("busy")
	collector.ObserveTickDuration(elapsed)
	collector.SetQueuedRenameDepth(queue.Count())

# Exported metrics

Counters:
  - mangamerged_rename_outcomes_total{outcome}
  - mangamerged_coalescer_dispatch_outcomes_total{outcome}
  - mangamerged_coalescer_dispatches_total
  - mangamerged_reconcile_actions_total{kind}
  - mangamerged_mount_apply_outcomes_total{outcome}

Histograms:
  - mangamerged_tick_duration_seconds
  - mangamerged_merge_pass_duration_seconds

Gauges:
  - mangamerged_queued_rename_depth
  - mangamerged_last_merge_pass_unixtime

# See also

  - internal/health: readiness probing for managed mount points and roots
  - internal/circuit: circuit breaker guarding repeated mount-apply failures
  - internal/diagnostics: HTTP surface that serves this registry
*/
package metrics
