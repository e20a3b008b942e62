// Package metrics exposes the Prometheus counters and gauges the daemon
// publishes for its core passes: rename outcomes, coalescer dispatch
// outcomes, reconciliation actions, and mount-apply outcomes. The registry
// built here is served by internal/diagnostics; this package only records.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector aggregates the daemon's Prometheus metrics.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	renameOutcomes      *prometheus.CounterVec
	coalescerOutcomes   *prometheus.CounterVec
	coalescerDispatches prometheus.Counter
	reconcileActions    *prometheus.CounterVec
	mountApplyOutcomes  *prometheus.CounterVec
	tickDuration        prometheus.Histogram
	mergePassDuration   prometheus.Histogram
	queuedRenameDepth   prometheus.Gauge
	lastMergePassTime   prometheus.Gauge

	lastReset time.Time
}

// Config controls the metrics namespace.
type Config struct {
	Enabled   bool              `yaml:"enabled"`
	Namespace string            `yaml:"namespace"`
	Subsystem string            `yaml:"subsystem"`
	Labels    map[string]string `yaml:"labels"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Namespace: "mangamerged",
		Labels:    make(map[string]string),
	}
}

// NewCollector builds a Collector and registers its metrics. A nil config
// applies DefaultConfig. When Enabled is false the returned Collector has
// no registry and all Record* calls are no-ops.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		config:    config,
		registry:  registry,
		lastReset: time.Now(),
	}

	c.initMetrics()
	if err := c.registerMetrics(); err != nil {
		return nil, err
	}

	return c, nil
}

// Registry returns the underlying Prometheus registry for the diagnostics
// server to serve via promhttp. Returns nil when metrics are disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRenameOutcome records one per-entry outcome of a rename pass, e.g.
// "renamed", "unchanged", "deferred_missing", "dropped_missing",
// "deferred_not_ready", "deferred_not_quiet", "collision_skipped",
// "move_failed".
func (c *Collector) RecordRenameOutcome(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.renameOutcomes.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordCoalescerDispatch records one outcome of dispatch_pending, e.g.
// "no_pending", "skipped_min_interval", "skipped_retry_delay", "success",
// "busy", "mixed", "failure".
func (c *Collector) RecordCoalescerDispatch(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.coalescerDispatches.Inc()
	c.coalescerOutcomes.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// RecordReconcileAction records one planned reconciliation action by kind,
// e.g. "unmount", "remount", "mount".
func (c *Collector) RecordReconcileAction(kind string) {
	if !c.config.Enabled {
		return
	}
	c.reconcileActions.With(prometheus.Labels{"kind": kind}).Inc()
}

// RecordMountApplyOutcome records one mount-command-service apply outcome,
// e.g. "success", "busy", "failure".
func (c *Collector) RecordMountApplyOutcome(outcome string) {
	if !c.config.Enabled {
		return
	}
	c.mountApplyOutcomes.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// ObserveTickDuration records the wall-clock duration of one tick.
func (c *Collector) ObserveTickDuration(d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.tickDuration.Observe(d.Seconds())
}

// ObserveMergePassDuration records the wall-clock duration of one merge
// workflow pass, and stamps the gauge tracking when the last pass finished.
func (c *Collector) ObserveMergePassDuration(d time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.mergePassDuration.Observe(d.Seconds())
	c.lastMergePassTime.Set(float64(time.Now().Unix()))
}

// SetQueuedRenameDepth reports the current depth of the rename queue store.
func (c *Collector) SetQueuedRenameDepth(depth int) {
	if !c.config.Enabled {
		return
	}
	c.queuedRenameDepth.Set(float64(depth))
}

func (c *Collector) initMetrics() {
	ns := c.config.Namespace
	sub := c.config.Subsystem

	c.renameOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rename_outcomes_total",
			Help: "Count of rename-pass outcomes by classification.",
		},
		[]string{"outcome"},
	)

	c.coalescerOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "coalescer_dispatch_outcomes_total",
			Help: "Count of coalescer dispatch_pending outcomes.",
		},
		[]string{"outcome"},
	)

	c.coalescerDispatches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "coalescer_dispatches_total",
			Help: "Total number of coalescer dispatch attempts.",
		},
	)

	c.reconcileActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "reconcile_actions_total",
			Help: "Count of reconciliation actions planned, by kind.",
		},
		[]string{"kind"},
	)

	c.mountApplyOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "mount_apply_outcomes_total",
			Help: "Count of mount command apply outcomes.",
		},
		[]string{"outcome"},
	)

	c.tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "tick_duration_seconds",
			Help:    "Duration of one orchestrator tick.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	c.mergePassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "merge_pass_duration_seconds",
			Help:    "Duration of one merge workflow pass.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
	)

	c.queuedRenameDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "queued_rename_depth",
			Help: "Current number of entries in the rename queue store.",
		},
	)

	c.lastMergePassTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "last_merge_pass_unixtime",
			Help: "Unix timestamp of the last completed merge workflow pass.",
		},
	)
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.renameOutcomes,
		c.coalescerOutcomes,
		c.coalescerDispatches,
		c.reconcileActions,
		c.mountApplyOutcomes,
		c.tickDuration,
		c.mergePassDuration,
		c.queuedRenameDepth,
		c.lastMergePassTime,
	}
	for _, coll := range collectors {
		if err := c.registry.Register(coll); err != nil {
			return err
		}
	}
	return nil
}
