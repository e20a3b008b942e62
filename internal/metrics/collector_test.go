package metrics

import "testing"

func TestNewCollectorRegistersMetrics(t *testing.T) {
	c, err := NewCollector(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	if c.Registry() == nil {
		t.Fatal("Registry() returned nil for an enabled collector")
	}
}

func TestNewCollectorNilConfigUsesDefaults(t *testing.T) {
	c, err := NewCollector(nil)
	if err != nil {
		t.Fatalf("NewCollector(nil) error = %v", err)
	}
	if c.config.Namespace != "mangamerged" {
		t.Errorf("Namespace = %q, want mangamerged", c.config.Namespace)
	}
}

func TestDisabledCollectorHasNoRegistryAndRecordsAreNoops(t *testing.T) {
	c, err := NewCollector(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}
	if c.Registry() != nil {
		t.Error("Registry() should be nil when metrics are disabled")
	}

	// Must not panic despite unset metric fields.
	c.RecordRenameOutcome("renamed")
	c.RecordCoalescerDispatch("success")
	c.RecordReconcileAction("mount")
	c.RecordMountApplyOutcome("success")
}

func TestRecordRenameOutcomeIncrementsCounter(t *testing.T) {
	c, _ := NewCollector(DefaultConfig())
	c.RecordRenameOutcome("renamed")
	c.RecordRenameOutcome("renamed")
	c.RecordRenameOutcome("collision_skipped")

	if got := testCounterValue(t, c.renameOutcomes.WithLabelValues("renamed")); got != 2 {
		t.Errorf("renamed count = %v, want 2", got)
	}
	if got := testCounterValue(t, c.renameOutcomes.WithLabelValues("collision_skipped")); got != 1 {
		t.Errorf("collision_skipped count = %v, want 1", got)
	}
}

func TestRecordCoalescerDispatchIncrementsBothCounters(t *testing.T) {
	c, _ := NewCollector(DefaultConfig())
	c.RecordCoalescerDispatch("busy")

	if got := testCounterValue(t, c.coalescerDispatches); got != 1 {
		t.Errorf("coalescerDispatches = %v, want 1", got)
	}
	if got := testCounterValue(t, c.coalescerOutcomes.WithLabelValues("busy")); got != 1 {
		t.Errorf("busy outcome count = %v, want 1", got)
	}
}

func TestRecordReconcileActionByKind(t *testing.T) {
	c, _ := NewCollector(DefaultConfig())
	c.RecordReconcileAction("unmount")
	c.RecordReconcileAction("remount")
	c.RecordReconcileAction("remount")

	if got := testCounterValue(t, c.reconcileActions.WithLabelValues("remount")); got != 2 {
		t.Errorf("remount count = %v, want 2", got)
	}
}

func TestSetQueuedRenameDepthUpdatesGauge(t *testing.T) {
	c, _ := NewCollector(DefaultConfig())
	c.SetQueuedRenameDepth(7)
	if got := testGaugeValue(t, c.queuedRenameDepth); got != 7 {
		t.Errorf("queuedRenameDepth = %v, want 7", got)
	}
}
