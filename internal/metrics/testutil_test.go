package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testCounterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(c)
}

func testGaugeValue(t *testing.T, g prometheus.Collector) float64 {
	t.Helper()
	return testutil.ToFloat64(g)
}
