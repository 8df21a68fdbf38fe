package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRegistersAndCounts(t *testing.T) {
	c := NewCollector()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	c.RunStarted("manual")
	c.RunStarted("manual")
	c.RunFinished("completed", 3*time.Second)
	c.RunReclaimed("watchdog")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runsStarted.WithLabelValues("manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.watchdogReclaim.WithLabelValues("watchdog")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RunStarted("manual")
		c.RunFinished("failed", time.Second)
		c.RunReclaimed("watchdog")
		c.ExecutorBusy(1)
		c.HTTPRequest("GET", "/health", 200, time.Millisecond)
	})
}
