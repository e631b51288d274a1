package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorRecords(t *testing.T) {
	c := NewCollector("metrics_test_source")

	c.RecordRecords("imported", 3)
	c.RecordRecords("imported", 0)
	c.RecordRetry()
	c.RecordRetry()
	c.RecordCache(true)
	c.RecordCache(false)
	c.RecordLimiterWait(1500 * time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(Records.WithLabelValues("metrics_test_source", "imported")))
	assert.Equal(t, 2.0, testutil.ToFloat64(Retries.WithLabelValues("metrics_test_source")))
	assert.Equal(t, 1.0, testutil.ToFloat64(CacheLookups.WithLabelValues("metrics_test_source", "hit")))
	assert.Equal(t, 1.5, testutil.ToFloat64(LimiterWait.WithLabelValues("metrics_test_source")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer("op")
	assert.Equal(t, "op", timer.Name())
	assert.GreaterOrEqual(t, timer.Stop(), time.Duration(0))
}
