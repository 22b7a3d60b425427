package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.BookingsCreated("weekly", 4)
	c.BookingsCreated("none", 1)
	c.BookingsCreated("none", 0)
	c.BookingRejected("conflict")
	c.CheckedIn()
	c.Cancelled("user")
	c.SweepCompleted(150*time.Millisecond, 2, 1)

	assert.Equal(t, 4.0, testutil.ToFloat64(c.bookingsCreated.WithLabelValues("weekly")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bookingsCreated.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.bookingRejections.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkIns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cancellations.WithLabelValues("user")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.cancellations.WithLabelValues("sweeper")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sweepRuns))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.sweepTransitions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sweepFailures))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, family := range families {
		names = append(names, family.GetName())
	}
	assert.Contains(t, names, "roombooking_sweep_duration_seconds")
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.BookingsCreated("none", 1)
		c.BookingRejected("validation")
		c.CheckedIn()
		c.Cancelled("user")
		c.SweepCompleted(time.Second, 1, 0)
	})
}
