// Package metrics exposes Prometheus instruments for bookings and the sweeper.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roombooking"

// Collector owns every instrument. A nil *Collector is valid and records nothing.
type Collector struct {
	bookingsCreated   *prometheus.CounterVec
	bookingRejections *prometheus.CounterVec
	checkIns          prometheus.Counter
	cancellations     *prometheus.CounterVec
	sweepRuns         prometheus.Counter
	sweepTransitions  prometheus.Counter
	sweepFailures     prometheus.Counter
	sweepDuration     prometheus.Histogram
}

// NewCollector builds the instruments and registers them with reg when it is
// not nil.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		bookingsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bookings_created_total",
				Help:      "Count of booking rows created by recurrence kind.",
			},
			[]string{"kind"},
		),
		bookingRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "booking_rejections_total",
				Help:      "Count of booking requests rejected by reason.",
			},
			[]string{"reason"},
		),
		checkIns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkins_total",
				Help:      "Count of successful check-ins.",
			},
		),
		cancellations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cancellations_total",
				Help:      "Count of cancellations by source.",
			},
			[]string{"source"},
		),
		sweepRuns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Count of auto-cancellation sweeps.",
			},
		),
		sweepTransitions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_transitions_total",
				Help:      "Count of bookings auto-cancelled by the sweeper.",
			},
		),
		sweepFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_failures_total",
				Help:      "Count of bookings the sweeper failed to transition.",
			},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Duration of auto-cancellation sweeps.",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			c.bookingsCreated,
			c.bookingRejections,
			c.checkIns,
			c.cancellations,
			c.sweepRuns,
			c.sweepTransitions,
			c.sweepFailures,
			c.sweepDuration,
		)
	}
	return c
}

// BookingsCreated adds n created rows for kind.
func (c *Collector) BookingsCreated(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.bookingsCreated.WithLabelValues(kind).Add(float64(n))
}

// BookingRejected counts one rejected request.
func (c *Collector) BookingRejected(reason string) {
	if c == nil {
		return
	}
	c.bookingRejections.WithLabelValues(reason).Inc()
}

// CheckedIn counts one check-in.
func (c *Collector) CheckedIn() {
	if c == nil {
		return
	}
	c.checkIns.Inc()
}

// Cancelled counts one cancellation from source ("user" or "sweeper").
func (c *Collector) Cancelled(source string) {
	if c == nil {
		return
	}
	c.cancellations.WithLabelValues(source).Inc()
}

// SweepCompleted records one sweep.
func (c *Collector) SweepCompleted(elapsed time.Duration, transitions, failures int) {
	if c == nil {
		return
	}
	c.sweepRuns.Inc()
	c.sweepTransitions.Add(float64(transitions))
	c.sweepFailures.Add(float64(failures))
	c.sweepDuration.Observe(elapsed.Seconds())
	if transitions > 0 {
		c.cancellations.WithLabelValues("sweeper").Add(float64(transitions))
	}
}
