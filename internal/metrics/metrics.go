package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wtbooking"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	bookingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_operations_total",
			Help:      "Booking engine operations by operation and outcome kind.",
		},
		[]string{"op", "outcome"},
	)

	bookingOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "booking_operation_duration_seconds",
			Help:      "Booking engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	cacheAdjustments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_cache_adjustments_total",
			Help:      "Counter cache adjustments by counter and path (fast or rebuilt).",
		},
		[]string{"counter", "path"},
	)

	sweeperCancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_sweeper_cancellations_total",
			Help:      "Unpaid bookings cancelled by the expiry sweeper.",
		},
	)

	integrationDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integration_deliveries_total",
			Help:      "Deliveries to outbound integrations by sink and outcome.",
		},
		[]string{"sink", "outcome"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, bookingOps, bookingOpDuration, cacheAdjustments, sweeperCancellations,
			integrationDeliveries)
	})
}

func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

// ObserveBookingOp records one engine call. Outcome is "ok" or an error kind.
func ObserveBookingOp(op, outcome string, seconds float64) {
	bookingOps.WithLabelValues(op, outcome).Inc()
	bookingOpDuration.WithLabelValues(op).Observe(seconds)
}

func IncCacheAdjust(counter, path string) {
	cacheAdjustments.WithLabelValues(counter, path).Inc()
}

func AddSweeperCancellations(n int) {
	sweeperCancellations.Add(float64(n))
}

// IncDelivery counts one delivery attempt to an outbound sink (telegram,
// sheets). Outcome is "ok", "error" or "dropped".
func IncDelivery(sink, outcome string) {
	integrationDeliveries.WithLabelValues(sink, outcome).Inc()
}
