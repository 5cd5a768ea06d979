package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tagbridge"

// Label values.
const (
	OutcomeBatch       = "batch"
	OutcomeEmpty       = "empty"
	OutcomeSoftFailure = "soft_failure"
	OutcomeHardFailure = "hard_failure"
	DeliveryDelivered  = "delivered"
	DeliveryFailed     = "failed"
	MessageMatched     = "matched"
	MessageUnmatched   = "unmatched"
	UpdateSkipped      = "skipped"
)

var (
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Long-poll fetches by outcome (count)",
		},
		[]string{"outcome"},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Wall time of one long-poll fetch in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 90},
		},
	)

	BatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Updates per non-empty batch (count)",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	Cursor = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_cursor",
			Help:      "Smallest update id not yet consumed",
		},
	)

	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Dispatched updates by result (count)",
		},
		[]string{"result"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Destination deliveries by route and status (count)",
		},
		[]string{"route", "status"},
	)

	ActiveRoutes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_routes",
			Help:      "Number of configured forward routes (count)",
		},
	)
)

// Register adds every bridge collector to reg. Collectors that are already registered
// are left in place.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		FetchesTotal,
		FetchDuration,
		BatchSize,
		Cursor,
		UpdatesTotal,
		DeliveriesTotal,
		ActiveRoutes,
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}

	return nil
}
