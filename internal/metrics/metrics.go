package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the exchange's Prometheus collectors.
type Metrics struct {
	LeadsSubmitted  *prometheus.CounterVec
	AuctionOutcomes *prometheus.CounterVec
	AuctionDuration prometheus.Histogram

	BuyerCalls        *prometheus.CounterVec
	BuyerCallDuration *prometheus.HistogramVec

	QueueDepth     prometheus.Gauge
	JobsProcessed  *prometheus.CounterVec
	WebhooksServed *prometheus.CounterVec
}

// New registers the exchange collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LeadsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lax",
			Name:      "leads_submitted_total",
			Help:      "Leads accepted by the submission endpoint.",
		}, []string{"priority"}),

		AuctionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lax",
			Name:      "auction_outcomes_total",
			Help:      "Terminal auction outcomes.",
		}, []string{"result", "reason"}),

		AuctionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lax",
			Name:      "auction_duration_seconds",
			Help:      "Wall time of one auction run, claim to terminal transition.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		BuyerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lax",
			Name:      "buyer_calls_total",
			Help:      "Outbound buyer calls by action and status.",
		}, []string{"action", "status"}),

		BuyerCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lax",
			Name:      "buyer_call_duration_seconds",
			Help:      "Outbound buyer call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),

		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lax",
			Name:      "queue_depth",
			Help:      "Combined depth of the high and normal lead queues.",
		}),

		JobsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lax",
			Name:      "jobs_processed_total",
			Help:      "Auction jobs drained from the queue.",
		}, []string{"outcome"}),

		WebhooksServed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lax",
			Name:      "webhooks_served_total",
			Help:      "Inbound buyer webhooks by action and response class.",
		}, []string{"action", "code"}),
	}
}
