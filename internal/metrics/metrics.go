package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus instruments.
type Metrics struct {
	// SubmissionsTotal counts submit calls by outcome
	// (created, merged, noop, error).
	SubmissionsTotal *prometheus.CounterVec

	// EventsPublishedTotal counts registry change events by kind.
	EventsPublishedTotal *prometheus.CounterVec

	// PublishErrorsTotal counts failed event deliveries (dropped
	// subscriber sends and pub/sub mirror failures).
	PublishErrorsTotal prometheus.Counter

	// StreamClients tracks open delivery connections by transport
	// (sse, websocket).
	StreamClients *prometheus.GaugeVec

	// StorageErrorsTotal counts store operations that failed.
	StorageErrorsTotal prometheus.Counter
}

// New creates and registers the service metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubmissionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tweetwall_submissions_total",
				Help: "Tweet submissions processed, by outcome",
			},
			[]string{"outcome"},
		),
		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tweetwall_events_published_total",
				Help: "Registry change events published, by kind",
			},
			[]string{"kind"},
		),
		PublishErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tweetwall_publish_errors_total",
				Help: "Event deliveries that were dropped or failed",
			},
		),
		StreamClients: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tweetwall_stream_clients",
				Help: "Open event stream connections, by transport",
			},
			[]string{"transport"},
		),
		StorageErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tweetwall_storage_errors_total",
				Help: "Remote store operations that failed",
			},
		),
	}
}
