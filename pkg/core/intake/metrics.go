package intake

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the intake pipeline's Prometheus collectors.
type Metrics struct {
	// ItemsReceived counts intake items created from inbound email
	ItemsReceived prometheus.Counter
	// AttachmentsParsed counts attachment parses by status
	AttachmentsParsed *prometheus.CounterVec
	// Extractions counts extraction runs by result
	Extractions *prometheus.CounterVec
	// ExtractionDuration tracks extraction wall time in seconds
	ExtractionDuration prometheus.Histogram
	// Confirmations counts confirm calls by result
	Confirmations *prometheus.CounterVec
	// ItemsReaped counts processing items failed by the reaper
	ItemsReaped prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg leaves them
// unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ItemsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "items_received_total",
			Help:      "Total number of intake items received",
		}),
		AttachmentsParsed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "attachments_parsed_total",
			Help:      "Total number of attachment parses by status",
		}, []string{"status"}),
		Extractions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "extractions_total",
			Help:      "Total number of extraction runs by result",
		}, []string{"result"}),
		ExtractionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "intake",
			Name:      "extraction_duration_seconds",
			Help:      "Duration of extraction runs in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		Confirmations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "confirmations_total",
			Help:      "Total number of confirm calls by result",
		}, []string{"result"}),
		ItemsReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "intake",
			Name:      "items_reaped_total",
			Help:      "Total number of stuck items failed by the reaper",
		}),
	}
}
