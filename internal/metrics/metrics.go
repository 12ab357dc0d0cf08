// Package metrics holds the Prometheus collectors for ingestion, dispatch,
// and the HTTP API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Failure reasons used as the "reason" label of MessagesFailed.
const (
	ReasonInvalidAddress = "invalid_address"
	ReasonSend           = "send"
	ReasonCancelled      = "cancelled"
)

var (
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_mailer_messages_sent_total",
		Help: "Total number of messages accepted by the transport",
	}, []string{"provider"})
	MessagesFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_mailer_messages_failed_total",
		Help: "Total number of recipients recorded as failed",
	}, []string{"provider", "reason"})
	Batches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_mailer_batches_total",
		Help: "Total number of dispatch batches by outcome (completed, transport_error)",
	}, []string{"provider", "outcome"})
	BatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contact_mailer_batch_duration_seconds",
		Help:    "Wall time of a dispatch batch from session open to close",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"provider"})
	ContactsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_mailer_contacts_ingested_total",
		Help: "Total number of contacts parsed from uploaded files",
	}, []string{"format"})
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "contact_mailer_http_requests_total",
		Help: "Total number of HTTP API requests",
	}, []string{"method", "route", "status"})
)

func init() {
	prometheus.MustRegister(MessagesSent)
	prometheus.MustRegister(MessagesFailed)
	prometheus.MustRegister(Batches)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(ContactsIngested)
	prometheus.MustRegister(HTTPRequests)
}

// Handler returns an http.Handler exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
