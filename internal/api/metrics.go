package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelight_http_requests_total",
		Help: "HTTP requests handled, by method and status code.",
	}, []string{"method", "status"})

	ingestedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelight_ingested_events_total",
		Help: "Events taken off the ingestion endpoints, by outcome (stored, duplicate, error).",
	}, []string{"outcome"})

	ingestRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracelight_ingest_rejected_total",
		Help: "Ingestion requests rejected before any event was stored, by reason.",
	}, []string{"reason"})

	streamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracelight_stream_clients",
		Help: "Live event stream subscribers currently connected.",
	})
)
