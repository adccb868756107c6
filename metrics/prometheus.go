package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GateOutcomes counts newsletter link openings by result (rendered, invalid_link, not_found, ...)
	GateOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_gate_outcomes",
			Help: "number of newsletter link openings by outcome",
		},
		[]string{"outcome"},
	)
	// EmailsSent is the metric for dispatched emails
	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_emails_sent",
			Help: "number of emails handed to the transport",
		},
		[]string{"status"},
	)
	// DeliveryRecords counts which strategy recorded each delivery
	DeliveryRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_delivery_records",
			Help: "number of delivery records written by strategy",
		},
		[]string{"strategy"},
	)
	// TrackingEvents is the metric for opens, clicks and provider events
	TrackingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_tracking_events",
			Help: "number of tracking events received",
		},
		[]string{"event"},
	)
	// BestEffortFailures counts writes that failed without failing the request
	BestEffortFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "radar_best_effort_failures",
			Help: "number of failed best-effort writes",
		},
		[]string{"operation"},
	)
)
