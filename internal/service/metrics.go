package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Payment status transitions applied, by event and resulting status",
		},
		[]string{"event", "to_status"},
	)

	callbacksReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_received_total",
			Help: "Broker callbacks received, by broker",
		},
		[]string{"broker"},
	)

	callbacksDuplicateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_duplicate_total",
			Help: "Broker callbacks acknowledged without effect because the delivery or state was already recorded",
		},
		[]string{"broker"},
	)

	callbacksConflictingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_conflicting_total",
			Help: "Broker callbacks contradicting an already-terminal payment state",
		},
		[]string{"broker"},
	)

	callbacksInvalidSignatureTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_callbacks_invalid_signature_total",
			Help: "Broker callbacks rejected for signature verification failure",
		},
		[]string{"broker"},
	)

	pollerTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "payment_poller_timeouts_total",
			Help: "Payments failed by the status poller after exceeding the pending deadline",
		},
	)
)
