// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kioskscan"

var (
	// Scans counts scan requests by outcome (resolved, not_found, error).
	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "QR scans handled, by outcome.",
	}, []string{"outcome"})

	// PayloadRecovery counts which recovery step produced the scan payload.
	PayloadRecovery = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payload_recovery_total",
		Help:      "Recovered scan payloads, by strategy.",
	}, []string{"strategy"})

	ResolverMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolver_match_total",
		Help:      "Student resolution results, by matching strategy.",
	}, []string{"strategy"})

	Visits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "visits_total",
		Help:      "Recorded visit transitions, by action.",
	}, []string{"action"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter.",
	})

	MirrorSync = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mirror_sync_total",
		Help:      "Embedded visit mirror updates, by result.",
	}, []string{"result"})
)
