// Copyright (c) erawl
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's Prometheus collectors. Counts stay at the
// aggregate level on purpose: no per-peer labels, no addresses.
type Metrics struct {
	// ActivePairs is the number of relay pairs currently indexed.
	ActivePairs prometheus.Gauge

	// ConnectionsTotal counts accepted connections by outcome
	// (paired, failed).
	ConnectionsTotal *prometheus.CounterVec

	// PairingFailures counts accepted connections the locator could
	// not produce a peer for.
	PairingFailures prometheus.Counter

	// Teardowns counts closed pairs by reason (eof, read_error,
	// write_error, socket_error, stale_registration).
	Teardowns *prometheus.CounterVec

	// BytesRelayed counts payload bytes copied between peers, both
	// directions combined.
	BytesRelayed prometheus.Counter
}

// New creates the relay metrics under the given namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "giphyproxy"
	}

	return &Metrics{
		ActivePairs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_pairs",
			Help:      "Number of currently active relay pairs",
		}),
		ConnectionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Total number of accepted connections by outcome",
		}, []string{"status"}),
		PairingFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pairing_failures_total",
			Help:      "Total number of accepted connections that could not be paired",
		}),
		Teardowns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardowns_total",
			Help:      "Total number of relay pairs closed by reason",
		}, []string{"reason"}),
		BytesRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_relayed_total",
			Help:      "Total payload bytes relayed in both directions",
		}),
	}
}
