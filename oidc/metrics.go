// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "ndi_oidc"

// Result label values.
const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// metrics holds the counters shared by a Client and its Cache.
type metrics struct {
	// refreshTotal counts completed cache refreshes.
	refreshTotal *prometheus.CounterVec

	// fetchTotal counts single upstream fetch attempts.
	fetchTotal *prometheus.CounterVec

	// coldStartTimeouts counts reads that gave up waiting on a cold cache.
	coldStartTimeouts prometheus.Counter

	// exchangeTotal counts authorization code exchanges.
	exchangeTotal *prometheus.CounterVec

	exchangeDuration prometheus.Histogram
}

// newMetrics creates the collectors with a constant variant label and
// registers them when r is not nil.
func newMetrics(variant string, r prometheus.Registerer) (*metrics, error) {
	const op = "newMetrics"
	labels := prometheus.Labels{"variant": variant}
	m := &metrics{
		refreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Subsystem:   "cache",
				Name:        "refresh_total",
				Help:        "Total number of provider metadata refreshes",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		fetchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Subsystem:   "cache",
				Name:        "fetch_total",
				Help:        "Total number of upstream metadata fetch attempts",
				ConstLabels: labels,
			},
			[]string{"call", "result"},
		),
		coldStartTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Subsystem:   "cache",
				Name:        "cold_start_timeouts_total",
				Help:        "Total number of reads that timed out waiting for the first refresh",
				ConstLabels: labels,
			},
		),
		exchangeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   metricsNamespace,
				Subsystem:   "client",
				Name:        "exchange_total",
				Help:        "Total number of authorization code exchanges",
				ConstLabels: labels,
			},
			[]string{"result"},
		),
		exchangeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace:   metricsNamespace,
				Subsystem:   "client",
				Name:        "exchange_duration_seconds",
				Help:        "Authorization code exchange duration in seconds",
				Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
				ConstLabels: labels,
			},
		),
	}
	if r == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			return nil, fmt.Errorf("%s: unable to register metrics: %w", op, err)
		}
	}
	return m, nil
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.refreshTotal,
		m.fetchTotal,
		m.coldStartTimeouts,
		m.exchangeTotal,
		m.exchangeDuration,
	}
}

func resultLabel(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}
