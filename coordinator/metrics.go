// Copyright (c) sqlitevfs authors
// SPDX-License-Identifier: MPL-2.0

package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type serverMetrics struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	lockRequests        *prometheus.CounterVec
	walIndexRequests    *prometheus.CounterVec
	openPaths           prometheus.Gauge
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	return &serverMetrics{
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "connections_accepted",
			Help: "connections_accepted counts inbound connections accepted on the listener.",
		}),
		connectionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "connections_closed",
			Help: "connections_closed counts connections whose per-connection loop has exited" +
				" and whose cleanup has run.",
		}),
		lockRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lock_requests",
				Help: "lock_requests counts Lock requests categorized by outcome (granted, denied).",
			},
			[]string{"outcome"},
		),
		walIndexRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "wal_index_requests",
				Help: "wal_index_requests counts LockWalIndex requests categorized by outcome" +
					" (granted, denied).",
			},
			[]string{"outcome"},
		),
		openPaths: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "open_paths",
			Help: "open_paths is the number of distinct database paths with live registry entries.",
		}),
	}
}
