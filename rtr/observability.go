// Copyright 2023 Trustplane Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rtr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type engineMetrics struct {
	reconfigurations prometheus.Counter
	recalculations   prometheus.Counter
	roaExpired       prometheus.Counter
	aspaExpired      prometheus.Counter
	parentMessages   *prometheus.CounterVec
	peerDrops        prometheus.Counter
	snapshotROAs     prometheus.Gauge
	snapshotASPAs    prometheus.Gauge
	openSessions     prometheus.Gauge
}

var metrics = engineMetrics{
	reconfigurations: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtr",
		Name:      "reconfigurations_total",
		Help:      "The number of committed reconfigurations.",
	}),
	recalculations: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtr",
		Name:      "recalculations_total",
		Help:      "The number of snapshot recalculations.",
	}),
	roaExpired: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtr",
		Name:      "roa_expired_total",
		Help:      "The number of ROA entries removed by expiry.",
	}),
	aspaExpired: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtr",
		Name:      "aspa_expired_total",
		Help:      "The number of ASPA sets removed by expiry.",
	}),
	parentMessages: promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rtr",
		Name:      "parent_messages_total",
		Help:      "The number of messages received on the parent channel.",
	}, []string{"type"}),
	peerDrops: promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rtr",
		Name:      "peer_dropped_messages_total",
		Help:      "The number of snapshot messages dropped for lack of a peer channel.",
	}),
	snapshotROAs: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtr",
		Name:      "snapshot_roa_entries",
		Help:      "The number of ROA entries in the last published snapshot.",
	}),
	snapshotASPAs: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtr",
		Name:      "snapshot_aspa_sets",
		Help:      "The number of ASPA sets in the last published snapshot.",
	}),
	openSessions: promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "rtr",
		Name:      "open_sessions",
		Help:      "The number of router sessions with an attached connection.",
	}),
}
