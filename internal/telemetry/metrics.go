// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry is the Metrics Surface (spec.md §4.10): Prometheus
// counters, gauges, and histograms for every component, registered at
// package init time and served over an optional dedicated HTTP endpoint.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ReportsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "reports_received_total",
		Help:      "Reports accepted into the Reports Store, by feed.",
	}, []string{"feed"})

	ReportsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "reports_rejected_total",
		Help:      "Reports rejected before admission, by error kind.",
	}, []string{"kind"})

	AggregationsSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "aggregations_succeeded_total",
		Help:      "Slot aggregations that produced an AggregatedUpdate, by feed.",
	}, []string{"feed"})

	AggregationsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "aggregations_suppressed_total",
		Help:      "Slot aggregations suppressed, by feed and reason.",
	}, []string{"feed", "reason"})

	SlotsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "slots_skipped_total",
		Help:      "Slot boundaries skipped due to a late wake-up, by feed.",
	}, []string{"feed"})

	BatchesFlushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "batches_flushed_total",
		Help:      "NetworkBatches flushed, by network and trigger (size|time).",
	}, []string{"network", "trigger"})

	ConsensusLateSignatures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "consensus_late_signatures_total",
		Help:      "Signatures dropped as late or duplicate, by network.",
	}, []string{"network"})

	ConsensusTimeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "consensus_timeouts_total",
		Help:      "Batches swept into TimedOut before reaching quorum, by network.",
	}, []string{"network"})

	DispatchAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sequencer",
		Name:      "dispatch_attempts_total",
		Help:      "Dispatch attempts, by network and outcome (ok|retry|fatal).",
	}, []string{"network", "outcome"})

	DispatchLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sequencer",
		Name:      "dispatch_latency_seconds",
		Help:      "Time from batch handoff to a successful send, by network.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"network"})

	ProviderLastFailureUnixMs = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sequencer",
		Name:      "provider_last_failure_unix_ms",
		Help:      "Wall-clock time of a provider's most recent send failure, by network.",
	}, []string{"network"})
)

func init() {
	prometheus.MustRegister(
		ReportsReceived,
		ReportsRejected,
		AggregationsSucceeded,
		AggregationsSuppressed,
		SlotsSkipped,
		BatchesFlushed,
		ConsensusLateSignatures,
		ConsensusTimeouts,
		DispatchAttempts,
		DispatchLatencySeconds,
		ProviderLastFailureUnixMs,
	)
}
