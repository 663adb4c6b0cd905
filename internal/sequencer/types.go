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

// Package sequencer implements the core of the oracle data aggregation
// pipeline: feed registry, reporter registry, reports store, history buffer,
// clock/slot tracking, and the per-feed slot manager that ties them
// together. Batching, second-round consensus, dispatch, and transport live
// in sibling packages; this package never imports them.
package sequencer

import "sequencer/pkg/aggregate"

// FeedId identifies one oracle data feed (e.g. "BTC/USD").
type FeedId string

// SlotNumber is a monotonically increasing index into a feed's reporting
// schedule. Slot 0 is the feed's genesis slot.
type SlotNumber uint64

// ReporterId identifies one registered reporter/oracle node.
type ReporterId string

// NetworkId identifies a destination chain/network for dispatch.
type NetworkId string

// FeedDescriptor is the registry's durable configuration for one feed.
type FeedDescriptor struct {
	ID             FeedId
	Network        NetworkId
	SlotDurationMs int64
	QuorumPercent  int // 1..100
	Reducer        aggregate.ReducerKind
	TotalReporters int
}

// Report is one reporter's signed vote for one feed/slot.
type Report struct {
	FeedID       FeedId
	Slot         SlotNumber
	ReporterID   ReporterId
	Value        aggregate.VoteValue
	Signature    []byte
	ReceivedAtMs int64
}

// AggregatedUpdate is the output of a successful aggregation round, ready
// to be handed to the Votes Batcher.
type AggregatedUpdate struct {
	FeedID                FeedId
	Slot                  SlotNumber
	Network               NetworkId
	Value                 aggregate.VoteValue
	Encoded               [32]byte
	ComputedAtMs          int64
	ContributingReporters []ReporterId
}

// Suppression records a feed/slot that produced no aggregated update.
type Suppression struct {
	FeedID FeedId
	Slot   SlotNumber
	Reason aggregate.SuppressReason
}
