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

// This file exercises FeedManager from outside the sequencer package so it
// can depend on the sequencertest harness, which itself imports sequencer;
// an internal test file here would create an import cycle.
package sequencer_test

import (
	"testing"
	"time"

	"sequencer/internal/sequencer"
	"sequencer/internal/sequencertest"
	"sequencer/pkg/aggregate"
)

func TestFeedManagerStartAndStopIsClean(t *testing.T) {
	h := sequencertest.New(0)
	updates := make(chan sequencer.AggregatedUpdate, 8)
	suppressions := make(chan sequencer.Suppression, 8)

	mgr := sequencer.NewFeedManager(h.Registry, h.Store, h.History, sequencer.FeedManagerOptions{
		Updates:      updates,
		Suppressions: suppressions,
	})
	mgr.Start()

	h.RegisterReporter("r1")
	h.RegisterFeed(sequencer.FeedDescriptor{
		ID:             "BTC/USD",
		SlotDurationMs: 10,
		QuorumPercent:  100,
		TotalReporters: 1,
		Reducer:        aggregate.ReducerMean,
	})

	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		mgr.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return; feed loop likely failed to exit cleanly")
	}
}

func TestFeedManagerForgetsHistoryOnRemoval(t *testing.T) {
	h := sequencertest.New(0)
	updates := make(chan sequencer.AggregatedUpdate, 8)
	suppressions := make(chan sequencer.Suppression, 8)

	mgr := sequencer.NewFeedManager(h.Registry, h.Store, h.History, sequencer.FeedManagerOptions{
		Updates:      updates,
		Suppressions: suppressions,
	})
	mgr.Start()
	defer mgr.Stop()

	h.RegisterFeed(sequencer.FeedDescriptor{
		ID:             "ETH/USD",
		SlotDurationMs: 10,
		QuorumPercent:  100,
		TotalReporters: 1,
		Reducer:        aggregate.ReducerMean,
	})

	h.History.Record(sequencer.AggregatedUpdate{FeedID: "ETH/USD", Slot: 1})
	if _, ok := h.History.Latest("ETH/USD"); !ok {
		t.Fatal("expected a recorded history entry before removal")
	}

	h.Registry.Remove("ETH/USD")
	time.Sleep(50 * time.Millisecond)

	if _, ok := h.History.Latest("ETH/USD"); ok {
		t.Fatal("expected history to be forgotten after feed removal")
	}
}
