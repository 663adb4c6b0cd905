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

package batcher

import (
	"sync"
	"testing"
	"time"

	"sequencer/internal/sequencer"
)

type collectingSink struct {
	mu      sync.Mutex
	batches []NetworkBatch
}

func (c *collectingSink) HandleBatch(b NetworkBatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return nil
}

func (c *collectingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func update(feed string, network sequencer.NetworkId, slot sequencer.SlotNumber) sequencer.AggregatedUpdate {
	return sequencer.AggregatedUpdate{
		FeedID:  sequencer.FeedId(feed),
		Slot:    slot,
		Network: network,
	}
}

func TestServiceFlushesOnSizeThreshold(t *testing.T) {
	sink := &collectingSink{}
	svc := NewService(ServiceOptions{
		MaxKeysToBatch: 3,
		FlushInterval:  time.Hour,
		Sink:           sink,
	})
	svc.Start()
	defer svc.Stop()

	for i := 0; i < 3; i++ {
		svc.Ingest(update("BTC/USD", "eth-mainnet", sequencer.SlotNumber(i)))
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 batch flushed by size, got %d", sink.count())
	}
}

func TestServiceFlushesOnTimeThreshold(t *testing.T) {
	sink := &collectingSink{}
	svc := NewService(ServiceOptions{
		MaxKeysToBatch: 1000,
		FlushInterval:  30 * time.Millisecond,
		Sink:           sink,
	})
	svc.Start()
	defer svc.Stop()

	svc.Ingest(update("ETH/USD", "eth-mainnet", 1))

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 batch flushed by time, got %d", sink.count())
	}
}

func TestServiceStopFlushesRemaining(t *testing.T) {
	sink := &collectingSink{}
	svc := NewService(ServiceOptions{
		MaxKeysToBatch: 1000,
		FlushInterval:  time.Hour,
		Sink:           sink,
	})
	svc.Start()

	svc.Ingest(update("BTC/USD", "eth-mainnet", 1))
	svc.Ingest(update("BTC/USD", "polygon", 1))

	svc.Stop()

	if sink.count() != 2 {
		t.Fatalf("expected 2 batches (one per network) after stop, got %d", sink.count())
	}
}

func TestServiceSeparatesNetworks(t *testing.T) {
	sink := &collectingSink{}
	svc := NewService(ServiceOptions{
		MaxKeysToBatch: 1,
		FlushInterval:  time.Hour,
		Sink:           sink,
	})
	svc.Start()
	defer svc.Stop()

	svc.Ingest(update("BTC/USD", "eth-mainnet", 1))
	svc.Ingest(update("BTC/USD", "polygon", 1))

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 2 {
		t.Fatalf("expected 2 separate batches, got %d", sink.count())
	}
}
