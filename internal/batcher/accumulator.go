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
	"time"

	"sequencer/internal/sequencer"
)

// networkBucket accumulates AggregatedUpdates for one network between
// flushes. Adapted from the teacher's per-key shard table, simplified
// because the key cardinality here (number of destination networks) is
// small and known ahead of time, unlike the open-ended keyspace the
// teacher's open-addressed table was built to absorb.
type networkBucket struct {
	mu        sync.Mutex
	network   sequencer.NetworkId
	updates   []sequencer.AggregatedUpdate
	lastFlush time.Time
	firstAt   time.Time // when the oldest pending update entered the bucket
}

func newNetworkBucket(network sequencer.NetworkId) *networkBucket {
	return &networkBucket{network: network, lastFlush: time.Now()}
}

// ingest appends an update and reports whether the bucket has crossed
// maxKeys and should be flushed immediately.
func (b *networkBucket) ingest(u sequencer.AggregatedUpdate, maxKeys int) (shouldFlush bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.updates) == 0 {
		b.firstAt = time.Now()
	}
	b.updates = append(b.updates, u)
	return len(b.updates) >= maxKeys
}

// dueByTime reports whether the bucket has pending updates and flushInterval
// has elapsed since the first of them entered the bucket.
func (b *networkBucket) dueByTime(flushInterval time.Duration, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.updates) > 0 && now.Sub(b.firstAt) >= flushInterval
}

// drain empties the bucket and returns what it held.
func (b *networkBucket) drain(now time.Time) []sequencer.AggregatedUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.updates
	b.updates = nil
	b.lastFlush = now
	return out
}

// Accumulator owns one bucket per network and decides, on every Ingest,
// whether a flush is due.
type Accumulator struct {
	mu      sync.RWMutex
	buckets map[sequencer.NetworkId]*networkBucket
	maxKeys int
}

// NewAccumulator builds an empty accumulator. maxKeys is the count-based
// flush threshold (spec.md maxKeysToBatch).
func NewAccumulator(maxKeys int) *Accumulator {
	if maxKeys < 1 {
		maxKeys = 1
	}
	return &Accumulator{buckets: make(map[sequencer.NetworkId]*networkBucket), maxKeys: maxKeys}
}

func (a *Accumulator) bucketFor(network sequencer.NetworkId) *networkBucket {
	a.mu.RLock()
	b, ok := a.buckets[network]
	a.mu.RUnlock()
	if ok {
		return b
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.buckets[network]; ok {
		return b
	}
	b = newNetworkBucket(network)
	a.buckets[network] = b
	return b
}

// Ingest adds u to its network's bucket and reports whether a size-based
// flush should fire immediately.
func (a *Accumulator) Ingest(u sequencer.AggregatedUpdate) (network sequencer.NetworkId, shouldFlush bool) {
	b := a.bucketFor(u.Network)
	return u.Network, b.ingest(u, a.maxKeys)
}

// DueNetworks returns every network whose bucket has pending updates older
// than flushInterval.
func (a *Accumulator) DueNetworks(flushInterval time.Duration, now time.Time) []sequencer.NetworkId {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var due []sequencer.NetworkId
	for network, b := range a.buckets {
		if b.dueByTime(flushInterval, now) {
			due = append(due, network)
		}
	}
	return due
}

// Drain empties and returns the pending updates for network.
func (a *Accumulator) Drain(network sequencer.NetworkId) []sequencer.AggregatedUpdate {
	b := a.bucketFor(network)
	return b.drain(time.Now())
}

// DrainAll empties every bucket, used on shutdown to flush whatever is left.
func (a *Accumulator) DrainAll() map[sequencer.NetworkId][]sequencer.AggregatedUpdate {
	a.mu.RLock()
	networks := make([]sequencer.NetworkId, 0, len(a.buckets))
	for n := range a.buckets {
		networks = append(networks, n)
	}
	a.mu.RUnlock()

	out := make(map[sequencer.NetworkId][]sequencer.AggregatedUpdate, len(networks))
	for _, n := range networks {
		if updates := a.Drain(n); len(updates) > 0 {
			out[n] = updates
		}
	}
	return out
}
