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

package sequencer

import "sync"

// FeedEvent is emitted on the registry's command channel whenever a feed is
// added or removed, so the Feed Slot Manager can react without holding a
// pointer back into the registry.
type FeedEvent struct {
	Added    bool // false means removed
	Descriptor FeedDescriptor
}

// FeedRegistry is the durable source of truth for which feeds exist and how
// they are configured. Reads take a consistent point-in-time snapshot;
// writes never block readers for longer than a map copy.
type FeedRegistry struct {
	mu     sync.RWMutex
	feeds  map[FeedId]FeedDescriptor
	events chan FeedEvent
}

// NewFeedRegistry builds an empty registry. eventBuffer sizes the command
// channel the Feed Slot Manager drains; a full channel blocks Upsert/Remove,
// matching the bounded-channel backpressure idiom used across this repo.
func NewFeedRegistry(eventBuffer int) *FeedRegistry {
	return &FeedRegistry{
		feeds:  make(map[FeedId]FeedDescriptor),
		events: make(chan FeedEvent, eventBuffer),
	}
}

// Events returns the channel the Feed Slot Manager should range over.
func (r *FeedRegistry) Events() <-chan FeedEvent { return r.events }

// Upsert adds a new feed or replaces an existing descriptor, and emits a
// FeedEvent so subscribers can (re)start the feed's slot loop.
func (r *FeedRegistry) Upsert(d FeedDescriptor) {
	r.mu.Lock()
	r.feeds[d.ID] = d
	r.mu.Unlock()
	r.events <- FeedEvent{Added: true, Descriptor: d}
}

// Remove deletes a feed and emits a removal FeedEvent. Removing an unknown
// feed is a no-op other than an informational event with a zero-value
// descriptor carrying only the ID.
func (r *FeedRegistry) Remove(id FeedId) {
	r.mu.Lock()
	d, ok := r.feeds[id]
	delete(r.feeds, id)
	r.mu.Unlock()
	if !ok {
		d = FeedDescriptor{ID: id}
	}
	r.events <- FeedEvent{Added: false, Descriptor: d}
}

// Get returns the descriptor for id and whether it exists.
func (r *FeedRegistry) Get(id FeedId) (FeedDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.feeds[id]
	return d, ok
}

// Snapshot returns a point-in-time copy of all registered feeds. The copy is
// taken under a single RLock so concurrent Upsert/Remove calls cannot tear
// it.
func (r *FeedRegistry) Snapshot() map[FeedId]FeedDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[FeedId]FeedDescriptor, len(r.feeds))
	for k, v := range r.feeds {
		out[k] = v
	}
	return out
}

// Count returns the number of registered feeds.
func (r *FeedRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}
