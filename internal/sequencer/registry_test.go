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

import "testing"

func TestFeedRegistryUpsertAndGet(t *testing.T) {
	r := NewFeedRegistry(4)
	d := FeedDescriptor{ID: "BTC/USD", SlotDurationMs: 1000, QuorumPercent: 67, TotalReporters: 5}
	r.Upsert(d)

	got, ok := r.Get("BTC/USD")
	if !ok {
		t.Fatal("expected feed to be present after Upsert")
	}
	if got != d {
		t.Errorf("got %+v, want %+v", got, d)
	}
}

func TestFeedRegistryEmitsEvents(t *testing.T) {
	r := NewFeedRegistry(4)
	d := FeedDescriptor{ID: "BTC/USD"}
	r.Upsert(d)

	ev := <-r.Events()
	if !ev.Added || ev.Descriptor.ID != "BTC/USD" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	r.Remove("BTC/USD")
	ev = <-r.Events()
	if ev.Added {
		t.Fatalf("expected removal event, got %+v", ev)
	}
}

func TestFeedRegistrySnapshotIsACopy(t *testing.T) {
	r := NewFeedRegistry(4)
	r.Upsert(FeedDescriptor{ID: "A"})
	r.Upsert(FeedDescriptor{ID: "B"})

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 feeds in snapshot, got %d", len(snap))
	}

	delete(snap, "A")
	if _, ok := r.Get("A"); !ok {
		t.Fatal("mutating the snapshot must not affect the registry")
	}
}

func TestFeedRegistryGetUnknown(t *testing.T) {
	r := NewFeedRegistry(4)
	if _, ok := r.Get("nope"); ok {
		t.Fatal("expected unknown feed to report ok=false")
	}
}
