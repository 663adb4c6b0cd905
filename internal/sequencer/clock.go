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

import "time"

// Clock abstracts wall-clock access so tests can drive slot arithmetic
// deterministically instead of sleeping in real time.
type Clock interface {
	NowMs() int64
}

// systemClock is the production Clock, backed by time.Now.
type systemClock struct{}

func (systemClock) NowMs() int64 { return time.Now().UnixMilli() }

// SystemClock is the shared production Clock instance.
var SystemClock Clock = systemClock{}

// SlotAt returns the slot number containing nowMs for a feed whose genesis
// (slot 0) began at genesisMs with the given slot duration.
func SlotAt(genesisMs, slotDurationMs, nowMs int64) SlotNumber {
	if slotDurationMs <= 0 {
		return 0
	}
	elapsed := nowMs - genesisMs
	if elapsed < 0 {
		return 0
	}
	return SlotNumber(elapsed / slotDurationMs)
}

// SlotBoundaryMs returns the wall-clock millisecond at which slot begins.
func SlotBoundaryMs(genesisMs, slotDurationMs int64, slot SlotNumber) int64 {
	return genesisMs + int64(slot)*slotDurationMs
}

// SlotTracker emits one tick per slot boundary for a single feed. On a late
// wake (the process was descheduled past one or more boundaries) it emits a
// single tick for the most recent boundary and reports how many boundaries
// were skipped, rather than bursting a catch-up tick per missed boundary
// (spec.md §4.1).
type SlotTracker struct {
	clock          Clock
	genesisMs      int64
	slotDurationMs int64
	lastEmitted    SlotNumber
	started        bool
}

// NewSlotTracker builds a tracker for a feed with the given genesis time and
// slot duration.
func NewSlotTracker(clock Clock, genesisMs, slotDurationMs int64) *SlotTracker {
	return &SlotTracker{clock: clock, genesisMs: genesisMs, slotDurationMs: slotDurationMs}
}

// Tick observes the current time and returns the slot to process along with
// how many boundaries were skipped since the last call (0 on the first
// call and on every on-time call). ok is false if no new boundary has been
// reached yet.
func (t *SlotTracker) Tick() (slot SlotNumber, skipped uint64, ok bool) {
	now := t.clock.NowMs()
	current := SlotAt(t.genesisMs, t.slotDurationMs, now)

	if !t.started {
		t.started = true
		t.lastEmitted = current
		return current, 0, true
	}
	if current <= t.lastEmitted {
		return 0, 0, false
	}
	skipped = uint64(current-t.lastEmitted) - 1
	t.lastEmitted = current
	return current, skipped, true
}

// NextBoundaryMs returns the wall-clock time of the next slot boundary after
// the last one this tracker emitted.
func (t *SlotTracker) NextBoundaryMs() int64 {
	return SlotBoundaryMs(t.genesisMs, t.slotDurationMs, t.lastEmitted+1)
}
