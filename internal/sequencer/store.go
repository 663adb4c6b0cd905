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

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sync"

	"sequencer/internal/telemetry"
	"sequencer/pkg/aggregate"

	"github.com/dgryski/go-rendezvous"
)

// ReportVerifier validates a reporter's signature over a first-round vote:
// sig must verify feedId_be ‖ receivedAtMs_be ‖ valueBytes (spec.md §6's
// postReport signature domain), mirroring consensus.ReporterVerifier's
// shape for the second round. Actual cryptographic primitives (BLS or
// otherwise) are injected; this package only orchestrates admission.
type ReportVerifier interface {
	Verify(feedID FeedId, reporterID ReporterId, payload, signature []byte) (bool, error)
}

// reportShard holds the slice of the Reports Store assigned to it by
// rendezvous hashing on FeedId. Sharding trades one global lock for N
// independent ones, the same tradeoff the teacher's accumulator makes when
// splitting a single hot map into per-shard tables.
type reportShard struct {
	mu   sync.RWMutex
	data map[FeedId]map[SlotNumber]map[ReporterId]Report
}

func newReportShard() *reportShard {
	return &reportShard{data: make(map[FeedId]map[SlotNumber]map[ReporterId]Report)}
}

// ReportsStore holds every report received within the admission window,
// indexed feedId -> slot -> reporterId. It applies last-write-wins by
// ReceivedAtMs, with a lexicographic-signature tie-break for identical
// timestamps (spec.md Open Question #1).
type ReportsStore struct {
	shards    []*reportShard
	rv        *rendezvous.Rendezvous
	shardName []string
	registry  *FeedRegistry
	reporters *ReporterRegistry
	verifier  ReportVerifier

	// admissionWindow bounds how far a report's slot may be from the
	// feed's current slot before it is rejected as SlotOutOfWindow.
	admissionWindow uint64
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// NewReportsStore builds a store sharded across shardCount independent
// tables, consulting registry and reporters for admission checks. verifier
// may be nil, in which case signature verification is skipped (e.g. in
// tests, or until a BLS verifier is injected in production, per spec.md's
// Non-goal of shipping key material in this repo).
func NewReportsStore(shardCount int, registry *FeedRegistry, reporters *ReporterRegistry, verifier ReportVerifier) *ReportsStore {
	if shardCount < 1 {
		shardCount = 1
	}
	names := make([]string, shardCount)
	shards := make([]*reportShard, shardCount)
	for i := range shards {
		names[i] = fmt.Sprintf("shard-%d", i)
		shards[i] = newReportShard()
	}
	return &ReportsStore{
		shards:          shards,
		rv:              rendezvous.New(names, fnvHash),
		shardName:       names,
		registry:        registry,
		reporters:       reporters,
		verifier:        verifier,
		admissionWindow: 1,
	}
}

func (s *ReportsStore) shardFor(feedID FeedId) *reportShard {
	name := s.rv.Lookup(string(feedID))
	for i, n := range s.shardName {
		if n == name {
			return s.shards[i]
		}
	}
	return s.shards[0]
}

// Insert admits one report, applying the spec's validation and
// last-write-wins ordering. currentSlot is the feed's current slot per the
// Clock & Slot Tracker, used for the SlotOutOfWindow check.
func (s *ReportsStore) Insert(r Report, currentSlot SlotNumber) error {
	if _, ok := s.registry.Get(r.FeedID); !ok {
		telemetry.ReportsRejected.WithLabelValues(KindUnknownFeed.String()).Inc()
		return NewError(KindUnknownFeed, "unknown feed %q", r.FeedID)
	}
	if !s.reporters.Known(r.ReporterID) {
		telemetry.ReportsRejected.WithLabelValues(KindUnknownReporter.String()).Inc()
		return NewError(KindUnknownReporter, "unknown reporter %q", r.ReporterID)
	}
	if !s.withinWindow(r.Slot, currentSlot) {
		telemetry.ReportsRejected.WithLabelValues(KindSlotOutOfWindow.String()).Inc()
		return NewError(KindSlotOutOfWindow, "slot %d outside window around current slot %d", r.Slot, currentSlot)
	}
	if s.verifier != nil {
		payload, err := reportSignaturePayload(r)
		if err != nil {
			telemetry.ReportsRejected.WithLabelValues(KindSignatureInvalid.String()).Inc()
			return NewError(KindSignatureInvalid, "encode report value for %q: %v", r.ReporterID, err)
		}
		valid, err := s.verifier.Verify(r.FeedID, r.ReporterID, payload, r.Signature)
		if err != nil {
			telemetry.ReportsRejected.WithLabelValues(KindSignatureInvalid.String()).Inc()
			return NewError(KindSignatureInvalid, "verify signature for %q: %v", r.ReporterID, err)
		}
		if !valid {
			telemetry.ReportsRejected.WithLabelValues(KindSignatureInvalid.String()).Inc()
			return NewError(KindSignatureInvalid, "signature invalid for reporter %q", r.ReporterID)
		}
	}

	shard := s.shardFor(r.FeedID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	slots, ok := shard.data[r.FeedID]
	if !ok {
		slots = make(map[SlotNumber]map[ReporterId]Report)
		shard.data[r.FeedID] = slots
	}
	reports, ok := slots[r.Slot]
	if !ok {
		reports = make(map[ReporterId]Report)
		slots[r.Slot] = reports
	}

	if existing, ok := reports[r.ReporterID]; ok {
		if !newerReport(r, existing) {
			return nil
		}
	}
	reports[r.ReporterID] = r
	telemetry.ReportsReceived.WithLabelValues(string(r.FeedID)).Inc()
	return nil
}

// reportSignaturePayload builds the exact byte domain a Report's signature
// must verify against: feedId_be ‖ receivedAtMs_be ‖ valueBytes (spec.md
// §6). feedId is folded to a uint64 via fnvHash since FeedId is a string
// here rather than the wire format's u32.
func reportSignaturePayload(r Report) ([]byte, error) {
	valueBytes, err := aggregate.Encode32(r.Value)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8+8+len(valueBytes))
	binary.BigEndian.PutUint64(buf[0:8], fnvHash(string(r.FeedID)))
	binary.BigEndian.PutUint64(buf[8:16], uint64(r.ReceivedAtMs))
	copy(buf[16:], valueBytes[:])
	return buf, nil
}

// newerReport reports whether candidate should replace existing under
// last-write-wins-by-ReceivedAtMs, with a lexicographic signature tie-break
// for identical timestamps (spec.md Open Question #1).
func newerReport(candidate, existing Report) bool {
	if candidate.ReceivedAtMs != existing.ReceivedAtMs {
		return candidate.ReceivedAtMs > existing.ReceivedAtMs
	}
	return bytes.Compare(candidate.Signature, existing.Signature) > 0
}

func (s *ReportsStore) withinWindow(slot, current SlotNumber) bool {
	lo := int64(current) - int64(s.admissionWindow)
	hi := int64(current) + int64(s.admissionWindow)
	return int64(slot) >= lo && int64(slot) <= hi
}

// Drain returns every report recorded for feedId/slot and removes them from
// the store, so a feed/slot is aggregated at most once.
func (s *ReportsStore) Drain(feedID FeedId, slot SlotNumber) []Report {
	shard := s.shardFor(feedID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	slots, ok := shard.data[feedID]
	if !ok {
		return nil
	}
	reports, ok := slots[slot]
	if !ok {
		return nil
	}
	out := make([]Report, 0, len(reports))
	for _, r := range reports {
		out = append(out, r)
	}
	delete(slots, slot)
	if len(slots) == 0 {
		delete(shard.data, feedID)
	}
	return out
}

// GC drops any slots for feedId strictly older than olderThan, reclaiming
// memory for reports that were never drained (e.g. a feed removed mid-slot).
func (s *ReportsStore) GC(feedID FeedId, olderThan SlotNumber) {
	shard := s.shardFor(feedID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	slots, ok := shard.data[feedID]
	if !ok {
		return
	}
	for slot := range slots {
		if slot < olderThan {
			delete(slots, slot)
		}
	}
	if len(slots) == 0 {
		delete(shard.data, feedID)
	}
}
