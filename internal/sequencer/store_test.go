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

func newTestStore() (*ReportsStore, *FeedRegistry, *ReporterRegistry) {
	return newTestStoreWithVerifier(nil)
}

func newTestStoreWithVerifier(v ReportVerifier) (*ReportsStore, *FeedRegistry, *ReporterRegistry) {
	registry := NewFeedRegistry(4)
	reporters := NewReporterRegistry(1000)
	store := NewReportsStore(4, registry, reporters, v)

	registry.Upsert(FeedDescriptor{ID: "BTC/USD", TotalReporters: 3, QuorumPercent: 50})
	reporters.Register("r1", []byte("k1"))
	reporters.Register("r2", []byte("k2"))

	return store, registry, reporters
}

type alwaysValidReportVerifier struct{}

func (alwaysValidReportVerifier) Verify(FeedId, ReporterId, []byte, []byte) (bool, error) {
	return true, nil
}

type rejectingReportVerifier struct{}

func (rejectingReportVerifier) Verify(FeedId, ReporterId, []byte, []byte) (bool, error) {
	return false, nil
}

func TestReportsStoreRejectsUnknownFeed(t *testing.T) {
	store, _, _ := newTestStore()
	err := store.Insert(Report{FeedID: "NOPE", Slot: 1, ReporterID: "r1"}, 1)
	if KindOf(err) != KindUnknownFeed {
		t.Fatalf("expected KindUnknownFeed, got %v", KindOf(err))
	}
}

func TestReportsStoreRejectsUnknownReporter(t *testing.T) {
	store, _, _ := newTestStore()
	err := store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "ghost"}, 1)
	if KindOf(err) != KindUnknownReporter {
		t.Fatalf("expected KindUnknownReporter, got %v", KindOf(err))
	}
}

func TestReportsStoreRejectsSlotOutOfWindow(t *testing.T) {
	store, _, _ := newTestStore()
	err := store.Insert(Report{FeedID: "BTC/USD", Slot: 100, ReporterID: "r1"}, 1)
	if KindOf(err) != KindSlotOutOfWindow {
		t.Fatalf("expected KindSlotOutOfWindow, got %v", KindOf(err))
	}
}

func TestReportsStoreAcceptsWithinWindow(t *testing.T) {
	store, _, _ := newTestStore()
	for _, slot := range []SlotNumber{4, 5, 6} {
		if err := store.Insert(Report{FeedID: "BTC/USD", Slot: slot, ReporterID: "r1", ReceivedAtMs: 1}, 5); err != nil {
			t.Fatalf("slot %d should be within window: %v", slot, err)
		}
	}
}

func TestReportsStoreLastWriteWinsByReceivedAtMs(t *testing.T) {
	store, _, _ := newTestStore()
	_ = store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1", ReceivedAtMs: 10, Signature: []byte("a")}, 1)
	_ = store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1", ReceivedAtMs: 20, Signature: []byte("b")}, 1)
	_ = store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1", ReceivedAtMs: 15, Signature: []byte("c")}, 1)

	reports := store.Drain("BTC/USD", 1)
	if len(reports) != 1 {
		t.Fatalf("expected 1 report for the single reporter, got %d", len(reports))
	}
	if string(reports[0].Signature) != "b" {
		t.Fatalf("expected latest (ReceivedAtMs=20) report to win, got signature %q", reports[0].Signature)
	}
}

func TestReportsStoreTieBreakIsLexicographicSignature(t *testing.T) {
	store, _, _ := newTestStore()
	_ = store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1", ReceivedAtMs: 10, Signature: []byte("aaa")}, 1)
	_ = store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1", ReceivedAtMs: 10, Signature: []byte("zzz")}, 1)

	reports := store.Drain("BTC/USD", 1)
	if len(reports) != 1 || string(reports[0].Signature) != "zzz" {
		t.Fatalf("expected lexicographically greater signature to win tie, got %+v", reports)
	}
}

func TestReportsStoreDrainIsOncePerSlot(t *testing.T) {
	store, _, _ := newTestStore()
	_ = store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1"}, 1)

	first := store.Drain("BTC/USD", 1)
	second := store.Drain("BTC/USD", 1)
	if len(first) != 1 {
		t.Fatalf("expected 1 report on first drain, got %d", len(first))
	}
	if len(second) != 0 {
		t.Fatalf("expected empty second drain, got %d", len(second))
	}
}

func TestReportsStoreRejectsInvalidSignature(t *testing.T) {
	store, _, _ := newTestStoreWithVerifier(rejectingReportVerifier{})
	err := store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1", Signature: []byte("forged")}, 1)
	if KindOf(err) != KindSignatureInvalid {
		t.Fatalf("expected KindSignatureInvalid, got %v", KindOf(err))
	}
}

func TestReportsStoreRejectedSignatureLeavesStoreUnchanged(t *testing.T) {
	store, _, _ := newTestStoreWithVerifier(rejectingReportVerifier{})
	_ = store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1", Signature: []byte("forged")}, 1)

	reports := store.Drain("BTC/USD", 1)
	if len(reports) != 0 {
		t.Fatalf("expected no reports admitted after a rejected signature, got %d", len(reports))
	}
}

func TestReportsStoreAcceptsValidSignature(t *testing.T) {
	store, _, _ := newTestStoreWithVerifier(alwaysValidReportVerifier{})
	err := store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1", Signature: []byte("real")}, 1)
	if err != nil {
		t.Fatalf("expected a verified signature to be admitted, got %v", err)
	}
}

func TestReportsStoreGC(t *testing.T) {
	store, _, _ := newTestStore()
	_ = store.Insert(Report{FeedID: "BTC/USD", Slot: 1, ReporterID: "r1"}, 1)
	_ = store.Insert(Report{FeedID: "BTC/USD", Slot: 2, ReporterID: "r1"}, 2)

	store.GC("BTC/USD", 2)

	if reports := store.Drain("BTC/USD", 1); len(reports) != 0 {
		t.Fatalf("expected slot 1 to be GC'd, found %d reports", len(reports))
	}
	if reports := store.Drain("BTC/USD", 2); len(reports) != 1 {
		t.Fatalf("expected slot 2 to survive GC, found %d reports", len(reports))
	}
}
