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

// Package sequencertest provides a small, shared test harness for wiring a
// FeedRegistry, ReporterRegistry, ReportsStore, and HistoryBuffer, with a
// fake clock alongside for components that accept one, so package tests across the module don't each re-derive the
// same wiring from scratch.
package sequencertest

import (
	"sync"

	"sequencer/internal/sequencer"
)

// FakeClock is a manually-advanced Clock for deterministic slot arithmetic
// in tests.
type FakeClock struct {
	mu sync.Mutex
	ms int64
}

// NewFakeClock builds a clock starting at startMs.
func NewFakeClock(startMs int64) *FakeClock {
	return &FakeClock{ms: startMs}
}

// NowMs implements sequencer.Clock.
func (c *FakeClock) NowMs() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ms
}

// Advance moves the clock forward by deltaMs.
func (c *FakeClock) Advance(deltaMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ms += deltaMs
}

// Harness bundles the core in-memory components with a shared fake clock.
// None of the four components takes a Clock; the fake clock only drives
// what a test passes it to (e.g. FeedManagerOptions.Clock). The wiring mirrors the canonical in-memory test setup used throughout this
// codebase's ancestry: a registry, a reporter registry, a reports store,
// and a history buffer, wired together the same way production code wires
// them.
type Harness struct {
	Clock     *FakeClock
	Registry  *sequencer.FeedRegistry
	Reporters *sequencer.ReporterRegistry
	Store     *sequencer.ReportsStore
	History   *sequencer.HistoryBuffer
}

// New builds a Harness with sensible defaults for unit tests: a small
// event buffer, a generous per-reporter activity allowance, 4 store shards,
// and a 16-entry history ring.
func New(startMs int64) *Harness {
	registry := sequencer.NewFeedRegistry(16)
	reporters := sequencer.NewReporterRegistry(10_000)
	store := sequencer.NewReportsStore(4, registry, reporters, nil)
	history := sequencer.NewHistoryBuffer(16)
	return &Harness{
		Clock:     NewFakeClock(startMs),
		Registry:  registry,
		Reporters: reporters,
		Store:     store,
		History:   history,
	}
}

// RegisterFeed upserts a feed descriptor into the harness's registry.
func (h *Harness) RegisterFeed(d sequencer.FeedDescriptor) {
	h.Registry.Upsert(d)
}

// RegisterReporter registers a reporter with a throwaway public key, enough
// for admission checks that don't exercise signature verification.
func (h *Harness) RegisterReporter(id sequencer.ReporterId) {
	h.Reporters.Register(id, []byte("test-key:"+string(id)))
}
