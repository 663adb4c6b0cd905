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
	"sync"
	"sync/atomic"
	"time"

	"sequencer/internal/telemetry"
	"sequencer/pkg/aggregate"

	"github.com/sirupsen/logrus"
)

// FeedManagerOptions configures the Feed Slot Manager.
type FeedManagerOptions struct {
	Clock        Clock
	Updates      chan<- AggregatedUpdate
	Suppressions chan<- Suppression
	Log          *logrus.Entry
}

// FeedManager runs one slot loop per registered feed: wait for the next
// slot boundary, drain the Reports Store, aggregate, and publish either an
// AggregatedUpdate or a Suppression. It reacts to FeedRegistry events
// rather than holding a pointer back into the registry, breaking the
// registry/manager dependency cycle.
type FeedManager struct {
	registry  *FeedRegistry
	store     *ReportsStore
	history   *HistoryBuffer
	opts      FeedManagerOptions

	mu      sync.Mutex
	cancels map[FeedId]context_cancelFunc

	stopped atomic.Bool
	wg      sync.WaitGroup
	stopCh  chan struct{}
}

// context_cancelFunc avoids importing context solely for a per-feed stop
// signal; each feed loop gets its own done channel, closed at most once,
// instead.
type context_cancelFunc func()

// NewFeedManager wires a manager against its dependencies. Start must be
// called once to begin consuming registry events.
func NewFeedManager(registry *FeedRegistry, store *ReportsStore, history *HistoryBuffer, opts FeedManagerOptions) *FeedManager {
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FeedManager{
		registry: registry,
		store:    store,
		history:  history,
		opts:     opts,
		cancels:  make(map[FeedId]context_cancelFunc),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the dispatch loop that reacts to registry events. It
// returns immediately; feed loops run on their own goroutines.
func (m *FeedManager) Start() {
	m.wg.Add(1)
	go m.dispatchLoop()
}

// Stop halts every running feed loop and waits for them to exit.
func (m *FeedManager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	close(m.stopCh)
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *FeedManager) dispatchLoop() {
	defer m.wg.Done()
	for {
		select {
		case ev, ok := <-m.registry.Events():
			if !ok {
				return
			}
			if ev.Added {
				m.startFeed(ev.Descriptor)
			} else {
				m.stopFeed(ev.Descriptor.ID)
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *FeedManager) startFeed(d FeedDescriptor) {
	m.mu.Lock()
	if _, exists := m.cancels[d.ID]; exists {
		m.stopFeedLocked(d.ID)
	}
	done := make(chan struct{})
	var once sync.Once
	cancel := context_cancelFunc(func() { once.Do(func() { close(done) }) })
	m.cancels[d.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runFeedLoop(d, done)
}

func (m *FeedManager) stopFeed(id FeedId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopFeedLocked(id)
}

func (m *FeedManager) stopFeedLocked(id FeedId) {
	if cancel, ok := m.cancels[id]; ok {
		cancel()
		delete(m.cancels, id)
	}
	m.history.Forget(id)
}

func (m *FeedManager) runFeedLoop(d FeedDescriptor, done <-chan struct{}) {
	defer m.wg.Done()

	genesisMs := m.opts.Clock.NowMs()
	tracker := NewSlotTracker(m.opts.Clock, genesisMs, d.SlotDurationMs)
	log := m.opts.Log.WithField("feed", string(d.ID))

	for {
		waitMs := tracker.NextBoundaryMs() - m.opts.Clock.NowMs()
		if waitMs < 0 {
			waitMs = 0
		}
		timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)

		select {
		case <-done:
			timer.Stop()
			return
		case <-m.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		slot, skipped, ok := tracker.Tick()
		if !ok {
			continue
		}
		if skipped > 0 {
			log.WithField("skipped", skipped).Warn("slot boundaries skipped")
			telemetry.SlotsSkipped.WithLabelValues(string(d.ID)).Add(float64(skipped))
		}
		m.processSlot(d, slot, log)
	}
}

func (m *FeedManager) processSlot(d FeedDescriptor, slot SlotNumber, log *logrus.Entry) {
	reports := m.store.Drain(d.ID, slot)

	votes := make([]aggregate.Vote, 0, len(reports))
	byNumericID := make(map[uint64]ReporterId, len(reports))
	for _, r := range reports {
		numericID := reporterNumericID(r.ReporterID)
		votes = append(votes, aggregate.Vote{ReporterID: numericID, Value: r.Value})
		byNumericID[numericID] = r.ReporterID
	}

	desc := aggregate.Descriptor{
		TotalReporters: d.TotalReporters,
		QuorumPercent:  d.QuorumPercent,
		Reducer:        d.Reducer,
	}

	res, suppressed, err := aggregate.Aggregate(desc, votes)
	if err != nil {
		log.WithError(err).Error("aggregation failed")
		return
	}
	if suppressed != nil {
		telemetry.AggregationsSuppressed.WithLabelValues(string(d.ID), suppressed.Reason.String()).Inc()
		if m.opts.Suppressions != nil {
			select {
			case m.opts.Suppressions <- Suppression{FeedID: d.ID, Slot: slot, Reason: suppressed.Reason}:
			default:
				log.Warn("suppression channel full, dropping notification")
			}
		}
		return
	}

	// res.ContributingReporters is the aggregator's own filtered, valid set
	// (spec.md §4.4 step 5: contributingReporters=valid.map(id)) — a
	// reporter whose vote was a VoteError is excluded there and must stay
	// excluded here, not re-derived from the raw drained reports.
	contributing := make([]ReporterId, 0, len(res.ContributingReporters))
	for _, numericID := range res.ContributingReporters {
		contributing = append(contributing, byNumericID[numericID])
	}

	update := AggregatedUpdate{
		FeedID:                d.ID,
		Slot:                  slot,
		Network:               d.Network,
		Value:                 res.Value,
		Encoded:               res.Encoded,
		ComputedAtMs:          m.opts.Clock.NowMs(),
		ContributingReporters: contributing,
	}
	m.history.Record(update)
	telemetry.AggregationsSucceeded.WithLabelValues(string(d.ID)).Inc()

	if m.opts.Updates != nil {
		select {
		case m.opts.Updates <- update:
		default:
			log.Warn("updates channel full, dropping aggregated update")
		}
	}
}

// reporterNumericID folds a ReporterId string into a uint64 for the pure
// aggregate package, which knows nothing about string identifiers.
func reporterNumericID(id ReporterId) uint64 {
	return fnvHash(string(id))
}
