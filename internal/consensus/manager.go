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

package consensus

import (
	"sync"
	"sync/atomic"
	"time"

	"sequencer/internal/batcher"
	"sequencer/internal/sequencer"
	"sequencer/internal/telemetry"

	"github.com/sirupsen/logrus"
)

// QuorumSink receives a batch once its second-round signatures reach
// quorum, paired with the signatures collected for it.
type QuorumSink interface {
	HandleConsensusReached(batch batcher.NetworkBatch, signatures map[sequencer.ReporterId][]byte) error
}

// ManagerOptions configures the consensus Manager.
type ManagerOptions struct {
	RequiredQuorum   func(network sequencer.NetworkId) int
	Verifier         ReporterVerifier
	Sink             QuorumSink
	Timeout          time.Duration
	SweepInterval    time.Duration
	Log              *logrus.Entry
}

type batchEntry struct {
	mu         sync.Mutex
	state      State
	batch      batcher.NetworkBatch
	signatures map[sequencer.ReporterId][]byte
	arrivals   *arrivalLog
	quorum     int
	lateCount  int
	openedAtMs int64
	resolvedAtMs int64
	deadline   time.Time
}

// Manager tracks second-round consensus for every in-flight batch, keyed by
// (network, blockHeight). Signature handling is idempotent: a new signature
// either advances the entry toward quorum, or — if the entry has already
// resolved, or the reporter already signed — is dropped and counted as a
// late signature, mirroring the teacher's idempotent-commit-marker shape in
// `persistence/redis.go` (SETNX-style "first write wins" applied here to
// which signature advances state, instead of which write persists).
type Manager struct {
	mu      sync.Mutex
	batches map[BatchKey]*batchEntry
	opts    ManagerOptions

	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewManager builds a Manager. Call Start to begin the timeout sweep loop.
func NewManager(opts ManagerOptions) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Second
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		batches: make(map[BatchKey]*batchEntry),
		opts:    opts,
		stopCh:  make(chan struct{}),
	}
}

// HandleBatch registers a newly-finalized batch awaiting second-round
// signatures. It implements batcher.BatchSink so the Votes Batcher can hand
// batches directly to consensus.
func (m *Manager) HandleBatch(batch batcher.NetworkBatch) error {
	key := BatchKey{Network: batch.Network, BlockHeight: batch.BlockHeight}
	quorum := 1
	if m.opts.RequiredQuorum != nil {
		quorum = m.opts.RequiredQuorum(batch.Network)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.batches[key]; exists {
		return sequencer.NewError(sequencer.KindConsensusTimeout, "batch %+v already open", key)
	}
	now := time.Now()
	m.batches[key] = &batchEntry{
		state:      StateOpen,
		batch:      batch,
		signatures: make(map[sequencer.ReporterId][]byte),
		arrivals:   newArrivalLog(),
		quorum:     quorum,
		openedAtMs: now.UnixMilli(),
		deadline:   now.Add(m.opts.Timeout),
	}
	return nil
}

// AddSignature submits one reporter's signature over a batch's calldata.
// It verifies the signature before any state mutation. Invalid signatures
// are rejected with KindSignatureInvalid; signatures for unknown batches
// with KindUnknownFeed is not appropriate here, so an unknown batch key
// reports KindConsensusTimeout (the batch has either not been opened yet or
// has already been swept away).
func (m *Manager) AddSignature(key BatchKey, reporterID sequencer.ReporterId, payload, signature []byte) error {
	m.mu.Lock()
	entry, ok := m.batches[key]
	m.mu.Unlock()
	if !ok {
		return sequencer.NewError(sequencer.KindConsensusTimeout, "no open batch for %+v", key)
	}

	if m.opts.Verifier != nil {
		valid, err := m.opts.Verifier.Verify(key, reporterID, payload, signature)
		if err != nil {
			return err
		}
		if !valid {
			return sequencer.NewError(sequencer.KindSignatureInvalid, "signature invalid for reporter %q", reporterID)
		}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.state != StateOpen {
		entry.lateCount++
		telemetry.ConsensusLateSignatures.WithLabelValues(string(key.Network)).Inc()
		return sequencer.NewError(sequencer.KindConsensusTimeout, "batch %+v already resolved (%s)", key, entry.state)
	}
	if _, dup := entry.signatures[reporterID]; dup {
		entry.lateCount++
		telemetry.ConsensusLateSignatures.WithLabelValues(string(key.Network)).Inc()
		return nil
	}

	entry.signatures[reporterID] = signature
	entry.arrivals.record(reporterID)

	if len(entry.signatures) >= entry.quorum {
		entry.state = StateQuorum
		entry.resolvedAtMs = time.Now().UnixMilli()
		m.deliverLocked(key, entry)
	}
	return nil
}

func (m *Manager) deliverLocked(key BatchKey, entry *batchEntry) {
	if m.opts.Sink == nil {
		return
	}
	sigs := make(map[sequencer.ReporterId][]byte, len(entry.signatures))
	for k, v := range entry.signatures {
		sigs[k] = v
	}
	batch := entry.batch
	go func() {
		if err := m.opts.Sink.HandleConsensusReached(batch, sigs); err != nil {
			m.opts.Log.WithError(err).WithField("batch", key).Error("consensus sink rejected batch")
		}
	}()
}

// Snapshot returns the current state of a tracked batch, if any.
func (m *Manager) Snapshot(key BatchKey) (BatchConsensusState, bool) {
	m.mu.Lock()
	entry, ok := m.batches[key]
	m.mu.Unlock()
	if !ok {
		return BatchConsensusState{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return BatchConsensusState{
		Key:            key,
		State:          entry.state,
		SignatureCount: len(entry.signatures),
		RequiredQuorum: entry.quorum,
		ArrivalOrder:   entry.arrivals.snapshot(),
		LateSignatures: entry.lateCount,
		OpenedAtMs:     entry.openedAtMs,
		ResolvedAtMs:   entry.resolvedAtMs,
	}, true
}

// Start launches the periodic timeout sweep.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

// Stop halts the sweep loop.
func (m *Manager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	m.mu.Lock()
	keys := make([]BatchKey, 0, len(m.batches))
	for k := range m.batches {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, key := range keys {
		m.mu.Lock()
		entry, ok := m.batches[key]
		m.mu.Unlock()
		if !ok {
			continue
		}
		entry.mu.Lock()
		if entry.state == StateOpen && now.After(entry.deadline) {
			entry.state = StateTimedOut
			entry.resolvedAtMs = now.UnixMilli()
			m.opts.Log.WithField("batch", key).Warn("second-round consensus timed out")
			telemetry.ConsensusTimeouts.WithLabelValues(string(key.Network)).Inc()
		}
		resolved := entry.state != StateOpen
		entry.mu.Unlock()

		if resolved {
			m.mu.Lock()
			delete(m.batches, key)
			m.mu.Unlock()
		}
	}
}
