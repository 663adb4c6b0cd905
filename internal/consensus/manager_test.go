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
	"testing"
	"time"

	"sequencer/internal/batcher"
	"sequencer/internal/sequencer"
)

type alwaysValidVerifier struct{}

func (alwaysValidVerifier) Verify(BatchKey, sequencer.ReporterId, []byte, []byte) (bool, error) {
	return true, nil
}

type rejectingVerifier struct{}

func (rejectingVerifier) Verify(BatchKey, sequencer.ReporterId, []byte, []byte) (bool, error) {
	return false, nil
}

type collectingQuorumSink struct {
	mu      sync.Mutex
	reached []batcher.NetworkBatch
}

func (c *collectingQuorumSink) HandleConsensusReached(b batcher.NetworkBatch, _ map[sequencer.ReporterId][]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reached = append(c.reached, b)
	return nil
}

func (c *collectingQuorumSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reached)
}

func testBatch(network sequencer.NetworkId, height uint64) batcher.NetworkBatch {
	return batcher.NetworkBatch{Network: network, BlockHeight: height}
}

func TestManagerReachesQuorum(t *testing.T) {
	sink := &collectingQuorumSink{}
	m := NewManager(ManagerOptions{
		RequiredQuorum: func(sequencer.NetworkId) int { return 2 },
		Verifier:       alwaysValidVerifier{},
		Sink:           sink,
		Timeout:        time.Hour,
	})

	key := BatchKey{Network: "eth-mainnet", BlockHeight: 1}
	if err := m.HandleBatch(testBatch("eth-mainnet", 1)); err != nil {
		t.Fatalf("unexpected error opening batch: %v", err)
	}

	if err := m.AddSignature(key, "r1", []byte("payload"), []byte("sig1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, _ := m.Snapshot(key)
	if snap.State != StateOpen {
		t.Fatalf("expected Open after 1/2 signatures, got %v", snap.State)
	}

	if err := m.AddSignature(key, "r2", []byte("payload"), []byte("sig2")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected quorum sink invoked once, got %d", sink.count())
	}
}

func TestManagerRejectsInvalidSignature(t *testing.T) {
	m := NewManager(ManagerOptions{
		RequiredQuorum: func(sequencer.NetworkId) int { return 1 },
		Verifier:       rejectingVerifier{},
		Timeout:        time.Hour,
	})
	key := BatchKey{Network: "eth-mainnet", BlockHeight: 1}
	_ = m.HandleBatch(testBatch("eth-mainnet", 1))

	err := m.AddSignature(key, "r1", []byte("payload"), []byte("bad-sig"))
	if err == nil {
		t.Fatal("expected error for invalid signature")
	}
	if sequencer.KindOf(err) != sequencer.KindSignatureInvalid {
		t.Fatalf("expected KindSignatureInvalid, got %v", sequencer.KindOf(err))
	}
}

func TestManagerDuplicateSignatureCountsAsLate(t *testing.T) {
	m := NewManager(ManagerOptions{
		RequiredQuorum: func(sequencer.NetworkId) int { return 5 },
		Verifier:       alwaysValidVerifier{},
		Timeout:        time.Hour,
	})
	key := BatchKey{Network: "eth-mainnet", BlockHeight: 1}
	_ = m.HandleBatch(testBatch("eth-mainnet", 1))

	_ = m.AddSignature(key, "r1", []byte("p"), []byte("sig1"))
	_ = m.AddSignature(key, "r1", []byte("p"), []byte("sig1-again"))

	snap, _ := m.Snapshot(key)
	if snap.SignatureCount != 1 {
		t.Fatalf("expected 1 distinct signature, got %d", snap.SignatureCount)
	}
	if snap.LateSignatures != 1 {
		t.Fatalf("expected 1 late/duplicate signature counted, got %d", snap.LateSignatures)
	}
}

func TestManagerSweepsTimedOutBatch(t *testing.T) {
	m := NewManager(ManagerOptions{
		RequiredQuorum: func(sequencer.NetworkId) int { return 10 },
		Verifier:       alwaysValidVerifier{},
		Timeout:        20 * time.Millisecond,
		SweepInterval:  10 * time.Millisecond,
	})
	key := BatchKey{Network: "eth-mainnet", BlockHeight: 1}
	_ = m.HandleBatch(testBatch("eth-mainnet", 1))

	m.Start()
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("batch was never swept away")
		}
		if _, ok := m.Snapshot(key); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManagerRejectsDuplicateOpen(t *testing.T) {
	m := NewManager(ManagerOptions{Timeout: time.Hour})
	b := testBatch("eth-mainnet", 1)
	if err := m.HandleBatch(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.HandleBatch(b); err == nil {
		t.Fatal("expected error re-opening an already-open batch")
	}
}
