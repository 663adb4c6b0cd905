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

package dispatch

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"sequencer/internal/batcher"
	"sequencer/internal/sequencer"
)

type fakeProvider struct {
	failUntil int32
	calls     atomic.Int32
	sent      []*types.Transaction
	endpoints []string
	mu        sync.Mutex
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) SendTransaction(_ context.Context, endpoint string, tx *types.Transaction) error {
	n := p.calls.Add(1)
	p.mu.Lock()
	p.endpoints = append(p.endpoints, endpoint)
	p.mu.Unlock()
	if n <= p.failUntil {
		return sequencer.NewError(sequencer.KindProviderUnavailable, "provider temporarily down")
	}
	p.mu.Lock()
	p.sent = append(p.sent, tx)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) sentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

func testNetworkConfig() NetworkConfig {
	return NetworkConfig{
		ChainID: big.NewInt(1),
		Envelope: EnvelopeOptions{
			GasLimit:  21000,
			GasTipCap: big.NewInt(1),
			GasFeeCap: big.NewInt(1),
		},
		AttemptTimeout: time.Second,
	}
}

func TestDispatcherSendsSuccessfully(t *testing.T) {
	provider := &fakeProvider{}
	d := NewDispatcher(DispatcherOptions{
		Providers: map[sequencer.NetworkId]Provider{"eth-mainnet": provider},
		Networks:  map[sequencer.NetworkId]NetworkConfig{"eth-mainnet": testNetworkConfig()},
		RetryPolicy: RetryPolicy{MaxRetries: 3, InitialBackoff: time.Millisecond},
	})
	defer d.Stop()

	batch := batcher.NetworkBatch{Network: "eth-mainnet", BlockHeight: 1, Nonce: 1}
	if err := d.HandleConsensusReached(batch, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for provider.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if provider.sentCount() != 1 {
		t.Fatalf("expected 1 transaction sent, got %d", provider.sentCount())
	}
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	provider := &fakeProvider{failUntil: 2}
	d := NewDispatcher(DispatcherOptions{
		Providers:   map[sequencer.NetworkId]Provider{"eth-mainnet": provider},
		Networks:    map[sequencer.NetworkId]NetworkConfig{"eth-mainnet": testNetworkConfig()},
		RetryPolicy: RetryPolicy{MaxRetries: 5, InitialBackoff: time.Millisecond},
	})
	defer d.Stop()

	batch := batcher.NetworkBatch{Network: "eth-mainnet", BlockHeight: 1, Nonce: 1}
	_ = d.HandleConsensusReached(batch, nil)

	deadline := time.Now().Add(2 * time.Second)
	for provider.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if provider.sentCount() != 1 {
		t.Fatalf("expected eventual success after retries, got %d sent", provider.sentCount())
	}
	if provider.calls.Load() != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", provider.calls.Load())
	}
}

func TestRetryPolicyFatalErrorsDoNotRetry(t *testing.T) {
	p := defaultRetryPolicy()
	err := sequencer.NewError(sequencer.KindInsufficientFunds, "out of gas money")
	retry, _ := p.shouldRetry(err, 1)
	if retry {
		t.Fatal("expected no retry for InsufficientFunds")
	}
}

func TestDispatcherExcludesFailingEndpoint(t *testing.T) {
	provider := &fakeProvider{failUntil: 1}
	d := NewDispatcher(DispatcherOptions{
		Providers:   map[sequencer.NetworkId]Provider{"eth-mainnet": provider},
		Networks:    map[sequencer.NetworkId]NetworkConfig{"eth-mainnet": testNetworkConfig()},
		Endpoints:   map[sequencer.NetworkId][]string{"eth-mainnet": {"https://a.example", "https://b.example"}},
		RetryPolicy: RetryPolicy{MaxRetries: 5, InitialBackoff: time.Millisecond},
	})
	defer d.Stop()

	batch := batcher.NetworkBatch{Network: "eth-mainnet", BlockHeight: 1, Nonce: 1}
	_ = d.HandleConsensusReached(batch, nil)

	deadline := time.Now().Add(2 * time.Second)
	for provider.sentCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if provider.sentCount() != 1 {
		t.Fatalf("expected eventual success, got %d sent", provider.sentCount())
	}

	provider.mu.Lock()
	endpoints := append([]string(nil), provider.endpoints...)
	provider.mu.Unlock()
	if len(endpoints) < 2 {
		t.Fatalf("expected at least 2 attempts recorded, got %v", endpoints)
	}
	if endpoints[0] == endpoints[len(endpoints)-1] {
		t.Fatalf("expected the failing endpoint to be excluded from later attempts, got %v", endpoints)
	}
}

func TestRetryPolicyBacksOffExponentially(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, InitialBackoff: 100 * time.Millisecond}
	err := sequencer.NewError(sequencer.KindProviderUnavailable, "down")

	retry, wait := p.shouldRetry(err, 1)
	if !retry || wait != 100*time.Millisecond {
		t.Fatalf("attempt 1: retry=%v wait=%v", retry, wait)
	}
	retry, wait = p.shouldRetry(err, 2)
	if !retry || wait != 200*time.Millisecond {
		t.Fatalf("attempt 2: retry=%v wait=%v", retry, wait)
	}
	retry, _ = p.shouldRetry(err, 4)
	if retry {
		t.Fatal("expected no retry once MaxRetries reached")
	}
}
