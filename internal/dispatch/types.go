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

// Package dispatch implements the Transaction Dispatcher (spec.md §4.9):
// one serial sender per network, retrying recoverable provider errors with
// backoff and failing fast on unrecoverable ones, building and sending
// on-chain envelopes for consensus-approved batches.
package dispatch

import (
	"context"

	"github.com/ethereum/go-ethereum/core/types"

	"sequencer/internal/batcher"
	"sequencer/internal/sequencer"
)

// Provider sends a signed transaction to one of a network's configured RPC
// endpoints. endpoint is the URL the Dispatcher's EndpointSelector picked
// for this attempt; a Provider backed by a single fixed endpoint may ignore
// it.
type Provider interface {
	SendTransaction(ctx context.Context, endpoint string, tx *types.Transaction) error
	Name() string
}

// Signer produces a signed transaction from an unsigned envelope. Actual key
// material never enters this package (spec.md §1 Non-goals: wallet/signer
// key management).
type Signer interface {
	SignTransaction(ctx context.Context, network sequencer.NetworkId, tx *types.Transaction) (*types.Transaction, error)
}

// DispatchOutcome records the terminal result of one batch's dispatch
// attempt sequence.
type DispatchOutcome struct {
	Network   sequencer.NetworkId
	Batch     batcher.NetworkBatch
	TxHash    string
	Attempts  int
	Err       error
}
