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

// Package batcher implements the Votes Batcher (spec.md §4.7): it groups
// AggregatedUpdates by destination network and flushes a NetworkBatch
// whenever a size or time threshold fires, whichever comes first.
package batcher

import "sequencer/internal/sequencer"

// NetworkBatch is a group of AggregatedUpdates destined for the same
// network, assigned a blockHeight and ready for second-round signature
// consensus and, eventually, dispatch.
type NetworkBatch struct {
	Network     sequencer.NetworkId
	BlockHeight uint64
	Nonce       uint64
	ChainID     uint64
	Updates     []sequencer.AggregatedUpdate
	Calldata    []byte
	CreatedAtMs int64
}

// Key returns the identity a batch is tracked under downstream (second-round
// consensus keys on exactly this pair).
func (b NetworkBatch) Key() (sequencer.NetworkId, uint64) {
	return b.Network, b.BlockHeight
}

// BatchFinalizer assigns the fields that can only be known once a batch is
// closed off: blockHeight, nonce, chainId, and ABI-encoded calldata. It is
// injected so the batcher itself never has on-chain knowledge, mirroring
// how the teacher's VSATransformer decouples accumulation from the
// transform applied at flush time.
type BatchFinalizer interface {
	Finalize(batch *NetworkBatch) error
}

// BatchSink receives finalized batches. Typically this is the second-round
// consensus component.
type BatchSink interface {
	HandleBatch(batch NetworkBatch) error
}
