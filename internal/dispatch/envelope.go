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
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"sequencer/internal/batcher"
)

// EnvelopeOptions carries the network parameters needed to build an
// unsigned transaction for a batch. These come from configuration
// (spec.md §6 providers map), not from the batch itself.
type EnvelopeOptions struct {
	ContractAddress common.Address
	GasLimit        uint64
	GasTipCap       *big.Int
	GasFeeCap       *big.Int
}

// BuildTransaction constructs an EIP-1559 transaction envelope carrying a
// batch's calldata. Signing happens separately, via an injected Signer, so
// this package never touches private key material.
func BuildTransaction(batch batcher.NetworkBatch, chainID *big.Int, opts EnvelopeOptions) *types.Transaction {
	calldata := batch.Calldata
	if calldata == nil {
		calldata = encodeCalldata(batch)
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     batch.Nonce,
		GasTipCap: opts.GasTipCap,
		GasFeeCap: opts.GasFeeCap,
		Gas:       opts.GasLimit,
		To:        &opts.ContractAddress,
		Value:     big.NewInt(0),
		Data:      calldata,
	})
}

// encodeCalldata produces a deterministic fallback calldata encoding when a
// BatchFinalizer has not already populated batch.Calldata: the 32-byte
// encoded value of each update, concatenated in update order. Real ABI
// encoding against a specific contract interface is a spec.md §1 Non-goal;
// this is a placeholder shape a finalizer is expected to replace.
func encodeCalldata(batch batcher.NetworkBatch) []byte {
	out := make([]byte, 0, len(batch.Updates)*32)
	for _, u := range batch.Updates {
		out = append(out, u.Encoded[:]...)
	}
	return out
}
