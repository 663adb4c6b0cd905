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
	"encoding/json"
	"time"

	"sequencer/internal/sequencer"
)

// AuditRecord is one dispatched-batch entry, published for downstream
// replay/auditing. The shape mirrors the teacher's idempotent Kafka commit
// message, with Commit/Fencing fields renamed to the dispatch domain.
type AuditRecord struct {
	Network     sequencer.NetworkId `json:"network"`
	BlockHeight uint64              `json:"blockHeight"`
	Nonce       uint64              `json:"nonce"`
	TxHash      string              `json:"txHash"`
	Attempts    int                 `json:"attempts"`
	TsUnixMs    int64               `json:"tsUnixMs"`
}

// AuditProducer publishes one audit message. It is satisfied by a thin
// wrapper around a Kafka (or any other pub/sub) client.
type AuditProducer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// AuditLog publishes one AuditRecord per dispatched batch, once its attempt
// sequence ends in success or permanent failure; retried attempts are not
// recorded individually.
// Optional: a nil *AuditLog (or nil Producer) makes every method a no-op,
// matching the teacher's "mock"-by-default persistence adapter default.
type AuditLog struct {
	producer AuditProducer
	topic    string
}

// NewAuditLog wraps a producer. If producer is nil, Record is a no-op.
func NewAuditLog(producer AuditProducer, topic string) *AuditLog {
	return &AuditLog{producer: producer, topic: topic}
}

// Record publishes one dispatch outcome as an audit message, keyed by
// network so a partitioned topic preserves per-network ordering.
func (a *AuditLog) Record(ctx context.Context, outcome DispatchOutcome) error {
	if a == nil || a.producer == nil {
		return nil
	}
	rec := AuditRecord{
		Network:     outcome.Network,
		BlockHeight: outcome.Batch.BlockHeight,
		Nonce:       outcome.Batch.Nonce,
		TxHash:      outcome.TxHash,
		Attempts:    outcome.Attempts,
		TsUnixMs:    time.Now().UnixMilli(),
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.producer.Publish(ctx, a.topic, []byte(outcome.Network), value)
}
