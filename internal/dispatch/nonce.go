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
	"sync"

	"github.com/redis/go-redis/v9"

	"sequencer/internal/sequencer"
)

// nonceLuaScript atomically increments and returns a per-network counter.
// Adapted from the teacher's commit-marker Lua script in
// persistence/redis.go: there it guarded against double-applying a commit;
// here it guards against two dispatcher goroutines handing out the same
// nonce or blockHeight after a crash and restart.
const nonceLuaScript = `
local v = redis.call("INCR", KEYS[1])
return v
`

// NonceKey returns the Redis key holding a network's nonce counter.
func NonceKey(network sequencer.NetworkId) string {
	return "sequencer:nonce:" + string(network)
}

// BlockHeightKey returns the Redis key holding a network's blockHeight
// counter.
func BlockHeightKey(network sequencer.NetworkId) string {
	return "sequencer:blockheight:" + string(network)
}

// NonceStore hands out monotonically increasing nonces and blockHeights per
// network. Its in-memory implementation is the default; RedisNonceStore is
// used when crash-safe persistence is configured (spec.md §6).
type NonceStore interface {
	NextNonce(ctx context.Context, network sequencer.NetworkId) (uint64, error)
	NextBlockHeight(ctx context.Context, network sequencer.NetworkId) (uint64, error)
}

// InMemoryNonceStore hands out nonces from process memory. Lost on restart,
// which is acceptable for development and tests; production deployments
// should configure RedisNonceStore.
type InMemoryNonceStore struct {
	mu           sync.Mutex
	nonces       map[sequencer.NetworkId]uint64
	blockHeights map[sequencer.NetworkId]uint64
}

// NewInMemoryNonceStore builds an empty in-memory store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{
		nonces:       make(map[sequencer.NetworkId]uint64),
		blockHeights: make(map[sequencer.NetworkId]uint64),
	}
}

func (s *InMemoryNonceStore) NextNonce(_ context.Context, network sequencer.NetworkId) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[network]++
	return s.nonces[network], nil
}

func (s *InMemoryNonceStore) NextBlockHeight(_ context.Context, network sequencer.NetworkId) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockHeights[network]++
	return s.blockHeights[network], nil
}

// RedisNonceStore persists nonce/blockHeight counters in Redis so a
// dispatcher restart never reissues a value already used on-chain.
type RedisNonceStore struct {
	client *redis.Client
}

// NewRedisNonceStore wraps an existing Redis client.
func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

func (s *RedisNonceStore) NextNonce(ctx context.Context, network sequencer.NetworkId) (uint64, error) {
	return s.increment(ctx, NonceKey(network))
}

func (s *RedisNonceStore) NextBlockHeight(ctx context.Context, network sequencer.NetworkId) (uint64, error) {
	return s.increment(ctx, BlockHeightKey(network))
}

func (s *RedisNonceStore) increment(ctx context.Context, key string) (uint64, error) {
	v, err := s.client.Eval(ctx, nonceLuaScript, []string{key}).Int64()
	if err != nil {
		return 0, sequencer.NewError(sequencer.KindProviderUnavailable, "redis nonce increment failed: %w", err)
	}
	return uint64(v), nil
}
