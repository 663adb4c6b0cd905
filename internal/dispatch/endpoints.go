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
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/dgryski/go-rendezvous"

	"sequencer/internal/sequencer"
)

func endpointHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// EndpointSelector picks one of several configured RPC endpoints per
// network using rendezvous hashing on the attempt's dispatch key, so
// repeated retries of the same batch prefer the same endpoint (sticky
// routing) while still spreading load across batches. Grounded on the
// teacher's unused go-rendezvous dependency, put to work here instead of
// the cluster-hashing role it has elsewhere.
type EndpointSelector struct {
	mu        sync.RWMutex
	endpoints map[sequencer.NetworkId]*rendezvous.Rendezvous
	names     map[sequencer.NetworkId][]string
}

// NewEndpointSelector builds a selector from a network -> endpoint-URLs
// configuration map.
func NewEndpointSelector(config map[sequencer.NetworkId][]string) *EndpointSelector {
	s := &EndpointSelector{
		endpoints: make(map[sequencer.NetworkId]*rendezvous.Rendezvous),
		names:     make(map[sequencer.NetworkId][]string),
	}
	for network, urls := range config {
		if len(urls) == 0 {
			continue
		}
		s.endpoints[network] = rendezvous.New(urls, endpointHash)
		s.names[network] = urls
	}
	return s
}

// Select returns the endpoint URL a given dispatch key should use for
// network. attemptKey should stay constant across retries of the same
// batch (e.g. "network:blockHeight") so retries stick to one endpoint
// unless ExcludeAndReselect removes it.
func (s *EndpointSelector) Select(network sequencer.NetworkId, attemptKey string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rv, ok := s.endpoints[network]
	if !ok {
		return "", sequencer.NewError(sequencer.KindProviderUnavailable, "no endpoints configured for network %q", network)
	}
	return rv.Lookup(attemptKey), nil
}

// ExcludeAndReselect removes a failing endpoint from rotation for network
// and returns the next-best endpoint for attemptKey, if any remain.
func (s *EndpointSelector) ExcludeAndReselect(network sequencer.NetworkId, failing, attemptKey string) (string, error) {
	s.mu.Lock()
	names := s.names[network]
	remaining := make([]string, 0, len(names))
	for _, n := range names {
		if n != failing {
			remaining = append(remaining, n)
		}
	}
	if len(remaining) == 0 {
		s.mu.Unlock()
		return "", sequencer.NewError(sequencer.KindProviderUnavailable, "no remaining endpoints for network %q after excluding %s", network, failing)
	}
	s.names[network] = remaining
	s.endpoints[network] = rendezvous.New(remaining, endpointHash)
	rv := s.endpoints[network]
	s.mu.Unlock()
	return rv.Lookup(attemptKey), nil
}

func attemptKeyFor(network sequencer.NetworkId, blockHeight uint64) string {
	return fmt.Sprintf("%s:%d", network, blockHeight)
}
