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

package ingress

import (
	"sync"

	"golang.org/x/time/rate"

	"sequencer/internal/sequencer"
)

// IngressLimiter throttles inbound traffic per reporter ahead of the
// coarser per-window activity budget in sequencer.ReporterRegistry. Where
// that budget caps total submissions per window, this caps burst rate —
// the two are complementary, not redundant: a reporter can be well under
// its window allowance while still hammering the endpoint faster than the
// process wants to spend CPU on signature verification.
type IngressLimiter struct {
	mu       sync.Mutex
	limiters map[sequencer.ReporterId]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewIngressLimiter builds a limiter handing each reporter its own token
// bucket of the given rate and burst.
func NewIngressLimiter(limit rate.Limit, burst int) *IngressLimiter {
	return &IngressLimiter{
		limiters: make(map[sequencer.ReporterId]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Allow reports whether reporterID may submit right now, consuming one
// token if so.
func (l *IngressLimiter) Allow(reporterID sequencer.ReporterId) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[reporterID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[reporterID] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
