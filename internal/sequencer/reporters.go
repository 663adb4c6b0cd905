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

package sequencer

import "sync"

// activityBudget tracks a reporter's recent submission volume against an
// allowance that refills on Reset. scalar is the durable allowance for the
// current window; vector is how much of it has been consumed. Available is
// always scalar-vector, never negative by construction. Adapted from the
// vector-scalar accumulator pattern used for commit-threshold budgets
// elsewhere in this codebase's ancestry: here the "commit" is a reporter's
// vote landing in the Reports Store, and the "refund" is the per-window
// reset performed by ReporterRegistry.ResetWindows.
type activityBudget struct {
	mu     sync.RWMutex
	scalar int64
	vector int64
}

func newActivityBudget(allowance int64) *activityBudget {
	return &activityBudget{scalar: allowance}
}

// Available returns the unconsumed allowance.
func (b *activityBudget) Available() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scalar - b.vector
}

// TryConsume attempts to account for n submissions. It returns false without
// mutating state if doing so would exceed the allowance.
func (b *activityBudget) TryConsume(n int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.scalar-b.vector < n {
		return false
	}
	b.vector += n
	return true
}

// Reset starts a new window: the consumed count returns to zero and the
// allowance can be adjusted (e.g. reputation-weighted throttling).
func (b *activityBudget) Reset(allowance int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scalar = allowance
	b.vector = 0
}

// Consumed returns how much of the current window's allowance has been used.
func (b *activityBudget) Consumed() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.vector
}

// reporterEntry is the registry's durable record for one reporter.
type reporterEntry struct {
	PublicKey   []byte
	LastSeenMs  int64
	budget      *activityBudget
}

// ReporterRegistry maps ReporterId to public key and recent activity. It is
// consulted by the Reports Store (to reject unknown reporters before
// signature checks run) and by the ingress layer (to throttle flooding
// reporters ahead of the more expensive signature verification step).
type ReporterRegistry struct {
	mu        sync.RWMutex
	reporters map[ReporterId]*reporterEntry
	allowance int64
}

// NewReporterRegistry builds an empty registry. perWindowAllowance bounds
// how many submissions a reporter may make before TryConsume starts
// rejecting, until the next Reset.
func NewReporterRegistry(perWindowAllowance int64) *ReporterRegistry {
	return &ReporterRegistry{
		reporters: make(map[ReporterId]*reporterEntry),
		allowance: perWindowAllowance,
	}
}

// Register adds or updates a reporter's public key.
func (r *ReporterRegistry) Register(id ReporterId, publicKey []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.reporters[id]
	if !ok {
		e = &reporterEntry{budget: newActivityBudget(r.allowance)}
		r.reporters[id] = e
	}
	e.PublicKey = publicKey
}

// Unregister removes a reporter entirely.
func (r *ReporterRegistry) Unregister(id ReporterId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reporters, id)
}

// PublicKey returns the registered public key for id, or nil, false if the
// reporter is unknown.
func (r *ReporterRegistry) PublicKey(id ReporterId) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.reporters[id]
	if !ok {
		return nil, false
	}
	return e.PublicKey, true
}

// Known reports whether id is a registered reporter.
func (r *ReporterRegistry) Known(id ReporterId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.reporters[id]
	return ok
}

// Touch records a submission attempt's activity: updates LastSeenMs and
// consumes one unit of the reporter's budget. It returns false if the
// reporter is unknown or over budget for the current window.
func (r *ReporterRegistry) Touch(id ReporterId, nowMs int64) bool {
	r.mu.RLock()
	e, ok := r.reporters[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if !e.budget.TryConsume(1) {
		return false
	}
	r.mu.Lock()
	e.LastSeenMs = nowMs
	r.mu.Unlock()
	return true
}

// ResetWindows refills every reporter's budget and starts a new window. No
// component in this module calls it on a schedule (the ingress layer has no
// ticker), so a reporter's budget only shrinks until a caller invokes it.
func (r *ReporterRegistry) ResetWindows() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.reporters {
		e.budget.Reset(r.allowance)
	}
}

// LastSeenMs returns the nowMs of id's most recent Touch that stayed within
// budget (whether or not the report was then admitted to the store), or 0 if
// there has been none or the reporter is unknown.
func (r *ReporterRegistry) LastSeenMs(id ReporterId) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.reporters[id]
	if !ok {
		return 0
	}
	return e.LastSeenMs
}
