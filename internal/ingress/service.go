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
	"sequencer/internal/consensus"
	"sequencer/internal/sequencer"

	"github.com/sirupsen/logrus"
)

// Service implements postReport/postSignature. It holds no transport
// concerns: http.go adapts it onto HTTP, but any other framing (gRPC, a
// message queue) could reuse it unchanged.
type Service struct {
	store     *sequencer.ReportsStore
	reporters *sequencer.ReporterRegistry
	consensus *consensus.Manager
	clock     sequencer.Clock
	slotOf    func(feedID sequencer.FeedId, nowMs int64) (sequencer.SlotNumber, bool)
	limiter   *IngressLimiter
	log       *logrus.Entry
}

// ServiceOptions wires a Service's collaborators.
type ServiceOptions struct {
	Store     *sequencer.ReportsStore
	Reporters *sequencer.ReporterRegistry
	Consensus *consensus.Manager
	Clock     sequencer.Clock
	// SlotOf resolves a feed's current slot at nowMs; ok is false for an
	// unknown feed.
	SlotOf  func(feedID sequencer.FeedId, nowMs int64) (sequencer.SlotNumber, bool)
	Limiter *IngressLimiter
	Log     *logrus.Entry
}

// NewService builds a Service from its dependencies.
func NewService(opts ServiceOptions) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = sequencer.SystemClock
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:     opts.Store,
		reporters: opts.Reporters,
		consensus: opts.Consensus,
		clock:     clock,
		slotOf:    opts.SlotOf,
		limiter:   opts.Limiter,
		log:       log,
	}
}

// PostReport submits one reporter's vote for a feed/slot. It throttles the
// reporter before touching the store (spec.md §9's anti-flood ordering:
// cheap checks before expensive ones): first a per-reporter burst limiter,
// then the coarser per-window activity budget.
func (s *Service) PostReport(r sequencer.Report) Response {
	if !s.reporters.Known(r.ReporterID) {
		return Response{Disposition: Unknown, Reason: "unknown reporter"}
	}
	if s.limiter != nil && !s.limiter.Allow(r.ReporterID) {
		return Response{Disposition: Rejected, Reason: "burst rate limit exceeded"}
	}

	now := s.clock.NowMs()
	if !s.reporters.Touch(r.ReporterID, now) {
		return Response{Disposition: Rejected, Reason: "rate limit exceeded"}
	}
	if r.ReceivedAtMs == 0 {
		r.ReceivedAtMs = now
	}

	currentSlot := r.Slot
	if s.slotOf != nil {
		if slot, ok := s.slotOf(r.FeedID, now); ok {
			currentSlot = slot
		}
	}

	if err := s.store.Insert(r, currentSlot); err != nil {
		switch sequencer.KindOf(err) {
		case sequencer.KindUnknownFeed, sequencer.KindUnknownReporter:
			return Response{Disposition: Unknown, Reason: err.Error()}
		case sequencer.KindSlotOutOfWindow:
			return Response{Disposition: Late, Reason: err.Error()}
		case sequencer.KindSignatureInvalid:
			return Response{Disposition: Rejected, Reason: err.Error()}
		default:
			return Response{Disposition: Rejected, Reason: err.Error()}
		}
	}
	return Response{Disposition: Accepted}
}

// PostSignature submits a reporter's second-round signature over a batch.
func (s *Service) PostSignature(key consensus.BatchKey, reporterID sequencer.ReporterId, payload, signature []byte) Response {
	if !s.reporters.Known(reporterID) {
		return Response{Disposition: Unknown, Reason: "unknown reporter"}
	}
	if err := s.consensus.AddSignature(key, reporterID, payload, signature); err != nil {
		switch sequencer.KindOf(err) {
		case sequencer.KindSignatureInvalid:
			return Response{Disposition: Rejected, Reason: err.Error()}
		case sequencer.KindConsensusTimeout:
			return Response{Disposition: Late, Reason: err.Error()}
		default:
			return Response{Disposition: Rejected, Reason: err.Error()}
		}
	}
	return Response{Disposition: Accepted}
}
