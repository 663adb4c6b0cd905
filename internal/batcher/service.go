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

package batcher

import (
	"sync"
	"sync/atomic"
	"time"

	"sequencer/internal/sequencer"
	"sequencer/internal/telemetry"

	"github.com/sirupsen/logrus"
)

// ServiceOptions configures the Votes Batcher's background service.
type ServiceOptions struct {
	MaxKeysToBatch      int
	FlushInterval       time.Duration
	InboundBuffer       int
	NextBlockHeight     func(network sequencer.NetworkId) uint64
	Finalizer           BatchFinalizer
	Sink                BatchSink
	Log                 *logrus.Entry
}

// Service consumes AggregatedUpdates from an inbound channel, accumulates
// them per network, and flushes a NetworkBatch whenever the size or time
// threshold is reached — whichever fires first. Adapted from the teacher's
// SService: a bounded inbound channel, a ticker-driven run loop, and a
// drain-then-final-flush shutdown sequence.
type Service struct {
	acc  *Accumulator
	opts ServiceOptions

	in      chan sequencer.AggregatedUpdate
	stopCh  chan struct{}
	doneCh  chan struct{}
	flushNowCh chan sequencer.NetworkId
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewService builds a Service. Call Start to begin the run loop.
func NewService(opts ServiceOptions) *Service {
	if opts.MaxKeysToBatch < 1 {
		opts.MaxKeysToBatch = 32
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	if opts.InboundBuffer < 1 {
		opts.InboundBuffer = 1024
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		acc:        NewAccumulator(opts.MaxKeysToBatch),
		opts:       opts,
		in:         make(chan sequencer.AggregatedUpdate, opts.InboundBuffer),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		flushNowCh: make(chan sequencer.NetworkId, opts.InboundBuffer),
	}
}

// Ingest enqueues u for batching, blocking if the inbound channel is full.
func (s *Service) Ingest(u sequencer.AggregatedUpdate) {
	s.in <- u
}

// TryIngest enqueues u without blocking, reporting false if the inbound
// channel is full (spec.md's BackpressureDropped path).
func (s *Service) TryIngest(u sequencer.AggregatedUpdate) bool {
	select {
	case s.in <- u:
		return true
	default:
		return false
	}
}

// Start launches the background run loop.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop drains any pending inbound updates, flushes every non-empty bucket
// once more, and waits for the run loop to exit.
func (s *Service) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case u := <-s.in:
			network, shouldFlush := s.acc.Ingest(u)
			if shouldFlush {
				s.flushNetwork(network, "size")
			}
		case network := <-s.flushNowCh:
			s.flushNetwork(network, "size")
		case <-ticker.C:
			now := time.Now()
			for _, network := range s.acc.DueNetworks(s.opts.FlushInterval, now) {
				s.flushNetwork(network, "time")
			}
		case <-s.stopCh:
			s.drainRemaining()
			return
		}
	}
}

func (s *Service) drainRemaining() {
	for {
		select {
		case u := <-s.in:
			s.acc.Ingest(u)
		default:
			for network, updates := range s.acc.DrainAll() {
				s.emit(network, updates, "time")
			}
			return
		}
	}
}

func (s *Service) flushNetwork(network sequencer.NetworkId, trigger string) {
	updates := s.acc.Drain(network)
	if len(updates) == 0 {
		return
	}
	s.emit(network, updates, trigger)
}

func (s *Service) emit(network sequencer.NetworkId, updates []sequencer.AggregatedUpdate, trigger string) {
	blockHeight := uint64(0)
	if s.opts.NextBlockHeight != nil {
		blockHeight = s.opts.NextBlockHeight(network)
	}
	batch := NetworkBatch{
		Network:     network,
		BlockHeight: blockHeight,
		Updates:     updates,
		CreatedAtMs: time.Now().UnixMilli(),
	}
	if s.opts.Finalizer != nil {
		if err := s.opts.Finalizer.Finalize(&batch); err != nil {
			s.opts.Log.WithError(err).WithField("network", network).Error("batch finalization failed")
			return
		}
	}
	telemetry.BatchesFlushed.WithLabelValues(string(network), trigger).Inc()
	if s.opts.Sink != nil {
		if err := s.opts.Sink.HandleBatch(batch); err != nil {
			s.opts.Log.WithError(err).WithField("network", network).Error("batch sink rejected batch")
		}
	}
}
