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
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/sirupsen/logrus"

	"sequencer/internal/batcher"
	"sequencer/internal/sequencer"
	"sequencer/internal/telemetry"
)

// RetryPolicy decides whether an error is worth retrying and how long to
// wait before the next attempt. The default mirrors spec.md §4.9: transient
// provider/nonce errors retry up to MaxRetries with exponential backoff;
// funds/revert errors are fatal; everything else retries once.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

func defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialBackoff: 250 * time.Millisecond}
}

// shouldRetry reports whether attempt (1-indexed) should be retried for err,
// and how long to wait first.
func (p RetryPolicy) shouldRetry(err error, attempt int) (bool, time.Duration) {
	switch sequencer.KindOf(err) {
	case sequencer.KindInsufficientFunds, sequencer.KindContractReverted:
		return false, 0
	case sequencer.KindProviderUnavailable, sequencer.KindNonceTooLow:
		if attempt > p.MaxRetries {
			return false, 0
		}
		return true, p.InitialBackoff * time.Duration(1<<uint(attempt-1))
	default:
		return attempt <= 1, p.InitialBackoff
	}
}

// NetworkConfig is the per-network configuration the Dispatcher needs:
// which provider to send through, chain parameters, and pacing.
type NetworkConfig struct {
	ChainID        *big.Int
	Envelope       EnvelopeOptions
	RateLimit      rate.Limit
	RateBurst      int
	AttemptTimeout time.Duration
}

// DispatcherOptions wires a Dispatcher's collaborators.
type DispatcherOptions struct {
	Providers   map[sequencer.NetworkId]Provider
	Signer      Signer
	NonceStore  NonceStore
	Audit       *AuditLog
	Networks    map[sequencer.NetworkId]NetworkConfig
	// Endpoints configures, per network, the set of RPC endpoint URLs the
	// EndpointSelector chooses among for each attempt (sticky per batch,
	// reselecting on provider failure). A network with no entry here
	// dispatches without endpoint selection.
	Endpoints   map[sequencer.NetworkId][]string
	RetryPolicy RetryPolicy
	QueueBuffer int
	Log         *logrus.Entry
}

// Dispatcher sends consensus-approved batches on-chain, one batch at a time
// per network (spec.md §4.9: strict per-network serial send discipline so
// nonces never race); each network has its own worker, so different
// networks proceed in parallel. It implements consensus.QuorumSink.
type Dispatcher struct {
	opts      DispatcherOptions
	endpoints *EndpointSelector

	mu       sync.Mutex
	queues   map[sequencer.NetworkId]chan queuedBatch
	limiters map[sequencer.NetworkId]*rate.Limiter

	stopCh  chan struct{}
	stopped atomic.Bool
	wg      sync.WaitGroup
}

type queuedBatch struct {
	batch      batcher.NetworkBatch
	signatures map[sequencer.ReporterId][]byte
}

// NewDispatcher builds a Dispatcher. There is no separate start step: each
// network's serial worker is started lazily by HandleConsensusReached the
// first time a batch for that network arrives.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	if opts.RetryPolicy == (RetryPolicy{}) {
		opts.RetryPolicy = defaultRetryPolicy()
	}
	if opts.QueueBuffer < 1 {
		opts.QueueBuffer = 64
	}
	if opts.Log == nil {
		opts.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.NonceStore == nil {
		opts.NonceStore = NewInMemoryNonceStore()
	}
	return &Dispatcher{
		opts:      opts,
		endpoints: NewEndpointSelector(opts.Endpoints),
		queues:    make(map[sequencer.NetworkId]chan queuedBatch),
		limiters:  make(map[sequencer.NetworkId]*rate.Limiter),
		stopCh:    make(chan struct{}),
	}
}

// HandleConsensusReached enqueues an approved batch for dispatch, starting
// that network's serial worker on first use.
func (d *Dispatcher) HandleConsensusReached(batch batcher.NetworkBatch, signatures map[sequencer.ReporterId][]byte) error {
	if d.stopped.Load() {
		return sequencer.NewError(sequencer.KindShutdownInProgress, "dispatcher is shutting down")
	}
	queue := d.queueFor(batch.Network)
	select {
	case queue <- queuedBatch{batch: batch, signatures: signatures}:
		return nil
	default:
		return sequencer.NewError(sequencer.KindBackpressureDropped, "dispatch queue full for network %q", batch.Network)
	}
}

func (d *Dispatcher) queueFor(network sequencer.NetworkId) chan queuedBatch {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[network]
	if ok {
		return q
	}
	q = make(chan queuedBatch, d.opts.QueueBuffer)
	d.queues[network] = q

	cfg := d.opts.Networks[network]
	limit := cfg.RateLimit
	if limit == 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	d.limiters[network] = rate.NewLimiter(limit, burst)

	d.wg.Add(1)
	go d.workerLoop(network, q)
	return q
}

// Stop signals every per-network worker to drain its queue and exit.
func (d *Dispatcher) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
}

func (d *Dispatcher) workerLoop(network sequencer.NetworkId, queue chan queuedBatch) {
	defer d.wg.Done()
	log := d.opts.Log.WithField("network", string(network))
	for {
		select {
		case qb := <-queue:
			d.dispatchOne(network, qb, log)
		case <-d.stopCh:
			for {
				select {
				case qb := <-queue:
					d.dispatchOne(network, qb, log)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) dispatchOne(network sequencer.NetworkId, qb queuedBatch, log *logrus.Entry) {
	ctx := context.Background()
	limiter := d.limiters[network]
	start := time.Now()

	attemptKey := attemptKeyFor(network, qb.batch.BlockHeight)
	endpoint, err := d.endpoints.Select(network, attemptKey)
	if err != nil {
		endpoint = ""
	}

	attempt := 0
	var lastErr error
	for {
		attempt++
		if limiter != nil {
			_ = limiter.Wait(ctx)
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if cfg, ok := d.opts.Networks[network]; ok && cfg.AttemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
		}

		txHash, sendErr := d.attempt(attemptCtx, network, endpoint, qb.batch)
		if cancel != nil {
			cancel()
		}

		outcome := DispatchOutcome{Network: network, Batch: qb.batch, TxHash: txHash, Attempts: attempt, Err: sendErr}
		if sendErr == nil {
			telemetry.DispatchAttempts.WithLabelValues(string(network), "ok").Inc()
			telemetry.DispatchLatencySeconds.WithLabelValues(string(network)).Observe(time.Since(start).Seconds())
			if d.opts.Audit != nil {
				_ = d.opts.Audit.Record(ctx, outcome)
			}
			log.WithField("txHash", txHash).WithField("endpoint", endpoint).WithField("attempts", attempt).Info("batch dispatched")
			return
		}

		lastErr = sendErr
		telemetry.ProviderLastFailureUnixMs.WithLabelValues(string(network)).Set(float64(time.Now().UnixMilli()))
		if endpoint != "" && sequencer.KindOf(sendErr) == sequencer.KindProviderUnavailable {
			if next, reErr := d.endpoints.ExcludeAndReselect(network, endpoint, attemptKey); reErr == nil {
				log.WithField("failed_endpoint", endpoint).WithField("next_endpoint", next).Warn("excluding failing endpoint")
				endpoint = next
			}
		}

		retry, wait := d.opts.RetryPolicy.shouldRetry(sendErr, attempt)
		if !retry {
			telemetry.DispatchAttempts.WithLabelValues(string(network), "fatal").Inc()
			log.WithError(lastErr).WithField("attempts", attempt).Error("batch dispatch failed permanently")
			if d.opts.Audit != nil {
				_ = d.opts.Audit.Record(ctx, outcome)
			}
			return
		}
		telemetry.DispatchAttempts.WithLabelValues(string(network), "retry").Inc()
		log.WithError(sendErr).WithField("attempt", attempt).Warn("dispatch attempt failed, retrying")
		time.Sleep(wait)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, network sequencer.NetworkId, endpoint string, batch batcher.NetworkBatch) (string, error) {
	cfg, ok := d.opts.Networks[network]
	if !ok {
		return "", sequencer.NewError(sequencer.KindProviderUnavailable, "no network config for %q", network)
	}
	provider, ok := d.opts.Providers[network]
	if !ok {
		return "", sequencer.NewError(sequencer.KindProviderUnavailable, "no provider configured for %q", network)
	}

	nonce := batch.Nonce
	if nonce == 0 && d.opts.NonceStore != nil {
		n, err := d.opts.NonceStore.NextNonce(ctx, network)
		if err != nil {
			return "", err
		}
		nonce = n
		batch.Nonce = n
	}

	tx := BuildTransaction(batch, cfg.ChainID, cfg.Envelope)
	if d.opts.Signer != nil {
		signed, err := d.opts.Signer.SignTransaction(ctx, network, tx)
		if err != nil {
			return "", sequencer.NewError(sequencer.KindProviderUnavailable, "signing failed: %w", err)
		}
		tx = signed
	}

	if err := provider.SendTransaction(ctx, endpoint, tx); err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}
