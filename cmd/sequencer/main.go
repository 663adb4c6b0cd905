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

// Command sequencer runs the Sequencer Core as a standalone process: it
// loads configuration, wires every component, and serves the ingress and
// metrics HTTP endpoints until signaled to shut down.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"sequencer/internal/batcher"
	"sequencer/internal/config"
	"sequencer/internal/consensus"
	"sequencer/internal/dispatch"
	"sequencer/internal/ingress"
	"sequencer/internal/sequencer"
	"sequencer/internal/telemetry"
	"sequencer/pkg/aggregate"
)

func main() {
	configPath := flag.String("config", "sequencer.yaml", "path to YAML configuration file")
	ingressAddr := flag.String("ingress-addr", "", "override ingress HTTP listen address")
	metricsAddr := flag.String("metrics-addr", "", "override metrics HTTP listen address")
	flag.Parse()

	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *ingressAddr != "" {
		cfg.IngressAddr = *ingressAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	registry := sequencer.NewFeedRegistry(64)
	reporters := sequencer.NewReporterRegistry(cfg.ReporterWindowAllowance)
	// A nil ReportVerifier skips first-round signature checks until a real
	// BLS verifier is injected; shipping key material is a Non-goal here.
	store := sequencer.NewReportsStore(16, registry, reporters, nil)
	history := sequencer.NewHistoryBuffer(cfg.HistoryCapacity)

	updates := make(chan sequencer.AggregatedUpdate, 1024)
	suppressions := make(chan sequencer.Suppression, 1024)

	feedManager := sequencer.NewFeedManager(registry, store, history, sequencer.FeedManagerOptions{
		Updates:      updates,
		Suppressions: suppressions,
		Log:          log.WithField("component", "feedmanager"),
	})

	nonceStore := buildNonceStore(cfg)

	dispatcher := dispatch.NewDispatcher(dispatch.DispatcherOptions{
		Networks:   buildNetworkConfigs(cfg),
		Endpoints:  buildEndpoints(cfg),
		NonceStore: nonceStore,
		RetryPolicy: dispatch.RetryPolicy{
			MaxRetries:     cfg.DispatchRetries,
			InitialBackoff: 250 * time.Millisecond,
		},
		Log: log.WithField("component", "dispatch"),
	})

	consensusMgr := consensus.NewManager(consensus.ManagerOptions{
		RequiredQuorum: func(network sequencer.NetworkId) int {
			return requiredQuorumForNetwork(cfg, network)
		},
		Sink:          dispatcher,
		Timeout:       cfg.ConsensusTimeout(),
		SweepInterval: cfg.ConsensusSweepInterval(),
		Log:           log.WithField("component", "consensus"),
	})
	consensusMgr.Start()

	batcherSvc := batcher.NewService(batcher.ServiceOptions{
		MaxKeysToBatch: cfg.MaxKeysToBatch,
		FlushInterval:  cfg.KeysBatchDuration(),
		NextBlockHeight: func(network sequencer.NetworkId) uint64 {
			height, err := nonceStore.NextBlockHeight(context.Background(), network)
			if err != nil {
				log.WithError(err).WithField("network", string(network)).Error("failed to allocate block height")
				return 0
			}
			return height
		},
		Sink: consensusMgr,
		Log:  log.WithField("component", "batcher"),
	})

	for _, fc := range cfg.Feeds {
		registry.Upsert(sequencer.FeedDescriptor{
			ID:             sequencer.FeedId(fc.ID),
			Network:        sequencer.NetworkId(fc.Network),
			SlotDurationMs: fc.SlotDurationMs,
			QuorumPercent:  fc.QuorumPercent,
			Reducer:        parseReducer(fc.Reducer),
			TotalReporters: fc.TotalReporters,
		})
	}

	ingressSvc := ingress.NewService(ingress.ServiceOptions{
		Store:     store,
		Reporters: reporters,
		Consensus: consensusMgr,
		Limiter:   ingress.NewIngressLimiter(rate.Limit(50), 100),
		Log:       log.WithField("component", "ingress"),
	})
	ingressServer := ingress.NewServer(ingressSvc, cfg.IngressAddr)
	metricsServer := telemetry.NewServer(cfg.MetricsAddr)

	feedManager.Start()
	batcherSvc.Start()

	go pumpUpdatesToBatcher(updates, batcherSvc, log)
	go logSuppressions(suppressions, log)

	go func() {
		log.WithField("addr", cfg.IngressAddr).Info("ingress server listening")
		if err := ingressServer.ListenAndServe(); err != nil {
			log.WithError(err).Warn("ingress server stopped")
		}
	}()

	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ingressServer.Shutdown(ctx)
	_ = metricsServer.Shutdown(ctx)

	batcherSvc.Stop()
	consensusMgr.Stop()
	dispatcher.Stop()
	feedManager.Stop()

	log.Info("shutdown complete")
}

func pumpUpdatesToBatcher(updates <-chan sequencer.AggregatedUpdate, svc *batcher.Service, log *logrus.Entry) {
	for u := range updates {
		if !svc.TryIngest(u) {
			log.WithField("feed", string(u.FeedID)).Warn("batcher inbound full, dropping update")
		}
	}
}

func logSuppressions(suppressions <-chan sequencer.Suppression, log *logrus.Entry) {
	for s := range suppressions {
		log.WithFields(logrus.Fields{
			"feed":   string(s.FeedID),
			"slot":   uint64(s.Slot),
			"reason": s.Reason.String(),
		}).Debug("aggregation suppressed")
	}
}

func parseReducer(s string) aggregate.ReducerKind {
	if s == "median" {
		return aggregate.ReducerMedian
	}
	return aggregate.ReducerMean
}

func requiredQuorumForNetwork(cfg *config.Config, network sequencer.NetworkId) int {
	for _, fc := range cfg.Feeds {
		if sequencer.NetworkId(fc.Network) == network {
			return aggregate.QuorumThreshold(fc.TotalReporters, fc.QuorumPercent)
		}
	}
	return 1
}

func buildNetworkConfigs(cfg *config.Config) map[sequencer.NetworkId]dispatch.NetworkConfig {
	out := make(map[sequencer.NetworkId]dispatch.NetworkConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		out[sequencer.NetworkId(p.Network)] = dispatch.NetworkConfig{
			AttemptTimeout: cfg.DispatchAttemptTimeout(),
		}
	}
	return out
}

// buildEndpoints collects each network's configured RPC endpoint URLs for
// the Dispatcher's EndpointSelector.
func buildEndpoints(cfg *config.Config) map[sequencer.NetworkId][]string {
	out := make(map[sequencer.NetworkId][]string, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if len(p.Endpoints) > 0 {
			out[sequencer.NetworkId(p.Network)] = p.Endpoints
		}
	}
	return out
}

// buildNonceStore returns a Redis-backed nonce/blockHeight store when
// RedisAddr is configured, falling back to an in-memory store otherwise
// (spec.md §6: Redis persistence is opt-in, not required to boot).
func buildNonceStore(cfg *config.Config) dispatch.NonceStore {
	if cfg.RedisAddr == "" {
		return dispatch.NewInMemoryNonceStore()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return dispatch.NewRedisNonceStore(client)
}
