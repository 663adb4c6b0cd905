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

// Package config loads the sequencer's YAML configuration (spec.md §6).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one network's dispatch endpoint and chain
// parameters.
type ProviderConfig struct {
	Network         string   `yaml:"network"`
	Endpoints       []string `yaml:"endpoints"`
	ChainID         uint64   `yaml:"chainId"`
	ContractAddress string   `yaml:"contractAddress"`
	GasLimit        uint64   `yaml:"gasLimit"`
}

// FeedConfig describes one feed to register at startup.
type FeedConfig struct {
	ID             string `yaml:"id"`
	Network        string `yaml:"network"`
	SlotDurationMs int64  `yaml:"slotDurationMs"`
	QuorumPercent  int    `yaml:"quorumPercent"`
	Reducer        string `yaml:"reducer"` // "mean" or "median"
	TotalReporters int    `yaml:"totalReporters"`
}

// Config is the full set of spec.md §6 configuration keys, plus the
// provider/feed definitions needed to boot a standalone process.
type Config struct {
	MaxKeysToBatch           int              `yaml:"maxKeysToBatch"`
	KeysBatchDurationMs      int64            `yaml:"keysBatchDurationMs"`
	ConsensusTimeoutMs       int64            `yaml:"consensusTimeoutMs"`
	ConsensusSweepIntervalMs int64            `yaml:"consensusSweepIntervalMs"`
	HistoryCapacity          int              `yaml:"historyCapacity"`
	DispatchRetries          int              `yaml:"dispatchRetries"`
	DispatchAttemptTimeoutMs int64            `yaml:"dispatchAttemptTimeoutMs"`
	ReporterWindowAllowance  int64            `yaml:"reporterWindowAllowance"`
	IngressAddr              string           `yaml:"ingressAddr"`
	MetricsAddr              string           `yaml:"metricsAddr"`
	RedisAddr                string           `yaml:"redisAddr"`
	Providers                []ProviderConfig `yaml:"providers"`
	Feeds                    []FeedConfig     `yaml:"feeds"`
}

// Defaults returns the configuration defaults named throughout spec.md.
func Defaults() Config {
	return Config{
		MaxKeysToBatch:           32,
		KeysBatchDurationMs:      500,
		ConsensusTimeoutMs:       300_000,
		ConsensusSweepIntervalMs: 5_000,
		HistoryCapacity:          1024,
		DispatchRetries:          3,
		DispatchAttemptTimeoutMs: 30_000,
		ReporterWindowAllowance:  1000,
		IngressAddr:              ":8080",
		MetricsAddr:              ":9090",
	}
}

// Load reads and parses a YAML configuration file, applying Defaults() for
// any zero-valued field the file omits.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// KeysBatchDuration returns KeysBatchDurationMs as a time.Duration.
func (c Config) KeysBatchDuration() time.Duration {
	return time.Duration(c.KeysBatchDurationMs) * time.Millisecond
}

// ConsensusTimeout returns ConsensusTimeoutMs as a time.Duration.
func (c Config) ConsensusTimeout() time.Duration {
	return time.Duration(c.ConsensusTimeoutMs) * time.Millisecond
}

// ConsensusSweepInterval returns ConsensusSweepIntervalMs as a
// time.Duration.
func (c Config) ConsensusSweepInterval() time.Duration {
	return time.Duration(c.ConsensusSweepIntervalMs) * time.Millisecond
}

// DispatchAttemptTimeout returns DispatchAttemptTimeoutMs as a
// time.Duration.
func (c Config) DispatchAttemptTimeout() time.Duration {
	return time.Duration(c.DispatchAttemptTimeoutMs) * time.Millisecond
}
