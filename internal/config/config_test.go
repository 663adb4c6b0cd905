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

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sequencer.yaml")
	content := `
maxKeysToBatch: 16
feeds:
  - id: BTC/USD
    network: eth-mainnet
    slotDurationMs: 1000
    quorumPercent: 67
    reducer: median
    totalReporters: 5
providers:
  - network: eth-mainnet
    endpoints: ["https://rpc.example/1"]
    chainId: 1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxKeysToBatch != 16 {
		t.Errorf("MaxKeysToBatch = %d, want 16 (override)", cfg.MaxKeysToBatch)
	}
	if cfg.KeysBatchDurationMs != 500 {
		t.Errorf("KeysBatchDurationMs = %d, want 500 (default)", cfg.KeysBatchDurationMs)
	}
	if len(cfg.Feeds) != 1 || cfg.Feeds[0].ID != "BTC/USD" {
		t.Fatalf("unexpected feeds: %+v", cfg.Feeds)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Network != "eth-mainnet" {
		t.Fatalf("unexpected providers: %+v", cfg.Providers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/sequencer.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
