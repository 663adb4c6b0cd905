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

// Command vote-sim generates synthetic postReport traffic for a single
// feed, useful for exercising the Feed Slot Manager and Votes Batcher
// without a real reporter fleet.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"time"
)

type simReport struct {
	FeedID       string  `json:"feedId"`
	Slot         uint64  `json:"slot"`
	ReporterID   string  `json:"reporterId"`
	Numerical    float64 `json:"numerical"`
	Signature    []byte  `json:"signature"`
	ReceivedAtMs int64   `json:"receivedAtMs"`
}

func main() {
	endpoint := flag.String("endpoint", "http://localhost:8080/report", "ingress /report endpoint")
	feedID := flag.String("feed", "BTC/USD", "feed id to simulate votes for")
	reporters := flag.Int("reporters", 5, "number of simulated reporters")
	interval := flag.Duration("interval", time.Second, "interval between simulated slots")
	center := flag.Float64("center", 50000, "center of the simulated value distribution")
	spread := flag.Float64("spread", 25, "max +/- random deviation from center")
	flag.Parse()

	client := &http.Client{Timeout: 2 * time.Second}
	slot := uint64(0)

	for {
		for i := 0; i < *reporters; i++ {
			report := simReport{
				FeedID:       *feedID,
				Slot:         slot,
				ReporterID:   fmt.Sprintf("reporter-%d", i),
				Numerical:    *center + (rand.Float64()*2-1)**spread,
				Signature:    []byte(fmt.Sprintf("sig-%d-%d", slot, i)),
				ReceivedAtMs: time.Now().UnixMilli(),
			}
			if err := postReport(client, *endpoint, report); err != nil {
				fmt.Printf("reporter-%d: post failed: %v\n", i, err)
			}
		}
		slot++
		time.Sleep(*interval)
	}
}

func postReport(client *http.Client, endpoint string, report simReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return err
	}
	resp, err := client.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
