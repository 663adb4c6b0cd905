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

// Command report-loadgen floods a running sequencer's ingress endpoint with
// postReport traffic at a configured rate, to measure throughput and
// observe backpressure behavior under load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type loadReport struct {
	FeedID       string  `json:"feedId"`
	Slot         uint64  `json:"slot"`
	ReporterID   string  `json:"reporterId"`
	Numerical    float64 `json:"numerical"`
	Signature    []byte  `json:"signature"`
	ReceivedAtMs int64   `json:"receivedAtMs"`
}

func main() {
	endpoint := flag.String("endpoint", "http://localhost:8080/report", "ingress /report endpoint")
	feedID := flag.String("feed", "BTC/USD", "feed id to target")
	reporterID := flag.String("reporter", "loadgen-1", "reporter id to submit as")
	ratePerSec := flag.Float64("rate", 100, "requests per second")
	duration := flag.Duration("duration", 10*time.Second, "total run duration")
	concurrency := flag.Int("concurrency", 8, "number of concurrent senders")
	flag.Parse()

	limiter := rate.NewLimiter(rate.Limit(*ratePerSec), int(*ratePerSec)+1)
	client := &http.Client{Timeout: 2 * time.Second}

	var sent, failed atomic.Int64
	deadline := time.Now().Add(*duration)

	done := make(chan struct{})
	for w := 0; w < *concurrency; w++ {
		go func(worker int) {
			for time.Now().Before(deadline) {
				if err := limiter.Wait(context.Background()); err != nil {
					continue
				}
				report := loadReport{
					FeedID:       *feedID,
					ReporterID:   fmt.Sprintf("%s-%d", *reporterID, worker),
					Numerical:    1.0,
					Signature:    []byte("loadgen-sig"),
					ReceivedAtMs: time.Now().UnixMilli(),
				}
				if err := send(client, *endpoint, report); err != nil {
					failed.Add(1)
				} else {
					sent.Add(1)
				}
			}
			done <- struct{}{}
		}(w)
	}

	for i := 0; i < *concurrency; i++ {
		<-done
	}

	fmt.Printf("sent=%d failed=%d\n", sent.Load(), failed.Load())
}

func send(client *http.Client, endpoint string, report loadReport) error {
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
