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
	"context"
	"encoding/json"
	"net/http"

	"sequencer/internal/consensus"
	"sequencer/internal/sequencer"
	"sequencer/pkg/aggregate"
)

// Server adapts a Service onto HTTP, a development/local transport. Wire
// framing is explicitly out of scope per spec.md §1 Non-goals; this exists
// so the entry points are reachable without a separate client.
type Server struct {
	svc        *Service
	httpServer *http.Server
}

// NewServer builds an HTTP adapter bound to addr.
func NewServer(svc *Service, addr string) *Server {
	s := &Server{svc: svc}
	mux := http.NewServeMux()
	mux.HandleFunc("/report", s.handlePostReport)
	mux.HandleFunc("/signature", s.handlePostSignature)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe blocks serving requests until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type postReportRequest struct {
	FeedID       string  `json:"feedId"`
	Slot         uint64  `json:"slot"`
	ReporterID   string  `json:"reporterId"`
	Numerical    *float64 `json:"numerical,omitempty"`
	Text         *string  `json:"text,omitempty"`
	Signature    []byte  `json:"signature"`
	ReceivedAtMs int64   `json:"receivedAtMs"`
}

func (s *Server) handlePostReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req postReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	value := aggregate.VoteValue{Kind: aggregate.VoteError}
	switch {
	case req.Numerical != nil:
		value = aggregate.VoteValue{Kind: aggregate.VoteNumerical, Num: *req.Numerical}
	case req.Text != nil:
		value = aggregate.VoteValue{Kind: aggregate.VoteText, Text: *req.Text}
	}

	report := sequencer.Report{
		FeedID:       sequencer.FeedId(req.FeedID),
		Slot:         sequencer.SlotNumber(req.Slot),
		ReporterID:   sequencer.ReporterId(req.ReporterID),
		Value:        value,
		Signature:    req.Signature,
		ReceivedAtMs: req.ReceivedAtMs,
	}

	resp := s.svc.PostReport(report)
	writeJSON(w, resp)
}

type postSignatureRequest struct {
	Network     string `json:"network"`
	BlockHeight uint64 `json:"blockHeight"`
	ReporterID  string `json:"reporterId"`
	Payload     []byte `json:"payload"`
	Signature   []byte `json:"signature"`
}

func (s *Server) handlePostSignature(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req postSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	key := consensus.BatchKey{Network: sequencer.NetworkId(req.Network), BlockHeight: req.BlockHeight}
	resp := s.svc.PostSignature(key, sequencer.ReporterId(req.ReporterID), req.Payload, req.Signature)
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, resp Response) {
	status := http.StatusOK
	switch resp.Disposition {
	case Rejected:
		status = http.StatusTooManyRequests
	case Unknown:
		status = http.StatusNotFound
	case Late:
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Disposition string `json:"disposition"`
		Reason      string `json:"reason,omitempty"`
	}{Disposition: resp.Disposition.String(), Reason: resp.Reason})
}
