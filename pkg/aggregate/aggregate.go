// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package aggregate implements the pure quorum-and-reduce step of the
// sequencer: turning a set of per-reporter votes for one feed and slot into
// a single aggregated result, or a suppression reason.
package aggregate

import (
	"math"
	"sort"
)

// ReducerKind selects how valid votes are combined into one value.
type ReducerKind int

const (
	ReducerMean ReducerKind = iota
	ReducerMedian
)

// VoteKind tags the shape of a VoteValue.
type VoteKind int

const (
	VoteNumerical VoteKind = iota
	VoteText
	VoteError
)

// VoteValue is the tagged variant a reporter can submit for a slot.
type VoteValue struct {
	Kind VoteKind
	Num  float64
	Text string // valid only when Kind == VoteText; must be <= 32 bytes
}

// Vote is one reporter's input into an aggregation round.
type Vote struct {
	ReporterID uint64
	Value      VoteValue
}

// SuppressReason explains why an aggregation round produced no result.
type SuppressReason int

const (
	_ SuppressReason = iota
	NoQuorum
	TypeMismatch
)

func (r SuppressReason) String() string {
	switch r {
	case NoQuorum:
		return "NoQuorum"
	case TypeMismatch:
		return "TypeMismatch"
	default:
		return "Unknown"
	}
}

// Suppressed is returned instead of a Result when quorum or type constraints
// are not met. It is not an error: it is a normal, expected outcome that the
// caller must turn into a metrics increment rather than a log line.
type Suppressed struct {
	Reason SuppressReason
}

// Descriptor carries the subset of a feed's configuration the aggregator
// needs. It never owns the feed; callers pass a snapshot.
type Descriptor struct {
	TotalReporters int
	QuorumPercent  int // 1..100
	Reducer        ReducerKind
}

// Result is the pure output of one aggregation round, independent of slot
// and timing metadata (the caller attaches feedId/slot/computedAtMs).
type Result struct {
	Value                 VoteValue
	Encoded                [32]byte
	ContributingReporters []uint64
}

// QuorumThreshold returns ceil(totalReporters * quorumPercent / 100).
func QuorumThreshold(totalReporters, quorumPercent int) int {
	if totalReporters <= 0 || quorumPercent <= 0 {
		return 0
	}
	num := totalReporters * quorumPercent
	th := num / 100
	if num%100 != 0 {
		th++
	}
	return th
}

// Aggregate implements spec.md §4.4. It is a pure function: identical
// (desc, votes) always produces an identical Result or Suppressed value, and
// it never mutates its inputs.
func Aggregate(desc Descriptor, votes []Vote) (Result, *Suppressed, error) {
	valid := make([]Vote, 0, len(votes))
	for _, v := range votes {
		if v.Value.Kind == VoteError {
			continue
		}
		valid = append(valid, v)
	}

	threshold := QuorumThreshold(desc.TotalReporters, desc.QuorumPercent)
	if len(valid) < threshold {
		return Result{}, &Suppressed{Reason: NoQuorum}, nil
	}

	var value VoteValue
	switch desc.Reducer {
	case ReducerMean:
		sum := 0.0
		for _, v := range valid {
			if v.Value.Kind != VoteNumerical {
				return Result{}, &Suppressed{Reason: TypeMismatch}, nil
			}
			sum += v.Value.Num
		}
		value = VoteValue{Kind: VoteNumerical, Num: sum / float64(len(valid))}
	case ReducerMedian:
		nums := make([]float64, 0, len(valid))
		for _, v := range valid {
			if v.Value.Kind != VoteNumerical {
				return Result{}, &Suppressed{Reason: TypeMismatch}, nil
			}
			nums = append(nums, v.Value.Num)
		}
		sort.Float64s(nums)
		value = VoteValue{Kind: VoteNumerical, Num: median(nums)}
	default:
		return Result{}, &Suppressed{Reason: TypeMismatch}, nil
	}

	encoded, err := Encode32(value)
	if err != nil {
		return Result{}, &Suppressed{Reason: TypeMismatch}, nil
	}

	contributing := make([]uint64, 0, len(valid))
	for _, v := range valid {
		contributing = append(contributing, v.ReporterID)
	}

	return Result{Value: value, Encoded: encoded, ContributingReporters: contributing}, nil, nil
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	mid := n / 2
	if n%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2.0
}

// Encode32 implements the §4.4 scalar-to-32-byte encoding: a Numerical value
// is its IEEE-754 big-endian bit pattern, zero-padded at the front to 32
// bytes; a Text value is UTF-8, right-padded with zero bytes to 32. Text
// longer than 32 bytes is rejected as a type mismatch.
func Encode32(v VoteValue) ([32]byte, error) {
	var out [32]byte
	switch v.Kind {
	case VoteNumerical:
		bits := math.Float64bits(v.Num)
		for i := 0; i < 8; i++ {
			out[31-i] = byte(bits >> (8 * i))
		}
		return out, nil
	case VoteText:
		b := []byte(v.Text)
		if len(b) > 32 {
			return out, errTextTooLong
		}
		copy(out[:], b)
		return out, nil
	default:
		return out, errUnsupportedVoteKind
	}
}

// Decode32Numerical is the inverse of Encode32 for Numerical values, used by
// tests and by any consumer that needs to recover the original float from
// on-chain calldata bytes.
func Decode32Numerical(b [32]byte) float64 {
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(b[31-i]) << (8 * i)
	}
	return math.Float64frombits(bits)
}
