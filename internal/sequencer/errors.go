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

package sequencer

import "fmt"

// Kind is the closed error-kind taxonomy shared across the sequencer
// packages. Callers switch on Kind rather than comparing error values, so
// that wrapping with additional context never breaks error handling.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnknownFeed
	KindUnknownReporter
	KindSignatureInvalid
	KindSlotOutOfWindow
	KindNoQuorum
	KindTypeMismatch
	KindBackpressureDropped
	KindProviderUnavailable
	KindNonceTooLow
	KindInsufficientFunds
	KindContractReverted
	KindConsensusTimeout
	KindShutdownInProgress
)

func (k Kind) String() string {
	switch k {
	case KindUnknownFeed:
		return "UnknownFeed"
	case KindUnknownReporter:
		return "UnknownReporter"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindSlotOutOfWindow:
		return "SlotOutOfWindow"
	case KindNoQuorum:
		return "NoQuorum"
	case KindTypeMismatch:
		return "TypeMismatch"
	case KindBackpressureDropped:
		return "BackpressureDropped"
	case KindProviderUnavailable:
		return "ProviderUnavailable"
	case KindNonceTooLow:
		return "NonceTooLow"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindContractReverted:
		return "ContractReverted"
	case KindConsensusTimeout:
		return "ConsensusTimeout"
	case KindShutdownInProgress:
		return "ShutdownInProgress"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// taxonomy rather than string-matching or sentinel comparison.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a Kind-tagged error from a format string, matching the
// teacher's fmt.Errorf-based idiom.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *Error, and KindUnknown otherwise.
func KindOf(err error) Kind {
	var se *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			se = e
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if se == nil {
		return KindUnknown
	}
	return se.Kind
}
