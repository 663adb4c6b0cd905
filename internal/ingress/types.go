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

// Package ingress implements the two inbound entry points of spec.md §6:
// postReport and postSignature. Wire framing (HTTP here) is a thin,
// replaceable transport over the entry points, which are the part of this
// package the rest of the system actually depends on.
package ingress

// Disposition is the outcome of submitting a report or signature.
type Disposition int

const (
	Accepted Disposition = iota
	Rejected
	Unknown
	Late
)

func (d Disposition) String() string {
	switch d {
	case Accepted:
		return "Accepted"
	case Rejected:
		return "Rejected"
	case Unknown:
		return "Unknown"
	case Late:
		return "Late"
	default:
		return "Unknown"
	}
}

// Response is returned by both entry points.
type Response struct {
	Disposition Disposition
	Reason      string
}
