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

package consensus

import (
	"container/list"

	"sequencer/internal/sequencer"
)

// arrivalLog records the order in which reporters' signatures landed for
// one batch, for diagnostics (which reporter is consistently slow/absent).
// Adapted from the teacher's per-key VActor queue: there it ordered
// updates for replay; here it ordered arrivals for observability, so the
// ordering discipline is kept but nothing is ever drained/replayed from it.
type arrivalLog struct {
	order *list.List
}

func newArrivalLog() *arrivalLog {
	return &arrivalLog{order: list.New()}
}

func (a *arrivalLog) record(reporterID sequencer.ReporterId) {
	a.order.PushBack(reporterID)
}

func (a *arrivalLog) snapshot() []sequencer.ReporterId {
	out := make([]sequencer.ReporterId, 0, a.order.Len())
	for e := a.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(sequencer.ReporterId))
	}
	return out
}
