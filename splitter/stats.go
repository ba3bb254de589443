// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package splitter

// Stats is the instrumentation sink a Splitter reports to. It is defined
// here, at the point of use, so the splitter package never imports the
// concrete stats package; package stats's Noop and Instrumented types
// satisfy this interface structurally. A nil Stats is never passed to a
// Splitter - callers that don't want instrumentation use stats.Noop.
type Stats interface {
	// NewKey is called once per inserted record, after the record has
	// been placed. It reports whether this record crossed a reporting
	// interval boundary, mirroring IStats::newKey()'s bool return - the
	// Splitter uses it to decide whether to call Pileup this insert.
	NewKey() (reportDue bool)
	// LoHit/HiHit are called when a record extended a store's low/high
	// boundary without requiring a new store.
	LoHit()
	HiHit()
	// NewStore is called when a record required a brand new store.
	NewStore()
	// Compare is called once per key comparison performed while
	// locating a record's target store.
	Compare()
	// Pileup is called at each reporting interval boundary (when NewKey
	// returned true) with the live record count of every store in the
	// chain, in chain order, for the pile-up CSV report.
	Pileup(storeCounts []int)
	// PMStarted/PMFinished bracket one Preemptive Merge pass; merged is
	// the number of stores eliminated.
	PMStarted()
	PMFinished(merged int)
	// FMStarted/FMFinished bracket the whole final merge; startStores
	// is the store count signalEndOfInput began with.
	FMStarted()
	FMFinished(startStores int)
}

// noopStats is used internally by New when the caller passes a nil Stats,
// so the hot insertion path never needs a nil check.
type noopStats struct{}

func (noopStats) NewKey() bool       { return false }
func (noopStats) LoHit()             {}
func (noopStats) HiHit()             {}
func (noopStats) NewStore()          {}
func (noopStats) Compare()           {}
func (noopStats) Pileup([]int)       {}
func (noopStats) PMStarted()         {}
func (noopStats) PMFinished(int)     {}
func (noopStats) FMStarted()         {}
func (noopStats) FMFinished(int)     {}
