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

// Package stats implements the instrumentation sink UGSort's core
// reports to: per-record counters, phase timers, and the pile-up, merge
// and insert CSV reports the original IStats produces. The core
// (package splitter) only depends on its own narrower splitter.Stats
// interface; Sink is the richer, host-facing superset that cmd/ugsort
// drives across the whole run, not just the insertion loop.
package stats

import "time"

// Sink is the full instrumentation surface: the per-record counters
// splitter.Stats also declares, plus the host-level phase brackets
// (load/input/output/store) the original IStats times around the core.
type Sink interface {
	NewKey() (reportDue bool)
	LoHit()
	HiHit()
	NewStore()
	Compare()
	Pileup(storeCounts []int)
	PMStarted()
	PMFinished(merged int)
	FMStarted()
	FMFinished(startStores int)

	LoadStarted()
	LoadFinished()
	InputStarted()
	InputFinished()
	OutputStarted()
	OutputFinished()
	StoreStarted()
	StoreFinished()

	// Report flushes any open CSV writers and logs a summary. Called
	// once, after StoreFinished.
	Report() error
}

// Noop is the zero-overhead default Sink; every call is a no-op.
type Noop struct{}

func (Noop) NewKey() bool        { return false }
func (Noop) LoHit()              {}
func (Noop) HiHit()              {}
func (Noop) NewStore()           {}
func (Noop) Compare()            {}
func (Noop) Pileup([]int)        {}
func (Noop) PMStarted()          {}
func (Noop) PMFinished(int)     {}
func (Noop) FMStarted()         {}
func (Noop) FMFinished(int)     {}
func (Noop) LoadStarted()       {}
func (Noop) LoadFinished()      {}
func (Noop) InputStarted()      {}
func (Noop) InputFinished()     {}
func (Noop) OutputStarted()     {}
func (Noop) OutputFinished()    {}
func (Noop) StoreStarted()      {}
func (Noop) StoreFinished()     {}
func (Noop) Report() error      { return nil }

var _ Sink = Noop{}

// phaseTimer is a small start/stop helper shared by Instrumented's
// phase brackets.
type phaseTimer struct {
	start    time.Time
	elapsed  time.Duration
	running  bool
}

func (p *phaseTimer) Start() {
	p.start = time.Now()
	p.running = true
}

func (p *phaseTimer) Stop() {
	if !p.running {
		return
	}
	p.elapsed += time.Since(p.start)
	p.running = false
}
