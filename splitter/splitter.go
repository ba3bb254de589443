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

// Package splitter implements the Splitter: the incremental
// range-partitioning engine that accumulates records into a StoreChain of
// sorted SplitStores, adaptively merges the chain down with a Preemptive
// Merge, and reduces it to a single sorted store on EndOfInput.
package splitter

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"

	"github.com/iantree/ugsort/store"
)

// ErrOutputInvalid is wrapped by callers that want an error value after
// IsOutputValid reports false; the core itself never returns it (see
// IsOutputValid).
var ErrOutputInvalid = errors.New("splitter: output record count does not match input record count")

// initialMaxStores and initialGrowthPOS are the defaults the original
// constructor assigns before any Preemptive Merge has run.
const (
	initialMaxStores = 100
	initialGrowthPOS = 25
)

// pileUpLowWaterMark mirrors the original's "top the chain up when
// within 10 slots of capacity" rule for the no-PM configuration; Go
// slice append already grows geometrically, so this only controls how
// eagerly appendStore pre-reserves capacity.
const pileUpLowWaterMark = 10

// Splitter is the sort engine. It is not safe for concurrent use: like
// the structure it's grounded on, it has no suspension points and
// expects single-threaded, cooperative use by one goroutine at a time.
type Splitter struct {
	chain []*store.SplitStore

	keyLen  int
	arenaKB int

	stable    bool // Add*/AddExternal vs AddStable*/AddStableExternal
	ascending bool // only consulted when stable is true

	pmEnabled bool
	maxStores int
	growthPOS int

	alloc store.Allocator

	recNo int64
	stats Stats
}

// Option configures a Splitter at construction time.
type Option func(*Splitter)

// WithArena enables a per-store KeyStore of arenaKB kilobytes, required
// for the *External insertion variants.
func WithArena(arenaKB int) Option {
	return func(s *Splitter) { s.arenaKB = arenaKB }
}

// WithStats attaches an instrumentation sink. Without this option the
// Splitter reports to a no-op sink.
func WithStats(stats Stats) Option {
	return func(s *Splitter) {
		if stats != nil {
			s.stats = stats
		}
	}
}

// WithStableOrder switches the Splitter into stable mode: merges favor
// the target record on a tie for ascending output, and the mergee record
// for descending output, so records with equal keys keep their relative
// input order. ascending selects the output direction.
func WithStableOrder(ascending bool) Option {
	return func(s *Splitter) {
		s.stable = true
		s.ascending = ascending
	}
}

// WithPreemptiveMerge enables the adaptive Preemptive Merge. Without it,
// the Splitter lets the store chain grow unboundedly until EndOfInput.
func WithPreemptiveMerge(enabled bool) Option {
	return func(s *Splitter) { s.pmEnabled = enabled }
}

// WithArenaAllocator overrides the allocator every store's KeyStore uses
// to grow its arena chain. It exists so tests can force an
// AllocationFailure deterministically; production callers never need it,
// since the zero value already falls back to a real allocation.
func WithArenaAllocator(alloc store.Allocator) Option {
	return func(s *Splitter) { s.alloc = alloc }
}

// New creates an empty Splitter for fixed-length keys of keyLen bytes.
func New(keyLen int, opts ...Option) *Splitter {
	s := &Splitter{
		keyLen:    keyLen,
		pmEnabled: true,
		maxStores: initialMaxStores,
		growthPOS: initialGrowthPOS,
		stats:     noopStats{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// cmp compares two keys in the Splitter's internal store order: for an
// ascending Splitter this is exactly bytes.Compare; for a descending
// stable Splitter it is reversed, so PushLow always means "extend toward
// the front of this store's internal array" regardless of which real
// byte ordering that represents. This lets one binary-chop
// implementation serve both directions.
func (s *Splitter) cmp(a, b []byte) int {
	s.stats.Compare()
	c := bytes.Compare(a, b)
	if s.stable && !s.ascending {
		return -c
	}
	return c
}

// mergeOrder is the store.Order to use for this Splitter's merges
// (Preemptive and final). Unstable is only ever used in ascending mode,
// matching the original's plain add()/signalEndOfSortInput() pair, which
// never offered a descending option.
func (s *Splitter) mergeOrder() store.Order {
	switch {
	case !s.stable:
		return store.Unstable
	case s.ascending:
		return store.AscendingStable
	default:
		return store.DescendingStable
	}
}

func (s *Splitter) newStore() *store.SplitStore {
	if s.alloc != nil {
		return store.NewWithAllocator(s.keyLen, s.arenaKB, s.alloc)
	}
	return store.New(s.keyLen, s.arenaKB)
}

// appendStore appends a freshly created single-record store holding key
// at the tail of the chain, grows chain capacity defensively, and runs
// the Preemptive Merge check. It reports ok == false, leaving the chain
// untouched, if copying key into the new store's arena fails.
func (s *Splitter) appendStore(key []byte, locator int64, external bool) (ok bool) {
	ns := s.newStore()
	if external {
		if !ns.PushHighExternal(key, locator) {
			return false
		}
	} else {
		ns.PushHigh(key, locator)
	}
	s.chain = append(s.chain, ns)
	s.stats.NewStore()

	if s.pmEnabled && len(s.chain) > s.maxStores {
		s.preemptiveMerge()
	} else if !s.pmEnabled && cap(s.chain)-len(s.chain) < pileUpLowWaterMark {
		grown := make([]*store.SplitStore, len(s.chain), len(s.chain)+1024)
		copy(grown, s.chain)
		s.chain = grown
	}
	return true
}

// preemptiveMerge runs one adaptive Preemptive Merge pass: it suppresses
// the tail of the chain down to ~90% of its current length, then raises
// maxStores (monotonically) from the growing record count, mirroring
// computeMaxStores/suppressTail in the original Splitter.
func (s *Splitter) preemptiveMerge() {
	s.stats.PMStarted()
	before := len(s.chain)
	s.suppressTail()
	s.stats.PMFinished(before - len(s.chain))

	s.maxStores = computeMaxStores(s.maxStores, s.recNo, s.growthPOS)
}

// suppressTail merges stores from the tail of the chain, pairwise with
// their immediate predecessor, until the chain has shrunk to 90% of its
// length at entry. Both the unstable and stable paths use this same
// merge pattern: merge Store[n-2] with Store[n-1], keep the result at
// n-2, drop n-1, repeat.
//
// The original C++'s stable variant (suppressStableTail) has its
// ascending branch merge Store[n-1] into itself instead of following
// this n-2/n-1 pattern; that is a transcription bug (the descending
// branch gets it right) and is not reproduced here - both directions use
// the corrected pattern.
func (s *Splitter) suppressTail() {
	n := len(s.chain)
	target := (n * 9) / 10
	order := s.mergeOrder()
	for n > target {
		s.chain[n-2].MergeNext(s.chain[n-1], order)
		n--
	}
	s.chain = s.chain[:n]
}

// computeMaxStores returns the larger of the current trigger and a new
// value derived from the input seen so far: Sn = ceil(2*sqrt(n/2)),
// NewMax = floor(Sn*pos/100). This keeps the Preemptive Merge trigger
// growing with input size without ever shrinking it.
func computeMaxStores(current int, recNo int64, pos int) int {
	if recNo <= 0 {
		return current
	}
	sn := math.Ceil(2 * math.Sqrt(float64(recNo)/2))
	newMax := int((sn * float64(pos)) / 100)
	if newMax > current {
		return newMax
	}
	return current
}

// probe reports, for the given store, whether key belongs toward its low
// end (below == true) and whether key can extend the store at either end
// (without == true). without == false means key is interior to the
// store's span (in stable mode, a key equal to either boundary counts as
// interior) and cannot extend it.
func (s *Splitter) probe(st *store.SplitStore, key []byte) (below, without bool) {
	if s.extendsLow(key, st.Lowest().Key) {
		return true, true
	}
	if s.extendsHigh(key, st.Highest().Key) {
		return false, true
	}
	return false, false
}

// extendsLow and extendsHigh report whether key may be pushed onto the
// low/high end of a store whose boundary key is bound. In stable mode a
// key equal to the boundary does not extend the store, so a later record
// is never placed ahead of an earlier record with the same key.
func (s *Splitter) extendsLow(key, bound []byte) bool {
	if s.stable {
		return s.cmp(key, bound) < 0
	}
	return s.cmp(key, bound) <= 0
}

func (s *Splitter) extendsHigh(key, bound []byte) bool {
	if s.stable {
		return s.cmp(key, bound) > 0
	}
	return s.cmp(key, bound) >= 0
}

// pushLow and pushHigh report ok == false, leaving st untouched, if an
// external key copy fails (AllocationFailure); the caller (insert) treats
// a dropped record as already accounted for via recNo, which
// IsOutputValid compares against the records actually held in the final
// store.
func (s *Splitter) pushLow(st *store.SplitStore, key []byte, locator int64, external bool) (ok bool) {
	if external {
		if !st.PushLowExternal(key, locator) {
			return false
		}
	} else {
		st.PushLow(key, locator)
	}
	s.stats.LoHit()
	return true
}

func (s *Splitter) pushHigh(st *store.SplitStore, key []byte, locator int64, external bool) (ok bool) {
	if external {
		if !st.PushHighExternal(key, locator) {
			return false
		}
	} else {
		st.PushHigh(key, locator)
	}
	s.stats.HiHit()
	return true
}

// insert is the shared binary-chop insertion used by Add, AddExternal,
// AddStable and AddStableExternal; external selects whether key is
// copied into a store's arena or kept as a stable-resident slice.
func (s *Splitter) insert(key []byte, locator int64, external bool) {
	s.recNo++
	defer s.maybeReportPileup()

	n := len(s.chain)
	if n == 0 {
		s.appendStore(key, locator, external)
		return
	}

	first := s.chain[0]
	if s.extendsLow(key, first.Lowest().Key) {
		s.pushLow(first, key, locator, external)
		return
	}

	last := s.chain[n-1]
	if s.extendsHigh(key, last.Highest().Key) {
		s.pushHigh(last, key, locator, external)
		return
	}

	// Fast path: a key that falls strictly inside the tail store's own
	// current span can't extend it and needs a new store; checking this
	// up front catches the common near-sorted-with-a-jump pattern
	// without a full binary chop.
	if s.cmp(key, last.Lowest().Key) > 0 && s.cmp(key, last.Highest().Key) < 0 {
		s.appendStore(key, locator, external)
		return
	}

	cur := n / 2
	delta := n / 4
	if delta < 1 {
		delta = 1
	}
	for {
		below, without := s.probe(s.chain[cur], key)
		if !without {
			// Key is interior to this store's own span too; no store
			// can be extended to hold it, so start a new one.
			s.appendStore(key, locator, external)
			return
		}

		if below {
			if cur == 0 {
				s.pushLow(s.chain[0], key, locator, external)
				return
			}
			nbrBelow, otherWithout := s.probe(s.chain[cur-1], key)
			if !otherWithout || !nbrBelow {
				// key is inside the left neighbour's span or in the gap
				// above it; either way it extends this store's low end.
				s.pushLow(s.chain[cur], key, locator, external)
				return
			}
			if cur-delta < 0 {
				cur = 0
			} else {
				cur -= delta
			}
		} else {
			if cur == n-1 {
				s.pushHigh(s.chain[n-1], key, locator, external)
				return
			}
			nbrBelow, otherWithout := s.probe(s.chain[cur+1], key)
			if !otherWithout || nbrBelow {
				// key is inside the right neighbour's span or in the gap
				// below it; either way it extends this store's high end.
				s.pushHigh(s.chain[cur], key, locator, external)
				return
			}
			if cur+delta > n-1 {
				cur = n - 1
			} else {
				cur += delta
			}
		}

		if delta > 1 {
			delta /= 2
		} else {
			delta = 1
		}
	}
}

// maybeReportPileup asks Stats whether this record crossed a reporting
// interval boundary and, if so, hands it the live per-store record count
// of every store currently in the chain. It runs via defer at the tail of
// insert, after the record has been placed, mirroring the original
// add()'s "if (Stats.newKey()) { ...iterate pStoreChain... }" check that
// follows every one of its own return sites.
func (s *Splitter) maybeReportPileup() {
	if !s.stats.NewKey() {
		return
	}
	counts := make([]int, len(s.chain))
	for i, st := range s.chain {
		counts[i] = st.Count()
	}
	s.stats.Pileup(counts)
}

// Add inserts a record whose key is a stable-resident slice, using
// unstable (ascending-only) ordering: a key equal to a store's lowest
// record is pushed below it, and stores are merged with store.Unstable,
// so records with equal keys may change their relative order.
func (s *Splitter) Add(key []byte, locator int64) {
	s.insert(key, locator, false)
}

// AddExternal is Add for a key whose backing buffer is not guaranteed to
// outlive the sort; it is copied into the target store's arena. The
// Splitter must have been constructed with WithArena.
func (s *Splitter) AddExternal(key []byte, locator int64) {
	s.insert(key, locator, true)
}

// AddStable inserts a record under the Splitter's configured stable
// ordering (see WithStableOrder). It panics if the Splitter was not
// constructed with WithStableOrder, since "stable" is otherwise
// ambiguous about direction.
func (s *Splitter) AddStable(key []byte, locator int64) {
	if !s.stable {
		panic("splitter: AddStable requires WithStableOrder")
	}
	s.insert(key, locator, false)
}

// AddStableExternal is AddStable for an externally-owned key buffer.
func (s *Splitter) AddStableExternal(key []byte, locator int64) {
	if !s.stable {
		panic("splitter: AddStableExternal requires WithStableOrder")
	}
	s.insert(key, locator, true)
}

// EndOfInput reduces the store chain to a single sorted store by
// repeated alternate-neighbor merge passes: (S0,S1), (S2,S3), ...
// folded into their left neighbor, halving the chain each pass until one
// store remains. It is idempotent once the chain holds a single store.
func (s *Splitter) EndOfInput() {
	s.stats.FMStarted()
	startStores := len(s.chain)
	order := s.mergeOrder()

	for len(s.chain) > 1 {
		s.chain = alternateMergePass(s.chain, order)
	}

	s.stats.FMFinished(startStores)
}

// alternateMergePass performs one pass of pairing up adjacent stores and
// merging the right of each pair into the left, compacting survivors to
// the front of the chain.
func alternateMergePass(chain []*store.SplitStore, order store.Order) []*store.SplitStore {
	write := 0
	for read := 0; read < len(chain); read += 2 {
		if read+1 < len(chain) {
			chain[read].MergeNext(chain[read+1], order)
		}
		chain[write] = chain[read]
		write++
	}
	return slices.Delete(chain, write, len(chain))
}

// IsOutputValid reports whether the number of records reachable from the
// final store equals the number of records inserted. A false result
// surfaces an otherwise-silent InvariantViolation or AllocationFailure;
// the host is expected to wrap it as an error (see ErrOutputInvalid) and
// report it rather than trust the output.
func (s *Splitter) IsOutputValid() bool {
	if len(s.chain) != 1 {
		return s.recNo == 0 && len(s.chain) == 0
	}
	return s.recNo == int64(s.chain[0].Count())
}

// ValidateOutput is a convenience wrapper returning ErrOutputInvalid when
// IsOutputValid is false.
func (s *Splitter) ValidateOutput() error {
	if !s.IsOutputValid() {
		return fmt.Errorf("%w: %d records in, %d records out", ErrOutputInvalid, s.recNo, s.outputCount())
	}
	return nil
}

func (s *Splitter) outputCount() int {
	if len(s.chain) != 1 {
		return -1
	}
	return s.chain[0].Count()
}

// Lowest returns an Iterator positioned at the first record of the final
// (post-EndOfInput) store. EndOfInput must have been called and must
// have reduced the chain to exactly one store.
func (s *Splitter) Lowest() *Iterator {
	return &Iterator{store: s.finalStore(), pos: 0}
}

// Highest returns an Iterator positioned at the last record of the final
// store.
func (s *Splitter) Highest() *Iterator {
	st := s.finalStore()
	return &Iterator{store: st, pos: st.Count() - 1}
}

func (s *Splitter) finalStore() *store.SplitStore {
	if len(s.chain) != 1 {
		panic("splitter: output iterator requested before EndOfInput produced a single store")
	}
	return s.chain[0]
}

// RecordCount returns the number of records inserted so far.
func (s *Splitter) RecordCount() int64 { return s.recNo }

// StoreCount returns the current number of stores in the chain.
func (s *Splitter) StoreCount() int { return len(s.chain) }
