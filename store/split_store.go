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

// Package store implements the SplitStore and KeyStore types: the
// contiguous sorted partitions a Splitter's StoreChain is built from, and
// the optional bump-allocator arena that lets a store own copies of key
// bytes whose original buffer is not stable-resident.
package store

import (
	"bytes"

	"github.com/iantree/ugsort/record"
)

// minCapacity is the smallest backing array a SplitStore allocates, and
// the starting size of the geometric growth increment, mirroring the
// original's SRAInc(256) default.
const minCapacity = 256

// maxGrowthIncrement caps how large a single growLow/growHigh
// reallocation's increment can get; the increment doubles on every grow
// below this cap, then stays fixed, matching the original's
// `if (SRAInc < (64 * 1024)) SRAInc = SRAInc * 2` policy.
const maxGrowthIncrement = 64 * 1024

// mergeLowSlack is the number of empty slots left below the lowest
// record of a freshly merged store, and mergeExtra the total slack split
// across both ends, mirroring SplitStore.h's mergeNextStore
// (`NewCapacity = SRANum + pNext->SRANum + 256`, `NewLo = 128`). Without
// this margin the very next PushLow/PushHigh after any merge would force
// an immediate reallocation, defeating the store's amortized-O(1)
// push guarantee right when the chain most needs it (after a Preemptive
// Merge or the final merge pass).
const (
	mergeLowSlack = 128
	mergeExtra    = 256
)

// Order selects the comparator a merge uses, and with it the stability
// guarantee the merge makes about equal keys. Unifying the three merge
// variants behind this parameter replaces what the original keeps as
// three near-identical routines (mergeNextStore, mergeNextStoreAscending,
// mergeNextStoreDescending).
type Order int

const (
	// Unstable merges with no tie-break guarantee beyond determinism:
	// on equal keys the target (receiver) record is taken first. Used
	// for every merge (Preemptive and final) of a Splitter not in stable
	// mode, where relative order of equal keys is not preserved.
	Unstable Order = iota

	// AscendingStable merges two ascending-ordered stores into one
	// ascending-ordered store, taking the target record first on a tie
	// so records keep the relative order they had across the whole
	// chain (earlier store == earlier insertion position).
	AscendingStable

	// DescendingStable merges two descending-ordered stores into one
	// descending-ordered store, taking the mergee (next) record first
	// on a tie.
	DescendingStable
)

// takeLeft reports whether, given the head keys of the target (left) and
// mergee (right) runs, the target's record should be emitted next.
func takeLeft(order Order, left, right []byte) bool {
	c := bytes.Compare(left, right)
	if order == DescendingStable {
		if c == 0 {
			return false
		}
		return c > 0
	}
	if c == 0 {
		return true
	}
	return c < 0
}

// SplitStore is one contiguous, sorted partition of the overall key
// range. Its backing array grows from both ends: PushLow extends the
// partition downward, PushHigh extends it upward, and the array is only
// reallocated - by the geometric increment growInc, doubling (capped at
// maxGrowthIncrement) on every grow - when the end being pushed to has
// run out of room. A freshly merged store carries mergeLowSlack/
// mergeExtra-mergeLowSlack slots of margin on its low/high ends so the
// push immediately following a merge doesn't force another
// reallocation. This lets the common case - a new key that is the new
// low or new high record overall - cost no copying beyond the single
// record.
type SplitStore struct {
	records []record.Record
	lo, hi  int
	keyLen  int
	growInc int
	keys    *KeyStore
}

// New creates an empty SplitStore able to hold keys of length keyLen. If
// arenaKB is non-zero the store owns a KeyStore arena and the *External
// push variants copy their key argument into it; with arenaKB == 0 the
// *External variants are not usable and only the plain Push variants
// (which require a stable-resident key buffer) may be called.
func New(keyLen, arenaKB int) *SplitStore {
	return NewWithAllocator(keyLen, arenaKB, defaultAllocator)
}

// NewWithAllocator is New with an injectable Allocator governing the
// store's KeyStore arena growth, used by tests to exercise the
// AllocationFailure path (spec.md §7) deterministically.
func NewWithAllocator(keyLen, arenaKB int, alloc Allocator) *SplitStore {
	s := &SplitStore{
		records: make([]record.Record, minCapacity),
		keyLen:  keyLen,
		growInc: minCapacity,
	}
	s.lo = minCapacity / 2
	s.hi = s.lo
	if arenaKB > 0 {
		s.keys = NewKeyStoreWithAllocator(arenaKB, keyLen, alloc)
	}
	return s
}

// Count returns the number of records currently held.
func (s *SplitStore) Count() int { return s.hi - s.lo }

// Lowest returns the smallest (or, in a descending-ordered store, most
// recently pushed-low) record. The store must not be empty.
func (s *SplitStore) Lowest() record.Record { return s.records[s.lo] }

// Highest returns the largest (or, in a descending-ordered store, the
// smallest) record. The store must not be empty.
func (s *SplitStore) Highest() record.Record { return s.records[s.hi-1] }

// At returns the record at position i of this store's internal order (0
// is Lowest, Count()-1 is Highest), for random-access output iteration.
func (s *SplitStore) At(i int) record.Record { return s.records[s.lo+i] }

// HasArena reports whether the store owns a KeyStore.
func (s *SplitStore) HasArena() bool { return s.keys != nil }

// nextGrowInc returns the increment to add on this grow and advances
// growInc for the next one, doubling up to maxGrowthIncrement.
func (s *SplitStore) nextGrowInc() int {
	inc := s.growInc
	if s.growInc < maxGrowthIncrement {
		s.growInc *= 2
	}
	return inc
}

// growLow extends the backing array by one growth increment below index
// 0, shifting the existing window up to make room, so there is space to
// push below the current low end.
func (s *SplitStore) growLow() {
	count := s.Count()
	extra := s.nextGrowInc()
	nr := make([]record.Record, len(s.records)+extra)
	copy(nr[extra:extra+count], s.records[s.lo:s.hi])
	s.records = nr
	s.lo, s.hi = extra, extra+count
}

// growHigh extends the backing array by one growth increment above the
// current top, leaving the existing window's indices untouched, so
// there is space to push above the current high end.
func (s *SplitStore) growHigh() {
	extra := s.nextGrowInc()
	nr := make([]record.Record, len(s.records)+extra)
	copy(nr[s.lo:s.hi], s.records[s.lo:s.hi])
	s.records = nr
}

// PushLow extends the partition downward with a record whose Key is
// already stable-resident (it is not copied).
func (s *SplitStore) PushLow(key []byte, locator int64) {
	if s.lo == 0 {
		s.growLow()
	}
	s.lo--
	s.records[s.lo] = record.Record{Key: key, Locator: locator}
}

// PushHigh extends the partition upward with a stable-resident key.
func (s *SplitStore) PushHigh(key []byte, locator int64) {
	if s.hi == len(s.records) {
		s.growHigh()
	}
	s.records[s.hi] = record.Record{Key: key, Locator: locator}
	s.hi++
}

// PushLowExternal copies key into the store's arena before extending the
// partition downward. The store must have been created with arenaKB > 0.
// It reports ok == false, leaving the store unmodified, if the arena
// copy fails (AllocationFailure).
func (s *SplitStore) PushLowExternal(key []byte, locator int64) (ok bool) {
	owned, ok := s.keys.Add(key)
	if !ok {
		return false
	}
	s.PushLow(owned, locator)
	return true
}

// PushHighExternal copies key into the store's arena before extending
// the partition upward. See PushLowExternal for the failure contract.
func (s *SplitStore) PushHighExternal(key []byte, locator int64) (ok bool) {
	owned, ok := s.keys.Add(key)
	if !ok {
		return false
	}
	s.PushHigh(owned, locator)
	return true
}

// relocationEligible reports whether mergee's keystore is a single,
// still-sparse arena that fits in target's trailing free arena space -
// the precondition for the arena-coalescing special case instead of
// simply chaining mergee's arena onto target's arena list.
func relocationEligible(target, mergee *KeyStore) bool {
	if target == nil || mergee == nil {
		return false
	}
	if !mergee.singleArena() {
		return false
	}
	return target.last.freeSpace() >= mergee.usedBytes()
}

// MergeNext merges next into the receiver using order's comparator and
// tie-break rule, leaving the receiver holding every record from both
// stores and next empty. The caller (Splitter/StoreChain) is responsible
// for removing next from the chain afterwards.
func (s *SplitStore) MergeNext(next *SplitStore, order Order) {
	total := s.Count() + next.Count()
	merged := make([]record.Record, total+mergeExtra)

	relocate := relocationEligible(s.keys, next.keys)
	var rewrite func([]byte) []byte
	if relocate {
		rewrite = s.keys.relocate(next.keys)
	}

	i, j, k := s.lo, next.lo, mergeLowSlack
	for i < s.hi && j < next.hi {
		if takeLeft(order, s.records[i].Key, next.records[j].Key) {
			merged[k] = s.records[i]
			i++
		} else {
			rec := next.records[j]
			if relocate {
				rec.Key = rewrite(rec.Key)
			}
			merged[k] = rec
			j++
		}
		k++
	}
	for i < s.hi {
		merged[k] = s.records[i]
		i++
		k++
	}
	for j < next.hi {
		rec := next.records[j]
		if relocate {
			rec.Key = rewrite(rec.Key)
		}
		merged[k] = rec
		j++
		k++
	}

	s.records = merged
	s.lo, s.hi = mergeLowSlack, mergeLowSlack+total
	// growInc is left as-is: the original's mergeNextStore likewise
	// leaves SRAInc untouched across a merge, so a store that has
	// already grown several times keeps growing by its current
	// increment rather than resetting to the starting size.

	switch {
	case relocate:
		// next's sole arena was copied into s's tail above; its bytes
		// are now unreachable from next and left for the GC.
	case next.keys == nil:
		// nothing to adopt
	case s.keys == nil:
		s.keys = next.keys
	default:
		s.keys.append(next.keys)
	}
}
