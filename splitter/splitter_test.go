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

import (
	"math/rand"
	"testing"
)

func collectAscending(t *testing.T, s *Splitter) []byte {
	t.Helper()
	it := s.Lowest()
	var out []byte
	for {
		out = append(out, it.Record().Key[0])
		if !it.Next() {
			break
		}
	}
	return out
}

func TestEmptySplitterOutputIsValid(t *testing.T) {
	s := New(1)
	if !s.IsOutputValid() {
		t.Fatal("IsOutputValid() = false before any input")
	}
	s.EndOfInput()
	if !s.IsOutputValid() {
		t.Fatal("IsOutputValid() = false after EndOfInput on an empty Splitter")
	}
}

func TestSingleRecord(t *testing.T) {
	s := New(1)
	s.Add([]byte{42}, 7)
	s.EndOfInput()
	if !s.IsOutputValid() {
		t.Fatal("IsOutputValid() = false")
	}
	rec := s.Lowest().Record()
	if got, want := rec.Key[0], byte(42); got != want {
		t.Errorf("Key[0] = %d, want %d", got, want)
	}
	if got, want := rec.Locator, int64(7); got != want {
		t.Errorf("Locator = %d, want %d", got, want)
	}
}

func TestAscendingInputStaysInOneStore(t *testing.T) {
	s := New(1)
	for i := 0; i < 200; i++ {
		s.Add([]byte{byte(i)}, int64(i))
	}
	if got, want := s.StoreCount(), 1; got != want {
		t.Errorf("strictly ascending input should always hit the low/high fast path: StoreCount() = %d, want %d", got, want)
	}
	s.EndOfInput()
	if !s.IsOutputValid() {
		t.Error("IsOutputValid() = false")
	}
}

func TestRandomInputSortsCorrectly(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	s := New(1, WithPreemptiveMerge(true))
	n := 1000
	for i := 0; i < n; i++ {
		s.Add([]byte{byte(r.Intn(256))}, int64(i))
	}
	s.EndOfInput()
	if !s.IsOutputValid() {
		t.Fatal("IsOutputValid() = false")
	}
	if err := s.ValidateOutput(); err != nil {
		t.Fatalf("ValidateOutput() = %v, want nil", err)
	}

	got := collectAscending(t, s)
	if len(got) != n {
		t.Fatalf("len(got) = %d, want %d", len(got), n)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Fatalf("keys out of order at %d: %d > %d", i, got[i-1], got[i])
		}
	}
}

func TestPreemptiveMergeKeepsChainBounded(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	s := New(1, WithPreemptiveMerge(true))
	n := 5000
	for i := 0; i < n; i++ {
		s.Add([]byte{byte(r.Intn(256))}, int64(i))
		if s.StoreCount() > s.maxStores+1 {
			t.Fatalf("store count should never run far past the adaptive trigger: StoreCount() = %d, maxStores = %d", s.StoreCount(), s.maxStores)
		}
	}
	s.EndOfInput()
	if !s.IsOutputValid() {
		t.Error("IsOutputValid() = false")
	}
}

func TestStableAscendingPreservesTieOrder(t *testing.T) {
	s := New(1, WithStableOrder(true))
	s.AddStable([]byte{5}, 0)
	s.AddStable([]byte{3}, 1)
	s.AddStable([]byte{5}, 2) // same key as the first insert, later locator

	s.EndOfInput()
	if !s.IsOutputValid() {
		t.Fatal("IsOutputValid() = false")
	}

	it := s.Lowest()
	if got, want := it.Record().Key[0], byte(3); got != want {
		t.Fatalf("Key[0] = %d, want %d", got, want)
	}
	if !it.Next() {
		t.Fatal("Next() = false, want true")
	}
	if got, want := it.Record().Key[0], byte(5); got != want {
		t.Fatalf("Key[0] = %d, want %d", got, want)
	}
	if got, want := it.Record().Locator, int64(0); got != want {
		t.Errorf("equal keys should keep their original relative order: Locator = %d, want %d", got, want)
	}
	if !it.Next() {
		t.Fatal("Next() = false, want true")
	}
	if got, want := it.Record().Locator, int64(2); got != want {
		t.Errorf("Locator = %d, want %d", got, want)
	}
}

func TestStableDescendingOutputsDescendingOrder(t *testing.T) {
	s := New(1, WithStableOrder(false))
	for _, k := range []byte{3, 1, 4, 1, 5, 9, 2, 6} {
		s.AddStable([]byte{k}, int64(k))
	}
	s.EndOfInput()
	if !s.IsOutputValid() {
		t.Fatal("IsOutputValid() = false")
	}

	got := collectAscending(t, s)
	for i := 1; i < len(got); i++ {
		if got[i-1] < got[i] {
			t.Fatalf("keys out of descending order at %d: %d < %d", i, got[i-1], got[i])
		}
	}
}

func TestExternalKeyArenaSurvivesBufferReuse(t *testing.T) {
	s := New(4, WithArena(1))
	buf := make([]byte, 4)
	for i := 0; i < 50; i++ {
		copy(buf, []byte{byte(i), byte(i), byte(i), byte(i)})
		s.AddExternal(buf, int64(i))
	}
	s.EndOfInput()
	if !s.IsOutputValid() {
		t.Fatal("IsOutputValid() = false")
	}

	got := make([]byte, 0, 50)
	it := s.Lowest()
	for {
		got = append(got, it.Record().Key[0])
		if !it.Next() {
			break
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("keys out of order at %d: %d >= %d", i, got[i-1], got[i])
		}
	}
}

func TestHighestIteratorAndPrev(t *testing.T) {
	s := New(1)
	for _, k := range []byte{10, 20, 30} {
		s.Add([]byte{k}, 0)
	}
	s.EndOfInput()
	it := s.Highest()
	if got, want := it.Record().Key[0], byte(30); got != want {
		t.Fatalf("Key[0] = %d, want %d", got, want)
	}
	if !it.Prev() {
		t.Fatal("Prev() = false, want true")
	}
	if got, want := it.Record().Key[0], byte(20); got != want {
		t.Fatalf("Key[0] = %d, want %d", got, want)
	}
	if !it.Prev() {
		t.Fatal("Prev() = false, want true")
	}
	if got, want := it.Record().Key[0], byte(10); got != want {
		t.Fatalf("Key[0] = %d, want %d", got, want)
	}
	if it.Prev() {
		t.Error("Prev() = true, want false at the low end")
	}
}

func TestArenaAllocatorFailureSurfacesAsInvalidOutput(t *testing.T) {
	// A store's KeyStore always allocates its first arena with the real
	// allocator (there is nowhere to report a failure before any store
	// exists yet); WithArenaAllocator only governs growth arenas, so a
	// single store has to fill its first 1KB arena before this failing
	// allocator is ever consulted.
	failing := func(size int) ([]byte, bool) { return nil, false }
	s := New(4, WithArena(1), WithArenaAllocator(failing))

	for i := 0; i < 5000; i++ {
		key := []byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)}
		s.AddExternal(key, int64(i))
	}
	s.EndOfInput()
	if s.IsOutputValid() {
		t.Error("a record silently dropped by a failing growth allocator must surface through the existing recNo/count check")
	}
}

// fakeStats is a splitter.Stats that reports every Nth key as a
// reporting-interval boundary and records the storeCounts it was handed
// at each Pileup call, so tests can check the pile-up hook fires with
// live chain state rather than stale or zero data.
type fakeStats struct {
	noopStats
	every   int
	count   int
	pileups [][]int
}

func (f *fakeStats) NewKey() bool {
	f.count++
	return f.count%f.every == 0
}

func (f *fakeStats) Pileup(storeCounts []int) {
	cp := make([]int, len(storeCounts))
	copy(cp, storeCounts)
	f.pileups = append(f.pileups, cp)
}

func TestPileupFiresAtIntervalBoundaryWithLiveChainCounts(t *testing.T) {
	fs := &fakeStats{every: 4}
	s := New(1, WithPreemptiveMerge(false), WithStats(fs))

	r := rand.New(rand.NewSource(3))
	n := 40
	for i := 0; i < n; i++ {
		s.Add([]byte{byte(r.Intn(256))}, int64(i))
	}

	wantReports := n / fs.every
	if got := len(fs.pileups); got != wantReports {
		t.Fatalf("Pileup called %d times, want %d (every %d of %d records)", got, wantReports, fs.every, n)
	}
	for k, counts := range fs.pileups {
		if len(counts) == 0 {
			t.Fatalf("pileup %d: storeCounts is empty, want at least one store", k)
		}
		total := 0
		for _, c := range counts {
			total += c
		}
		wantTotal := (k + 1) * fs.every
		if total != wantTotal {
			t.Errorf("pileup %d: sum(storeCounts) = %d, want %d records inserted so far", k, total, wantTotal)
		}
	}
}

func TestComputeMaxStoresIsMonotoneNonDecreasing(t *testing.T) {
	v := initialMaxStores
	for _, recNo := range []int64{100, 1000, 10000, 100000} {
		next := computeMaxStores(v, recNo, initialGrowthPOS)
		if next < v {
			t.Fatalf("computeMaxStores(%d, %d, ...) = %d, want >= %d", v, recNo, next, v)
		}
		v = next
	}
}
