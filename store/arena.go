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

package store

import "unsafe"

// fallbackArenaBytes is the arena size substituted when the caller asks
// for an arena smaller than a single key; it mirrors the 64KiB fallback
// in the original keystore implementation.
const fallbackArenaBytes = 64 * 1024

// Allocator supplies the backing bytes for a new arena. It reports
// ok == false to simulate an allocation failure (the AllocationFailure
// case of spec.md §7) without needing the Go runtime to actually
// exhaust memory; production code always uses the default allocator,
// which never fails short of a genuine out-of-memory panic from make.
type Allocator func(size int) (data []byte, ok bool)

func defaultAllocator(size int) ([]byte, bool) { return make([]byte, size), true }

// arena is one fixed-size block of a KeyStore's bump allocator. Keys are
// appended sequentially into data[:used]; an arena that cannot fit the
// next key triggers allocation of a new one on the chain.
type arena struct {
	next *arena
	data []byte
	used int
}

func newArena(sizeBytes int, alloc Allocator) (*arena, bool) {
	data, ok := alloc(sizeBytes)
	if !ok {
		return nil, false
	}
	return &arena{data: data}, true
}

func (a *arena) freeSpace() int { return len(a.data) - a.used }

// append copies key into the arena's free tail and returns the stored
// copy. The caller must already know (via freeSpace) that it fits.
func (a *arena) append(key []byte) []byte {
	start := a.used
	n := copy(a.data[start:], key)
	a.used += n
	return a.data[start:a.used]
}

// offsetOf returns key's byte offset within this arena's backing array.
// key must have been returned by a previous call to append on this
// arena. This is the Go equivalent of the pointer subtraction the
// original implementation performs when relocating arena content
// (offset = oldPtr - oldBase); Go slices carry no portable notion of
// "which array am I a window into" without this.
func (a *arena) offsetOf(key []byte) int {
	base := uintptr(unsafe.Pointer(&a.data[0]))
	ptr := uintptr(unsafe.Pointer(&key[0]))
	return int(ptr - base)
}

// KeyStore is a per-SplitStore bump allocator used to own copies of key
// bytes when the caller's key buffer is not guaranteed to outlive the
// sort. It is a singly linked chain of arenas; ownership transfers to
// the surviving store on every merge.
type KeyStore struct {
	first    *arena
	last     *arena
	arenaLen int
	keyLen   int
	alloc    Allocator
}

// NewKeyStore allocates the first arena using the default allocator.
// arenaKB is the requested arena size in KiB; if the resulting size
// can't even hold one key, it falls back to a 64KiB arena, matching the
// original constructor's guard.
func NewKeyStore(arenaKB, keyLen int) *KeyStore {
	return NewKeyStoreWithAllocator(arenaKB, keyLen, defaultAllocator)
}

// NewKeyStoreWithAllocator is NewKeyStore with an injectable Allocator,
// used by tests to exercise the AllocationFailure path deterministically.
func NewKeyStoreWithAllocator(arenaKB, keyLen int, alloc Allocator) *KeyStore {
	size := arenaKB * 1024
	if size < keyLen {
		size = fallbackArenaBytes
	}
	// The first arena is allocated with the default allocator: a
	// Splitter that cannot even reserve its first arena has nowhere
	// sensible to record the failure, so the injectable allocator only
	// governs the *growth* arenas NewKeyStore adds under Add.
	first, _ := newArena(size, defaultAllocator)
	return &KeyStore{first: first, last: first, arenaLen: size, keyLen: keyLen, alloc: alloc}
}

// Add copies key into the store's trailing arena, allocating a new arena
// first if the current one doesn't have room. It reports ok == false,
// leaving the KeyStore unmodified, if that allocation fails.
func (k *KeyStore) Add(key []byte) (owned []byte, ok bool) {
	if k.last.freeSpace() < len(key) {
		next, ok := newArena(k.arenaLen, k.alloc)
		if !ok {
			return nil, false
		}
		k.last.next = next
		k.last = next
	}
	return k.last.append(key), true
}

// singleArena reports whether the whole keystore is still one arena, the
// precondition for the arena-coalescing merge special case.
func (k *KeyStore) singleArena() bool {
	return k.first == k.last
}

// usedBytes returns the bytes used in the sole arena; only meaningful
// when singleArena() is true.
func (k *KeyStore) usedBytes() int {
	return k.first.used
}

// append splices o onto the tail of k's arena chain, the plain (no
// relocation) case used whenever a merge adopts the mergee's keystore
// wholesale instead of coalescing a sparse single arena into it.
func (k *KeyStore) append(o *KeyStore) {
	k.last.next = o.first
	k.last = o.last
}

// relocate copies the single-arena content of src into the free tail of
// k's trailing arena and returns a function that rewrites any key
// previously owned by src to its new location. It does not touch k's or
// src's record arrays; the caller (SplitStore.MergeNext) is responsible
// for calling the returned rewrite function against every migrated
// Record.Key during the merge copy phase.
func (k *KeyStore) relocate(src *KeyStore) (rewrite func(key []byte) []byte) {
	srcArena := src.first
	used := srcArena.used
	destBase := k.last.used
	copy(k.last.data[destBase:], srcArena.data[:used])
	k.last.used += used

	return func(key []byte) []byte {
		off := srcArena.offsetOf(key)
		return k.last.data[destBase+off : destBase+off+len(key)]
	}
}
