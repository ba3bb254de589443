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

// Package record defines the sort record value type shared by the store,
// splitter and host (recio/cmd) packages.
package record

// Record is the value type the Splitter and SplitStore operate on. It
// carries a borrowed reference to the key bytes used for ordering, plus
// enough information for the host to locate the original input line.
//
// Record is copied by value throughout the engine (the array push/merge
// routines in package store move Records with plain Go assignment, which
// is the equivalent of the original's memcpy(&dst, &src, sizeof(T))); it
// never owns Key or the bytes Locator points at.
type Record struct {
	// Key is a slice of exactly KeyLen bytes. It either aliases a
	// caller-owned buffer that is guaranteed to outlive the sort (the
	// "stable-resident" case) or aliases a copy made in a store.KeyStore
	// arena (the "external key" case).
	Key []byte

	// Locator identifies the original record so the host can re-emit it
	// once the sort completes. It is opaque to the core engine: the host
	// may use it as a byte offset into the input file, an index into an
	// in-memory slice, or any other locator scheme.
	Locator int64
}
