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
	"github.com/iantree/ugsort/record"
	"github.com/iantree/ugsort/store"
)

// Iterator is a random-access cursor over the single store EndOfInput
// leaves behind. Go has no operator overloading, so the original's
// increment/decrement/comparison operators become methods: Next/Prev
// advance in place and report whether the result is still in range,
// Record dereferences, and Compare/Equal replace the relational
// operators.
type Iterator struct {
	store *store.SplitStore
	pos   int
}

// Record dereferences the iterator. Valid only when InRange is true.
func (it *Iterator) Record() record.Record { return it.store.At(it.pos) }

// InRange reports whether the iterator is positioned at an existing
// record, as opposed to having been advanced past either end.
func (it *Iterator) InRange() bool { return it.pos >= 0 && it.pos < it.store.Count() }

// Next advances the iterator to the next-highest record (post-increment
// in the original) and reports whether it is still in range.
func (it *Iterator) Next() bool {
	it.pos++
	return it.InRange()
}

// Prev moves the iterator to the next-lowest record (post-decrement in
// the original) and reports whether it is still in range.
func (it *Iterator) Prev() bool {
	it.pos--
	return it.InRange()
}

// Compare orders two iterators over the same store by position,
// returning a negative number, zero, or a positive number as it is
// positioned before, at, or after other.
func (it *Iterator) Compare(other *Iterator) int { return it.pos - other.pos }

// Equal reports whether it and other reference the same position.
func (it *Iterator) Equal(other *Iterator) bool { return it.pos == other.pos }
