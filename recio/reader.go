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

package recio

import "fmt"

// Reader walks a Buffer's records, slicing out each one's sort key.
// KeyOffset/KeyLen are applied to the record bytes (line feed
// excluded), matching Sorter.h's "SRec.pKey = pNextRec + SKOff" plus a
// fixed SKLen.
type Reader struct {
	buf       *Buffer
	keyOffset int
	keyLen    int
}

// NewReader builds a Reader over an already-loaded Buffer.
func NewReader(buf *Buffer, keyOffset, keyLen int) *Reader {
	return &Reader{buf: buf, keyOffset: keyOffset, keyLen: keyLen}
}

// Each calls fn once per record in file order with the record's sort
// key and its Locator (the byte offset of the record's first byte in
// the buffer — the same value a recio.Writer later uses to re-emit the
// full line). It returns an error if any record is too short to hold
// the configured key.
func (r *Reader) Each(fn func(key []byte, locator int64)) error {
	var walkErr error
	r.buf.Lines(func(line []byte, offset int64) {
		if walkErr != nil {
			return
		}
		body := trimLF(line)
		if len(body) < r.keyOffset+r.keyLen {
			walkErr = fmt.Errorf("recio: record at offset %d (%d bytes) is shorter than the configured key (offset %d, length %d)",
				offset, len(body), r.keyOffset, r.keyLen)
			return
		}
		fn(body[r.keyOffset:r.keyOffset+r.keyLen], offset)
	})
	return walkErr
}

func trimLF(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == lf {
		return line[:n-1]
	}
	return line
}
