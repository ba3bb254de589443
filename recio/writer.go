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

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

// Writer re-emits records from the Buffer they were read from, in
// whatever order the caller drives it, mirroring Sorter.h's output
// loop ("for (Output O = pSR->lowest(); ...) memcpy(...)") but writing
// straight to a stream instead of assembling a second in-memory buffer.
type Writer struct {
	buf *Buffer
	out *bufio.Writer
	gz  *gzip.Writer
	f   *os.File
}

// Create opens path for writing (gzip-compressed when path ends in
// ".gz") and returns a Writer that resolves record.Locator values
// against buf.
func Create(path string, buf *Buffer) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recio: creating %q: %w", path, err)
	}
	w := &Writer{buf: buf, f: f}
	if isGzip(path) {
		w.gz = gzip.NewWriter(f)
		w.out = bufio.NewWriter(w.gz)
	} else {
		w.out = bufio.NewWriter(f)
	}
	return w, nil
}

// WriteRecord re-emits the record at locator (a byte offset into the
// source Buffer, as produced by Reader.Each).
func (w *Writer) WriteRecord(locator int64) error {
	line := w.buf.Line(locator)
	_, err := w.out.Write(line)
	if err != nil {
		return fmt.Errorf("recio: writing output record: %w", err)
	}
	return nil
}

// Close flushes buffered output and closes the underlying file (and
// gzip stream, if any). It must be called exactly once after the last
// WriteRecord.
func (w *Writer) Close() error {
	if err := w.out.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("recio: flushing output: %w", err)
	}
	if w.gz != nil {
		if err := w.gz.Close(); err != nil {
			w.f.Close()
			return fmt.Errorf("recio: closing gzip stream: %w", err)
		}
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("recio: closing output file: %w", err)
	}
	return nil
}

var _ io.Closer = (*Writer)(nil)
