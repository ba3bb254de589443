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

// Package recio loads LF-delimited sort input entirely into memory and
// re-emits it in sorted order, mirroring the in-memory path of
// original_source/UGSort/Sorter.h's sortFileInMemory: each line is one
// record, and the sort key is a fixed offset/length slice of that line.
package recio

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sys/unix"
)

const lf = '\n'

// Buffer is the whole sort input, either mmap'd read-only or copied into
// a heap-allocated []byte, whichever Load decided on.
type Buffer struct {
	data    []byte
	mapped  bool
	backing *os.File
}

// Load reads path entirely into memory. Gzip-compressed input (detected
// by a ".gz" suffix) is always inflated into a heap buffer, since a
// compressed file cannot be mapped and sliced directly. Uncompressed
// input is mmap'd read-only when useMmap is true and the platform
// supports it, falling back to a plain read otherwise — the original's
// sortFileInMemory always heap-loads; mmap is this port's equivalent of
// its on-disk mode's OS-buffered stream reads, traded for UGSort's
// in-memory-array sort record structure (Sorter.h's IMSR).
func Load(path string, useMmap bool) (*Buffer, error) {
	if isGzip(path) {
		return loadGzip(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recio: opening %q: %w", path, err)
	}

	if useMmap {
		if b, err := loadMmap(f); err == nil {
			return b, nil
		}
		// fall through to a plain read on any mmap failure (e.g. a
		// pipe or other non-regular file); mmap is a performance option,
		// never a correctness requirement.
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("recio: reading %q: %w", path, err)
	}
	return &Buffer{data: data}, nil
}

func isGzip(path string) bool {
	n := len(path)
	return n > 3 && path[n-3:] == ".gz"
}

func loadGzip(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recio: opening %q: %w", path, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("recio: opening gzip stream %q: %w", path, err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("recio: inflating %q: %w", path, err)
	}
	return &Buffer{data: data}, nil
}

func loadMmap(f *os.File) (*Buffer, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, fmt.Errorf("recio: %s is not a regular file", f.Name())
	}
	size := st.Size()
	if size == 0 {
		f.Close()
		return &Buffer{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &Buffer{data: data, mapped: true, backing: f}, nil
}

// Close releases the mmap mapping and backing file descriptor, if any.
// It is a no-op for heap-backed buffers.
func (b *Buffer) Close() error {
	if !b.mapped {
		return nil
	}
	err := unix.Munmap(b.data)
	if cerr := b.backing.Close(); err == nil {
		err = cerr
	}
	return err
}

// Bytes returns the entire loaded input. Callers must not retain slices
// derived from it past Close when the buffer is mmap'd.
func (b *Buffer) Bytes() []byte { return b.data }

// Line returns the record starting at byte offset off: everything up to
// and including the next line feed, or up to end of input if this is
// the final, unterminated record.
func (b *Buffer) Line(off int64) []byte {
	rest := b.data[off:]
	if i := bytes.IndexByte(rest, lf); i >= 0 {
		return rest[:i+1]
	}
	return rest
}

// Lines walks every record in the buffer in file order, calling fn with
// each record's bytes (line feed included, if present) and its starting
// offset.
func (b *Buffer) Lines(fn func(line []byte, offset int64)) {
	off := int64(0)
	for off < int64(len(b.data)) {
		line := b.Line(off)
		fn(line, off)
		off += int64(len(line))
	}
}
