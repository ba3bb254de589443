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
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.dat")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReaderEachSlicesOutKeys(t *testing.T) {
	path := writeTempFile(t, "03:alpha\n01:bravo\n02:charlie\n")
	buf, err := Load(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Close()

	r := NewReader(buf, 0, 2)
	var keys []string
	var locators []int64
	err = r.Each(func(key []byte, locator int64) {
		keys = append(keys, string(key))
		locators = append(locators, locator)
	})
	if err != nil {
		t.Fatal(err)
	}

	wantKeys := []string{"03", "01", "02"}
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Errorf("keys = %v, want %v", keys, wantKeys)
	}
	wantLocators := []int64{0, 9, 18}
	if !reflect.DeepEqual(locators, wantLocators) {
		t.Errorf("locators = %v, want %v", locators, wantLocators)
	}
}

func TestReaderEachRejectsShortRecord(t *testing.T) {
	path := writeTempFile(t, "ab\nx\n")
	buf, err := Load(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Close()

	r := NewReader(buf, 0, 3)
	if err := r.Each(func([]byte, int64) {}); err == nil {
		t.Error("Each() = nil, want an error for a record shorter than the key field")
	}
}

func TestWriterReemitsRecordsByLocator(t *testing.T) {
	path := writeTempFile(t, "03:alpha\n01:bravo\n02:charlie\n")
	buf, err := Load(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Close()

	outPath := filepath.Join(t.TempDir(), "output.dat")
	w, err := Create(outPath, buf)
	if err != nil {
		t.Fatal(err)
	}

	// sorted order by the 2-digit prefix: 01, 02, 03
	if err := w.WriteRecord(9); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord(18); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord(0); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if want := "01:bravo\n02:charlie\n03:alpha\n"; string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestWriterHandlesUnterminatedFinalRecord(t *testing.T) {
	path := writeTempFile(t, "a\nb")
	buf, err := Load(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Close()

	outPath := filepath.Join(t.TempDir(), "output.dat")
	w, err := Create(outPath, buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord(0); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteRecord(2); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if want := "a\nb"; string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
