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

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iantree/ugsort/stats"
	"github.com/iantree/ugsort/ugscfg"
)

func writeInput(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.dat")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunSortsAscendingByDefault(t *testing.T) {
	in := writeInput(t, "03:charlie", "01:alpha", "02:bravo")
	out := filepath.Join(t.TempDir(), "out.dat")

	cfg, err := ugscfg.Parse([]string{"-in", in, "-out", out, "-sklen", "2"})
	if err != nil {
		t.Fatal(err)
	}

	log := newLogger(false)
	if err := run(cfg, log, stats.Noop{}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if want := "01:alpha\n02:bravo\n03:charlie\n"; string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRunSortsDescendingWhenRequested(t *testing.T) {
	in := writeInput(t, "01:alpha", "03:charlie", "02:bravo")
	out := filepath.Join(t.TempDir(), "out.dat")

	cfg, err := ugscfg.Parse([]string{"-in", in, "-out", out, "-sklen", "2", "-skd"})
	if err != nil {
		t.Fatal(err)
	}

	log := newLogger(false)
	if err := run(cfg, log, stats.Noop{}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if want := "03:charlie\n02:bravo\n01:alpha\n"; string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRunStablePreservesTieOrder(t *testing.T) {
	in := writeInput(t, "01:first", "01:second", "00:zero")
	out := filepath.Join(t.TempDir(), "out.dat")

	cfg, err := ugscfg.Parse([]string{"-in", in, "-out", out, "-sklen", "2", "-sks"})
	if err != nil {
		t.Fatal(err)
	}

	log := newLogger(false)
	if err := run(cfg, log, stats.Noop{}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if want := "00:zero\n01:first\n01:second\n"; string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRunWithArenaKeystore(t *testing.T) {
	in := writeInput(t, "03:c", "01:a", "02:b")
	out := filepath.Join(t.TempDir(), "out.dat")

	cfg, err := ugscfg.Parse([]string{"-in", in, "-out", out, "-sklen", "2", "-arenakb", "1"})
	if err != nil {
		t.Fatal(err)
	}

	log := newLogger(false)
	if err := run(cfg, log, stats.Noop{}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if want := "01:a\n02:b\n03:c\n"; string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
