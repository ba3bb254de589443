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

package ugscfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseMinimalFlags(t *testing.T) {
	cfg, err := Parse([]string{"-in", "in.dat", "-out", "out.dat", "-sklen", "8"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.InputPath, "in.dat"; got != want {
		t.Errorf("InputPath = %q, want %q", got, want)
	}
	if got, want := cfg.OutputPath, "out.dat"; got != want {
		t.Errorf("OutputPath = %q, want %q", got, want)
	}
	if got, want := cfg.KeyLen, 8; got != want {
		t.Errorf("KeyLen = %d, want %d", got, want)
	}
	if !cfg.Ascending {
		t.Error("ascending is the default ordering")
	}
	if !cfg.PMEnabled {
		t.Error("Preemptive Merge is on by default")
	}
}

func TestParseDescendingOverridesAscending(t *testing.T) {
	cfg, err := Parse([]string{"-in", "a", "-out", "b", "-sklen", "4", "-ska", "-skd"})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ascending {
		t.Error("Ascending = true, want false when -skd follows -ska")
	}
}

func TestParseMissingRequiredFieldsFails(t *testing.T) {
	if _, err := Parse([]string{"-sklen", "4"}); err == nil {
		t.Error("Parse() = nil error, want one for missing -in/-out")
	}
}

func TestParseRejectsZeroKeyLen(t *testing.T) {
	if _, err := Parse([]string{"-in", "a", "-out", "b"}); err == nil {
		t.Error("Parse() = nil error, want one for a zero key length")
	}
}

func TestParseConfigFileIsOverriddenByFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ugsort.yaml")
	contents := []byte("input: file-in.dat\noutput: file-out.dat\nkeyLen: 16\n")
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Parse([]string{"-config", path, "-out", "cli-out.dat"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := cfg.InputPath, "file-in.dat"; got != want {
		t.Errorf("config file value should survive when no flag overrides it: InputPath = %q, want %q", got, want)
	}
	if got, want := cfg.OutputPath, "cli-out.dat"; got != want {
		t.Errorf("a flag on the command line should win over the config file: OutputPath = %q, want %q", got, want)
	}
	if got, want := cfg.KeyLen, 16; got != want {
		t.Errorf("KeyLen = %d, want %d", got, want)
	}
}
