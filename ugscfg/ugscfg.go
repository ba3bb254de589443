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

// Package ugscfg loads UGSort's run configuration from command-line
// flags, optionally merged with a YAML file. It is grounded on
// original_source/UGSort/UGSCfg.h's switch set (-skoffset, -sklen, -ska/
// -skd, -sks, ...) translated into Go flag conventions.
package ugscfg

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"sigs.k8s.io/yaml"
)

// Config holds everything a run of cmd/ugsort needs: the key geometry,
// ordering mode, Preemptive Merge tuning, optional arena size, I/O paths
// and instrumentation targets.
type Config struct {
	InputPath  string `json:"input"`
	OutputPath string `json:"output"`

	KeyOffset int `json:"keyOffset"`
	KeyLen    int `json:"keyLen"`

	Ascending bool `json:"ascending"`
	Stable    bool `json:"stable"`

	PMEnabled bool `json:"pmEnabled"`
	// GrowthPOS is read from the flags or the config file, but cmd/ugsort
	// does not pass it to the Splitter, whose growth coefficient is fixed
	// at 25.
	GrowthPOS int `json:"growthPOS"`

	ArenaKB int `json:"arenaKB"`

	Debug bool `json:"debug"`

	ReportInterval    int    `json:"reportInterval"`
	InstrumentPileup  string `json:"instrumentPileup"`
	InstrumentMerge   string `json:"instrumentMerge"`
	InstrumentInsert  string `json:"instrumentInsert"`
}

// defaults matches the original constructor's ground state for the
// knobs it shares with this package (PM on, 25% growth coefficient).
func defaults() Config {
	return Config{
		Ascending:      true,
		PMEnabled:      true,
		GrowthPOS:      25,
		ReportInterval: 10000,
	}
}

// Parse builds a flag.FlagSet, applies defaults, overlays an optional
// "-config <path>" YAML file, then overlays the command-line flags
// actually supplied (flags always win over the config file). args
// should not include the program name (pass os.Args[1:]).
func Parse(args []string) (*Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("ugsort", flag.ContinueOnError)
	var configPath string
	fs.StringVar(&configPath, "config", "", "path to a YAML config file merged under the flags below")
	fs.StringVar(&cfg.InputPath, "in", "", "sort input file")
	fs.StringVar(&cfg.OutputPath, "out", "", "sort output file")
	fs.IntVar(&cfg.KeyOffset, "skoffset", 0, "sort key offset within each record")
	fs.IntVar(&cfg.KeyLen, "sklen", 0, "sort key length in bytes")
	fs.BoolVar(&cfg.Ascending, "ska", cfg.Ascending, "sort ascending")
	descending := fs.Bool("skd", false, "sort descending (overrides -ska)")
	fs.BoolVar(&cfg.Stable, "sks", cfg.Stable, "preserve input order for equal keys")
	fs.BoolVar(&cfg.PMEnabled, "pm", cfg.PMEnabled, "enable the adaptive Preemptive Merge")
	fs.IntVar(&cfg.GrowthPOS, "pmgrowth", cfg.GrowthPOS, "percentage-of-sqrt(n) coefficient for the Preemptive Merge trigger (stored in Config only; the Splitter always uses 25)")
	fs.IntVar(&cfg.ArenaKB, "arenakb", cfg.ArenaKB, "per-store key arena size in KB (0 disables the keystore)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable verbose development logging")
	fs.IntVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "records between instrumentation report rows")
	fs.StringVar(&cfg.InstrumentPileup, "instrument-pileup", "", "CSV path for the pile-up report (disabled if empty)")
	fs.StringVar(&cfg.InstrumentMerge, "instrument-merge", "", "CSV path for the merge report (disabled if empty)")
	fs.StringVar(&cfg.InstrumentInsert, "instrument-insert", "", "CSV path for the insert report (disabled if empty)")

	// A first pass just to discover -config, so the file's values can
	// seed the defaults the real flag values are parsed against. The
	// standard flag package has no "ignore unknown flags" mode, so this
	// scans args directly rather than running a second FlagSet over them.
	if path := scanConfigFlag(args); path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return nil, err
		}
		fs, descending = rebind(&cfg)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *descending {
		cfg.Ascending = false
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// rebind re-registers the flags against the now config-file-seeded
// values, since flag.FlagSet captures defaults at Var-registration time.
// It returns the new FlagSet and the "-skd" bool Parse must still read.
func rebind(cfg *Config) (*flag.FlagSet, *bool) {
	fs := flag.NewFlagSet("ugsort", flag.ContinueOnError)
	fs.StringVar(&cfg.InputPath, "in", cfg.InputPath, "sort input file")
	fs.StringVar(&cfg.OutputPath, "out", cfg.OutputPath, "sort output file")
	fs.IntVar(&cfg.KeyOffset, "skoffset", cfg.KeyOffset, "sort key offset within each record")
	fs.IntVar(&cfg.KeyLen, "sklen", cfg.KeyLen, "sort key length in bytes")
	fs.BoolVar(&cfg.Ascending, "ska", cfg.Ascending, "sort ascending")
	descending := fs.Bool("skd", !cfg.Ascending, "sort descending (overrides -ska)")
	fs.BoolVar(&cfg.Stable, "sks", cfg.Stable, "preserve input order for equal keys")
	fs.BoolVar(&cfg.PMEnabled, "pm", cfg.PMEnabled, "enable the adaptive Preemptive Merge")
	fs.IntVar(&cfg.GrowthPOS, "pmgrowth", cfg.GrowthPOS, "percentage-of-sqrt(n) coefficient for the Preemptive Merge trigger (stored in Config only; the Splitter always uses 25)")
	fs.IntVar(&cfg.ArenaKB, "arenakb", cfg.ArenaKB, "per-store key arena size in KB (0 disables the keystore)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable verbose development logging")
	fs.IntVar(&cfg.ReportInterval, "report-interval", cfg.ReportInterval, "records between instrumentation report rows")
	fs.StringVar(&cfg.InstrumentPileup, "instrument-pileup", cfg.InstrumentPileup, "CSV path for the pile-up report (disabled if empty)")
	fs.StringVar(&cfg.InstrumentMerge, "instrument-merge", cfg.InstrumentMerge, "CSV path for the merge report (disabled if empty)")
	fs.StringVar(&cfg.InstrumentInsert, "instrument-insert", cfg.InstrumentInsert, "CSV path for the insert report (disabled if empty)")
	fs.String("config", "", "path to a YAML config file merged under the flags below")
	return fs, descending
}

// scanConfigFlag looks for "-config <path>", "-config=<path>" (and their
// "--" spellings) without registering any other flag, so it doesn't
// choke on flags Parse hasn't seen yet.
func scanConfigFlag(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func mergeFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ugscfg: reading config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("ugscfg: parsing config file %q: %w", path, err)
	}
	return nil
}

// validate performs the shallow checks the original's validateConfig
// does: a sort needs both an input and output path and a non-zero key.
func validate(cfg *Config) error {
	if cfg.InputPath == "" {
		return fmt.Errorf("ugscfg: no sort input file (-in) was supplied")
	}
	if cfg.OutputPath == "" {
		return fmt.Errorf("ugscfg: no sort output file (-out) was supplied")
	}
	if cfg.KeyLen <= 0 {
		return fmt.Errorf("ugscfg: sort key length (-sklen) must be positive")
	}
	if cfg.KeyOffset < 0 {
		return fmt.Errorf("ugscfg: sort key offset (-skoffset) must not be negative")
	}
	return nil
}
