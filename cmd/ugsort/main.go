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

// Command ugsort sorts a file of LF-delimited records by a fixed-offset
// key, using the Splitter/SplitStore incremental range-partitioning
// engine in package splitter.
package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/iantree/ugsort/recio"
	"github.com/iantree/ugsort/splitter"
	"github.com/iantree/ugsort/stats"
	"github.com/iantree/ugsort/ugscfg"
)

func main() {
	cfg, err := ugscfg.Parse(os.Args[1:])
	if err != nil {
		exit(err)
	}

	log := newLogger(cfg.Debug)
	defer log.Sync()

	sink, closeSink, err := newSink(cfg, log)
	if err != nil {
		exit(err)
	}
	defer closeSink()

	if err := run(cfg, log, sink); err != nil {
		exit(err)
	}
}

// asWriter converts a possibly-nil *os.File to an io.Writer, returning
// a true nil interface (not a typed nil) when f is nil — passing a
// typed-nil *os.File straight into an io.Writer parameter would make
// NewInstrumented's "!= nil" checks see a non-nil interface instead.
func asWriter(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		return zap.Must(zap.NewDevelopment())
	}
	logConfig := zap.NewProductionConfig()
	logConfig.DisableStacktrace = true
	return zap.Must(logConfig.Build())
}

// newSink wires up the optional CSV instrumentation reports; any of
// the three may be disabled by leaving its Config path empty, in which
// case Instrumented simply never opens that report. The returned
// closer must run after Report.
func newSink(cfg *ugscfg.Config, log *zap.Logger) (stats.Sink, func(), error) {
	var files []*os.File
	open := func(path string) (*os.File, error) {
		if path == "" {
			return nil, nil
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("opening instrumentation report %q: %w", path, err)
		}
		files = append(files, f)
		return f, nil
	}

	pileUp, err := open(cfg.InstrumentPileup)
	if err != nil {
		return nil, nil, err
	}
	merge, err := open(cfg.InstrumentMerge)
	if err != nil {
		return nil, nil, err
	}
	insert, err := open(cfg.InstrumentInsert)
	if err != nil {
		return nil, nil, err
	}

	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	if pileUp == nil && merge == nil && insert == nil {
		return stats.Noop{}, closeAll, nil
	}

	sink, err := stats.NewInstrumented(log, cfg.ReportInterval, asWriter(pileUp), asWriter(merge), asWriter(insert))
	if err != nil {
		closeAll()
		return nil, func() {}, err
	}
	return sink, closeAll, nil
}

// run drives the load -> input -> merge -> output -> store phases in
// the order Sorter.h's sortFileInMemory brackets with IStats timers.
func run(cfg *ugscfg.Config, log *zap.Logger, sink stats.Sink) error {
	sink.LoadStarted()
	buf, err := recio.Load(cfg.InputPath, true)
	if err != nil {
		return err
	}
	defer buf.Close()
	sink.LoadFinished()

	opts := []splitter.Option{
		splitter.WithPreemptiveMerge(cfg.PMEnabled),
		splitter.WithStats(sink),
	}
	if cfg.ArenaKB > 0 {
		opts = append(opts, splitter.WithArena(cfg.ArenaKB))
	}
	if cfg.Stable {
		opts = append(opts, splitter.WithStableOrder(cfg.Ascending))
	}
	s := splitter.New(cfg.KeyLen, opts...)

	reader := recio.NewReader(buf, cfg.KeyOffset, cfg.KeyLen)

	sink.InputStarted()
	addKey := s.Add
	if cfg.Stable {
		addKey = s.AddStable
	}
	if cfg.ArenaKB > 0 {
		if cfg.Stable {
			addKey = s.AddStableExternal
		} else {
			addKey = s.AddExternal
		}
	}
	if err := reader.Each(func(key []byte, locator int64) {
		addKey(key, locator)
	}); err != nil {
		return err
	}
	sink.InputFinished()

	s.EndOfInput()

	if err := s.ValidateOutput(); err != nil {
		return fmt.Errorf("ugsort: %w (was there enough memory to complete the sort?)", err)
	}

	sink.OutputStarted()
	out, err := recio.Create(cfg.OutputPath, buf)
	if err != nil {
		return err
	}
	// A stable Splitter already holds its final store in the requested
	// direction; an unstable one is always ascending internally and is
	// walked backwards for descending output.
	writeErr := writeAll(s, cfg.Ascending || cfg.Stable, out, sink)
	sink.OutputFinished()

	sink.StoreStarted()
	closeErr := out.Close()
	sink.StoreFinished()

	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return closeErr
	}

	if err := sink.Report(); err != nil {
		log.Warn("failed to write instrumentation report", zap.Error(err))
	}
	log.Info("sort complete", zap.Int64("records", s.RecordCount()))
	return nil
}

// writeAll walks the final store from Lowest forward (forward == true) or
// from Highest backward and emits each record, observing every key for
// the optional digest.
func writeAll(s *splitter.Splitter, forward bool, out *recio.Writer, sink stats.Sink) error {
	digester, _ := sink.(interface{ Observe([]byte) })

	if s.RecordCount() == 0 {
		return nil
	}

	var it *splitter.Iterator
	advance := func() bool { return it.Next() }
	if forward {
		it = s.Lowest()
	} else {
		it = s.Highest()
		advance = func() bool { return it.Prev() }
	}

	for {
		rec := it.Record()
		if digester != nil {
			digester.Observe(rec.Key)
		}
		if err := out.WriteRecord(rec.Locator); err != nil {
			return err
		}
		if !advance() {
			break
		}
	}
	return nil
}

func exit(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
