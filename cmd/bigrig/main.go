// Command bigrig imports a trace event stream and reports what it found.
// The input may be a plain JSON trace or a snappy-framed one.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/golang/snappy"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jillesme/bigrig/trace"
	"github.com/jillesme/bigrig/trace/importer"
	"github.com/jillesme/bigrig/trace/model"
)

var snappyStreamMagic = []byte("\xff\x06\x00\x00sNaPpY")

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zap.Must(cfg.Build())
}

func readTrace(path string) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if bytes.HasPrefix(data, snappyStreamMagic) {
		return io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
	}
	return data, nil
}

func run() error {
	noShift := flag.Bool("no-shift", false, "keep original timestamps instead of shifting the trace to start at zero")
	keepEmpty := flag.Bool("keep-empty", false, "keep processes and threads that recorded no events")
	showWarnings := flag.Bool("warnings", false, "print every distinct import warning")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] trace.json\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := newLogger(*verbose)
	defer log.Sync()

	data, err := readTrace(flag.Arg(0))
	if err != nil {
		return err
	}
	if !trace.CanImport(data) {
		return trace.ErrNotATrace
	}

	opts := importer.DefaultOptions()
	opts.ShiftWorldToZero = !*noShift
	opts.PruneEmptyContainers = !*keepEmpty

	m, err := importer.Import(data, opts)
	if err != nil {
		return err
	}
	report(log, m, *showWarnings)
	return nil
}

func report(log *zap.Logger, m *model.Model, showWarnings bool) {
	var slices, asyncSlices, counters, objects int
	for _, t := range m.AllThreads() {
		slices += len(t.SliceGroup.Slices)
		asyncSlices += len(t.AsyncSliceGroup.Slices)
	}
	processDumps := 0
	for _, p := range m.SortedProcesses() {
		counters += len(p.Counters)
		objects += len(p.Objects.AllInstances())
		processDumps += len(p.MemoryDumps)
	}
	counters += len(m.Kernel.Counters)

	log.Info("imported trace",
		zap.Int("processes", len(m.Processes)),
		zap.Int("threads", len(m.AllThreads())),
		zap.Int("slices", slices),
		zap.Int("async_slices", asyncSlices),
		zap.Int("flow_events", len(m.FlowEvents)),
		zap.Int("counters", counters),
		zap.Int("samples", len(m.Samples)),
		zap.Int("objects", objects),
		zap.Int("global_memory_dumps", len(m.GlobalMemoryDumps)),
		zap.Int("process_memory_dumps", processDumps),
		zap.Float64("duration_ms", m.Bounds.Max-m.Bounds.Min),
	)
	if unit, ok := m.IntrinsicTimeUnit(); ok {
		log.Debug("display time unit", zap.String("unit", unit))
	}

	warnings := m.DistinctWarnings()
	if len(warnings) > 0 {
		log.Warn("import produced warnings", zap.Int("distinct", len(warnings)), zap.Int("total", len(m.ImportWarnings)))
		if showWarnings {
			for _, w := range warnings {
				log.Warn(w.Message, zap.String("type", w.Type))
			}
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bigrig:", err)
		os.Exit(1)
	}
}
