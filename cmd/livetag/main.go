// livetag watches a screen region, reads it, and saves one frame per new
// (identifier, serial) pair.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/GriffinCanCode/livetag/internal/artifact"
	"github.com/GriffinCanCode/livetag/internal/classify"
	"github.com/GriffinCanCode/livetag/internal/config"
	"github.com/GriffinCanCode/livetag/internal/history"
	"github.com/GriffinCanCode/livetag/internal/inference"
	"github.com/GriffinCanCode/livetag/internal/metrics"
	"github.com/GriffinCanCode/livetag/internal/orchestrator"
	"github.com/GriffinCanCode/livetag/internal/orchestrator/recent"
	"github.com/GriffinCanCode/livetag/internal/recognize"
	"github.com/GriffinCanCode/livetag/internal/recognize/tesseract"
	"github.com/GriffinCanCode/livetag/internal/resilience"
	"github.com/GriffinCanCode/livetag/internal/screen"
	"github.com/GriffinCanCode/livetag/internal/server"
	"github.com/GriffinCanCode/livetag/internal/stats"
	"github.com/GriffinCanCode/livetag/internal/syncx"
)

const usage = `usage: livetag [-config path] <command>

commands:
  run     monitor the configured region (default)
  select  capture the full display to pick monitor_region
  test    capture and recognize the region once, without saving
  stats   summarize saved artifacts (-csv path writes the slot table as CSV)
  help    show this message
`

func main() {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()})))

	fs := flag.NewFlagSet("livetag", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configPath := fs.String("config", config.Path(), "path to the YAML config")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	cmd := "run"
	if fs.NArg() > 0 {
		cmd = fs.Arg(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Stdout, cmd, *configPath, fs.Args())
	stop()
	if err != nil {
		slog.Error("livetag failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(os.Getenv("LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func execute(ctx context.Context, out io.Writer, cmd, configPath string, args []string) error {
	switch cmd {
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	case "run", "select", "test", "stats":
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd == "stats" {
		var rest []string
		if len(args) > 1 {
			rest = args[1:]
		}
		return report(out, cfg, rest)
	}

	capturer := screen.New(cfg.Capture.Timeout)
	defer capturer.Close()

	switch cmd {
	case "select":
		return calibrate(ctx, out, cfg, capturer)
	case "test":
		return testOnce(ctx, out, cfg, capturer)
	default:
		return run(ctx, cfg, configPath, capturer)
	}
}

func calibrate(ctx context.Context, out io.Writer, cfg *config.Config, capturer screen.Capturer) error {
	m := orchestrator.New(orchestrator.SettingsFromConfig(cfg), orchestrator.Deps{Capturer: capturer})
	cal, err := m.Calibrate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "saved %s (%dx%d)\n", cal.Path, cal.Width, cal.Height)
	fmt.Fprintln(out, "open it in an image viewer and copy the region corners into monitor_region")
	return nil
}

func testOnce(ctx context.Context, out io.Writer, cfg *config.Config, capturer screen.Capturer) error {
	b, err := newBackends(cfg, nil)
	if err != nil {
		return err
	}
	defer b.Close()

	m := orchestrator.New(orchestrator.SettingsFromConfig(cfg), orchestrator.Deps{
		Capturer:   capturer,
		Recognizer: b.recognizer,
	})
	p, err := m.TestOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "recognized %d lines:\n", len(p.Lines))
	for i, l := range p.Lines {
		if l.Confidence >= 0 {
			fmt.Fprintf(out, "  %2d. %s (%.2f)\n", i+1, l.Text, l.Confidence)
		} else {
			fmt.Fprintf(out, "  %2d. %s\n", i+1, l.Text)
		}
	}
	fmt.Fprintf(out, "trigger %q: %v\n", cfg.Monitor.TriggerKeyword, p.Triggered)
	fmt.Fprintf(out, "identifiers: %s\n", strings.Join(p.Identifiers, ", "))
	fmt.Fprintf(out, "serials: %s\n", strings.Join(p.Serials, ", "))
	if p.ExtractErr != nil {
		fmt.Fprintf(out, "pairs: none (%v)\n", p.ExtractErr)
		return nil
	}
	for _, pair := range p.Pairs {
		fmt.Fprintf(out, "pair: ID_%s / %s\n", pair.Identifier, pair.Serial)
	}
	return nil
}

func report(out io.Writer, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	csvPath := fs.String("csv", "", "also write the slot table as CSV to this path (- for stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	writer := artifact.New(artifact.Options{SaveDir: cfg.Storage.SaveDir, DateFormat: cfg.Storage.DateFormat})
	arts, err := writer.Scan()
	if err != nil {
		return err
	}
	hist, err := history.ReadFile(filepath.Join(cfg.Storage.SaveDir, cfg.Storage.HistoryFile))
	if err != nil {
		return err
	}

	rep := stats.Build(arts, hist)
	switch *csvPath {
	case "":
		return rep.WriteTable(out)
	case "-":
		return rep.WriteCSV(out)
	}
	if err := rep.WriteTable(out); err != nil {
		return err
	}
	f, err := os.Create(*csvPath)
	if err != nil {
		return err
	}
	if err := rep.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "csv written to %s\n", *csvPath)
	return nil
}

func run(ctx context.Context, cfg *config.Config, configPath string, capturer screen.Capturer) error {
	reg := metrics.New()
	b, err := newBackends(cfg, reg)
	if err != nil {
		return err
	}
	defer b.Close()

	store, err := history.Open(filepath.Join(cfg.Storage.SaveDir, cfg.Storage.HistoryFile))
	if err != nil {
		return err
	}
	defer store.Close()

	events := syncx.NewBroadcaster[orchestrator.Event](orchestrator.EventBuffer)
	defer events.Close()
	recentLog := recent.New(recent.DefaultMaxEntries, events)

	m := orchestrator.New(orchestrator.SettingsFromConfig(cfg), orchestrator.Deps{
		Capturer:   capturer,
		Recognizer: b.recognizer,
		Classifier: b.classifier,
		History:    store,
		Artifacts: artifact.New(artifact.Options{
			SaveDir:    cfg.Storage.SaveDir,
			Format:     cfg.Storage.Format,
			Quality:    cfg.Storage.Quality,
			DateFormat: cfg.Storage.DateFormat,
		}),
		Metrics: reg,
		Events:  recentLog,
	})

	if err := m.Validate(ctx); err != nil {
		return err
	}

	if n, err := m.Reconcile(ctx); err != nil {
		slog.Warn("history reconciliation incomplete", "added", n, "error", err)
	} else if n > 0 {
		slog.Info("history reconciled", "added", n)
	}

	if err := config.Watch(ctx, configPath, func() {
		slog.Warn("config file changed; restart livetag to apply it", "path", configPath)
	}); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}

	if cfg.Status.Addr != "" {
		srv := server.New(m, events, reg.Handler()).WithRecent(recentLog).WithHistory(store)
		go func() {
			if err := srv.Serve(ctx, cfg.Status.Addr); err != nil {
				slog.Error("status server error", "error", err)
			}
		}()
	}

	m.Run(ctx)
	return nil
}

// backends are the recognizer and optional classifier plus what must be
// closed when the command ends.
type backends struct {
	recognizer recognize.Recognizer
	classifier classify.Classifier
	closers    []io.Closer
}

func (b *backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func newBackends(cfg *config.Config, reg *metrics.Metrics) (*backends, error) {
	b := &backends{}

	var remote *inference.Client
	dial := func() (*inference.Client, error) {
		if remote != nil {
			return remote, nil
		}
		c, err := inference.Dial(inference.Options{
			Addr:      cfg.Inference.Addr,
			Language:  cfg.OCR.Language,
			ModelType: cfg.Classifier.ModelType,
			ModelPath: cfg.Classifier.ModelPath,
			UseGPU:    cfg.Classifier.UseGPU,
			OnBreakerChange: func(name string, _, to resilience.State) {
				reg.BreakerState(name, uint32(to))
			},
		})
		if err != nil {
			return nil, err
		}
		remote = c
		b.closers = append(b.closers, c)
		return c, nil
	}

	switch cfg.OCR.Backend {
	case config.BackendRemote:
		c, err := dial()
		if err != nil {
			return nil, err
		}
		b.recognizer = c
		slog.Info("using remote recognizer", "addr", cfg.Inference.Addr)
	default:
		t, err := tesseract.New(cfg.OCR.Language)
		if err != nil {
			return nil, err
		}
		b.recognizer = t
		b.closers = append(b.closers, t)
		slog.Info("using tesseract recognizer", "language", cfg.OCR.Language)
	}

	if cfg.Classifier.Enabled {
		c, err := dial()
		if err != nil {
			b.Close()
			return nil, err
		}
		b.classifier = c
		slog.Info("style classifier enabled", "model", cfg.Classifier.ModelType, "gpu", cfg.Classifier.UseGPU)
	}
	return b, nil
}
