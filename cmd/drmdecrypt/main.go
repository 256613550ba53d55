// Command drmdecrypt removes the AES scrambling from .srf recordings and
// writes plain MPEG-TS files.
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
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/zsiec/drmdecrypt/internal/blockcipher"
	"github.com/zsiec/drmdecrypt/internal/config"
	"github.com/zsiec/drmdecrypt/internal/pipeline"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

type flags struct {
	debug      bool
	quiet      bool
	version    bool
	noAESNI    bool
	outDir     string
	configPath string
	progress   bool
	noProgress bool
}

func parseFlags(args []string, stderr io.Writer) (*flag.FlagSet, flags, error) {
	var f flags
	fs := flag.NewFlagSet("drmdecrypt", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&f.debug, "d", false, "show debugging output")
	fs.BoolVar(&f.quiet, "q", false, "be quiet, only error output")
	fs.BoolVar(&f.version, "v", false, "print version information")
	fs.BoolVar(&f.noAESNI, "x", false, "disable hardware AES support")
	fs.StringVar(&f.outDir, "o", "", "output `directory` (default: next to each input)")
	fs.StringVar(&f.configPath, "config", "", "config `file` (default: $"+config.EnvPath+")")
	fs.BoolVar(&f.progress, "progress", false, "always show a progress bar")
	fs.BoolVar(&f.noProgress, "no-progress", false, "never show a progress bar")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: drmdecrypt [-dqvx] [-o outdir] [-config file] infile.srf ...\n")
		fmt.Fprintf(fs.Output(), "Options:\n")
		fs.PrintDefaults()
	}
	err := fs.Parse(args)
	return fs, f, err
}

func run(args []string, stderr io.Writer) int {
	fs, f, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}
	if f.version {
		fmt.Fprintf(stderr, "drmdecrypt %s\n", version)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 1
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "drmdecrypt: %v\n", err)
		return 1
	}
	if f.outDir != "" {
		cfg.OutputDir = f.outDir
	}
	if f.noAESNI {
		cfg.DisableHardwareAES = true
	}
	switch {
	case f.noProgress:
		cfg.Progress = ptr(false)
	case f.progress:
		cfg.Progress = ptr(true)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	switch {
	case f.debug:
		level = slog.LevelDebug
	case f.quiet:
		level = slog.LevelError
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	backend := blockcipher.Select(cfg.DisableHardwareAES)
	log.Info("aes backend", "backend", backend, "hardware_available", blockcipher.HasHardwareAES())

	pcfg := pipeline.Config{
		Backend:   backend,
		OutputDir: cfg.OutputDir,
		Buffer:    cfg.Buffer.Options(),
	}
	if showProgress(cfg.Progress, stderr) && level > slog.LevelDebug {
		pcfg.Progress = newProgressBar(stderr)
	}
	p := pipeline.New(pcfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			log.Info("received signal, stopping", "signal", sig)
			return fmt.Errorf("interrupted by %v", sig)
		case <-ctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		defer cancel()
		start := time.Now()
		results, err := p.RunAll(ctx, fs.Args())
		log.Info("finished", "files", len(results), "total", fs.NArg(), "elapsed", time.Since(start).Round(time.Millisecond))
		return err
	})

	if err := g.Wait(); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Error("decrypt failed", "error", err)
		}
		return 1
	}
	return 0
}

// showProgress reports whether a bar should be drawn on w. An explicit
// setting wins; otherwise w must be a terminal.
func showProgress(setting *bool, w io.Writer) bool {
	if setting != nil {
		return *setting
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newProgressBar(w io.Writer) func(name string, size int64) pipeline.Progress {
	return func(name string, size int64) pipeline.Progress {
		return progressbar.NewOptions64(
			size,
			progressbar.OptionSetWriter(w),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetElapsedTime(false),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionShowCount(),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetDescription(name),
		)
	}
}

func ptr[T any](v T) *T { return &v }
