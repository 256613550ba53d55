// Package pipeline runs the decrypt flow for one recording at a time:
// sidecar lookup, key acquisition, output naming, then the framer over a
// sliding buffer between the input and output files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/zsiec/drmdecrypt/internal/blockcipher"
	"github.com/zsiec/drmdecrypt/internal/drmkey"
	"github.com/zsiec/drmdecrypt/internal/mpegts"
	"github.com/zsiec/drmdecrypt/internal/packetbuf"
	"github.com/zsiec/drmdecrypt/internal/recording"
)

var (
	ErrInputOpen  = errors.New("pipeline: cannot open input")
	ErrOutputOpen = errors.New("pipeline: cannot open output")
)

// outputMode is the permission of created output files.
const outputMode = 0o644

// Progress receives every input byte as it is read. Finish is called once
// the file is done, successfully or not.
type Progress interface {
	io.Writer
	Finish() error
}

// Config holds what a Pipeline needs for every file it processes.
type Config struct {
	Backend blockcipher.Backend
	// OutputDir receives the decrypted files. Empty means next to each
	// input.
	OutputDir string
	Buffer    packetbuf.Options
	// Progress, if set, is called once per file with its display name and
	// size in bytes.
	Progress func(name string, size int64) Progress
}

// Result describes one processed recording.
type Result struct {
	Input   string
	Output  string
	Stats   mpegts.Stats
	Elapsed time.Duration
}

// Pipeline decrypts recordings one after another. It holds no per-file
// state, so a single Pipeline can be reused for any number of runs.
type Pipeline struct {
	cfg Config
	log *slog.Logger
}

// New creates a Pipeline. If log is nil, slog.Default() is used.
func New(cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{cfg: cfg, log: log}
}

// RunAll decrypts paths in order and stops at the first failure. The
// results of the files completed so far are returned alongside the error.
func (p *Pipeline) RunAll(ctx context.Context, paths []string) ([]Result, error) {
	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, err := p.Run(ctx, path)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Run decrypts the recording at srfPath. Partial output is left on disk
// when the run fails; Result.Output names it.
func (p *Pipeline) Run(ctx context.Context, srfPath string) (res Result, err error) {
	start := time.Now()
	res.Input = srfPath
	log := p.log.With("file", filepath.Base(srfPath))

	files := recording.Sidecars(srfPath)
	c, err := drmkey.Read(files.Key, p.cfg.Backend, log)
	if err != nil {
		return res, err
	}
	defer c.Close()

	res.Output = p.outputPath(files, log)

	in, err := os.Open(srfPath)
	if err != nil {
		log.Error("cannot open input", "error", err)
		return res, fmt.Errorf("%w: %s: %v", ErrInputOpen, srfPath, err)
	}
	defer in.Close()

	var size int64
	if info, err := in.Stat(); err == nil {
		size = info.Size()
	}
	log.Info("decrypting", "size", humanize.IBytes(uint64(size)), "backend", c.Backend())
	log.Info("writing", "output", res.Output)

	out, err := os.OpenFile(res.Output, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, outputMode)
	if err != nil {
		log.Error("cannot open output", "output", res.Output, "error", err)
		return res, fmt.Errorf("%w: %s: %v", ErrOutputOpen, res.Output, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("pipeline: close %s: %w", res.Output, cerr)
		}
	}()

	var r io.Reader = in
	if p.cfg.Progress != nil {
		bar := p.cfg.Progress(filepath.Base(srfPath), size)
		r = io.TeeReader(in, bar)
		defer bar.Finish()
	}

	buf, err := packetbuf.New(r, out, p.cfg.Buffer)
	if err != nil {
		return res, fmt.Errorf("%s: %w", srfPath, err)
	}
	defer buf.Release()

	res.Stats, err = mpegts.NewFramer(buf, c, log).Run(ctx)
	res.Elapsed = time.Since(start)
	if err != nil {
		log.Error("decrypt failed", "output", res.Output, "error", err)
		return res, fmt.Errorf("%s: %w", srfPath, err)
	}

	log.Info("done",
		"packets", res.Stats.Packets,
		"scrambled", res.Stats.Scrambled,
		"resyncs", res.Stats.Resyncs,
		"written", humanize.IBytes(uint64(res.Stats.BytesOut)),
		"elapsed", res.Elapsed.Round(time.Millisecond),
	)
	return res, nil
}

// outputPath names the output after the .inf title, falling back to the
// recording's own base name.
func (p *Pipeline) outputPath(files recording.Files, log *slog.Logger) string {
	dir := p.cfg.OutputDir
	if dir == "" {
		dir = filepath.Dir(files.Recording)
	}
	name, err := recording.OutputName(files.Metadata)
	if err != nil {
		fallback := recording.FallbackName(dir, files.Recording)
		log.Warn("cannot derive title, using recording name", "output", fallback, "error", err)
		return fallback
	}
	return filepath.Join(dir, name)
}
