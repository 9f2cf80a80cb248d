package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/faceclari/internal/codec"
	"github.com/andresmejia3/faceclari/internal/extract"
	"github.com/andresmejia3/faceclari/internal/matcher"
	"github.com/andresmejia3/faceclari/internal/sink"
	"github.com/andresmejia3/faceclari/internal/types"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Summary reports the outcome of one Run.
type Summary struct {
	Processed int // image files extracted and matched
	Matched   int // files written to the matched tree
	Skipped   int // non-image files passed over
	Failed    int // matches whose output could not be written
	Elapsed   time.Duration
}

type Options struct {
	Workers  int
	Progress bool
	// ProgressWriter receives the progress bar; os.Stderr when nil.
	ProgressWriter io.Writer
	// SkipDirs are never descended into, e.g. a matched tree nested under the scan root.
	SkipDirs []string
}

// Driver runs extraction, matching and annotation over every image under a scan root.
type Driver struct {
	extractor *extract.Extractor
	matcher   *matcher.Matcher
	annotator *sink.Annotator
	log       *zap.Logger
	opts      Options
}

func New(extractor *extract.Extractor, m *matcher.Matcher, annotator *sink.Annotator, opts Options, log *zap.Logger) *Driver {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ProgressWriter == nil {
		opts.ProgressWriter = os.Stderr
	}
	return &Driver{extractor: extractor, matcher: m, annotator: annotator, log: log, opts: opts}
}

type fileResult struct {
	path     string
	identity *types.Identity
	output   string
	err      error
}

// Run processes the scan root against gallery. Files are dispatched to the worker pool
// in walk order; cancellation is checked before each dispatch and a file already in
// progress always completes. On cancellation the partial summary is returned with ctx.Err().
func (d *Driver) Run(ctx context.Context, scanRoot string, gallery types.Gallery) (Summary, error) {
	start := time.Now()
	var summary Summary

	if err := os.MkdirAll(scanRoot, 0755); err != nil {
		return summary, fmt.Errorf("failed to create scan directory: %w", err)
	}

	files, skipped, err := d.enumerate(scanRoot)
	if err != nil {
		return summary, err
	}
	summary.Skipped = skipped
	d.log.Debug("scan enumerated", zap.Int("images", len(files)), zap.Int("skipped", skipped))

	var bar *progressbar.ProgressBar
	if d.opts.Progress {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetDescription("🔍 Matching faces"),
			progressbar.OptionSetWriter(d.opts.ProgressWriter),
			progressbar.OptionShowCount(),
		)
	} else {
		bar = progressbar.DefaultSilent(int64(len(files)))
	}

	tasks := make(chan string, d.opts.Workers)
	results := make(chan fileResult, d.opts.Workers*2)
	var wg sync.WaitGroup

	// Collector is the only writer of summary while workers run.
	collectDone := make(chan struct{})
	go func() {
		for r := range results {
			summary.Processed++
			switch {
			case r.err != nil:
				summary.Failed++
				d.log.Error("failed to write match", zap.String("path", r.path), zap.Error(r.err))
			case r.identity != nil:
				summary.Matched++
				d.log.Info("match", zap.String("path", r.path), zap.String("identity", r.identity.Name), zap.String("output", r.output))
			}
			bar.Add(1)
		}
		close(collectDone)
	}()

	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range tasks {
				results <- d.process(ctx, path, gallery)
			}
		}()
	}

	var runErr error
dispatch:
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		select {
		case tasks <- path:
		case <-ctx.Done():
			runErr = ctx.Err()
			break dispatch
		}
	}

	close(tasks)
	wg.Wait()
	close(results)
	<-collectDone

	bar.Finish()
	summary.Elapsed = time.Since(start)
	return summary, runErr
}

// process handles one file. The run context only gates dispatch; once started a
// file is finished even if the run is cancelled meanwhile.
func (d *Driver) process(ctx context.Context, path string, gallery types.Gallery) fileResult {
	ctx = context.WithoutCancel(ctx)

	feature := d.extractor.Extract(ctx, path)
	identity, match := d.matcher.MatchAny(feature, gallery)
	if !match.Matched {
		return fileResult{path: path}
	}

	out, err := d.annotator.Commit(feature, identity, match.FaceIndex)
	if err != nil {
		return fileResult{path: path, err: err}
	}
	d.annotator.Notify(ctx, feature, identity, match.FaceIndex, out)
	return fileResult{path: path, identity: identity, output: out}
}

// enumerate walks root and returns image paths in walk order plus the count of other files.
// Only a failure to read root itself is returned.
func (d *Driver) enumerate(root string) ([]string, int, error) {
	skip := make(map[string]bool, len(d.opts.SkipDirs))
	for _, dir := range d.opts.SkipDirs {
		if abs, err := filepath.Abs(dir); err == nil {
			skip[abs] = true
		}
	}

	var files []string
	skipped := 0
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable entries below the root are skipped, not fatal.
			d.log.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if path != root {
				if abs, err := filepath.Abs(path); err == nil && skip[abs] {
					return filepath.SkipDir
				}
			}
			return nil
		}
		if strings.HasPrefix(entry.Name(), codec.TempPrefix) {
			return nil
		}
		if d.extractor.IsImage(path) {
			files = append(files, path)
		} else {
			skipped++
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, 0, fmt.Errorf("scan directory not readable: %w", err)
		}
		return nil, 0, fmt.Errorf("failed to walk scan directory: %w", err)
	}
	return files, skipped, nil
}
