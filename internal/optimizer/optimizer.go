package optimizer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/villaretreat/imagepipe/internal/errors"
	"github.com/villaretreat/imagepipe/internal/logging"
)

// Options configures an Optimizer.
type Options struct {
	// Directories are scanned non-recursively for source images.
	Directories []string
	// Concurrency caps simultaneous artifact tasks. Zero means unbounded.
	Concurrency int
	Logger      logging.Logger
	Metrics     *Metrics
	Encoder     Encoder
}

// Optimizer runs artifact generation as independent tasks. A task failure
// is logged and recorded in the Report; it never stops other tasks.
type Optimizer struct {
	dirs        []string
	concurrency int
	logger      logging.Logger
	metrics     *Metrics
	encoder     Encoder
}

// New creates an Optimizer. Missing Logger and Encoder fall back to a
// no-op logger and the ImagingEncoder.
func New(opts Options) *Optimizer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger{}
	}
	encoder := opts.Encoder
	if encoder == nil {
		encoder = NewImagingEncoder()
	}
	return &Optimizer{
		dirs:        append([]string(nil), opts.Directories...),
		concurrency: opts.Concurrency,
		logger:      logger.WithComponent("optimizer"),
		metrics:     opts.Metrics,
		encoder:     encoder,
	}
}

// Run processes every configured directory. The returned error is only
// ever the context's error; everything else lands in the Report.
func (o *Optimizer) Run(ctx context.Context) (*Report, error) {
	report := newReport()
	o.metrics.observeRun()
	o.logger.Info(ctx, "Starting image optimization process", "directories", len(o.dirs))

	var artifacts []Artifact
	for _, dir := range o.dirs {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(report.Started)
			return report, err
		}
		dr := o.scanDirectory(ctx, dir)
		report.errs.AddError(dr.Err)
		report.Directories = append(report.Directories, dr)
		for _, src := range dr.Sources {
			artifacts = append(artifacts, ArtifactsFor(src)...)
		}
	}

	report.Results = o.generate(ctx, artifacts, report.errs)
	report.sort()
	report.Duration = time.Since(report.Started)

	o.logger.Info(ctx, "Image optimization finished",
		"sources", report.SourceCount(),
		"written", len(report.Succeeded()),
		"failed", len(report.Failed()),
		"duration", report.Duration.String(),
	)
	return report, ctx.Err()
}

// OptimizeFiles regenerates the artifacts of the given source files only.
// Unsupported or missing files are reported as ignored in their
// directory's entry.
func (o *Optimizer) OptimizeFiles(ctx context.Context, paths []string) (*Report, error) {
	report := newReport()
	byDir := make(map[string]*DirectoryReport)
	var order []string
	var artifacts []Artifact

	for _, p := range paths {
		src := NewSource(p)
		dr, ok := byDir[src.Dir]
		if !ok {
			dr = &DirectoryReport{Directory: src.Dir, OutputDir: filepath.Join(src.Dir, OptimizedDirName)}
			byDir[src.Dir] = dr
			order = append(order, src.Dir)
		}

		info, err := os.Stat(p)
		if err != nil || info.IsDir() || !IsSupportedSource(p) {
			dr.Ignored = append(dr.Ignored, src.Name)
			continue
		}
		if err := os.MkdirAll(dr.OutputDir, 0o755); err != nil {
			dr.Err = errors.NewIOError(errors.ErrCodeWrite, "cannot create optimized directory", err).
				WithPath(dr.OutputDir)
			report.errs.AddError(dr.Err)
			o.logger.Error(ctx, dr.Err, "Skipping file", "file", p)
			continue
		}
		dr.Sources = append(dr.Sources, src)
		artifacts = append(artifacts, ArtifactsFor(src)...)
	}
	for _, dir := range order {
		report.Directories = append(report.Directories, *byDir[dir])
	}
	o.metrics.observeSources(len(artifacts) / len(Kinds))

	report.Results = o.generate(ctx, artifacts, report.errs)
	report.sort()
	report.Duration = time.Since(report.Started)
	return report, ctx.Err()
}

// scanDirectory lists the direct children of dir and picks the sources.
// A missing or unreadable directory is logged and skipped.
func (o *Optimizer) scanDirectory(ctx context.Context, dir string) DirectoryReport {
	dr := DirectoryReport{Directory: dir, OutputDir: filepath.Join(dir, OptimizedDirName)}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("not a directory")
		}
		dr.Err = errors.ErrDirNotFound(dir, err)
		o.metrics.observeSkippedDir()
		o.logger.Error(ctx, dr.Err, "Directory does not exist", "directory", dir)
		return dr
	}

	if err := os.MkdirAll(dr.OutputDir, 0o755); err != nil {
		dr.Err = errors.NewIOError(errors.ErrCodeWrite, "cannot create optimized directory", err).
			WithPath(dr.OutputDir)
		o.metrics.observeSkippedDir()
		o.logger.Error(ctx, dr.Err, "Skipping directory", "directory", dir)
		return dr
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		dr.Err = errors.NewIOError(errors.ErrCodeDirRead, "error reading directory", err).WithPath(dir)
		o.metrics.observeSkippedDir()
		o.logger.Error(ctx, dr.Err, "Error reading directory", "directory", dir)
		return dr
	}

	for _, entry := range entries {
		if entry.Name() == OptimizedDirName && entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if isDir(entry, path) || !IsSupportedSource(entry.Name()) {
			dr.Ignored = append(dr.Ignored, entry.Name())
			continue
		}
		dr.Sources = append(dr.Sources, NewSource(path))
	}
	o.metrics.observeSources(len(dr.Sources))
	o.logger.Debug(ctx, "Scanned directory",
		"directory", dir,
		"sources", len(dr.Sources),
		"ignored", len(dr.Ignored),
	)
	return dr
}

// isDir follows symlinks so a link to a folder is skipped like a folder.
func isDir(entry os.DirEntry, path string) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink != 0 {
		if info, err := os.Stat(path); err == nil {
			return info.IsDir()
		}
	}
	return false
}

// generate runs one task per artifact and captures each outcome. Failures
// are also fed to errs as the tasks finish.
func (o *Optimizer) generate(ctx context.Context, artifacts []Artifact, errs *errors.ErrorCollector) []ArtifactResult {
	p := pool.NewWithResults[ArtifactResult]()
	if o.concurrency > 0 {
		p = p.WithMaxGoroutines(o.concurrency)
	}

	announced := make(map[string]bool)
	for _, a := range artifacts {
		if !announced[a.Source.Path] {
			announced[a.Source.Path] = true
			o.logger.Info(ctx, "Optimizing", "file", a.Source.Path)
		}
		p.Go(func() ArtifactResult {
			res := o.runTask(ctx, a)
			errs.AddError(res.Err)
			return res
		})
	}
	return p.Wait()
}

// runTask produces one artifact. Panics from the codecs are turned into
// errors so they stay confined to this artifact.
func (o *Optimizer) runTask(ctx context.Context, a Artifact) (res ArtifactResult) {
	start := time.Now()
	res.Artifact = a

	defer func() {
		if r := recover(); r != nil {
			res.Err = errors.NewInternalError(errors.ErrCodePanic,
				fmt.Sprintf("encoder panic: %v", r), nil).WithPath(a.Source.Path)
		}
		res.Duration = time.Since(start)
		o.metrics.observeArtifact(res)
		o.logResult(ctx, res)
	}()

	res.Output, res.Err = o.encoder.Encode(ctx, a)
	return res
}

func (o *Optimizer) logResult(ctx context.Context, res ArtifactResult) {
	a := res.Artifact
	if res.Err != nil {
		o.logger.Error(ctx, res.Err, fmt.Sprintf("Error creating %s", a.Kind.Label()),
			"file", a.Source.Name,
			"kind", string(a.Kind),
		)
		return
	}

	var msg string
	switch a.Kind {
	case KindWebPFull:
		msg = "Created WebP"
	case KindWebPThumbnail:
		msg = "Created thumbnail"
	default:
		msg = "Optimized original"
	}
	o.logger.Info(ctx, msg,
		"output", a.OutputPath,
		"width", res.Output.Width,
		"height", res.Output.Height,
		"bytes", res.Output.Bytes,
	)
}
