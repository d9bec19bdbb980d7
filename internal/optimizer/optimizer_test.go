package optimizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/villaretreat/imagepipe/internal/errors"
	"github.com/villaretreat/imagepipe/internal/logging"
)

func gradient(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, gradient(w, h), &jpeg.Options{Quality: 90}))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, gradient(w, h)))
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func decodeConfig(t *testing.T, path string) (image.Config, string) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err, path)
	return cfg, format
}

// villaFixture builds the a.jpg, b.png, notes.txt, raw/ layout.
func villaFixture(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "assets", "villaX")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "raw"), 0o755))
	writeJPEG(t, filepath.Join(dir, "a.jpg"), 1600, 900)
	writePNG(t, filepath.Join(dir, "b.png"), 300, 200)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("check-in 2pm"), 0o644))
	writeJPEG(t, filepath.Join(dir, "raw", "c.jpg"), 64, 64)
	return dir
}

func TestRunProducesDocumentedArtifacts(t *testing.T) {
	dir := villaFixture(t)
	opt := New(Options{Directories: []string{dir}})

	report, err := opt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"a-thumbnail.webp", "a.jpg", "a.webp",
		"b-thumbnail.webp", "b.png", "b.webp",
	}, listDir(t, filepath.Join(dir, OptimizedDirName)))

	// raw/ is not descended into
	assert.NoDirExists(t, filepath.Join(dir, "raw", OptimizedDirName))

	assert.Len(t, report.Succeeded(), 6)
	assert.Empty(t, report.Failed())
	require.Len(t, report.Directories, 1)
	assert.ElementsMatch(t, []string{"notes.txt", "raw"}, report.Directories[0].Ignored)
	assert.Equal(t, 2, report.SourceCount())
}

func TestRunArtifactsDecodeWithinBounds(t *testing.T) {
	dir := villaFixture(t)
	_, err := New(Options{Directories: []string{dir}}).Run(context.Background())
	require.NoError(t, err)

	out := filepath.Join(dir, OptimizedDirName)
	tests := []struct {
		file   string
		format string
		width  int
		height int
	}{
		{"a.webp", "webp", 1200, 675},
		{"a-thumbnail.webp", "webp", 400, 225},
		{"a.jpg", "jpeg", 1200, 675},
		// smaller than both boxes: never enlarged
		{"b.webp", "webp", 300, 200},
		{"b-thumbnail.webp", "webp", 300, 200},
		{"b.png", "png", 300, 200},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			cfg, format := decodeConfig(t, filepath.Join(out, tt.file))
			assert.Equal(t, tt.format, format)
			assert.Equal(t, tt.width, cfg.Width)
			assert.Equal(t, tt.height, cfg.Height)
		})
	}
}

func TestRecompressedJPEGIsProgressive(t *testing.T) {
	dir := villaFixture(t)
	_, err := New(Options{Directories: []string{dir}}).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, OptimizedDirName, "a.jpg"))
	require.NoError(t, err)
	// SOF2 marks a progressive DCT frame.
	assert.True(t, bytes.Contains(data, []byte{0xFF, 0xC2}), "expected SOF2 marker")
}

func TestRecompressedPNGIsLosslessPNG(t *testing.T) {
	dir := villaFixture(t)
	_, err := New(Options{Directories: []string{dir}}).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, OptimizedDirName, "b.png"))
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")), "expected PNG signature")
	// IHDR interlace method byte: 0 means non-interlaced
	require.Greater(t, len(data), 28)
	assert.Equal(t, "IHDR", string(data[12:16]))
	assert.Equal(t, byte(0), data[28])

	got, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	src, err := os.Open(filepath.Join(dir, "b.png"))
	require.NoError(t, err)
	defer src.Close()
	want, err := png.Decode(src)
	require.NoError(t, err)
	for _, pt := range []image.Point{{0, 0}, {150, 100}, {299, 199}} {
		wr, wg, wb, _ := want.At(pt.X, pt.Y).RGBA()
		gr, gg, gb, _ := got.At(pt.X, pt.Y).RGBA()
		assert.Equal(t, []uint32{wr, wg, wb}, []uint32{gr, gg, gb}, "pixel %v", pt)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := villaFixture(t)
	opt := New(Options{Directories: []string{dir}})

	first, err := opt.Run(context.Background())
	require.NoError(t, err)
	second, err := opt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.OutputPaths(), second.OutputPaths())
	assert.Empty(t, second.Failed())
	assert.Len(t, listDir(t, filepath.Join(dir, OptimizedDirName)), 6, "no temp files or duplicates left behind")

	cfg, _ := decodeConfig(t, filepath.Join(dir, OptimizedDirName, "a.webp"))
	assert.LessOrEqual(t, cfg.Width, MainMaxDimension)
}

func TestRunIsolatesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("definitely not a jpeg"), 0o644))
	writeJPEG(t, filepath.Join(dir, "good.jpg"), 800, 600)

	logger := logging.NewRecordingLogger()
	report, err := New(Options{Directories: []string{dir}, Logger: logger}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"good-thumbnail.webp", "good.jpg", "good.webp"}, listDir(t, filepath.Join(dir, OptimizedDirName)))
	require.Len(t, report.Failed(), 3)
	for _, res := range report.Failed() {
		assert.Equal(t, "broken.jpg", res.Artifact.Source.Name)
		assert.True(t, errors.HasCode(res.Err, errors.ErrCodeDecode))
	}

	var loggedBroken int
	for _, e := range logger.Entries() {
		if e.Level == logging.LevelError && e.Fields["file"] == "broken.jpg" {
			loggedBroken++
		}
	}
	assert.Equal(t, 3, loggedBroken)
}

func TestRunSkipsMissingDirectory(t *testing.T) {
	good := t.TempDir()
	writePNG(t, filepath.Join(good, "pool.png"), 50, 40)
	missing := filepath.Join(t.TempDir(), "nope")

	logger := logging.NewRecordingLogger()
	report, err := New(Options{Directories: []string{missing, good}, Logger: logger}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Directories, 2)
	assert.True(t, report.Directories[0].Skipped())
	assert.True(t, errors.HasCode(report.Directories[0].Err, errors.ErrCodeDirNotFound))
	assert.False(t, report.Directories[1].Skipped())
	assert.Len(t, report.Succeeded(), 3)
	assert.NoDirExists(t, missing)
	assert.Contains(t, logger.Messages(logging.LevelError), "Directory does not exist")
}

func TestRunIgnoresUnsupportedFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "anim.gif"), []byte("GIF89a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo.webp"), []byte("RIFF"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "gallery.jpg"), 0o755))

	report, err := New(Options{Directories: []string{dir}}).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Results)
	assert.Empty(t, report.Errors())
	assert.Empty(t, listDir(t, filepath.Join(dir, OptimizedDirName)))
}

func TestRunUpperCaseExtension(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "Room.JPG"), 200, 100)

	report, err := New(Options{Directories: []string{dir}}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Failed())
	assert.Equal(t, []string{"Room-thumbnail.webp", "Room.JPG", "Room.webp"}, listDir(t, filepath.Join(dir, OptimizedDirName)))
}

type fakeEncoder struct {
	mu       sync.Mutex
	seen     []Artifact
	fail     func(Artifact) error
	panicOn  func(Artifact) bool
	delay    time.Duration
	inFlight int32
	maxSeen  int32
}

func (f *fakeEncoder) Encode(ctx context.Context, a Artifact) (Output, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.seen = append(f.seen, a)
	f.mu.Unlock()

	if f.panicOn != nil && f.panicOn(a) {
		panic("codec exploded")
	}
	if f.fail != nil {
		if err := f.fail(a); err != nil {
			return Output{}, err
		}
	}
	return Output{Width: 1, Height: 1, Bytes: 10}, nil
}

func touchSources(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func TestRunEncoderPanicIsContained(t *testing.T) {
	dir := t.TempDir()
	touchSources(t, dir, "a.jpg", "b.jpg")

	enc := &fakeEncoder{panicOn: func(a Artifact) bool {
		return a.Source.Name == "a.jpg" && a.Kind == KindWebPThumbnail
	}}
	report, err := New(Options{Directories: []string{dir}, Encoder: enc}).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 6)
	require.Len(t, report.Failed(), 1)
	failed := report.Failed()[0]
	assert.Equal(t, KindWebPThumbnail, failed.Artifact.Kind)
	assert.True(t, errors.HasCode(failed.Err, errors.ErrCodePanic))
	assert.Contains(t, failed.Err.Error(), "codec exploded")
}

func TestRunSiblingArtifactsSurviveFailure(t *testing.T) {
	dir := t.TempDir()
	touchSources(t, dir, "a.jpg")

	enc := &fakeEncoder{fail: func(a Artifact) error {
		if a.Kind == KindWebPFull {
			return errors.NewEncodeError(errors.ErrCodeEncode, "unsupported color profile", nil)
		}
		return nil
	}}
	report, err := New(Options{Directories: []string{dir}, Encoder: enc}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Succeeded(), 2)
	assert.Len(t, report.Failed(), 1)
	assert.Len(t, enc.seen, 3)
}

func TestRunConcurrencyCap(t *testing.T) {
	dir := t.TempDir()
	touchSources(t, dir, "a.jpg", "b.jpg", "c.jpg", "d.png")

	enc := &fakeEncoder{delay: 20 * time.Millisecond}
	report, err := New(Options{Directories: []string{dir}, Encoder: enc, Concurrency: 2}).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Succeeded(), 12)
	assert.LessOrEqual(t, atomic.LoadInt32(&enc.maxSeen), int32(2))
}

func TestRunCancelledContext(t *testing.T) {
	dir := t.TempDir()
	touchSources(t, dir, "a.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := New(Options{Directories: []string{dir}}).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Succeeded())
}

func TestOptimizeFiles(t *testing.T) {
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "terrace.jpeg"), 500, 500)
	touchSources(t, dir, "readme.md")

	report, err := New(Options{}).OptimizeFiles(context.Background(), []string{
		filepath.Join(dir, "terrace.jpeg"),
		filepath.Join(dir, "readme.md"),
		filepath.Join(dir, "gone.jpg"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"terrace-thumbnail.webp", "terrace.jpeg", "terrace.webp"}, listDir(t, filepath.Join(dir, OptimizedDirName)))
	require.Len(t, report.Directories, 1)
	assert.ElementsMatch(t, []string{"readme.md", "gone.jpg"}, report.Directories[0].Ignored)
}

func TestMetricsRecorded(t *testing.T) {
	dir := t.TempDir()
	touchSources(t, dir, "a.jpg", "b.png")
	missing := filepath.Join(dir, "missing")

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	enc := &fakeEncoder{fail: func(a Artifact) error {
		if a.Source.Name == "b.png" && a.Kind == KindRecompressedOriginal {
			return fmt.Errorf("disk full")
		}
		return nil
	}}

	_, err := New(Options{Directories: []string{dir, missing}, Encoder: enc, Metrics: metrics}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Runs))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Sources))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SkippedDirs))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Artifacts.WithLabelValues(string(KindWebPFull), "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Artifacts.WithLabelValues(string(KindRecompressedOriginal), "failure")))
	assert.Equal(t, 20.0, testutil.ToFloat64(metrics.ArtifactBytes.WithLabelValues(string(KindWebPThumbnail))))
}

func TestReportWriteTable(t *testing.T) {
	dir := t.TempDir()
	touchSources(t, dir, "a.jpg")
	missing := filepath.Join(dir, "missing")

	report, err := New(Options{Directories: []string{dir, missing}, Encoder: &fakeEncoder{}}).Run(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	report.WriteTable(&buf)
	out := buf.String()
	assert.Contains(t, strings.ToUpper(out), "DIRECTORY")
	assert.Contains(t, out, dir)
	assert.Contains(t, out, "skipped")
	assert.Contains(t, strings.ToUpper(out), "TOTAL")
}

func TestReportFailuresByCode(t *testing.T) {
	dir := t.TempDir()
	touchSources(t, dir, "a.jpg", "b.png")
	missing := filepath.Join(dir, "missing")

	enc := &fakeEncoder{
		fail: func(a Artifact) error {
			if a.Source.Name != "b.png" {
				return nil
			}
			if a.Kind == KindRecompressedOriginal {
				return fmt.Errorf("disk full")
			}
			return errors.NewEncodeError(errors.ErrCodeDecode, "cannot decode", nil).WithPath(a.Source.Path)
		},
		panicOn: func(a Artifact) bool { return a.Source.Name == "a.jpg" && a.Kind == KindWebPFull },
	}
	report, err := New(Options{Directories: []string{missing, dir}, Encoder: enc}).Run(context.Background())
	require.NoError(t, err)

	errs := report.Errors()
	require.Len(t, errs, 5)
	assert.True(t, errors.HasCode(errs[0], errors.ErrCodeDirNotFound), "skipped directories come first")
	assert.Equal(t, map[string]int{
		errors.ErrCodeDirNotFound: 1,
		errors.ErrCodeDecode:      2,
		errors.ErrCodePanic:       1,
		"":                        1,
	}, report.FailuresByCode())

	var buf bytes.Buffer
	report.WriteTable(&buf)
	out := buf.String()
	for _, want := range []string{errors.ErrCodeDirNotFound, errors.ErrCodeDecode, errors.ErrCodePanic, "other"} {
		assert.Contains(t, out, want)
	}
}

func TestReportWithoutFailuresHasNoErrorTable(t *testing.T) {
	dir := t.TempDir()
	touchSources(t, dir, "a.jpg")

	report, err := New(Options{Directories: []string{dir}, Encoder: &fakeEncoder{}}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.FailuresByCode())

	var buf bytes.Buffer
	report.WriteTable(&buf)
	assert.NotContains(t, strings.ToUpper(buf.String()), "COUNT")
}

func TestHandBuiltReportCountsErrors(t *testing.T) {
	report := &Report{
		Directories: []DirectoryReport{{Directory: "gone", Err: errors.ErrDirNotFound("gone", nil)}},
		Results: []ArtifactResult{
			{Err: fmt.Errorf("wrapped: %w", errors.NewEncodeError(errors.ErrCodeEncode, "boom", nil))},
			{},
		},
	}
	assert.Len(t, report.Errors(), 2)
	assert.Equal(t, map[string]int{errors.ErrCodeDirNotFound: 1, errors.ErrCodeEncode: 1}, report.FailuresByCode())
}
