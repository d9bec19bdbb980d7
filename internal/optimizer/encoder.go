package optimizer

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegli"
	"github.com/gen2brain/webp"

	"github.com/villaretreat/imagepipe/internal/errors"
)

// Output describes a written artifact.
type Output struct {
	Width  int
	Height int
	Bytes  int64
}

// Encoder produces one artifact from its source.
type Encoder interface {
	Encode(ctx context.Context, a Artifact) (Output, error)
}

// ImagingEncoder decodes with imaging, fits the image into the artifact's
// bounding box and writes it with the WebP, jpegli or PNG encoder.
type ImagingEncoder struct {
	// WebPMethod trades encode speed for size, 0 (fast) to 6 (slow).
	WebPMethod int
}

// NewImagingEncoder returns the default encoder.
func NewImagingEncoder() *ImagingEncoder {
	return &ImagingEncoder{WebPMethod: 4}
}

// Encode implements Encoder.
func (e *ImagingEncoder) Encode(ctx context.Context, a Artifact) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	img, err := imaging.Open(a.Source.Path, imaging.AutoOrientation(true))
	if err != nil {
		return Output{}, errors.NewEncodeError(errors.ErrCodeDecode, "decode failed", err).
			WithPath(a.Source.Path)
	}

	// Fit never enlarges, so small photos keep their size.
	edge := a.Kind.MaxDimension()
	resized := imaging.Fit(img, edge, edge, imaging.Lanczos)

	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	n, err := writeAtomic(a.OutputPath, func(w io.Writer) error {
		return e.encode(w, resized, a)
	})
	if err != nil {
		return Output{}, err
	}

	b := resized.Bounds()
	return Output{Width: b.Dx(), Height: b.Dy(), Bytes: n}, nil
}

func (e *ImagingEncoder) encode(w io.Writer, img image.Image, a Artifact) error {
	var err error
	switch a.Format() {
	case FormatWebP:
		err = webp.Encode(w, img, webp.Options{
			Quality: a.Kind.Quality(),
			Method:  e.WebPMethod,
		})
	case FormatJPEG:
		err = jpegli.Encode(w, img, &jpegli.EncodingOptions{
			Quality:          a.Kind.Quality(),
			ProgressiveLevel: 2,
		})
	case FormatPNG:
		err = imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		err = fmt.Errorf("unsupported format %q", a.Format())
	}
	if err != nil {
		return errors.NewEncodeError(errors.ErrCodeEncode, "encode failed", err).
			WithPath(a.Source.Path).
			WithContext("kind", string(a.Kind))
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// writeAtomic writes through a temp file in the target directory and
// renames it into place, so an interrupted encode never leaves a truncated
// artifact behind and re-runs simply replace the previous file.
func writeAtomic(path string, write func(io.Writer) error) (int64, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeWrite, "create temp file failed", err).WithPath(path)
	}
	tmpName := tmp.Name()

	cw := &countingWriter{w: tmp}
	if err := write(cw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, errors.NewIOError(errors.ErrCodeWrite, "close failed", err).WithPath(path)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return 0, errors.NewIOError(errors.ErrCodeWrite, "chmod failed", err).WithPath(path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, errors.NewIOError(errors.ErrCodeWrite, "rename failed", err).WithPath(path)
	}
	return cw.n, nil
}
