// Package optimizer generates the optimized variants the site serves in
// place of the original villa photos.
//
// For every jpg/jpeg/png directly inside a configured directory it writes
// three artifacts into <dir>/optimized:
//
//	<name>.webp            full-size WebP, max 1200px, quality 80
//	<name>-thumbnail.webp  thumbnail WebP, max 400px, quality 75
//	<name><ext>            original format, max 1200px, quality 80, progressive
//
// Quality and progressive encoding apply to jpg/jpeg sources. PNG sources
// are written as non-interlaced PNG at maximum lossless compression, so
// the recompressed file keeps the format its extension names.
//
// The image loader derives its candidate and placeholder URLs from exactly
// these names, so they must not change.
package optimizer

import (
	"path/filepath"
	"strings"
)

// OptimizedDirName is the per-directory output folder.
const OptimizedDirName = "optimized"

// Compiled-in resize and quality settings.
const (
	MainMaxDimension      = 1200
	ThumbnailMaxDimension = 400
	MainWebPQuality       = 80
	ThumbnailWebPQuality  = 75
	OriginalQuality       = 80
)

// Kind identifies one of the three artifacts derived from a source image.
type Kind string

const (
	KindWebPFull             Kind = "webp-full"
	KindWebPThumbnail        Kind = "webp-thumbnail"
	KindRecompressedOriginal Kind = "recompressed-original"
)

// Kinds lists every artifact kind in generation order.
var Kinds = []Kind{KindWebPFull, KindWebPThumbnail, KindRecompressedOriginal}

// MaxDimension is the bounding box edge the artifact is fitted into.
func (k Kind) MaxDimension() int {
	if k == KindWebPThumbnail {
		return ThumbnailMaxDimension
	}
	return MainMaxDimension
}

// Quality is the encoder quality for the artifact.
func (k Kind) Quality() int {
	switch k {
	case KindWebPThumbnail:
		return ThumbnailWebPQuality
	case KindWebPFull:
		return MainWebPQuality
	default:
		return OriginalQuality
	}
}

// Label is the human-facing name used in progress lines.
func (k Kind) Label() string {
	switch k {
	case KindWebPFull:
		return "WebP"
	case KindWebPThumbnail:
		return "thumbnail"
	default:
		return "original"
	}
}

var supportedExtensions = map[string]Format{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
}

// Format is an output encoding.
type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// IsSupportedSource reports whether name has a jpg, jpeg or png extension,
// compared case-insensitively.
func IsSupportedSource(name string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

// Source is an original image on disk. It is never modified.
type Source struct {
	Path      string
	Dir       string
	Name      string
	Extension string
}

// NewSource splits path into its parts. It does not touch the filesystem.
func NewSource(path string) Source {
	name := filepath.Base(path)
	return Source{
		Path:      path,
		Dir:       filepath.Dir(path),
		Name:      name,
		Extension: filepath.Ext(name),
	}
}

// Stem is the file name without its extension.
func (s Source) Stem() string {
	return strings.TrimSuffix(s.Name, s.Extension)
}

// OriginalFormat is the encoding used for the recompressed original.
func (s Source) OriginalFormat() Format {
	if f, ok := supportedExtensions[strings.ToLower(s.Extension)]; ok {
		return f
	}
	return FormatJPEG
}

// Artifact is one derived file for a source.
type Artifact struct {
	Source     Source
	Kind       Kind
	OutputPath string
}

// Format is the encoding the artifact is written in.
func (a Artifact) Format() Format {
	if a.Kind == KindRecompressedOriginal {
		return a.Source.OriginalFormat()
	}
	return FormatWebP
}

// ArtifactPath returns where the artifact of kind for src is written.
func ArtifactPath(src Source, kind Kind) string {
	out := filepath.Join(src.Dir, OptimizedDirName)
	switch kind {
	case KindWebPFull:
		return filepath.Join(out, src.Stem()+".webp")
	case KindWebPThumbnail:
		return filepath.Join(out, src.Stem()+"-thumbnail.webp")
	default:
		return filepath.Join(out, src.Name)
	}
}

// ArtifactsFor returns the three artifacts of src.
func ArtifactsFor(src Source) []Artifact {
	artifacts := make([]Artifact, 0, len(Kinds))
	for _, kind := range Kinds {
		artifacts = append(artifacts, Artifact{
			Source:     src,
			Kind:       kind,
			OutputPath: ArtifactPath(src, kind),
		})
	}
	return artifacts
}
