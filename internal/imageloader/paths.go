package imageloader

import (
	"regexp"
	"strings"
)

const optimizedSegment = "/optimized/"

var (
	convertibleExt = regexp.MustCompile(`(?i)\.(jpg|jpeg|png)$`)
	anyExt         = regexp.MustCompile(`\.\w+$`)
)

// OptimizedSrc derives the candidate URL the loader tries first.
//
// The path is split at its last "/". With WebP support a jpg, jpeg or png
// extension (any case) becomes ".webp"; without it the file name is kept
// and the recompressed original is requested. A src without a separator is
// returned unchanged.
func OptimizedSrc(src string, webp bool) string {
	if src == "" {
		return ""
	}
	i := strings.LastIndex(src, "/")
	if i == -1 {
		return src
	}
	base, name := src[:i], src[i+1:]
	if webp {
		name = convertibleExt.ReplaceAllString(name, ".webp")
	}
	return base + optimizedSegment + name
}

// PlaceholderSrc is the blurred preview shown until the main image loads:
// the thumbnail the optimizer writes next to the other artifacts. A src
// without an extension falls back to "<src>-thumb.jpg".
func PlaceholderSrc(src string) string {
	if src == "" {
		return ""
	}
	loc := anyExt.FindStringIndex(src)
	if loc == nil {
		return src + "-thumb.jpg"
	}
	stem := src[:loc[0]]
	i := strings.LastIndex(stem, "/")
	if i == -1 {
		return stem + "-thumbnail.webp"
	}
	return stem[:i] + optimizedSegment + stem[i+1:] + "-thumbnail.webp"
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns alt text into an id-safe fragment.
func slugify(s string) string {
	s = nonSlug.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if len(s) > 40 {
		s = strings.TrimRight(s[:40], "-")
	}
	if s == "" {
		return "image"
	}
	return s
}
