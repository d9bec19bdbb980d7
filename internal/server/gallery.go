package server

import (
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/villaretreat/imagepipe/internal/optimizer"
)

// Gallery is one villa folder as shown by the preview page.
type Gallery struct {
	Title  string
	Dir    string
	Images []Image
}

// Image is a source photo and its public URL.
type Image struct {
	Src string
	Alt string
}

var titleCaser = cases.Title(language.English)

// GalleryTitle turns a folder name like "eastcoastvilla" or
// "LavishVilla 1" into a heading.
func GalleryTitle(dir string) string {
	name := filepath.Base(filepath.Clean(dir))
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return titleCaser.String(strings.Join(strings.Fields(name), " "))
}

// PublicURL maps a file below root to the URL it is served at. The second
// result is false when path lies outside root.
func PublicURL(root, path string) (string, bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	segments := strings.Split(filepath.ToSlash(rel), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(segments, "/"), true
}

// ScanGalleries lists the source photos of each directory. Directories
// that are missing or outside root are returned in skipped.
func ScanGalleries(root string, dirs []string) (galleries []Gallery, skipped []string) {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			skipped = append(skipped, dir)
			continue
		}
		if _, ok := PublicURL(root, dir); !ok {
			skipped = append(skipped, dir)
			continue
		}

		g := Gallery{Title: GalleryTitle(dir), Dir: dir}
		for _, e := range entries {
			if e.IsDir() || !optimizer.IsSupportedSource(e.Name()) {
				continue
			}
			src, _ := PublicURL(root, filepath.Join(dir, e.Name()))
			g.Images = append(g.Images, Image{
				Src: src,
				Alt: g.Title + " " + strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())),
			})
		}
		sort.Slice(g.Images, func(i, j int) bool { return g.Images[i].Src < g.Images[j].Src })
		galleries = append(galleries, g)
	}
	return galleries, skipped
}
