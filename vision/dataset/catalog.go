package dataset

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
)

// ImageExtensions are the recognized image suffixes, compared case-insensitively.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".ppm", ".bmp", ".pgm"}

// Sample is one catalog entry: an image path and its class label.
type Sample struct {
	Path  string `json:"path" yaml:"path"`
	Label int    `json:"label" yaml:"label"`
}

// CatalogOptions adjusts catalog construction.
type CatalogOptions struct {
	// Exclude holds doublestar patterns matched against each image path
	// relative to the image root, with forward slashes (e.g. "dog/**/*.bmp").
	Exclude []string
}

// IsImageFile reports whether filename ends with a recognized image extension.
func IsImageFile(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range ImageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// MakeCatalog walks every class directory under dir and returns its image
// files paired with labels from classToIdx.
//
// Ordering is fully deterministic: classes in sorted order; within a class,
// directories sorted by their full path; within a directory, file names sorted.
// Root entries that are not directories, and classes missing from classToIdx,
// are skipped.
func MakeCatalog(dir string, classToIdx map[string]int, opts CatalogOptions) ([]Sample, error) {
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, errors.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list image root")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var samples []Sample
	for _, target := range names {
		classDir := filepath.Join(dir, target)
		if !isDir(classDir) {
			continue
		}
		label, ok := classToIdx[target]
		if !ok {
			continue
		}

		files, err := walkClass(classDir)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			if excluded(dir, path, opts.Exclude) {
				continue
			}
			samples = append(samples, Sample{Path: path, Label: label})
		}
	}
	return samples, nil
}

// walkClass returns the image files below classDir. Symlinked directories
// beneath classDir are listed but not descended into.
func walkClass(classDir string) ([]string, error) {
	filesByDir := make(map[string][]string)
	var dirs []string

	var walk func(dir string) error
	walk = func(dir string) error {
		dirs = append(dirs, dir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return errors.Wrapf(err, "failed to walk %s", dir)
		}
		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())
			switch {
			case entry.IsDir():
				if err := walk(path); err != nil {
					return err
				}
			case entry.Type()&fs.ModeSymlink != 0 && isDir(path):
			default:
				filesByDir[dir] = append(filesByDir[dir], entry.Name())
			}
		}
		return nil
	}
	if err := walk(classDir); err != nil {
		return nil, err
	}

	sort.Strings(dirs)
	var out []string
	for _, d := range dirs {
		names := filesByDir[d]
		sort.Strings(names)
		for _, name := range names {
			if IsImageFile(name) {
				out = append(out, filepath.Join(d, name))
			}
		}
	}
	return out, nil
}

func excluded(root, path string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
