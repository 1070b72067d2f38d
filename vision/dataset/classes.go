package dataset

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// FindClasses lists the immediate subdirectories of dir, sorted by byte value,
// and numbers them 0..K-1 in that order. Plain files are ignored and an empty
// result is not an error.
func FindClasses(dir string) ([]string, map[string]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to list classes")
	}

	var classes []string
	for _, entry := range entries {
		if isDir(filepath.Join(dir, entry.Name())) {
			classes = append(classes, entry.Name())
		}
	}
	sort.Strings(classes)

	classToIdx := make(map[string]int, len(classes))
	for i, name := range classes {
		classToIdx[name] = i
	}
	return classes, classToIdx, nil
}

// isDir follows symlinks, so a link to a directory counts as a directory.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
