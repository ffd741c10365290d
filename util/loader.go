// Package util - File discovery and logger construction.
package util

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/nvr-ai/facecrop/images"
	"github.com/pkg/errors"
)

// FindImageFiles lists the image files under dir.
//
// A file counts as an image when its extension is .jpg, .jpeg, .png or .bmp,
// compared case-insensitively. Entries that cannot be read below the root are
// skipped. The result is sorted so runs are reproducible.
//
// Arguments:
//   - dir: Directory path containing image files.
//   - recursive: Whether to descend into subdirectories.
//
// Returns:
//   - []string: The image file paths, joined onto dir.
//   - error: Error if dir cannot be read.
func FindImageFiles(dir string, recursive bool) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read input directory")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("%s is not a directory", dir)
	}

	var paths []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.Wrap(err, "read input directory")
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() && isImage(entry.Name()) {
				paths = append(paths, filepath.Join(dir, entry.Name()))
			}
		}
		sort.Strings(paths)
		return paths, nil
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && isImage(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk input directory")
	}

	sort.Strings(paths)
	return paths, nil
}

func isImage(name string) bool {
	_, ok := images.FormatFromExtension(filepath.Ext(name))
	return ok
}
