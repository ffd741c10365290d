package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func imageTree(t *testing.T) string {
	dir := t.TempDir()
	for _, name := range []string{
		"b.jpg",
		"A.PNG",
		"c.Jpeg",
		"d.bmp",
		"notes.txt",
		"noext",
		"nested/e.jpg",
		"nested/deeper/f.png",
		"nested/g.gif",
	} {
		touch(t, filepath.Join(dir, name))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "folder.jpg"), 0o755))
	return dir
}

// TestFindImageFilesRecursive validates extension filtering, recursion and ordering.
func TestFindImageFilesRecursive(t *testing.T) {
	dir := imageTree(t)

	paths, err := FindImageFiles(dir, true)
	require.NoError(t, err)

	want := []string{
		filepath.Join(dir, "A.PNG"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "c.Jpeg"),
		filepath.Join(dir, "d.bmp"),
		filepath.Join(dir, "nested", "deeper", "f.png"),
		filepath.Join(dir, "nested", "e.jpg"),
	}
	assert.Equal(t, want, paths, "only image files, sorted, should be returned")
}

// TestFindImageFilesFlat validates that subdirectories are ignored without recursion.
func TestFindImageFilesFlat(t *testing.T) {
	dir := imageTree(t)

	paths, err := FindImageFiles(dir, false)
	require.NoError(t, err)
	assert.Len(t, paths, 4, "only top-level images should be returned")
	for _, p := range paths {
		assert.Equal(t, dir, filepath.Dir(p))
	}
}

// TestFindImageFilesErrors validates missing and non-directory inputs.
func TestFindImageFilesErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := FindImageFiles(filepath.Join(dir, "missing"), true)
	assert.Error(t, err)

	file := filepath.Join(dir, "file.jpg")
	touch(t, file)
	_, err = FindImageFiles(file, false)
	assert.Error(t, err)

	paths, err := FindImageFiles(dir, true)
	require.NoError(t, err)
	assert.Equal(t, []string{file}, paths)
}
