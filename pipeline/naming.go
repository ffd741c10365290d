package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultExtension is used for outputs whose source file has no extension.
const DefaultExtension = "jpg"

// OutputName returns the file name for face faceIndex cropped from path:
// {stem}_{faceIndex}.{ext}. The extension keeps the source's spelling.
//
// Example Usage:
// ```go
//
//	pipeline.OutputName("/data/IMG_0042.JPG", 1) // "IMG_0042_1.JPG"
//	pipeline.OutputName("/data/scan", 0)         // "scan_0.jpg"
//
// ```
func OutputName(path string, faceIndex int) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	ext = strings.TrimPrefix(ext, ".")

	// Dotfiles such as ".face" are a stem with no extension.
	if stem == "" {
		stem, ext = base, ""
	}
	if ext == "" {
		ext = DefaultExtension
	}
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "unknown"
	}
	return fmt.Sprintf("%s_%d.%s", stem, faceIndex, ext)
}

// Chunk splits paths into consecutive groups of at most size entries.
func Chunk(paths []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	chunks := make([][]string, 0, (len(paths)+size-1)/size)
	for start := 0; start < len(paths); start += size {
		end := min(start+size, len(paths))
		chunks = append(chunks, paths[start:end])
	}
	return chunks
}
