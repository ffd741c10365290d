package images

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ImageFormat represents supported image formats
type ImageFormat string

const (
	FormatJPEG ImageFormat = "jpeg"
	FormatPNG  ImageFormat = "png"
	FormatBMP  ImageFormat = "bmp"
)

// mimeTypes maps each supported format to the MIME type reported by content sniffing.
var mimeTypes = map[ImageFormat]string{
	FormatJPEG: "image/jpeg",
	FormatPNG:  "image/png",
	FormatBMP:  "image/bmp",
}

// MIME returns the MIME type of the format, or an empty string if unknown.
func (f ImageFormat) MIME() string {
	return mimeTypes[f]
}

// FormatFromExtension maps a file name or extension to a supported format.
//
// Arguments:
//   - name: A file name, path or bare extension, with or without the leading dot.
//
// Returns:
//   - ImageFormat: The matching format.
//   - bool: False if the extension is not a supported image format.
func FormatFromExtension(name string) (ImageFormat, bool) {
	ext := filepath.Ext(name)
	if ext == "" {
		ext = name
	}
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return FormatJPEG, true
	case "png":
		return FormatPNG, true
	case "bmp":
		return FormatBMP, true
	}
	return "", false
}

// SniffFormat detects a supported image format from the leading bytes of data.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - ImageFormat: The detected format.
//   - bool: False if the content is not JPEG, PNG or BMP.
func SniffFormat(data []byte) (ImageFormat, bool) {
	mime := mimetype.Detect(data)
	for f, m := range mimeTypes {
		if mime.Is(m) {
			return f, true
		}
	}
	return "", false
}
