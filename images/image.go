// Package images - Image loading and saving for the crop pipeline.
package images

import (
	"bytes"
	"image"
	"io"
	"os"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

// DefaultJPEGQuality matches the quality used by the imaging package when no option is given.
const DefaultJPEGQuality = 95

// ErrUnsupportedContent is returned when a file's bytes are not a supported image format.
var ErrUnsupportedContent = errors.New("unsupported image content")

// FileCodec reads and writes images on the local filesystem.
type FileCodec struct {
	// AutoOrient applies the EXIF orientation tag while decoding JPEGs.
	AutoOrient bool `json:"auto_orient" yaml:"auto_orient"`
	// JPEGQuality is the encoder quality (1-100) used for .jpg/.jpeg outputs.
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// NewFileCodec creates a codec.
//
// Arguments:
//   - autoOrient: Whether to honour the EXIF orientation tag.
//   - jpegQuality: The JPEG quality. Values outside 1-100 select DefaultJPEGQuality.
//
// Returns:
//   - *FileCodec: The configured codec.
func NewFileCodec(autoOrient bool, jpegQuality int) *FileCodec {
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &FileCodec{AutoOrient: autoOrient, JPEGQuality: jpegQuality}
}

// Decode sniffs the content type of data and decodes it.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - image.Image: The decoded image.
//   - ImageFormat: The detected format.
//   - error: ErrUnsupportedContent (wrapped) for non-image content, or the decoder error.
func (c *FileCodec) Decode(data []byte) (image.Image, ImageFormat, error) {
	format, ok := SniffFormat(data)
	if !ok {
		return nil, "", errors.Wrapf(ErrUnsupportedContent, "detected %s", mimetype.Detect(data).String())
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(c.AutoOrient))
	if err != nil {
		return nil, format, errors.Wrapf(err, "decode %s", format)
	}
	return img, format, nil
}

// Load reads and decodes the image at path.
//
// Arguments:
//   - path: The file to read.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: An error if the file cannot be read or decoded.
func (c *FileCodec) Load(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read image")
	}
	img, _, err := c.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return img, nil
}

// Save encodes img to path. The encoder is chosen from the path's extension.
//
// Arguments:
//   - img: The image to write.
//   - path: The destination file.
//
// Returns:
//   - error: An error if the extension is unsupported or the write fails.
func (c *FileCodec) Save(img image.Image, path string) error {
	if err := imaging.Save(img, path, imaging.JPEGQuality(c.quality())); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

// Encode writes img to w in the format implied by name's extension.
//
// Arguments:
//   - w: The destination writer.
//   - img: The image to encode.
//   - name: A file name whose extension selects the encoder.
//
// Returns:
//   - error: An error if the extension is unsupported or encoding fails.
func (c *FileCodec) Encode(w io.Writer, img image.Image, name string) error {
	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(c.quality())); err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	return nil
}

func (c *FileCodec) quality() int {
	if c.JPEGQuality == 0 {
		return DefaultJPEGQuality
	}
	return c.JPEGQuality
}
