// Package images - Image decoding, resizing and augmentation for the classifier pipeline.
package images

import (
	"bytes"
	"image"
	"image/draw"
	"io"
	"os"
	"path/filepath"
	"strings"

	// Registered decoders for the formats accepted by the dataset loader.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/pkg/errors"
)

// ImageFormat represents supported image formats.
type ImageFormat string

// ImageFormat constants.
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format.
	FormatBMP ImageFormat = "bmp"
	// FormatTIFF is the TIFF image format.
	FormatTIFF ImageFormat = "tiff"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatGIF is the GIF image format.
	FormatGIF ImageFormat = "gif"
)

// Extensions lists the file extensions recognized as images, lower case.
var Extensions = map[string]ImageFormat{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".bmp":  FormatBMP,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".webp": FormatWebP,
	".gif":  FormatGIF,
}

// Image represents an encoded image with a format, data, width, and height.
type Image struct {
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"data" yaml:"data"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// IsImageFile reports whether the path has an image extension.
func IsImageFile(path string) bool {
	_, ok := Extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Decode decodes any registered image format.
//
// Arguments:
//   - r: The reader holding the encoded image.
//
// Returns:
//   - image.Image: The decoded image.
//   - ImageFormat: The detected format.
//   - error: An error if the data is not a decodable image.
func Decode(r io.Reader) (image.Image, ImageFormat, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", errors.Wrap(err, "decode image")
	}
	return img, ImageFormat(format), nil
}

// Load reads and decodes the image at path.
//
// Arguments:
//   - path: Path to the image file.
//
// Returns:
//   - *Image: The encoded image with its dimensions.
//   - image.Image: The decoded image.
//   - error: An error if the file cannot be read or decoded.
func Load(path string) (*Image, image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read image %s", path)
	}
	img, format, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "load %s", path)
	}
	b := img.Bounds()
	return &Image{Format: format, Data: data, Width: b.Dx(), Height: b.Dy()}, img, nil
}

// ToRGBA converts any image to an opaque *image.RGBA anchored at the origin.
// Alpha is flattened against black.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
