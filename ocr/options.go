package ocr

import (
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultLanguages are used when no language option is given.
var DefaultLanguages = []string{"fra", "eng"}

// Metadata keys understood by the tesseract engine.
const (
	MetadataPSM       = "tessedit_pageseg_mode"
	MetadataWhitelist = "tessedit_char_whitelist"
)

// InputOption customizes an Input.
type InputOption func(*Input)

// WithLanguages sets the recognition languages.
func WithLanguages(langs ...string) InputOption {
	return func(in *Input) {
		in.Languages = append([]string(nil), langs...)
	}
}

// WithRegion restricts recognition to a region of the image.
func WithRegion(r Region) InputOption {
	return func(in *Input) {
		region := r
		in.Region = &region
	}
}

// WithDPI sets the effective resolution of the image.
func WithDPI(dpi int) InputOption {
	return func(in *Input) {
		in.DPI = dpi
	}
}

// WithMetadata sets an engine-specific variable.
func WithMetadata(key, value string) InputOption {
	return func(in *Input) {
		if in.Metadata == nil {
			in.Metadata = make(map[string]string)
		}
		in.Metadata[key] = value
	}
}

// WithPSM sets the tesseract page segmentation mode.
func WithPSM(mode int) InputOption {
	return WithMetadata(MetadataPSM, strconv.Itoa(mode))
}

// WithWhitelist restricts recognition to the given characters.
func WithWhitelist(chars string) InputOption {
	return WithMetadata(MetadataWhitelist, chars)
}

// NewInput builds an Input with DefaultLanguages and the format guessed from
// the id's file extension, then applies opts.
//
// Arguments:
//   - id: Caller identifier, usually the image path.
//   - data: The encoded image.
//   - opts: Input options.
//
// Returns:
//   - Input: The OCR request.
//
// @example
// in := ocr.NewInput("scan.jpg", data, ocr.WithLanguages("fra"), ocr.WithPSM(6))
func NewInput(id string, data []byte, opts ...InputOption) Input {
	in := Input{
		ID:        id,
		Image:     data,
		Format:    formatFromName(id),
		Languages: append([]string(nil), DefaultLanguages...),
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in
}

func formatFromName(name string) ImageFormat {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return ImageFormatPNG
	case ".tif", ".tiff":
		return ImageFormatTIFF
	default:
		return ImageFormatJPEG
	}
}
