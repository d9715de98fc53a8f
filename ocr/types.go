// Package ocr defines the text recognition contract used by the band locator:
// one page image in, positioned words out.
package ocr

import (
	"context"
	"image"
)

// ImageFormat identifies the content type of an OCR input image.
type ImageFormat string

const (
	ImageFormatPNG  ImageFormat = "image/png"
	ImageFormatJPEG ImageFormat = "image/jpeg"
	ImageFormatTIFF ImageFormat = "image/tiff"
)

// Region describes a rectangular area in pixel coordinates with the origin in
// the upper-left corner of the image.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// IsEmpty reports whether the region has non-positive dimensions.
func (r Region) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Input encapsulates a single image submitted for OCR.
type Input struct {
	// ID is echoed back in the corresponding Result.
	ID string
	// Image is the encoded image payload.
	Image []byte
	// Format declares the image content type.
	Format ImageFormat
	// Languages are trained data names ("fra", "eng"). Engines join them
	// in order, so the first one is the primary language.
	Languages []string
	// Region restricts recognition to a subsection of the image. Nil means the
	// full image.
	Region *Region
	// DPI is the effective resolution; zero means unknown.
	DPI int
	// Metadata carries engine-specific variables (e.g. tessedit_pageseg_mode).
	Metadata map[string]string
}

// Word is a single recognized token with its layout position. Block,
// Paragraph and Line number the word the way tesseract's image_to_data
// output does: one-based and unique only within their parent.
type Word struct {
	Text       string          `json:"text"`
	Bounds     image.Rectangle `json:"bounds"`
	Confidence float64         `json:"confidence"`
	Block      int             `json:"block_num"`
	Paragraph  int             `json:"par_num"`
	Line       int             `json:"line_num"`
	Index      int             `json:"word_num"`
}

// Result captures OCR output for a single input image.
type Result struct {
	InputID   string `json:"input_id"`
	PlainText string `json:"text"`
	Words     []Word `json:"words"`
	Language  string `json:"language,omitempty"`
}

// Engine is the OCR provider contract: one image in, one result out.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, input Input) (Result, error)
}
