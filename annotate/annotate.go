// Package annotate renders located bands onto page images with OpenCV.
package annotate

import (
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Style controls how a band is drawn.
type Style struct {
	Color     color.RGBA `json:"color" yaml:"color"`
	Thickness int        `json:"thickness" yaml:"thickness"`
	FontScale float64    `json:"font_scale" yaml:"font_scale"`
}

// DefaultStyle draws a 2px blue box with a plain caption.
func DefaultStyle() Style {
	return Style{Color: color.RGBA{0, 0, 255, 0}, Thickness: 2, FontScale: 1.2}
}

func readMat(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.NewMat(), errors.Wrapf(err, "image %s", path)
	}
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), errors.Errorf("failed to read image %s", path)
	}
	return mat, nil
}

func writeMat(path string, mat gocv.Mat) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create output directory")
		}
	}
	if !gocv.IMWrite(path, mat) {
		return errors.Errorf("failed to write %s", path)
	}
	return nil
}

func clip(rect image.Rectangle, mat gocv.Mat) (image.Rectangle, error) {
	clipped := rect.Intersect(image.Rect(0, 0, mat.Cols(), mat.Rows()))
	if clipped.Empty() {
		return image.Rectangle{}, errors.Errorf("band %v outside the %dx%d image", rect, mat.Cols(), mat.Rows())
	}
	return clipped, nil
}

// Band draws rect and a caption above it on the image at src and writes the
// result to dst.
//
// Arguments:
//   - src: The page image.
//   - dst: Output path; the extension picks the encoder.
//   - rect: The band in page coordinates.
//   - caption: Text drawn at the band's top-left corner.
//   - style: Colour, thickness and font scale.
//
// Returns:
//   - error: When the image cannot be read or written, or rect misses it.
func Band(src, dst string, rect image.Rectangle, caption string, style Style) error {
	img, err := readMat(src)
	if err != nil {
		return err
	}
	defer img.Close()

	rect, err = clip(rect, img)
	if err != nil {
		return err
	}
	gocv.Rectangle(&img, rect, style.Color, style.Thickness)
	if caption != "" {
		y := rect.Min.Y - 6
		if y < 16 {
			y = rect.Min.Y + 20
		}
		gocv.PutText(&img, caption, image.Pt(rect.Min.X+6, y), gocv.FontHersheyPlain, style.FontScale, style.Color, style.Thickness)
	}
	return writeMat(dst, img)
}

// CropToFile writes only the rect part of the image at src to dst.
func CropToFile(src, dst string, rect image.Rectangle) error {
	img, err := readMat(src)
	if err != nil {
		return err
	}
	defer img.Close()

	rect, err = clip(rect, img)
	if err != nil {
		return err
	}
	region := img.Region(rect)
	defer region.Close()
	return writeMat(dst, region)
}
