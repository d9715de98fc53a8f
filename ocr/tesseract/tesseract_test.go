package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"testing"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/nvr-ai/doc-classifier/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderPage(t *testing.T, lines ...string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 240, 40+30*len(lines)))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: basicfont.Face7x13}
	for i, line := range lines {
		d.Dot = fixed.P(10, 30+30*i)
		d.DrawString(line)
	}
	// Tesseract prefers glyphs taller than the 13px bitmap font.
	big := images.Resize(img, img.Bounds().Dx()*3, img.Bounds().Dy()*3, images.BilinearFilter)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, big))
	return buf.Bytes()
}

func TestEngineRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	e := New()
	assert.Equal(t, "tesseract", e.Name())

	data := renderPage(t, "PROGRAMME", "GROUPE A")
	res, err := e.Recognize(context.Background(), ocr.NewInput("page.png", data, ocr.WithLanguages("eng"), ocr.WithDPI(300)))
	require.NoError(t, err)
	assert.Equal(t, "page.png", res.InputID)
	assert.Equal(t, "eng", res.Language)
	for _, w := range res.Words {
		assert.NotEmpty(t, w.Text)
		assert.Positive(t, w.Block)
		assert.Positive(t, w.Line)
		assert.GreaterOrEqual(t, w.Confidence, 0.0)
		assert.LessOrEqual(t, w.Confidence, 1.0)
	}
}

func TestEngineRegionAndCancel(t *testing.T) {
	ensureTesseractAvailable(t)

	data := renderPage(t, "PROGRAMME", "GROUPE A")
	region := ocr.Region{X: 0, Y: 90, Width: 720, Height: 120}
	res, err := New().Recognize(context.Background(),
		ocr.NewInput("page.png", data, ocr.WithLanguages("eng"), ocr.WithRegion(region)))
	require.NoError(t, err)
	for _, w := range res.Words {
		assert.GreaterOrEqual(t, w.Bounds.Min.Y, region.Y, "word boxes are in page coordinates")
	}

	_, err = New().Recognize(context.Background(),
		ocr.NewInput("page.png", data, ocr.WithRegion(ocr.Region{X: 5000, Y: 5000, Width: 10, Height: 10})))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New().Recognize(ctx, ocr.NewInput("page.png", data))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCropImage(t *testing.T) {
	data := renderPage(t, "X")
	out, offset, err := cropImage(data, nil)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, image.Point{}, offset)

	out, offset, err = cropImage(data, &ocr.Region{X: 10, Y: 20, Width: 30, Height: 40})
	require.NoError(t, err)
	assert.Equal(t, image.Pt(10, 20), offset)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 30, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())

	_, _, err = cropImage([]byte("junk"), &ocr.Region{Width: 1, Height: 1})
	assert.Error(t, err)
}
