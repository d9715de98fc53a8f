// Package testutil generates deterministic images and dataset folders for tests.
package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Pattern selects the synthetic content of a generated page.
type Pattern int

const (
	// PatternRows draws dark horizontal text-like rows on a light page.
	PatternRows Pattern = iota
	// PatternBlocks draws a few large dark blocks, like a photo or poster.
	PatternBlocks
	// PatternNoise fills the page with seeded noise.
	PatternNoise
)

// MockPageGenerator creates deterministic test pages.
//
// @example
// gen := NewMockPageGenerator(320, 240)
// img := gen.Generate(PatternRows)
type MockPageGenerator struct {
	width  int
	height int
	seed   int64
}

// NewMockPageGenerator creates a new page generator with specified dimensions.
//
// Arguments:
// - width: Page width in pixels.
// - height: Page height in pixels.
//
// Returns:
// - A configured MockPageGenerator instance.
func NewMockPageGenerator(width, height int) *MockPageGenerator {
	return &MockPageGenerator{
		width:  width,
		height: height,
		seed:   42,
	}
}

// WithSeed returns a copy of the generator using seed for noisy patterns.
func (g *MockPageGenerator) WithSeed(seed int64) *MockPageGenerator {
	c := *g
	c.seed = seed
	return &c
}

// Generate renders one page with the requested pattern.
func (g *MockPageGenerator) Generate(p Pattern) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.width, g.height))
	fill(img, img.Bounds(), color.RGBA{R: 235, G: 235, B: 230, A: 255})

	switch p {
	case PatternRows:
		rowHeight := max(g.height/12, 2)
		for y := rowHeight; y+rowHeight/2 < g.height; y += 2 * rowHeight {
			fill(img, image.Rect(g.width/10, y, g.width*9/10, y+rowHeight/2), color.RGBA{R: 20, G: 20, B: 20, A: 255})
		}
	case PatternBlocks:
		fill(img, image.Rect(0, 0, g.width/2, g.height/2), color.RGBA{R: 180, G: 30, B: 30, A: 255})
		fill(img, image.Rect(g.width/2, g.height/2, g.width, g.height), color.RGBA{R: 30, G: 30, B: 180, A: 255})
	case PatternNoise:
		rng := rand.New(rand.NewSource(g.seed))
		for i := 0; i < len(img.Pix); i += 4 {
			v := uint8(rng.Intn(256))
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
		}
	}
	return img
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

// WriteJPEG encodes img to path, creating parent directories.
func WriteJPEG(t testing.TB, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 90}))
}

// WritePNG encodes img to path, creating parent directories.
func WritePNG(t testing.TB, path string, img image.Image) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// ClassSpec describes one class folder of a synthetic dataset.
type ClassSpec struct {
	Name    string
	Count   int
	Pattern Pattern
}

// WriteImageFolder writes root/<class>/<class>_NNN.jpg for every spec and
// returns root.
//
// @example
// root := WriteImageFolder(t, dir, 64, 64,
//
//	ClassSpec{Name: "other", Count: 4, Pattern: PatternBlocks},
//	ClassSpec{Name: "program", Count: 4, Pattern: PatternRows})
func WriteImageFolder(t testing.TB, root string, width, height int, classes ...ClassSpec) string {
	t.Helper()
	gen := NewMockPageGenerator(width, height)
	for _, c := range classes {
		for i := 0; i < c.Count; i++ {
			img := gen.WithSeed(int64(i)).Generate(c.Pattern)
			WriteJPEG(t, filepath.Join(root, c.Name, fmt.Sprintf("%s_%03d.jpg", c.Name, i)), img)
		}
	}
	return root
}

// WriteSplits writes the root/{train,val} layout with the same class specs
// in both splits and returns the two directories.
func WriteSplits(t testing.TB, root string, width, height int, classes ...ClassSpec) (string, string) {
	t.Helper()
	train := WriteImageFolder(t, filepath.Join(root, "train"), width, height, classes...)
	val := WriteImageFolder(t, filepath.Join(root, "val"), width, height, classes...)
	return train, val
}
