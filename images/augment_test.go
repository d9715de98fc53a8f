package images

import (
	"image"
	"image/color"
	"image/jpeg"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 100, A: 255})
		}
	}
	return img
}

func TestResize(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
		wantW, wantH  int
	}{
		{"downscale", 50, 40, 50, 40},
		{"upscale", 300, 250, 300, 250},
		{"identity", 120, 80, 120, 80},
		{"invalid", 0, 10, 1, 1},
	}
	src := getTestImage(120, 80)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resize(src, tt.width, tt.height, BilinearFilter)
			assert.Equal(t, tt.wantW, out.Bounds().Dx())
			assert.Equal(t, tt.wantH, out.Bounds().Dy())
			assert.Equal(t, image.Point{}, out.Bounds().Min)
		})
	}
}

func TestResampleFilterText(t *testing.T) {
	for _, f := range []ResampleFilter{NearestNeighborFilter, BilinearFilter, BicubicFilter, LanczosFilter, MitchellNetravaliFilter} {
		text, err := f.MarshalText()
		require.NoError(t, err)
		var back ResampleFilter
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, f, back)
	}
	var f ResampleFilter
	require.NoError(t, f.UnmarshalText([]byte(" Lanczos ")))
	assert.Equal(t, LanczosFilter, f)
	assert.Error(t, f.UnmarshalText([]byte("box")))
	_, err := ResampleFilter(42).MarshalText()
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, getTestImage(40, 30), nil))
	require.NoError(t, f.Close())

	meta, img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, FormatJPEG, meta.Format)
	assert.Equal(t, 40, meta.Width)
	assert.Equal(t, 30, meta.Height)
	assert.Equal(t, 40, img.Bounds().Dx())

	_, _, err = Load(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("garbage"), 0o644))
	_, _, err = Load(bad)
	assert.Error(t, err)
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("a/b/c.JPG"))
	assert.True(t, IsImageFile("scan.webp"))
	assert.False(t, IsImageFile("notes.txt"))
	assert.False(t, IsImageFile("noext"))
}

func TestRotateKeepsSize(t *testing.T) {
	src := getTestImage(60, 40)
	out := Rotate(src, 5)
	assert.Equal(t, src.Bounds(), out.Bounds())

	// Corners uncovered by the rotation are opaque black.
	assert.Equal(t, uint8(255), out.RGBAAt(0, 0).A)

	same := Rotate(src, 0)
	assert.Equal(t, src.Pix, same.Pix)
}

func TestCropClipsToBounds(t *testing.T) {
	src := getTestImage(50, 50)
	out := Crop(src, image.Rect(40, 40, 80, 80))
	assert.Equal(t, 10, out.Bounds().Dx())
	assert.Equal(t, 10, out.Bounds().Dy())
	assert.Equal(t, src.At(45, 45), out.At(45, 45))
}

func TestAdjustBrightnessAndContrast(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 100, G: 100, B: 100, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 200, G: 200, B: 200, A: 255})

	bright := AdjustBrightness(img, 1.5)
	assert.Equal(t, uint8(150), bright.RGBAAt(0, 0).R)
	assert.Equal(t, uint8(255), bright.RGBAAt(1, 0).R, "values saturate")

	flat := AdjustContrast(img, 0)
	assert.Equal(t, flat.RGBAAt(0, 0), flat.RGBAAt(1, 0), "zero contrast collapses to the mean")
	assert.Equal(t, uint8(150), flat.RGBAAt(0, 0).R)

	same := AdjustContrast(img, 1)
	assert.Equal(t, img.Pix, same.Pix)
}

func TestRandomResizedCrop(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := getTestImage(224, 224)
	for i := 0; i < 20; i++ {
		out := RandomResizedCrop(src, 224, [2]float64{0.9, 1.0}, [2]float64{3.0 / 4.0, 4.0 / 3.0}, rng)
		require.Equal(t, 224, out.Bounds().Dx())
		require.Equal(t, 224, out.Bounds().Dy())
	}
}

func TestAugmenterDeterministic(t *testing.T) {
	src := getTestImage(224, 224)
	a := NewAugmenter(DefaultAugmentConfig(), 224, rand.New(rand.NewSource(42)))
	b := NewAugmenter(DefaultAugmentConfig(), 224, rand.New(rand.NewSource(42)))

	outA := a.Apply(src)
	outB := b.Apply(src)
	assert.Equal(t, outA.Pix, outB.Pix, "same seed must give the same augmentation")
	assert.Equal(t, 224, outA.Bounds().Dx())
}
