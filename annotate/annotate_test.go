package annotate

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/nvr-ai/doc-classifier/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.png")
	testutil.WritePNG(t, path, testutil.NewMockPageGenerator(160, 120).Generate(testutil.PatternRows))
	return path
}

func TestBand(t *testing.T) {
	src := writePage(t)
	dst := filepath.Join(t.TempDir(), "out", "annotated.png")

	require.NoError(t, Band(src, dst, image.Rect(0, 40, 160, 70), "GROUPE A", DefaultStyle()))
	info, _, err := images.Load(dst)
	require.NoError(t, err)
	assert.Equal(t, 160, info.Width)
	assert.Equal(t, 120, info.Height)

	assert.Error(t, Band(src, dst, image.Rect(500, 500, 600, 600), "", DefaultStyle()))
	assert.Error(t, Band(filepath.Join(t.TempDir(), "missing.png"), dst, image.Rect(0, 0, 10, 10), "", DefaultStyle()))
}

func TestCropToFile(t *testing.T) {
	src := writePage(t)
	dst := filepath.Join(t.TempDir(), "band.png")

	require.NoError(t, CropToFile(src, dst, image.Rect(0, 40, 160, 70)))
	info, _, err := images.Load(dst)
	require.NoError(t, err)
	assert.Equal(t, 160, info.Width)
	assert.Equal(t, 30, info.Height)

	// Rectangles are clipped to the page.
	require.NoError(t, CropToFile(src, dst, image.Rect(-10, 100, 400, 200)))
	info, _, err = images.Load(dst)
	require.NoError(t, err)
	assert.Equal(t, 160, info.Width)
	assert.Equal(t, 20, info.Height)
}
