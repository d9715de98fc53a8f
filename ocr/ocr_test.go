package ocr

import (
	"bytes"
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInputOptions(t *testing.T) {
	in := NewInput("scan.png", []byte{1, 2, 3})
	assert.Equal(t, "scan.png", in.ID)
	assert.Equal(t, ImageFormatPNG, in.Format)
	assert.Equal(t, []string{"fra", "eng"}, in.Languages)
	assert.Nil(t, in.Region)
	assert.Nil(t, in.Metadata)

	in = NewInput("page.JPG", nil,
		WithLanguages("eng"),
		WithRegion(Region{X: 1, Y: 2, Width: 3, Height: 4}),
		WithDPI(300),
		WithPSM(6),
		WithWhitelist("ABC"),
	)
	assert.Equal(t, ImageFormatJPEG, in.Format)
	assert.Equal(t, []string{"eng"}, in.Languages)
	require.NotNil(t, in.Region)
	assert.Equal(t, image.Rect(1, 2, 4, 6), in.Region.Rect())
	assert.Equal(t, 300, in.DPI)
	assert.Equal(t, "6", in.Metadata[MetadataPSM])
	assert.Equal(t, "ABC", in.Metadata[MetadataWhitelist])

	// Inputs never alias the package default.
	def := NewInput("x.tif", nil)
	assert.Equal(t, ImageFormatTIFF, def.Format)
	def.Languages[0] = "deu"
	assert.Equal(t, []string{"fra", "eng"}, DefaultLanguages)
}

func TestRegionIsEmpty(t *testing.T) {
	assert.True(t, Region{}.IsEmpty())
	assert.True(t, Region{Width: 10}.IsEmpty())
	assert.False(t, Region{Width: 1, Height: 1}.IsEmpty())
}

func sampleResult() Result {
	return Result{
		InputID: "scan.jpg",
		Words: []Word{
			{Text: "PROGRAMME", Bounds: image.Rect(10, 10, 100, 30), Confidence: 0.9, Block: 1, Paragraph: 1, Line: 1, Index: 1},
			{Text: "GROUPE", Bounds: image.Rect(10, 50, 60, 70), Confidence: 0.95, Block: 2, Paragraph: 1, Line: 1, Index: 1},
			{Text: " ", Bounds: image.Rect(60, 50, 62, 70), Block: 2, Paragraph: 1, Line: 1, Index: 2},
			{Text: "A", Bounds: image.Rect(65, 48, 75, 72), Confidence: 0.8, Block: 2, Paragraph: 1, Line: 1, Index: 3},
			{Text: "Jeu", Bounds: image.Rect(10, 90, 40, 110), Confidence: 0.7, Block: 2, Paragraph: 1, Line: 2, Index: 1},
		},
	}
}

func TestResultLines(t *testing.T) {
	lines := sampleResult().Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "PROGRAMME", lines[0].Text())
	assert.Equal(t, "GROUPE A", lines[1].Text())
	assert.Equal(t, image.Rect(10, 48, 75, 72), lines[1].Bounds)
	assert.Equal(t, 2, lines[2].Number)
	assert.Empty(t, Result{}.Lines())
}

func TestResultDump(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleResult().Dump(&buf))
	out := buf.String()
	rows := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, rows, 7)
	assert.Contains(t, rows[0], "scan.jpg")
	assert.Contains(t, rows[1], "block_num")
	assert.Contains(t, rows[1], "conf")
	assert.Contains(t, rows[3], "GROUPE")
	assert.Contains(t, rows[3], "95.0")
}
