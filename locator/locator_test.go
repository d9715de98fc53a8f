package locator

import (
	"bytes"
	"context"
	"image"
	"log"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/doc-classifier/inference"
	"github.com/nvr-ai/doc-classifier/internal/testutil"
	"github.com/nvr-ai/doc-classifier/ocr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	pred inference.Prediction
	err  error
}

func (s *stubClassifier) Predict(ctx context.Context, path string) (inference.Prediction, error) {
	return s.pred, s.err
}

func (s *stubClassifier) PredictImage(ctx context.Context, img image.Image) (inference.Prediction, error) {
	return s.pred, s.err
}

func (s *stubClassifier) Classes() []string { return []string{"other", "program"} }

func (s *stubClassifier) Close() error { return nil }

type stubEngine struct {
	calls  int
	last   ocr.Input
	result ocr.Result
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	s.calls++
	s.last = in
	res := s.result
	res.InputID = in.ID
	return res, nil
}

func word(text string, x0, y0, x1, y1, block, line int) ocr.Word {
	return ocr.Word{Text: text, Bounds: image.Rect(x0, y0, x1, y1), Confidence: 0.9, Block: block, Paragraph: 1, Line: line}
}

// pageWords lays out four rows; the "A" cell is a separate block on the
// same row as its "Groupe" label.
func pageWords() ocr.Result {
	return ocr.Result{Words: []ocr.Word{
		word("PROGRAMME", 10, 10, 120, 30, 1, 1),
		word("Groupe", 10, 50, 70, 70, 2, 1),
		word("A", 150, 52, 160, 68, 3, 1),
		word("GROUPE", 10, 100, 70, 120, 4, 1),
		word("AB", 80, 100, 100, 120, 4, 1),
		word("Groupé", 10, 150, 70, 170, 4, 2),
		word("B", 80, 150, 90, 170, 4, 2),
	}}
}

func setup(t *testing.T, pred inference.Prediction) (*Locator, *stubEngine, *bytes.Buffer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.png")
	testutil.WritePNG(t, path, testutil.NewMockPageGenerator(200, 200).Generate(testutil.PatternRows))

	var logs bytes.Buffer
	engine := &stubEngine{result: pageWords()}
	loc, err := New(&stubClassifier{pred: pred}, engine, DefaultConfig(), WithLogger(log.New(&logs, "", 0)))
	require.NoError(t, err)
	return loc, engine, &logs, path
}

func TestLocateGate(t *testing.T) {
	cases := []struct {
		name  string
		pred  inference.Prediction
		runOK bool
	}{
		{"confident program", inference.Prediction{Label: "program", Confidence: 0.9}, true},
		{"exactly at threshold", inference.Prediction{Label: "program", Confidence: 0.7}, false},
		{"below threshold", inference.Prediction{Label: "program", Confidence: 0.55}, false},
		{"other label", inference.Prediction{Label: "other", Confidence: 0.99}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loc, engine, logs, path := setup(t, tc.pred)
			band, err := loc.Locate(context.Background(), path, "A")
			if tc.runOK {
				require.NoError(t, err)
				require.NotNil(t, band)
				assert.Equal(t, 1, engine.calls)
				assert.Equal(t, []string{"fra", "eng"}, engine.last.Languages)
				assert.NotContains(t, logs.String(), "not a program")
				return
			}
			assert.ErrorIs(t, err, ErrNotProgram)
			assert.Nil(t, band)
			assert.Zero(t, engine.calls, "ocr must not run")
			assert.Contains(t, logs.String(), "not a program")
		})
	}
}

func TestLocateBand(t *testing.T) {
	loc, _, _, path := setup(t, inference.Prediction{Label: "program", Confidence: 0.95})

	band, err := loc.Locate(context.Background(), path, "A")
	require.NoError(t, err)
	require.True(t, band.Info.Found)
	assert.Len(t, band.Rows, 4)
	assert.Equal(t, 1, band.Info.RowIndex)
	assert.Equal(t, 60, band.Info.YCenter)
	assert.Equal(t, "Groupe A", band.Info.RowText)
	assert.Equal(t, []string{"GROUPE", "A"}, band.Info.Target)
	assert.Equal(t, "program", band.Info.Label)
	assert.Equal(t, path, band.Info.ImagePath)
	assert.Equal(t, image.Rect(0, 36, 200, 89), band.Bounds)
	require.NotNil(t, band.Image)
	assert.Equal(t, band.Bounds, band.Image.Bounds())

	// Accent and case insensitive, last row extends by half its height.
	band, err = loc.Locate(context.Background(), path, "groupe b")
	require.NoError(t, err)
	assert.Equal(t, 3, band.Info.RowIndex)
	assert.Equal(t, image.Rect(0, 131, 200, 184), band.Bounds)

	band, err = loc.Locate(context.Background(), path, "AB")
	require.NoError(t, err)
	assert.Equal(t, 2, band.Info.RowIndex)

	band, err = loc.Locate(context.Background(), path, "C")
	require.NoError(t, err)
	assert.False(t, band.Info.Found)
	assert.Equal(t, -1, band.Info.RowIndex)
	assert.Nil(t, band.Image)
	assert.True(t, band.Bounds.Empty())

	_, err = loc.Locate(context.Background(), path, " ")
	assert.Error(t, err)
	_, err = loc.Locate(context.Background(), filepath.Join(t.TempDir(), "missing.png"), "A")
	assert.Error(t, err)
}

func TestLocateClassifierError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.png")
	testutil.WritePNG(t, path, testutil.NewMockPageGenerator(50, 50).Generate(testutil.PatternBlocks))
	engine := &stubEngine{}
	boom := errors.New("boom")
	loc, err := New(&stubClassifier{err: boom}, engine, DefaultConfig(), WithLogger(log.New(&bytes.Buffer{}, "", 0)))
	require.NoError(t, err)
	_, err = loc.Locate(context.Background(), path, "A")
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, engine.calls)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, &stubEngine{}, DefaultConfig())
	assert.Error(t, err)
	_, err = New(&stubClassifier{}, nil, DefaultConfig())
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.Threshold = 1.5
	_, err = New(&stubClassifier{}, &stubEngine{}, bad)
	assert.Error(t, err)

	bad = DefaultConfig()
	bad.Label = ""
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.RowOverlap = 0
	assert.Error(t, bad.Validate())
}

func TestTokenizeAndTarget(t *testing.T) {
	assert.Equal(t, []string{"GROUPE", "A"}, Tokenize("Groupe-a"))
	assert.Equal(t, []string{"GROUPE", "E"}, Tokenize("Groupé  é"))
	assert.Empty(t, Tokenize(" .,"))

	assert.Equal(t, []string{"GROUPE", "A"}, TargetTokens("GROUPE", "a"))
	assert.Equal(t, []string{"GROUPE", "A"}, TargetTokens("GROUPE", "Groupe A"))
	assert.Equal(t, []string{"GROUPEA"}, TargetTokens("GROUPE", "groupeA"))
	assert.Equal(t, []string{"A"}, TargetTokens("", "a"))
}

func TestMatchTokens(t *testing.T) {
	target := []string{"GROUPE", "A"}
	cases := []struct {
		tokens []string
		want   bool
	}{
		{[]string{"GROUPE", "A"}, true},
		{[]string{"GROUPEA"}, true},
		{[]string{"GRO", "UPE", "A"}, true},
		{[]string{"HORAIRES", "GROUPE", "A", "10H"}, true},
		{[]string{"GROUPE", "AB"}, false},
		{[]string{"GROUPE", "B"}, false},
		{[]string{"SOUSGROUPE", "A"}, false},
		{nil, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchTokens(tc.tokens, target), "%v", tc.tokens)
	}
	assert.False(t, matchTokens([]string{"A"}, nil))
}

func TestRowsMergeByOverlap(t *testing.T) {
	rows := Rows(pageWords(), 0.5)
	require.Len(t, rows, 4)
	assert.Equal(t, "PROGRAMME", rows[0].Text())
	assert.Equal(t, image.Rect(10, 50, 160, 70), rows[1].Bounds)
	assert.Equal(t, "Groupé B", rows[3].Text())

	// Lines that barely touch stay on separate rows.
	touching := ocr.Result{Words: []ocr.Word{
		word("top", 0, 0, 10, 20, 1, 1),
		word("bottom", 0, 15, 10, 35, 2, 1),
	}}
	assert.Len(t, Rows(touching, 0.5), 2)
	assert.Len(t, Rows(touching, 0.25), 1)
	assert.Empty(t, Rows(ocr.Result{}, 0.5))
}
