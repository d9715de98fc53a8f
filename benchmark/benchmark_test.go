package benchmark

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvr-ai/doc-classifier/inference"
	"github.com/nvr-ai/doc-classifier/internal/testutil"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClassifier labels images by width and fails every failEvery-th call.
type mockClassifier struct {
	calls     int
	paths     int
	failEvery int
}

func (m *mockClassifier) Predict(ctx context.Context, path string) (inference.Prediction, error) {
	m.paths++
	return m.PredictImage(ctx, image.NewRGBA(image.Rect(0, 0, 1, 1)))
}

func (m *mockClassifier) PredictImage(ctx context.Context, img image.Image) (inference.Prediction, error) {
	m.calls++
	if m.failEvery > 0 && m.calls%m.failEvery == 0 {
		return inference.Prediction{}, errors.New("boom")
	}
	label := "other"
	if img.Bounds().Dx() > 20 {
		label = "program"
	}
	return inference.Prediction{Label: label, Confidence: 1}, nil
}

func (m *mockClassifier) Classes() []string { return []string{"other", "program"} }

func (m *mockClassifier) Close() error { return nil }

func writeCorpus(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteJPEG(t, filepath.Join(dir, "a.jpg"), testutil.NewMockPageGenerator(40, 30).Generate(testutil.PatternRows))
	testutil.WritePNG(t, filepath.Join(dir, "b.png"), testutil.NewMockPageGenerator(10, 10).Generate(testutil.PatternBlocks))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))
	return dir
}

func TestScenarioBuilder(t *testing.T) {
	s := NewScenarioBuilder("warm").WithIterations(50).WithWarmupRuns(2).WithDecode(true).Build()
	assert.Equal(t, Scenario{Name: "warm", Iterations: 50, WarmupRuns: 2, Decode: true}, s)

	d := NewScenarioBuilder("defaults").Build()
	assert.Equal(t, 100, d.Iterations)
	assert.Equal(t, 5, d.WarmupRuns)
}

func TestRunScenario(t *testing.T) {
	clf := &mockClassifier{}
	suite := NewSuite(clf, t.TempDir())

	_, err := suite.RunScenario(context.Background(), NewScenarioBuilder("x").Build())
	assert.Error(t, err, "no corpus yet")

	require.NoError(t, suite.LoadCorpus(writeCorpus(t)))
	m, err := suite.RunScenario(context.Background(), NewScenarioBuilder("mem").WithIterations(10).WithWarmupRuns(3).Build())
	require.NoError(t, err)
	assert.Equal(t, 13, clf.calls)
	assert.Zero(t, clf.paths)
	assert.Equal(t, map[string]int{"program": 5, "other": 5}, m.Labels)
	assert.Zero(t, m.ErrorRate)
	assert.LessOrEqual(t, m.P50Latency, m.P95Latency)
	assert.LessOrEqual(t, m.P95Latency, m.MaxLatency)

	m, err = suite.RunScenario(context.Background(), NewScenarioBuilder("disk").WithIterations(4).WithWarmupRuns(0).WithDecode(true).Build())
	require.NoError(t, err)
	assert.Equal(t, 4, clf.paths)
	assert.Len(t, suite.Results(), 2)

	_, err = suite.RunScenario(context.Background(), Scenario{Name: "none"})
	assert.Error(t, err)
}

func TestRunScenarioErrorsAndCancel(t *testing.T) {
	clf := &mockClassifier{failEvery: 2}
	suite := NewSuite(clf, "")
	require.NoError(t, suite.LoadCorpus(writeCorpus(t)))

	m, err := suite.RunScenario(context.Background(), Scenario{Name: "flaky", Iterations: 10})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, m.ErrorRate, 1e-9)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = suite.RunScenario(ctx, Scenario{Name: "cancelled", Iterations: 10})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = suite.SaveResults()
	assert.Error(t, err, "no output directory")
}

func TestLoadCorpus(t *testing.T) {
	dir := writeCorpus(t)
	suite := NewSuite(&mockClassifier{}, "")
	require.NoError(t, suite.LoadCorpus(dir))
	require.Len(t, suite.corpus, 2)
	assert.Equal(t, filepath.Join(dir, "a.jpg"), suite.corpus[0].Path)

	require.NoError(t, suite.LoadCorpus(filepath.Join(dir, "b.png")))
	assert.Len(t, suite.corpus, 1)

	assert.Error(t, suite.LoadCorpus(t.TempDir()), "empty directory")
	assert.Error(t, suite.LoadCorpus(filepath.Join(dir, "missing")))
}

func TestSaveResults(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results")
	suite := NewSuite(&mockClassifier{}, out)
	require.NoError(t, suite.LoadCorpus(writeCorpus(t)))
	_, err := suite.RunScenario(context.Background(), Scenario{Name: "save", Iterations: 2})
	require.NoError(t, err)

	before := time.Now().Truncate(time.Second)
	path, err := suite.SaveResults()
	require.NoError(t, err)
	assert.Equal(t, out, filepath.Dir(path))
	assert.Regexp(t, `^benchmark_\d{8}_\d{6}\.json$`, filepath.Base(path))
	stamp, err := time.ParseInLocation(resultsStamp,
		strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "benchmark_"), ".json"), time.Local)
	require.NoError(t, err)
	assert.False(t, stamp.Before(before), "stamp %v is the save time", stamp)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []PerformanceMetrics
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, "save", got[0].Scenario.Name)
}

func TestPercentile(t *testing.T) {
	d := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(1), percentile(d, 0))
	assert.Equal(t, time.Duration(6), percentile(d, 0.5))
	assert.Equal(t, time.Duration(10), percentile(d, 0.95))
	assert.Equal(t, time.Duration(10), percentile(d, 1))
	assert.Zero(t, percentile(nil, 0.5))
}
