package inference

import (
	"bytes"
	"context"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/nvr-ai/doc-classifier/internal/testutil"
	"github.com/nvr-ai/doc-classifier/models"
	"github.com/nvr-ai/doc-classifier/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCheckpoint(t *testing.T, classes []string, seed int64) string {
	t.Helper()
	arch, err := models.LookupArch("convnet-xs")
	require.NoError(t, err)
	params := models.InitParams(arch, len(classes), rand.New(rand.NewSource(seed)))
	path := filepath.Join(t.TempDir(), "program_classifier.ckpt")
	require.NoError(t, models.NewCheckpoint(uuid.New(), arch, classes, params).Save(path))
	return path
}

func quietLogger() *log.Logger {
	return log.New(&bytes.Buffer{}, "", 0)
}

func TestSoftmax(t *testing.T) {
	p := Softmax([]float32{1, 2, 3})
	var sum float32
	for _, v := range p {
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-6)
	assert.InDelta(t, 0.6652, p[2], 1e-4)

	// Large logits stay finite.
	big := Softmax([]float32{1000, 1000})
	assert.InDelta(t, 0.5, big[0], 1e-6)

	assert.Empty(t, Softmax(nil))
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, Argmax([]float32{0.1, 0.2, 0.7}))
	assert.Equal(t, 0, Argmax([]float32{0.5, 0.5}), "ties go to the lowest index")
	assert.Equal(t, -1, Argmax(nil))
}

func TestNewPrediction(t *testing.T) {
	pred, err := NewPrediction([]string{"other", "program"}, []float32{-1, 2})
	require.NoError(t, err)
	assert.Equal(t, "program", pred.Label)
	assert.Equal(t, 1, pred.Index)
	assert.InDelta(t, 0.9526, pred.Confidence, 1e-4)

	_, err = NewPrediction([]string{"a"}, []float32{1, 2})
	assert.Error(t, err)
	_, err = NewPrediction(nil, nil)
	assert.Error(t, err)
}

func TestParseDeviceAndResolve(t *testing.T) {
	for in, want := range map[string]Device{"": DeviceAuto, "CPU": DeviceCPU, " cuda ": DeviceCUDA, "auto": DeviceAuto} {
		got, err := ParseDevice(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseDevice("tpu")
	assert.Error(t, err)

	orig := gpuVisible
	defer func() { gpuVisible = orig }()
	gpuVisible = func() bool { return true }
	assert.Equal(t, DeviceCUDA, DeviceAuto.Resolve())
	gpuVisible = func() bool { return false }
	assert.Equal(t, DeviceCPU, DeviceAuto.Resolve())
	assert.Equal(t, DeviceCUDA, DeviceCUDA.Resolve())
}

// For a k-class checkpoint the label is one of the k names, the confidence
// is the maximum of a distribution summing to one, and repeated calls agree.
func TestEnginePredictionProperties(t *testing.T) {
	root := t.TempDir()
	gen := testutil.NewMockPageGenerator(120, 90)
	page := filepath.Join(root, "page.jpg")
	testutil.WriteJPEG(t, page, gen.Generate(testutil.PatternRows))

	for _, classes := range [][]string{
		{"other", "program"},
		{"flyer", "menu", "program"},
	} {
		engine, err := NewEngine(writeCheckpoint(t, classes, 7),
			WithDevice(DeviceCPU), WithLogger(quietLogger()))
		require.NoError(t, err)

		assert.Equal(t, classes, engine.Classes())
		assert.Equal(t, DeviceCPU, engine.Device())

		pred, err := engine.Predict(context.Background(), page)
		require.NoError(t, err)
		assert.Contains(t, classes, pred.Label)
		require.Len(t, pred.Probabilities, len(classes))

		var sum, best float32
		for _, p := range pred.Probabilities {
			assert.GreaterOrEqual(t, p, float32(0))
			sum += p
			best = max(best, p)
		}
		assert.InDelta(t, 1, sum, 1e-5)
		assert.Equal(t, best, pred.Confidence)
		assert.Equal(t, classes[pred.Index], pred.Label)

		for i := 0; i < 3; i++ {
			again, err := engine.Predict(context.Background(), page)
			require.NoError(t, err)
			assert.Equal(t, pred.Label, again.Label)
			assert.Equal(t, pred.Confidence, again.Confidence)
		}
		require.NoError(t, engine.Close())
	}
}

func TestEngineErrors(t *testing.T) {
	_, err := NewEngine(filepath.Join(t.TempDir(), "missing.ckpt"), WithLogger(quietLogger()))
	assert.Error(t, err)

	engine, err := NewEngine(writeCheckpoint(t, []string{"other", "program"}, 1),
		WithDevice(DeviceCUDA), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.Equal(t, DeviceCPU, engine.Device(), "gorgonia falls back to cpu")

	bad := filepath.Join(t.TempDir(), "bad.jpg")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o644))
	_, err = engine.Predict(context.Background(), bad)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Predict(ctx, bad)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())
	_, err = engine.PredictImage(context.Background(), testutil.NewMockPageGenerator(10, 10).Generate(testutil.PatternBlocks))
	assert.ErrorIs(t, err, ErrClosed)
}

// Predictions racing with Close either finish or report ErrClosed.
func TestEngineCloseWhilePredicting(t *testing.T) {
	engine, err := NewEngine(writeCheckpoint(t, []string{"other", "program"}, 5), WithLogger(quietLogger()))
	require.NoError(t, err)
	page := testutil.NewMockPageGenerator(64, 64).Generate(testutil.PatternRows)

	var wg sync.WaitGroup
	errs := make(chan error, 8*4)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				_, err := engine.PredictImage(context.Background(), page)
				errs <- err
			}
		}()
	}
	require.NoError(t, engine.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrClosed)
		}
	}
	_, err = engine.PredictImage(context.Background(), page)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngineBuilder(t *testing.T) {
	ckpt := writeCheckpoint(t, []string{"other", "program"}, 3)

	clf, err := NewEngineBuilder().
		WithBackend(BackendGorgonia).
		WithCheckpoint(ckpt).
		WithOptions(WithLogger(quietLogger()), WithDevice(DeviceCPU)).
		Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "program"}, clf.Classes())
	require.NoError(t, clf.Close())

	_, err = NewEngineBuilder().Build()
	assert.Error(t, err, "no checkpoint")
	_, err = NewEngineBuilder().WithBackend(BackendONNX).Build()
	assert.Error(t, err, "no onnx model")
	_, err = NewEngineBuilder().WithBackend("tflite").WithCheckpoint(ckpt).Build()
	assert.Error(t, err)
	assert.Panics(t, func() { NewEngineBuilder().MustBuild() })

	b, err := ParseBackend("ONNX")
	require.NoError(t, err)
	assert.Equal(t, BackendONNX, b)
	_, err = ParseBackend("tflite")
	assert.Error(t, err)
}

func TestLoadMetadata(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	meta, err := LoadMetadata(write("ok.json",
		`{"input_shape":[1,3,224,224],"output_shape":[1,2],"classes":["other","program"]}`))
	require.NoError(t, err)
	assert.Equal(t, 224, meta.ImageSize)
	assert.Equal(t, "input", meta.InputName)
	assert.Equal(t, "output", meta.OutputName)

	bad := map[string]string{
		"no classes":   `{"input_shape":[1,3,224,224],"output_shape":[1,2],"classes":[]}`,
		"not nchw":     `{"input_shape":[224,224,3],"output_shape":[1,2],"classes":["a","b"]}`,
		"not square":   `{"input_shape":[1,3,224,200],"output_shape":[1,2],"classes":["a","b"]}`,
		"wrong output": `{"input_shape":[1,3,224,224],"output_shape":[1,3],"classes":["a","b"]}`,
		"wrong size":   `{"input_shape":[1,3,224,224],"output_shape":[1,2],"classes":["a","b"],"image_size":256}`,
		"not json":     `{`,
	}
	for name, body := range bad {
		_, err := LoadMetadata(write(name+".json", body))
		assert.Error(t, err, name)
	}
	_, err = LoadMetadata(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

// Models exported channels-last with BGR input declare it in metadata.
func TestLoadMetadataPreprocess(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		return p
	}

	meta, err := LoadMetadata(write("hwc.json", `{
		"input_shape": [1, 160, 320, 3],
		"output_shape": [1, 2],
		"classes": ["other", "program"],
		"preprocess": {
			"input_width": 320, "input_height": 160, "input_channels": 3,
			"normalization": "zero_to_one", "channel_order": "hwc", "color_mode": "bgr",
			"keep_aspect_ratio": true, "pad_value": 114, "filter": "bicubic"
		}
	}`))
	require.NoError(t, err)
	cfg := meta.PreprocessConfig()
	assert.Equal(t, preprocess.ChannelOrderHWC, cfg.ChannelOrder)
	assert.Equal(t, preprocess.ColorModeBGR, cfg.ColorMode)
	assert.True(t, cfg.KeepAspectRatio)
	assert.Equal(t, []int{160, 320, 3}, cfg.Shape())

	plain, err := LoadMetadata(write("plain.json",
		`{"input_shape":[1,3,96,96],"output_shape":[1,2],"classes":["a","b"]}`))
	require.NoError(t, err)
	assert.Equal(t, preprocess.ImageNetConfig(96), plain.PreprocessConfig())

	bad := map[string]string{
		"order mismatch": `{"input_shape":[1,3,160,320],"output_shape":[1,2],"classes":["a","b"],
			"preprocess":{"input_width":320,"input_height":160,"input_channels":3,"normalization":"none","channel_order":"hwc","color_mode":"rgb","filter":"bilinear"}}`,
		"gray into rgb": `{"input_shape":[1,3,64,64],"output_shape":[1,2],"classes":["a","b"],
			"preprocess":{"input_width":64,"input_height":64,"input_channels":1,"normalization":"none","channel_order":"chw","color_mode":"grayscale","filter":"bilinear"}}`,
		"unknown mode": `{"input_shape":[1,3,64,64],"output_shape":[1,2],"classes":["a","b"],
			"preprocess":{"input_width":64,"input_height":64,"input_channels":3,"color_mode":"cmyk"}}`,
	}
	for name, body := range bad {
		_, err := LoadMetadata(write(name+".json", body))
		assert.Error(t, err, name)
	}
}

func TestEnginePreprocessOverride(t *testing.T) {
	ckpt := writeCheckpoint(t, []string{"other", "program"}, 6)
	arch, err := models.LookupArch("convnet-xs")
	require.NoError(t, err)

	letterbox := preprocess.ImageNetConfig(arch.InputSize)
	letterbox.KeepAspectRatio = true
	letterbox.PadValue = 255
	engine, err := NewEngine(ckpt, WithLogger(quietLogger()), WithPreprocess(letterbox))
	require.NoError(t, err)
	defer engine.Close()
	pred, err := engine.PredictImage(context.Background(), testutil.NewMockPageGenerator(200, 80).Generate(testutil.PatternRows))
	require.NoError(t, err)
	assert.Contains(t, []string{"other", "program"}, pred.Label)

	wrongSize := preprocess.ImageNetConfig(arch.InputSize * 2)
	_, err = NewEngine(ckpt, WithLogger(quietLogger()), WithPreprocess(wrongSize))
	assert.Error(t, err)

	channelsLast := preprocess.ImageNetConfig(arch.InputSize)
	channelsLast.ChannelOrder = preprocess.ChannelOrderHWC
	_, err = NewEngine(ckpt, WithLogger(quietLogger()), WithPreprocess(channelsLast))
	assert.Error(t, err)
}

func TestONNXClassifierMissingModel(t *testing.T) {
	if _, err := os.Stat(SharedLibPath()); err != nil {
		t.Skipf("ONNX Runtime library not available: %v", err)
	}
	dir := t.TempDir()
	meta := filepath.Join(dir, "meta.json")
	require.NoError(t, os.WriteFile(meta,
		[]byte(`{"input_shape":[1,3,224,224],"output_shape":[1,2],"classes":["other","program"]}`), 0o644))

	_, err := NewONNXClassifier(filepath.Join(dir, "missing.onnx"), meta,
		WithDevice(DeviceCPU), WithLogger(quietLogger()))
	assert.Error(t, err)
}

func TestDemoImage(t *testing.T) {
	assert.Equal(t, filepath.Join(DemoDir, "5766977434904806573.jpg"), DemoImage(""))
	assert.Equal(t, filepath.Join("x", DemoImages[0]), DemoImage("x"))
	assert.Len(t, DemoImages, 10)
}
