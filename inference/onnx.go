package inference

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/nvr-ai/doc-classifier/preprocess"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Metadata describes an exported classifier model.
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	// InputName and OutputName default to "input" and "output".
	InputName  string `json:"input_name,omitempty"`
	OutputName string `json:"output_name,omitempty"`
	// Probabilities is true when the model already ends in a softmax.
	Probabilities bool `json:"probabilities,omitempty"`
	// Preprocess describes the input the model was exported with. When
	// absent the input is ImageNet-standardized RGB CHW at ImageSize.
	Preprocess *preprocess.Config `json:"preprocess,omitempty"`
}

// LoadMetadata reads and validates a metadata JSON file.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read metadata")
	}
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse metadata")
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	return &m, m.Validate()
}

// Validate checks that the shapes describe a batch-1 classifier whose
// input matches the preprocessing.
func (m *Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return errors.New("metadata lists no classes")
	}
	if len(m.OutputShape) != 2 || m.OutputShape[0] != 1 || m.OutputShape[1] != int64(len(m.Classes)) {
		return errors.Errorf("output shape %v does not match %d classes", m.OutputShape, len(m.Classes))
	}
	if m.Preprocess == nil {
		if len(m.InputShape) != 4 || m.InputShape[2] != m.InputShape[3] {
			return errors.Errorf("input shape %v is not [1, 3, S, S]", m.InputShape)
		}
		if m.ImageSize == 0 {
			m.ImageSize = int(m.InputShape[2])
		}
		if int64(m.ImageSize) != m.InputShape[2] {
			return errors.Errorf("image_size %d disagrees with input shape %v", m.ImageSize, m.InputShape)
		}
	}
	return checkInputShape(m.InputShape, m.PreprocessConfig())
}

// PreprocessConfig is the preprocessing the model expects.
func (m *Metadata) PreprocessConfig() *preprocess.Config {
	if m.Preprocess != nil {
		return m.Preprocess
	}
	return preprocess.ImageNetConfig(m.ImageSize)
}

// checkInputShape verifies that cfg produces exactly one [1, ...] input
// tensor of shape.
func checkInputShape(shape []int64, cfg *preprocess.Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid preprocessing")
	}
	want := append([]int64{1}, toInt64(cfg.Shape())...)
	if len(shape) != len(want) {
		return errors.Errorf("input shape %v, preprocessing produces %v", shape, want)
	}
	for i := range want {
		if shape[i] != want[i] {
			return errors.Errorf("input shape %v, preprocessing produces %v", shape, want)
		}
	}
	return nil
}

func toInt64(v []int) []int64 {
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

var ortMu sync.Mutex

// initEnvironment initializes the ONNX Runtime environment once per process.
func initEnvironment(libPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	return errors.Wrap(ort.InitializeEnvironment(), "error initializing ORT environment")
}

// SharedLibPath returns the ONNX Runtime library location: the
// ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable when set, otherwise
// the platform default under ./third_party.
func SharedLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// ONNXClassifier is a Classifier backed by ONNX Runtime.
type ONNXClassifier struct {
	meta     *Metadata
	pipeline *preprocess.Pipeline
	device   Device
	o        options

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXClassifier opens an ONNX model described by a metadata file.
//
// Arguments:
//   - modelPath: The .onnx file.
//   - metadataPath: JSON with input/output shapes, classes, image size and
//     optionally the preprocessing.
//   - opts: Device, logger and profiler options. DeviceCUDA appends the
//     CUDA execution provider.
//
// Returns:
//   - *ONNXClassifier: The classifier handle; Close it when done.
//   - error: When the runtime, metadata or model cannot be loaded.
func NewONNXClassifier(modelPath, metadataPath string, opts ...Option) (*ONNXClassifier, error) {
	o := buildOptions(opts)

	meta, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}
	pre := meta.PreprocessConfig()
	if o.preprocess != nil {
		if err := checkInputShape(meta.InputShape, o.preprocess); err != nil {
			return nil, errors.Wrap(err, "preprocess override does not fit the model")
		}
		pre = o.preprocess
	}
	if err := initEnvironment(SharedLibPath()); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}

	sessionOptions, err := sessionOptionsFor(o.device)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer sessionOptions.Destroy()

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		sessionOptions)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "failed to create ONNX session")
	}

	o.logger.Printf("🧠 onnx classifier %s on %s, classes=%v, input=%v %s %s",
		modelPath, o.device, meta.Classes, pre.Shape(), pre.ColorMode, pre.NormalizationType)
	return &ONNXClassifier{
		meta:     meta,
		pipeline: preprocess.NewEvalPipeline(pre),
		device:   o.device,
		o:        o,
		session:  session,
		input:    input,
		output:   output,
	}, nil
}

func sessionOptionsFor(device Device) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "failed to set optimization level")
	}
	if device != DeviceCUDA {
		return options, nil
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "failed to create CUDA provider options")
	}
	defer cuda.Destroy()
	if err := cuda.Update(map[string]string{"device_id": "0"}); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "failed to configure CUDA provider")
	}
	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "failed to enable CUDA provider")
	}
	return options, nil
}

// Predict decodes the image at path and classifies it.
func (c *ONNXClassifier) Predict(ctx context.Context, path string) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	_, img, err := images.Load(path)
	if err != nil {
		return Prediction{}, err
	}
	return c.PredictImage(ctx, img)
}

// PredictImage classifies a decoded image.
func (c *ONNXClassifier) PredictImage(ctx context.Context, img image.Image) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	tensor := c.pipeline.Apply(img)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Prediction{}, ErrClosed
	}
	defer c.o.profiler.StartOperation("predict")()

	copy(c.input.GetData(), tensor)
	if err := c.session.Run(); err != nil {
		return Prediction{}, errors.Wrap(err, "inference failed")
	}
	scores := append([]float32(nil), c.output.GetData()...)
	if !c.meta.Probabilities {
		return NewPrediction(c.meta.Classes, scores)
	}
	idx := Argmax(scores)
	return Prediction{
		Label:         c.meta.Classes[idx],
		Index:         idx,
		Confidence:    scores[idx],
		Probabilities: scores,
	}, nil
}

// Classes returns the class names in output order.
func (c *ONNXClassifier) Classes() []string {
	return append([]string(nil), c.meta.Classes...)
}

// Device is the device the session runs on.
func (c *ONNXClassifier) Device() Device {
	return c.device
}

// Close releases the session and its tensors. The process-wide runtime
// environment stays initialized for other classifiers.
func (c *ONNXClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.input != nil {
		c.input.Destroy()
		c.input = nil
	}
	if c.output != nil {
		c.output.Destroy()
		c.output = nil
	}
	if c.session != nil {
		err := c.session.Destroy()
		c.session = nil
		return err
	}
	return nil
}
