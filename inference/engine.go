package inference

import (
	"context"
	"image"
	"log"
	"sync"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/nvr-ai/doc-classifier/models"
	"github.com/nvr-ai/doc-classifier/preprocess"
	"github.com/nvr-ai/doc-classifier/profiler"
	"github.com/pkg/errors"
)

// Engine is a Classifier backed by the gorgonia network stored in a
// checkpoint. The checkpoint is read once by NewEngine; every prediction
// reuses the same graph.
type Engine struct {
	checkpoint *models.Checkpoint
	classes    *models.ClassSet
	net        *models.Network
	pipeline   *preprocess.Pipeline
	device     Device
	logger     *log.Logger
	profiler   *profiler.Profiler

	mu     sync.Mutex
	closed bool
}

// Option configures a classifier.
type Option func(*options)

type options struct {
	device     Device
	logger     *log.Logger
	profiler   *profiler.Profiler
	preprocess *preprocess.Config
}

// WithDevice selects the device; the default is DeviceAuto.
func WithDevice(d Device) Option {
	return func(o *options) { o.device = d }
}

// WithLogger sets the logger (default log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProfiler records a "predict" timing for every call.
func WithProfiler(p *profiler.Profiler) Option {
	return func(o *options) { o.profiler = p }
}

// WithPreprocess replaces the model's default preprocessing. The config
// must produce the model's input shape.
func WithPreprocess(cfg *preprocess.Config) Option {
	return func(o *options) { o.preprocess = cfg }
}

func buildOptions(opts []Option) options {
	o := options{device: DeviceAuto}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.profiler == nil {
		o.profiler = profiler.New(profiler.Options{Logger: o.logger})
	}
	o.device = o.device.Resolve()
	return o
}

// NewEngine loads a checkpoint and builds a batch-1 inference graph.
//
// Arguments:
//   - checkpointPath: A checkpoint written by training.
//   - opts: Device, logger, profiler and preprocessing options.
//
// Returns:
//   - *Engine: The classifier handle; Close it when done.
//   - error: When the checkpoint is missing or malformed, or the
//     preprocessing does not produce the network input.
//
// @example
// engine, err := inference.NewEngine("program_classifier.ckpt")
//
//	if err != nil {
//	    log.Fatalf("Failed to load classifier: %v", err)
//	}
//
// defer engine.Close()
// pred, err := engine.Predict(ctx, "scan.jpg")
func NewEngine(checkpointPath string, opts ...Option) (*Engine, error) {
	o := buildOptions(opts)

	ckpt, err := models.LoadCheckpoint(checkpointPath)
	if err != nil {
		return nil, err
	}
	arch, err := ckpt.Architecture()
	if err != nil {
		return nil, err
	}
	classes, err := ckpt.ClassSet()
	if err != nil {
		return nil, err
	}
	pre := preprocess.ImageNetConfig(arch.InputSize)
	if o.preprocess != nil {
		input := []int64{1, int64(arch.InChannels), int64(arch.InputSize), int64(arch.InputSize)}
		if err := checkInputShape(input, o.preprocess); err != nil {
			return nil, errors.Wrapf(err, "preprocess override does not fit %s", arch.Name)
		}
		pre = o.preprocess
	}
	net, err := models.NewNetwork(arch, ckpt.ToParams(), 1)
	if err != nil {
		return nil, err
	}

	if o.device == DeviceCUDA {
		o.logger.Printf("⚠️ gorgonia engine runs on cpu; use the onnx backend for cuda")
		o.device = DeviceCPU
	}

	return &Engine{
		checkpoint: ckpt,
		classes:    classes,
		net:        net,
		pipeline:   preprocess.NewEvalPipeline(pre),
		device:     o.device,
		logger:     o.logger,
		profiler:   o.profiler,
	}, nil
}

// Predict decodes the image at path and classifies it.
func (e *Engine) Predict(ctx context.Context, path string) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	_, img, err := images.Load(path)
	if err != nil {
		return Prediction{}, err
	}
	return e.PredictImage(ctx, img)
}

// PredictImage classifies a decoded image.
func (e *Engine) PredictImage(ctx context.Context, img image.Image) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return Prediction{}, ErrClosed
	}

	defer e.profiler.StartOperation("predict")()
	// Close may land between the check above and the forward pass; the
	// network rejects it under its own lock.
	logits, err := e.net.Forward(e.pipeline.Apply(img))
	if errors.Is(err, models.ErrClosed) {
		return Prediction{}, ErrClosed
	}
	if err != nil {
		return Prediction{}, err
	}
	return NewPrediction(e.classes.Names(), logits)
}

// Classes returns the class names in logit order.
func (e *Engine) Classes() []string {
	return e.classes.Names()
}

// Device is the device the engine runs on.
func (e *Engine) Device() Device {
	return e.device
}

// Checkpoint returns the loaded checkpoint.
func (e *Engine) Checkpoint() *models.Checkpoint {
	return e.checkpoint
}

// Close releases the graph. Further predictions fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.net.Close()
}
