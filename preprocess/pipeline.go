package preprocess

import (
	"image"
	"math/rand"
	"runtime"

	"github.com/nvr-ai/doc-classifier/images"
)

// Pipeline is the per-split transform: an optional augmentation stage
// followed by the Preprocessor.
type Pipeline struct {
	pre       *Preprocessor
	augmenter *images.Augmenter
}

// NewEvalPipeline returns the deterministic pipeline used for validation
// and inference.
func NewEvalPipeline(config *Config) *Pipeline {
	return &Pipeline{pre: NewPreprocessor(config)}
}

// NewTrainPipeline returns the augmented training pipeline. The image is
// first resized to the input size, then rotated, randomly cropped and
// color-jittered.
func NewTrainPipeline(config *Config, augment images.AugmentConfig, rng *rand.Rand) *Pipeline {
	return &Pipeline{
		pre:       NewPreprocessor(config),
		augmenter: images.NewAugmenter(augment, config.InputWidth, rng),
	}
}

// TensorSize is the number of float32 values produced per image.
func (p *Pipeline) TensorSize() int {
	return p.pre.TensorSize()
}

// Shape is the per-image tensor shape.
func (p *Pipeline) Shape() []int {
	return p.pre.config.Shape()
}

// Augmented reports whether the pipeline applies random transforms.
// Evaluation refuses augmented pipelines.
func (p *Pipeline) Augmented() bool {
	return p.augmenter != nil
}

// Apply transforms a decoded image into a tensor.
func (p *Pipeline) Apply(img image.Image) []float32 {
	if p.augmenter != nil {
		c := p.pre.config
		img = p.augmenter.Apply(images.Resize(img, c.InputWidth, c.InputHeight, c.Filter))
	}
	return p.pre.PreprocessImage(img)
}

// ApplyBatch transforms several images. Deterministic pipelines run in
// parallel; augmented ones run sequentially so the random stream stays
// reproducible.
func (p *Pipeline) ApplyBatch(imgs []image.Image) [][]float32 {
	if p.augmenter == nil {
		return p.pre.BatchPreprocess(imgs, runtime.NumCPU())
	}
	out := make([][]float32, len(imgs))
	for i, img := range imgs {
		out[i] = p.Apply(img)
	}
	return out
}
