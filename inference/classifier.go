// Package inference loads a trained document classifier once and labels
// images with it.
package inference

import (
	"context"
	"image"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// ErrClosed is returned by predictions on a closed classifier.
var ErrClosed = errors.New("classifier is closed")

// Classifier labels document images. Implementations are safe for
// concurrent use and deterministic: the same image always yields the same
// prediction.
type Classifier interface {
	// Predict decodes the image at path and classifies it.
	Predict(ctx context.Context, path string) (Prediction, error)
	// PredictImage classifies an already decoded image.
	PredictImage(ctx context.Context, img image.Image) (Prediction, error)
	// Classes returns the label vocabulary in logit order.
	Classes() []string
	// Close releases the model.
	Close() error
}

// Prediction is the label with the highest probability.
type Prediction struct {
	// Label is the predicted class name.
	Label string `json:"label"`
	// Index is the logit index of Label.
	Index int `json:"-"`
	// Confidence is the softmax probability of Label, in [0, 1].
	Confidence float32 `json:"confidence"`
	// Probabilities holds the softmax distribution in class order.
	Probabilities []float32 `json:"-"`
}

// NewPrediction converts one row of logits into a prediction.
//
// Arguments:
//   - classes: Label names in logit order.
//   - logits: The raw scores; len(logits) must equal len(classes).
//
// Returns:
//   - Prediction: The argmax label and its softmax probability.
//   - error: When the lengths disagree or are zero.
func NewPrediction(classes []string, logits []float32) (Prediction, error) {
	if len(logits) == 0 || len(logits) != len(classes) {
		return Prediction{}, errors.Errorf("got %d scores for %d classes", len(logits), len(classes))
	}
	probs := Softmax(logits)
	idx := Argmax(probs)
	return Prediction{
		Label:         classes[idx],
		Index:         idx,
		Confidence:    probs[idx],
		Probabilities: probs,
	}, nil
}

// Softmax returns exp(x_i - max) / Σ exp(x_j - max).
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	m := logits[Argmax(logits)]
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value; ties go to the lowest
// index. It returns -1 for an empty slice.
func Argmax(values []float32) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best
}
