package training

import (
	"context"

	"github.com/nvr-ai/doc-classifier/dataset"
	"github.com/nvr-ai/doc-classifier/inference"
	"github.com/nvr-ai/doc-classifier/models"
	"github.com/pkg/errors"
)

// EvalResult is the outcome of one pass over a dataset.
type EvalResult struct {
	Correct  int
	Total    int
	Accuracy float64
	// Predictions holds the predicted class per sample, in dataset order.
	Predictions []int
}

// Evaluate runs net over every sample of folder in order, without
// augmentation, and reports the accuracy. The context is checked between
// batches.
//
// Arguments:
//   - ctx: Cancels the pass between batches.
//   - net: A forward-only network.
//   - folder: The dataset; its pipeline must be deterministic.
//
// Returns:
//   - EvalResult: Accuracy and per-sample predictions.
//   - error: On cancellation, a failed image read or an augmented pipeline.
func Evaluate(ctx context.Context, net *models.Network, folder *dataset.ImageFolder) (EvalResult, error) {
	res := EvalResult{Total: folder.Len(), Predictions: make([]int, 0, folder.Len())}
	if p := folder.Pipeline(); p != nil && p.Augmented() {
		return res, errors.New("evaluation needs a deterministic pipeline")
	}
	for _, batch := range dataset.Batches(dataset.SequentialIndices(folder.Len()), net.BatchSize) {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrap(err, "evaluation interrupted")
		}
		data, labels, err := folder.LoadBatch(batch)
		if err != nil {
			return res, err
		}
		logits, err := net.Forward(data)
		if err != nil {
			return res, err
		}
		for i, y := range labels {
			pred := inference.Argmax(logits[i*net.NumClasses : (i+1)*net.NumClasses])
			res.Predictions = append(res.Predictions, pred)
			if pred == y {
				res.Correct++
			}
		}
	}
	if res.Total > 0 {
		res.Accuracy = float64(res.Correct) / float64(res.Total)
	}
	return res, nil
}
