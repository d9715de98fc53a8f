package training

import (
	"github.com/nvr-ai/doc-classifier/models"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// weightedLoss is the class-weighted cross-entropy attached to a network:
//
//	loss = -Σ_i w[y_i] log softmax(z_i)[y_i] / Σ_i w[y_i]
//
// The weights live in the one-hot targets, so rows with a zero target
// (padding in a short final batch) do not contribute.
type weightedLoss struct {
	targets *G.Node
	norm    *G.Node
	cost    *G.Node

	batchSize  int
	numClasses int
	weights    []float64
}

func newWeightedLoss(net *models.Network, classWeights []float64) (*weightedLoss, error) {
	if len(classWeights) != net.NumClasses {
		return nil, errors.Errorf("got %d class weights for %d classes", len(classWeights), net.NumClasses)
	}
	g := net.Graph()
	l := &weightedLoss{
		batchSize:  net.BatchSize,
		numClasses: net.NumClasses,
		weights:    classWeights,
		targets: G.NewMatrix(g, tensor.Float32,
			G.WithShape(net.BatchSize, net.NumClasses), G.WithName("targets")),
		norm: G.NewScalar(g, tensor.Float32, G.WithName("norm")),
	}

	// Shift each row by its max so exp never overflows; the shift cancels
	// in the log-softmax.
	logits := net.Logits()
	rowMax, err := G.Max(logits, 1)
	if err != nil {
		return nil, errors.Wrap(err, "row max")
	}
	if rowMax, err = G.Reshape(rowMax, tensor.Shape{net.BatchSize, 1}); err != nil {
		return nil, errors.Wrap(err, "reshape row max")
	}
	shifted, err := G.BroadcastSub(logits, rowMax, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "shift logits")
	}
	sumExp, err := G.Sum(G.Must(G.Exp(shifted)), 1)
	if err != nil {
		return nil, errors.Wrap(err, "softmax denominator")
	}
	logZ, err := G.Reshape(G.Must(G.Log(sumExp)), tensor.Shape{net.BatchSize, 1})
	if err != nil {
		return nil, errors.Wrap(err, "reshape log partition")
	}
	logProbs, err := G.BroadcastSub(shifted, logZ, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrap(err, "log softmax")
	}
	picked, err := G.HadamardProd(logProbs, l.targets)
	if err != nil {
		return nil, errors.Wrap(err, "select target log probs")
	}
	total, err := G.Sum(picked)
	if err != nil {
		return nil, errors.Wrap(err, "sum")
	}
	if l.cost, err = G.Div(G.Must(G.Neg(total)), l.norm); err != nil {
		return nil, errors.Wrap(err, "normalize")
	}
	return l, nil
}

// bind sets the targets for one batch. labels may be shorter than the
// batch size.
func (l *weightedLoss) bind(labels []int) error {
	if len(labels) == 0 || len(labels) > l.batchSize {
		return errors.Errorf("batch holds %d labels, loss takes 1..%d", len(labels), l.batchSize)
	}
	targets := make([]float32, l.batchSize*l.numClasses)
	var norm float64
	for i, y := range labels {
		if y < 0 || y >= l.numClasses {
			return errors.Errorf("label %d out of range for %d classes", y, l.numClasses)
		}
		targets[i*l.numClasses+y] = float32(l.weights[y])
		norm += l.weights[y]
	}
	if err := G.Let(l.targets, tensor.New(tensor.WithShape(l.batchSize, l.numClasses), tensor.WithBacking(targets))); err != nil {
		return errors.Wrap(err, "failed to bind targets")
	}
	return errors.Wrap(G.Let(l.norm, G.NewF32(float32(norm))), "failed to bind normalizer")
}

// value reads the loss after a run.
func (l *weightedLoss) value() (float64, error) {
	v := l.cost.Value()
	if v == nil {
		return 0, errors.New("loss has not been computed")
	}
	switch d := v.Data().(type) {
	case float32:
		return float64(d), nil
	case []float32:
		if len(d) == 1 {
			return float64(d[0]), nil
		}
	}
	return 0, errors.Errorf("unexpected loss value %T", v.Data())
}
