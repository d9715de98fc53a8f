package models

import (
	"sync"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// ErrClosed is returned by Forward after Close.
var ErrClosed = errors.New("network is closed")

// Network is the classifier expression graph for a fixed batch size.
type Network struct {
	Arch       Arch
	NumClasses int
	BatchSize  int

	g          *G.ExprGraph
	input      *G.Node
	logits     *G.Node
	learnables G.Nodes
	names      []string

	mu     sync.Mutex
	vm     G.VM
	closed bool
}

// NewNetwork builds the graph and binds a private copy of params to it.
//
// Arguments:
//   - arch: The architecture.
//   - params: The initial values; must match arch and their head size.
//   - batchSize: The fixed number of images per forward pass.
//
// Returns:
//   - *Network: The network.
//   - error: When params do not fit arch or a graph operation fails.
//
// @example
// net, err := NewNetwork(arch, InitParams(arch, 2, rng), 16)
func NewNetwork(arch Arch, params Params, batchSize int) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("invalid batch size %d", batchSize)
	}
	numClasses := params.NumClasses()
	if err := params.Check(arch, numClasses); err != nil {
		return nil, err
	}

	n := &Network{
		Arch:       arch,
		NumClasses: numClasses,
		BatchSize:  batchSize,
		g:          G.NewGraph(),
	}

	weights := make(map[string]*G.Node, len(params))
	for _, p := range params.Clone() {
		node := G.NewTensor(n.g, tensor.Float32, p.T.Dims(),
			G.WithShape(p.T.Shape()...), G.WithName(p.Name), G.WithValue(p.T))
		weights[p.Name] = node
		n.learnables = append(n.learnables, node)
		n.names = append(n.names, p.Name)
	}

	n.input = G.NewTensor(n.g, tensor.Float32, 4,
		G.WithShape(batchSize, arch.InChannels, arch.InputSize, arch.InputSize),
		G.WithName("input"))

	if err := n.build(weights); err != nil {
		return nil, errors.Wrap(err, "failed to build classifier graph")
	}
	return n, nil
}

func (n *Network) build(weights map[string]*G.Node) error {
	x := n.input
	var err error
	for i := range n.Arch.Channels {
		stride := 1
		if i == 0 {
			stride = 2
		}
		if x, err = G.Conv2d(x, weights[ConvName(i)], tensor.Shape{3, 3}, []int{1, 1}, []int{stride, stride}, []int{1, 1}); err != nil {
			return errors.Wrapf(err, "stage %d conv", i)
		}
		if x, err = G.Rectify(x); err != nil {
			return errors.Wrapf(err, "stage %d relu", i)
		}
		if x, err = G.MaxPool2D(x, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); err != nil {
			return errors.Wrapf(err, "stage %d pool", i)
		}
	}

	size := n.Arch.FeatureSize()
	if size > 1 {
		if x, err = G.MaxPool2D(x, tensor.Shape{size, size}, []int{0, 0}, []int{size, size}); err != nil {
			return errors.Wrap(err, "global pool")
		}
	}
	if x, err = G.Reshape(x, tensor.Shape{n.BatchSize, n.Arch.Features()}); err != nil {
		return errors.Wrap(err, "flatten")
	}

	xw, err := G.Mul(x, weights[HeadWeight])
	if err != nil {
		return errors.Wrap(err, "head matmul")
	}
	if n.logits, err = G.BroadcastAdd(xw, weights[HeadBias], nil, []byte{0}); err != nil {
		return errors.Wrap(err, "head bias")
	}
	return nil
}

// Graph is the expression graph; training adds its loss to it.
func (n *Network) Graph() *G.ExprGraph {
	return n.g
}

// Input is the [batch, channels, size, size] input node.
func (n *Network) Input() *G.Node {
	return n.input
}

// Logits is the [batch, classes] output node.
func (n *Network) Logits() *G.Node {
	return n.logits
}

// Learnables returns the parameter nodes in graph order.
func (n *Network) Learnables() G.Nodes {
	return n.learnables
}

// InputSize is the number of float32 values of one image.
func (n *Network) InputSize() int {
	return n.Arch.InChannels * n.Arch.InputSize * n.Arch.InputSize
}

// SetInput binds up to BatchSize images to the input node. Missing rows
// are zero.
func (n *Network) SetInput(batch []float32) (int, error) {
	per := n.InputSize()
	if len(batch)%per != 0 {
		return 0, errors.Wrapf(ErrShapeMismatch, "batch of %d values is not a multiple of %d", len(batch), per)
	}
	rows := len(batch) / per
	if rows == 0 || rows > n.BatchSize {
		return 0, errors.Errorf("batch holds %d images, network takes 1..%d", rows, n.BatchSize)
	}
	backing := make([]float32, n.BatchSize*per)
	copy(backing, batch)
	t := tensor.New(
		tensor.WithShape(n.BatchSize, n.Arch.InChannels, n.Arch.InputSize, n.Arch.InputSize),
		tensor.Of(tensor.Float32),
		tensor.WithBacking(backing))
	if err := G.Let(n.input, t); err != nil {
		return 0, errors.Wrap(err, "failed to bind input")
	}
	return rows, nil
}

// logitRows copies the first rows rows of the logits after a forward run.
// A training loss attached to the graph may reuse the logits buffer, so
// the values are only meaningful on a forward-only graph.
func (n *Network) logitRows(rows int) ([]float32, error) {
	v := n.logits.Value()
	if v == nil {
		return nil, errors.New("logits have not been computed")
	}
	data, ok := v.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected logits type %T", v.Data())
	}
	out := make([]float32, rows*n.NumClasses)
	copy(out, data[:rows*n.NumClasses])
	return out, nil
}

// Forward runs the network on len(batch)/InputSize images and returns
// their logits, row-major [rows, classes]. Forward must not be used on a
// network whose graph also holds a training loss.
func (n *Network) Forward(batch []float32) ([]float32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}

	rows, err := n.SetInput(batch)
	if err != nil {
		return nil, err
	}
	if n.vm == nil {
		n.vm = G.NewTapeMachine(n.g)
	}
	defer n.vm.Reset()
	if err := n.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "forward pass failed")
	}
	return n.logitRows(rows)
}

// LoadParams copies params into the graph's parameter values.
func (n *Network) LoadParams(params Params) error {
	if err := params.Check(n.Arch, n.NumClasses); err != nil {
		return err
	}
	for i, node := range n.learnables {
		dst, ok := node.Value().Data().([]float32)
		if !ok {
			return errors.Errorf("parameter %s is not float32", n.names[i])
		}
		copy(dst, params[i].T.Data().([]float32))
	}
	return nil
}

// ExportParams returns a copy of the current parameter values.
func (n *Network) ExportParams() Params {
	out := make(Params, len(n.learnables))
	for i, node := range n.learnables {
		t := node.Value().(*tensor.Dense)
		out[i] = Param{Name: n.names[i], T: t.Clone().(*tensor.Dense)}
	}
	return out
}

// Close releases the forward machine. Forward fails afterwards.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.vm != nil {
		err := n.vm.Close()
		n.vm = nil
		return err
	}
	return nil
}
