package models

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch is returned when a tensor does not have the shape the
// architecture expects.
var ErrShapeMismatch = errors.New("parameter shape mismatch")

// Param is one named learnable tensor.
type Param struct {
	Name string
	T    *tensor.Dense
}

// Params is the ordered set of learnable tensors of a network.
type Params []Param

// InitParams creates freshly initialized parameters: He-normal filters,
// Glorot-uniform head weights and a zero bias.
//
// Arguments:
//   - arch: The architecture.
//   - numClasses: The number of logits.
//   - rng: The random source; the same seed gives the same parameters.
//
// Returns:
//   - Params: The parameters in graph order.
func InitParams(arch Arch, numClasses int, rng *rand.Rand) Params {
	specs := arch.ParamSpecs(numClasses)
	params := make(Params, len(specs))
	for i, s := range specs {
		params[i] = Param{Name: s.Name, T: initTensor(s, rng)}
	}
	return params
}

func initTensor(s ParamSpec, rng *rand.Rand) *tensor.Dense {
	n := 1
	for _, d := range s.Shape {
		n *= d
	}
	data := make([]float32, n)

	switch {
	case s.Name == HeadBias:
		// zero
	case s.Name == HeadWeight:
		limit := math.Sqrt(6 / float64(s.Shape[0]+s.Shape[1]))
		for i := range data {
			data[i] = float32((rng.Float64()*2 - 1) * limit)
		}
	default:
		fanIn := s.Shape[1] * s.Shape[2] * s.Shape[3]
		std := math.Sqrt(2 / float64(fanIn))
		for i := range data {
			data[i] = float32(rng.NormFloat64() * std)
		}
	}
	return tensor.New(tensor.WithShape(s.Shape...), tensor.WithBacking(data))
}

// Get returns the tensor called name, or nil.
func (p Params) Get(name string) *tensor.Dense {
	for _, param := range p {
		if param.Name == name {
			return param.T
		}
	}
	return nil
}

// Clone deep-copies every tensor.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for i, param := range p {
		out[i] = Param{Name: param.Name, T: param.T.Clone().(*tensor.Dense)}
	}
	return out
}

// NumClasses is the number of logits produced by the head.
func (p Params) NumClasses() int {
	if b := p.Get(HeadBias); b != nil {
		return b.Shape()[1]
	}
	return 0
}

// Check verifies that p matches the tensors arch needs for numClasses
// logits, in order.
func (p Params) Check(arch Arch, numClasses int) error {
	specs := arch.ParamSpecs(numClasses)
	if len(specs) != len(p) {
		return errors.Wrapf(ErrShapeMismatch, "expected %d tensors, got %d", len(specs), len(p))
	}
	for i, s := range specs {
		if p[i].Name != s.Name {
			return errors.Wrapf(ErrShapeMismatch, "tensor %d is %q, expected %q", i, p[i].Name, s.Name)
		}
		if !sameShape(p[i].T.Shape(), s.Shape) {
			return errors.Wrapf(ErrShapeMismatch, "%s has shape %v, expected %v", s.Name, p[i].T.Shape(), s.Shape)
		}
	}
	return nil
}

// ReplaceHead swaps the head for a freshly initialized one producing
// numClasses logits. The backbone tensors are kept.
func (p Params) ReplaceHead(arch Arch, numClasses int, rng *rand.Rand) Params {
	out := p.Clone()
	for _, s := range arch.ParamSpecs(numClasses) {
		if s.Name != HeadWeight && s.Name != HeadBias {
			continue
		}
		for i := range out {
			if out[i].Name == s.Name {
				out[i].T = initTensor(s, rng)
			}
		}
	}
	return out
}

// LoadBackbone copies every non-head tensor of src whose name and shape
// match into p and returns how many were copied. This is how a network is
// started from a previously trained one: the feature extractor is reused
// and the head is left as initialized.
func (p Params) LoadBackbone(src Params) (int, error) {
	copied := 0
	for _, param := range p {
		if param.Name == HeadWeight || param.Name == HeadBias {
			continue
		}
		s := src.Get(param.Name)
		if s == nil {
			continue
		}
		if !sameShape(s.Shape(), param.T.Shape()) {
			return copied, errors.Wrapf(ErrShapeMismatch, "backbone %s has shape %v, expected %v",
				param.Name, s.Shape(), param.T.Shape())
		}
		copy(param.T.Data().([]float32), s.Data().([]float32))
		copied++
	}
	if copied == 0 {
		return 0, errors.New("no backbone tensor matched")
	}
	return copied, nil
}

func sameShape(a tensor.Shape, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
