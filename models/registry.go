// Package models defines the document classifier network: its
// architectures, parameters, gorgonia graph and checkpoint format.
package models

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// ErrUnknownArch is returned for an architecture name that is not registered.
var ErrUnknownArch = errors.New("unknown architecture")

// Arch describes a convolutional classifier. Every stage is a 3x3
// convolution (stride 2 in the first stage) followed by ReLU and a 2x2 max
// pool. A global max pool feeds the linear head "fc".
type Arch struct {
	// Name is the registry key stored in checkpoints.
	Name string `json:"name" yaml:"name"`
	// InputSize is the edge length of the square RGB input.
	InputSize int `json:"input_size" yaml:"input_size"`
	// InChannels is the number of input channels.
	InChannels int `json:"in_channels" yaml:"in_channels"`
	// Channels is the output channel count of every stage.
	Channels []int `json:"channels" yaml:"channels"`
}

// ParamSpec is the name and shape of one learnable tensor.
type ParamSpec struct {
	Name  string
	Shape []int
}

const (
	// HeadWeight is the name of the head weight matrix [features, classes].
	HeadWeight = "fc.w"
	// HeadBias is the name of the head bias row [1, classes].
	HeadBias = "fc.b"
)

var archs = map[string]Arch{
	"convnet-xs": {Name: "convnet-xs", InputSize: 224, InChannels: 3, Channels: []int{4, 8}},
	"convnet-s":  {Name: "convnet-s", InputSize: 224, InChannels: 3, Channels: []int{16, 32, 64}},
	"convnet-m":  {Name: "convnet-m", InputSize: 224, InChannels: 3, Channels: []int{32, 64, 128, 256}},
}

// DefaultArch is the architecture used when none is configured.
const DefaultArch = "convnet-s"

// LookupArch returns a registered architecture.
//
// Arguments:
//   - name: The registry key, for example "convnet-s".
//
// Returns:
//   - Arch: The architecture.
//   - error: ErrUnknownArch when the name is not registered.
//
// Example:
//
// ```go
//
//	arch, err := LookupArch("convnet-s")
//	if err != nil {
//	    log.Fatalf("Failed to resolve architecture: %v", err)
//	}
//
// ```
func LookupArch(name string) (Arch, error) {
	a, ok := archs[name]
	if !ok {
		return Arch{}, errors.Wrapf(ErrUnknownArch, "%q (known: %v)", name, ArchNames())
	}
	return a, a.Validate()
}

// ArchNames lists the registered architectures.
func ArchNames() []string {
	names := make([]string, 0, len(archs))
	for n := range archs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every stage still has a spatial extent of at least
// one pixel.
func (a Arch) Validate() error {
	if a.InputSize <= 0 || a.InChannels <= 0 || len(a.Channels) == 0 {
		return errors.Errorf("architecture %q is incomplete", a.Name)
	}
	size := a.InputSize
	for i := range a.Channels {
		size = a.stageOutput(i, size)
		if size < 1 {
			return errors.Errorf("architecture %q collapses to zero at stage %d", a.Name, i)
		}
	}
	return nil
}

// stageOutput is the spatial size after stage i for an input of size.
func (a Arch) stageOutput(i, size int) int {
	stride := 1
	if i == 0 {
		stride = 2
	}
	conv := (size+2-3)/stride + 1
	if conv < 2 {
		return 0
	}
	return (conv-2)/2 + 1
}

// FeatureSize is the spatial edge length entering the global pool.
func (a Arch) FeatureSize() int {
	size := a.InputSize
	for i := range a.Channels {
		size = a.stageOutput(i, size)
	}
	return size
}

// Features is the width of the vector entering the head.
func (a Arch) Features() int {
	return a.Channels[len(a.Channels)-1]
}

// ConvName is the name of the filter tensor of stage i.
func ConvName(i int) string {
	return fmt.Sprintf("conv%d.w", i)
}

// ParamSpecs lists the learnable tensors in graph order.
func (a Arch) ParamSpecs(numClasses int) []ParamSpec {
	specs := make([]ParamSpec, 0, len(a.Channels)+2)
	in := a.InChannels
	for i, out := range a.Channels {
		specs = append(specs, ParamSpec{Name: ConvName(i), Shape: []int{out, in, 3, 3}})
		in = out
	}
	return append(specs,
		ParamSpec{Name: HeadWeight, Shape: []int{a.Features(), numClasses}},
		ParamSpec{Name: HeadBias, Shape: []int{1, numClasses}},
	)
}
