package dataset

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// ClassWeights returns total/count for every class. Rare classes get large
// weights. A class with zero samples is an error.
//
// @example
// weights, _ := ClassWeights([]int{90, 10}) // [1.111, 10]
func ClassWeights(counts []int) ([]float64, error) {
	total := 0
	for i, c := range counts {
		if c <= 0 {
			return nil, errors.Wrapf(ErrEmptyClass, "class %d has %d samples", i, c)
		}
		total += c
	}
	weights := make([]float64, len(counts))
	for i, c := range counts {
		weights[i] = float64(total) / float64(c)
	}
	return weights, nil
}

// SampleWeights returns the draw weight of every sample: the inverse of the
// size of its class.
func SampleWeights(labels, counts []int) []float64 {
	weights := make([]float64, len(labels))
	for i, l := range labels {
		weights[i] = 1 / float64(counts[l])
	}
	return weights
}

// WeightedSampler draws sample indices with replacement, each index with
// probability proportional to its weight.
type WeightedSampler struct {
	numSamples int

	mu   sync.Mutex
	dist distuv.Categorical
}

// NewWeightedSampler creates a sampler drawing numSamples indices per epoch.
//
// Arguments:
//   - weights: One non-negative weight per sample; at least one must be positive.
//   - numSamples: Draws per call to Sample.
//   - seed: Seeds the sampler's private source.
//
// Returns:
//   - *WeightedSampler: The sampler.
//   - error: When weights are empty, negative or all zero.
//
// @example
// sampler, err := NewWeightedSampler(SampleWeights(labels, counts), 2*len(labels), 42)
func NewWeightedSampler(weights []float64, numSamples int, seed uint64) (*WeightedSampler, error) {
	if len(weights) == 0 {
		return nil, errors.New("sampler needs at least one weight")
	}
	if numSamples <= 0 {
		return nil, errors.Errorf("invalid sample count %d", numSamples)
	}
	var sum float64
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) {
			return nil, errors.Errorf("invalid weight %f at index %d", w, i)
		}
		sum += w
	}
	if sum <= 0 || math.IsInf(sum, 0) {
		return nil, errors.Errorf("sampler weights sum to %f", sum)
	}
	return &WeightedSampler{
		numSamples: numSamples,
		dist:       distuv.NewCategorical(weights, exprand.NewSource(seed)),
	}, nil
}

// NumSamples is the number of indices returned by Sample.
func (s *WeightedSampler) NumSamples() int {
	return s.numSamples
}

// Sample draws one epoch of indices.
func (s *WeightedSampler) Sample() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, s.numSamples)
	for i := range out {
		out[i] = int(s.dist.Rand())
	}
	return out
}

// SequentialIndices returns 0..n-1.
func SequentialIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Shuffled returns a random permutation of 0..n-1.
func Shuffled(n int, rng *rand.Rand) []int {
	return rng.Perm(n)
}

// Batches splits indices into consecutive batches of size; the last batch
// may be shorter.
func Batches(indices []int, size int) [][]int {
	if size <= 0 {
		size = 1
	}
	var out [][]int
	for start := 0; start < len(indices); start += size {
		end := min(start+size, len(indices))
		out = append(out, indices[start:end])
	}
	return out
}
