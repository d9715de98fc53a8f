// Package dataset reads labeled image folders and draws class-balanced
// training samples from them.
package dataset

import (
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/nvr-ai/doc-classifier/preprocess"
	"github.com/pkg/errors"
)

var (
	// ErrNoClasses is returned when the root folder has no class subfolders.
	ErrNoClasses = errors.New("dataset has no class folders")
	// ErrEmptyClass is returned when a class folder contains no images.
	ErrEmptyClass = errors.New("class folder contains no images")
	// ErrClassMismatch is returned when two splits disagree on their classes.
	ErrClassMismatch = errors.New("class lists differ between splits")
)

// Sample is one labeled image file.
type Sample struct {
	// Path is the image file path.
	Path string
	// Label is the index of the class in ImageFolder.Classes.
	Label int
}

// ImageFolder is a dataset laid out as root/<class>/<image>. Class indices
// follow the alphabetical order of the class folder names.
type ImageFolder struct {
	Root       string
	Classes    []string
	ClassToIdx map[string]int
	Samples    []Sample

	pipeline *preprocess.Pipeline
}

// NewImageFolder scans root and builds the sample list.
//
// Arguments:
//   - root: The split folder, one subfolder per class.
//   - pipeline: The transform applied by Load; may be nil when only the
//     sample list is needed.
//
// Returns:
//   - *ImageFolder: The scanned dataset.
//   - error: When root is unreadable, has no class folders or a class is empty.
//
// @example
// train, err := dataset.NewImageFolder("dataset/train", preprocess.NewEvalPipeline(preprocess.ImageNetConfig(224)))
func NewImageFolder(root string, pipeline *preprocess.Pipeline) (*ImageFolder, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset root %s", root)
	}

	var classes []string
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	if len(classes) == 0 {
		return nil, errors.Wrapf(ErrNoClasses, "%s", root)
	}
	sort.Strings(classes)

	f := &ImageFolder{
		Root:       root,
		Classes:    classes,
		ClassToIdx: make(map[string]int, len(classes)),
		pipeline:   pipeline,
	}
	for i, name := range classes {
		f.ClassToIdx[name] = i
		before := len(f.Samples)
		err := filepath.WalkDir(filepath.Join(root, name), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && images.IsImageFile(path) {
				f.Samples = append(f.Samples, Sample{Path: path, Label: i})
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to walk class folder %s", name)
		}
		if len(f.Samples) == before {
			return nil, errors.Wrapf(ErrEmptyClass, "%s", filepath.Join(root, name))
		}
	}
	return f, nil
}

// Len is the number of samples.
func (f *ImageFolder) Len() int {
	return len(f.Samples)
}

// Labels returns the label of every sample in order.
func (f *ImageFolder) Labels() []int {
	labels := make([]int, len(f.Samples))
	for i, s := range f.Samples {
		labels[i] = s.Label
	}
	return labels
}

// Counts returns the number of samples per class.
func (f *ImageFolder) Counts() []int {
	counts := make([]int, len(f.Classes))
	for _, s := range f.Samples {
		counts[s.Label]++
	}
	return counts
}

// Pipeline returns the transform applied by Load.
func (f *ImageFolder) Pipeline() *preprocess.Pipeline {
	return f.pipeline
}

// WithPipeline returns a view of the same samples using another transform.
func (f *ImageFolder) WithPipeline(p *preprocess.Pipeline) *ImageFolder {
	c := *f
	c.pipeline = p
	return &c
}

// SameClasses checks that other has exactly the same ordered class list.
func (f *ImageFolder) SameClasses(other *ImageFolder) error {
	if len(f.Classes) != len(other.Classes) {
		return errors.Wrapf(ErrClassMismatch, "%v vs %v", f.Classes, other.Classes)
	}
	for i := range f.Classes {
		if f.Classes[i] != other.Classes[i] {
			return errors.Wrapf(ErrClassMismatch, "%v vs %v", f.Classes, other.Classes)
		}
	}
	return nil
}

// Load reads sample i and applies the pipeline.
func (f *ImageFolder) Load(i int) ([]float32, int, error) {
	if f.pipeline == nil {
		return nil, 0, errors.New("dataset has no pipeline")
	}
	if i < 0 || i >= len(f.Samples) {
		return nil, 0, errors.Errorf("sample index %d out of range [0, %d)", i, len(f.Samples))
	}
	s := f.Samples[i]
	_, img, err := images.Load(s.Path)
	if err != nil {
		return nil, 0, err
	}
	return f.pipeline.Apply(img), s.Label, nil
}

// LoadBatch reads the samples at indices and returns them as one flat
// [len(indices), C, H, W] buffer plus their labels.
func (f *ImageFolder) LoadBatch(indices []int) ([]float32, []int, error) {
	if f.pipeline == nil {
		return nil, nil, errors.New("dataset has no pipeline")
	}
	decoded := make([]image.Image, len(indices))
	labels := make([]int, len(indices))
	for j, i := range indices {
		if i < 0 || i >= len(f.Samples) {
			return nil, nil, errors.Errorf("sample index %d out of range [0, %d)", i, len(f.Samples))
		}
		_, img, err := images.Load(f.Samples[i].Path)
		if err != nil {
			return nil, nil, err
		}
		decoded[j] = img
		labels[j] = f.Samples[i].Label
	}

	size := f.pipeline.TensorSize()
	data := make([]float32, len(indices)*size)
	for j, t := range f.pipeline.ApplyBatch(decoded) {
		copy(data[j*size:(j+1)*size], t)
	}
	return data, labels, nil
}
