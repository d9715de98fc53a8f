package inference

import (
	"strings"

	"github.com/pkg/errors"
)

// Backend names a Classifier implementation.
type Backend string

const (
	// BackendGorgonia runs a training checkpoint in-process.
	BackendGorgonia Backend = "gorgonia"
	// BackendONNX runs an exported model through ONNX Runtime.
	BackendONNX Backend = "onnx"
)

// ParseBackend parses "gorgonia" or "onnx" (case-insensitive; empty means gorgonia).
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendGorgonia, nil
	case BackendGorgonia, BackendONNX:
		return b, nil
	default:
		return "", errors.Errorf("unknown backend %q (want gorgonia or onnx)", s)
	}
}

// EngineBuilder assembles a Classifier with a fluent API. The first error
// sticks and is returned by Build.
//
// @example
// clf, err := inference.NewEngineBuilder().
//
//	WithBackend(inference.BackendGorgonia).
//	WithCheckpoint("program_classifier.ckpt").
//	Build()
type EngineBuilder struct {
	backend    Backend
	checkpoint string
	model      string
	metadata   string
	opts       []Option
	err        error
}

// NewEngineBuilder creates a new engine builder for the gorgonia backend.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{backend: BackendGorgonia}
}

// WithBackend selects the implementation.
func (b *EngineBuilder) WithBackend(backend Backend) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if backend != BackendGorgonia && backend != BackendONNX {
		b.err = errors.Errorf("unknown backend %q", backend)
		return b
	}
	b.backend = backend
	return b
}

// WithCheckpoint sets the checkpoint used by the gorgonia backend.
func (b *EngineBuilder) WithCheckpoint(path string) *EngineBuilder {
	b.checkpoint = path
	return b
}

// WithONNXModel sets the model and metadata used by the onnx backend.
func (b *EngineBuilder) WithONNXModel(modelPath, metadataPath string) *EngineBuilder {
	b.model = modelPath
	b.metadata = metadataPath
	return b
}

// WithOptions appends classifier options.
func (b *EngineBuilder) WithOptions(opts ...Option) *EngineBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// HasError checks if the engine builder has errors.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build loads the classifier.
//
// Returns:
//   - Classifier: The loaded classifier.
//   - error: A configuration or loading error.
func (b *EngineBuilder) Build() (Classifier, error) {
	if b.HasError() {
		return nil, b.err
	}
	switch b.backend {
	case BackendONNX:
		if b.model == "" || b.metadata == "" {
			return nil, errors.New("onnx backend needs a model and a metadata file")
		}
		c, err := NewONNXClassifier(b.model, b.metadata, b.opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		if b.checkpoint == "" {
			return nil, errors.New("checkpoint not configured")
		}
		e, err := NewEngine(b.checkpoint, b.opts...)
		if err != nil {
			return nil, err
		}
		return e, nil
	}
}

// MustBuild builds the classifier and panics if there is an error.
func (b *EngineBuilder) MustBuild() Classifier {
	c, err := b.Build()
	if err != nil {
		panic(err)
	}
	return c
}
