package models

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Checkpoint is the persisted result of a training run: the parameters
// and the class names in logit order. Parameter tensors are stored with
// their own gob encoding. There is no format version; the producer and
// consumer must agree on the layout.
type Checkpoint struct {
	RunID     uuid.UUID
	CreatedAt time.Time
	Arch      string
	Classes   []string
	Params    Params
}

// NewCheckpoint snapshots params for saving.
func NewCheckpoint(runID uuid.UUID, arch Arch, classes []string, params Params) *Checkpoint {
	return &Checkpoint{
		RunID:     runID,
		CreatedAt: time.Now().UTC(),
		Arch:      arch.Name,
		Classes:   append([]string(nil), classes...),
		Params:    params.Clone(),
	}
}

// Save writes the checkpoint to path, creating parent directories. The
// file is written next to path and renamed into place.
func (c *Checkpoint) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "failed to create checkpoint directory")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create checkpoint file")
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(c); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to encode checkpoint")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to flush checkpoint")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "failed to move checkpoint into place")
}

// LoadCheckpoint reads and validates a checkpoint.
//
// Arguments:
//   - path: The checkpoint file.
//
// Returns:
//   - *Checkpoint: The checkpoint.
//   - error: When the file is missing, not a checkpoint or inconsistent.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open checkpoint")
	}
	defer f.Close()

	var c Checkpoint
	if err := gob.NewDecoder(f).Decode(&c); err != nil {
		return nil, errors.Wrapf(err, "failed to decode checkpoint %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid checkpoint %s", path)
	}
	return &c, nil
}

// Architecture resolves the stored architecture name.
func (c *Checkpoint) Architecture() (Arch, error) {
	return LookupArch(c.Arch)
}

// Validate checks the class list against the stored parameters.
func (c *Checkpoint) Validate() error {
	arch, err := c.Architecture()
	if err != nil {
		return err
	}
	if _, err := NewClassSet(c.Classes); err != nil {
		return err
	}
	for _, p := range c.Params {
		if p.T == nil {
			return errors.Wrapf(ErrShapeMismatch, "%s has no tensor", p.Name)
		}
		if p.T.Dtype() != tensor.Float32 {
			return errors.Wrapf(ErrShapeMismatch, "%s is %v, want float32", p.Name, p.T.Dtype())
		}
	}
	return c.Params.Check(arch, len(c.Classes))
}

// ToParams returns a copy of the stored parameter tensors.
func (c *Checkpoint) ToParams() Params {
	return c.Params.Clone()
}

// ClassSet returns the class vocabulary.
func (c *Checkpoint) ClassSet() (*ClassSet, error) {
	return NewClassSet(c.Classes)
}
