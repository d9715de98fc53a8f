// Package training fine-tunes the document classifier on an image folder
// dataset and writes the resulting checkpoint.
package training

import (
	"time"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/nvr-ai/doc-classifier/models"
	"github.com/pkg/errors"
)

// Config holds every knob of a training run.
type Config struct {
	// TrainDir is the training split, one subfolder per class.
	TrainDir string `json:"train_dir" yaml:"train_dir"`
	// ValDir is the validation split; it must have the same classes.
	ValDir string `json:"val_dir" yaml:"val_dir"`
	// CheckpointPath is where the final checkpoint is written.
	CheckpointPath string `json:"checkpoint_path" yaml:"checkpoint_path"`

	// Arch is the registered architecture name.
	Arch string `json:"arch" yaml:"arch"`
	// Backbone optionally names a checkpoint whose feature extractor seeds
	// the network. The head is always freshly initialized.
	Backbone string `json:"backbone" yaml:"backbone"`

	BatchSize    int     `json:"batch_size" yaml:"batch_size"`
	Epochs       int     `json:"epochs" yaml:"epochs"`
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Seed         int64   `json:"seed" yaml:"seed"`

	// SampleFactor scales the draws per epoch: SampleFactor x dataset size.
	SampleFactor int `json:"sample_factor" yaml:"sample_factor"`
	// BalanceSampler draws samples with inverse class-frequency weights.
	BalanceSampler bool `json:"balance_sampler" yaml:"balance_sampler"`
	// BalanceLoss weights the cross-entropy by total/count per class.
	BalanceLoss bool `json:"balance_loss" yaml:"balance_loss"`

	// Augment enables random transforms on training images.
	Augment      bool                 `json:"augment" yaml:"augment"`
	Augmentation images.AugmentConfig `json:"augmentation" yaml:"augmentation"`

	// LogEvery logs the running loss every n batches; 0 disables it.
	LogEvery int `json:"log_every" yaml:"log_every"`
	// ReportInterval starts the runtime profiler's periodic report; 0 disables it.
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`
}

// DefaultConfig returns the standard fine-tuning recipe.
//
// @example
// cfg := training.DefaultConfig()
// cfg.Epochs = 2
func DefaultConfig() Config {
	return Config{
		TrainDir:       "dataset/train",
		ValDir:         "dataset/val",
		CheckpointPath: "program_classifier.ckpt",
		Arch:           models.DefaultArch,
		BatchSize:      16,
		Epochs:         8,
		LearningRate:   1e-4,
		Seed:           42,
		SampleFactor:   2,
		BalanceSampler: true,
		BalanceLoss:    true,
		Augment:        true,
		Augmentation:   images.DefaultAugmentConfig(),
		LogEvery:       0,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.TrainDir == "":
		return errors.New("train_dir is required")
	case c.ValDir == "":
		return errors.New("val_dir is required")
	case c.CheckpointPath == "":
		return errors.New("checkpoint_path is required")
	case c.BatchSize <= 0:
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	case c.Epochs <= 0:
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	case c.LearningRate <= 0:
		return errors.Errorf("learning_rate must be positive, got %g", c.LearningRate)
	case c.SampleFactor <= 0:
		return errors.Errorf("sample_factor must be positive, got %d", c.SampleFactor)
	}
	_, err := models.LookupArch(c.Arch)
	return err
}
