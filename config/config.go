// Package config aggregates the settings of the commands. Values come from
// the package defaults, then an optional YAML file, then DOCCLASS_*
// environment variables (optionally loaded from a .env file). Command-line
// flags are applied last by the commands themselves.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nvr-ai/doc-classifier/inference"
	"github.com/nvr-ai/doc-classifier/locator"
	"github.com/nvr-ai/doc-classifier/preprocess"
	"github.com/nvr-ai/doc-classifier/training"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DOCCLASS_"

// InferenceConfig selects and locates the classifier.
type InferenceConfig struct {
	// Backend is "gorgonia" or "onnx".
	Backend string `json:"backend" yaml:"backend"`
	// Checkpoint is used by the gorgonia backend.
	Checkpoint string `json:"checkpoint" yaml:"checkpoint"`
	// ONNXModel and ONNXMetadata are used by the onnx backend.
	ONNXModel    string `json:"onnx_model" yaml:"onnx_model"`
	ONNXMetadata string `json:"onnx_metadata" yaml:"onnx_metadata"`
	// Device is "cpu", "cuda" or "auto".
	Device string `json:"device" yaml:"device"`
	// DemoDir holds the demo images used when no image is given.
	DemoDir string `json:"demo_dir" yaml:"demo_dir"`
	// Preprocess overrides the model's input preprocessing.
	Preprocess *preprocess.Config `json:"preprocess,omitempty" yaml:"preprocess,omitempty"`
}

// Config is the full application configuration.
type Config struct {
	Training  training.Config `json:"training" yaml:"training"`
	Inference InferenceConfig `json:"inference" yaml:"inference"`
	Locator   locator.Config  `json:"locator" yaml:"locator"`
}

// Default returns the defaults of every package.
func Default() *Config {
	train := training.DefaultConfig()
	return &Config{
		Training: train,
		Inference: InferenceConfig{
			Backend:    string(inference.BackendGorgonia),
			Checkpoint: train.CheckpointPath,
			Device:     string(inference.DeviceAuto),
			DemoDir:    inference.DemoDir,
		},
		Locator: locator.DefaultConfig(),
	}
}

// Load builds the configuration.
//
// Arguments:
//   - path: Optional YAML file; empty skips it.
//   - envFiles: Optional .env files; missing files are ignored.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: When a file cannot be parsed or an override is malformed.
//
// @example
// cfg, err := config.Load("docclass.yaml", ".env")
//
//	if err != nil {
//	    log.Fatalf("Failed to load config: %v", err)
//	}
func Load(path string, envFiles ...string) (*Config, error) {
	if err := LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads the existing files among paths into the environment
// without overriding variables that are already set.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(existing...), "failed to load .env")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	return v, errors.Wrapf(err, "%s%s", EnvPrefix, key)
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, errors.Wrapf(err, "%s%s", EnvPrefix, key)
}

// ApplyEnv overrides fields from DOCCLASS_* variables.
func (c *Config) ApplyEnv() error {
	t := &c.Training
	t.TrainDir = getEnv("TRAIN_DIR", t.TrainDir)
	t.ValDir = getEnv("VAL_DIR", t.ValDir)
	t.CheckpointPath = getEnv("CHECKPOINT", t.CheckpointPath)
	t.Arch = getEnv("ARCH", t.Arch)
	t.Backbone = getEnv("BACKBONE", t.Backbone)

	var err error
	if t.Epochs, err = getEnvInt("EPOCHS", t.Epochs); err != nil {
		return err
	}
	if t.BatchSize, err = getEnvInt("BATCH_SIZE", t.BatchSize); err != nil {
		return err
	}
	if t.LearningRate, err = getEnvFloat("LEARNING_RATE", t.LearningRate); err != nil {
		return err
	}
	seed, err := getEnvInt("SEED", int(t.Seed))
	if err != nil {
		return err
	}
	t.Seed = int64(seed)

	in := &c.Inference
	in.Backend = getEnv("BACKEND", in.Backend)
	in.Checkpoint = getEnv("CHECKPOINT", in.Checkpoint)
	in.ONNXModel = getEnv("ONNX_MODEL", in.ONNXModel)
	in.ONNXMetadata = getEnv("ONNX_METADATA", in.ONNXMetadata)
	in.Device = getEnv("DEVICE", in.Device)
	in.DemoDir = getEnv("DEMO_DIR", in.DemoDir)

	l := &c.Locator
	threshold, err := getEnvFloat("THRESHOLD", float64(l.Threshold))
	if err != nil {
		return err
	}
	l.Threshold = float32(threshold)
	if langs := getEnv("LANGUAGES", ""); langs != "" {
		l.Languages = strings.FieldsFunc(langs, func(r rune) bool { return r == ',' || r == '+' || r == ' ' })
	}
	l.Keyword = getEnv("KEYWORD", l.Keyword)
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Training.Validate(); err != nil {
		return errors.Wrap(err, "training")
	}
	if err := c.Locator.Validate(); err != nil {
		return errors.Wrap(err, "locator")
	}
	if _, err := inference.ParseBackend(c.Inference.Backend); err != nil {
		return errors.Wrap(err, "inference")
	}
	if _, err := inference.ParseDevice(c.Inference.Device); err != nil {
		return errors.Wrap(err, "inference")
	}
	if p := c.Inference.Preprocess; p != nil {
		if err := p.Validate(); err != nil {
			return errors.Wrap(err, "inference preprocess")
		}
	}
	return nil
}

// Builder returns an engine builder for the configured backend and device.
func (c InferenceConfig) Builder(opts ...inference.Option) (*inference.EngineBuilder, error) {
	backend, err := inference.ParseBackend(c.Backend)
	if err != nil {
		return nil, err
	}
	device, err := inference.ParseDevice(c.Device)
	if err != nil {
		return nil, err
	}
	base := []inference.Option{inference.WithDevice(device)}
	if c.Preprocess != nil {
		base = append(base, inference.WithPreprocess(c.Preprocess))
	}
	return inference.NewEngineBuilder().
		WithBackend(backend).
		WithCheckpoint(c.Checkpoint).
		WithONNXModel(c.ONNXModel, c.ONNXMetadata).
		WithOptions(append(base, opts...)...), nil
}
