package training

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/nvr-ai/doc-classifier/dataset"
	"github.com/nvr-ai/doc-classifier/models"
	"github.com/nvr-ai/doc-classifier/preprocess"
	"github.com/nvr-ai/doc-classifier/profiler"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
)

// EpochStats summarizes one epoch.
type EpochStats struct {
	Epoch int `json:"epoch"`
	// Loss is the mean weighted cross-entropy over the drawn samples.
	Loss          float64       `json:"loss"`
	TrainAccuracy float64       `json:"train_accuracy"`
	ValAccuracy   float64       `json:"val_accuracy"`
	Duration      time.Duration `json:"duration"`
}

// Report is the outcome of a completed run.
type Report struct {
	RunID          uuid.UUID    `json:"run_id"`
	Arch           string       `json:"arch"`
	Classes        []string     `json:"classes"`
	Counts         []int        `json:"counts"`
	ClassWeights   []float64    `json:"class_weights"`
	Epochs         []EpochStats `json:"epochs"`
	CheckpointPath string       `json:"checkpoint_path"`
}

// Trainer runs the fine-tuning loop.
type Trainer struct {
	cfg      Config
	logger   *log.Logger
	profiler *profiler.Profiler
	onEpoch  func(EpochStats)
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger (default log.Default()).
func WithLogger(l *log.Logger) Option {
	return func(t *Trainer) { t.logger = l }
}

// WithProfiler records timings and metrics into p.
func WithProfiler(p *profiler.Profiler) Option {
	return func(t *Trainer) { t.profiler = p }
}

// WithEpochCallback is called after every epoch's evaluation.
func WithEpochCallback(fn func(EpochStats)) Option {
	return func(t *Trainer) { t.onEpoch = fn }
}

// NewTrainer validates cfg and returns a trainer.
func NewTrainer(cfg Config, opts ...Option) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid training config")
	}
	t := &Trainer{cfg: cfg}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = log.Default()
	}
	if t.profiler == nil {
		t.profiler = profiler.New(profiler.Options{ReportInterval: cfg.ReportInterval, Logger: t.logger})
	}
	return t, nil
}

// Run trains for the configured number of epochs, evaluating on both
// splits after each one, then saves the last weights. Nothing is saved
// when the context is cancelled.
//
// @example
// trainer, _ := training.NewTrainer(training.DefaultConfig())
// report, err := trainer.Run(ctx)
func (t *Trainer) Run(ctx context.Context) (*Report, error) {
	cfg := t.cfg
	arch, err := models.LookupArch(cfg.Arch)
	if err != nil {
		return nil, err
	}
	if cfg.ReportInterval > 0 {
		t.profiler.Start()
		defer t.profiler.Stop()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	evalPipe := preprocess.NewEvalPipeline(preprocess.ImageNetConfig(arch.InputSize))
	trainPipe := evalPipe
	if cfg.Augment {
		trainPipe = preprocess.NewTrainPipeline(preprocess.ImageNetConfig(arch.InputSize),
			cfg.Augmentation, rand.New(rand.NewSource(cfg.Seed+1)))
	}

	train, err := dataset.NewImageFolder(cfg.TrainDir, trainPipe)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load training split")
	}
	val, err := dataset.NewImageFolder(cfg.ValDir, evalPipe)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load validation split")
	}
	if err := train.SameClasses(val); err != nil {
		return nil, err
	}
	trainEval := train.WithPipeline(evalPipe)

	counts := train.Counts()
	classWeights, err := dataset.ClassWeights(counts)
	if err != nil {
		return nil, err
	}
	lossWeights := classWeights
	if !cfg.BalanceLoss {
		lossWeights = make([]float64, len(counts))
		for i := range lossWeights {
			lossWeights[i] = 1
		}
	}

	var sampler *dataset.WeightedSampler
	if cfg.BalanceSampler {
		sampler, err = dataset.NewWeightedSampler(
			dataset.SampleWeights(train.Labels(), counts), cfg.SampleFactor*train.Len(), uint64(cfg.Seed)+2)
		if err != nil {
			return nil, err
		}
	}

	params, err := t.initialParams(arch, len(train.Classes), rng)
	if err != nil {
		return nil, err
	}

	net, err := models.NewNetwork(arch, params, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	loss, err := newWeightedLoss(net, lossWeights)
	if err != nil {
		return nil, err
	}
	if _, err := G.Grad(loss.cost, net.Learnables()...); err != nil {
		return nil, errors.Wrap(err, "failed to differentiate loss")
	}
	vm := G.NewTapeMachine(net.Graph(), G.BindDualValues(net.Learnables()...))
	defer vm.Close()
	solver := G.NewAdamSolver(G.WithLearnRate(cfg.LearningRate))

	evalNet, err := models.NewNetwork(arch, params, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	defer evalNet.Close()

	report := &Report{
		RunID:          uuid.New(),
		Arch:           arch.Name,
		Classes:        train.Classes,
		Counts:         counts,
		ClassWeights:   classWeights,
		CheckpointPath: cfg.CheckpointPath,
	}
	t.logger.Printf("🚀 training %s on %d images, classes=%v counts=%v augment=%t",
		arch.Name, train.Len(), train.Classes, counts, train.Pipeline().Augmented())

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()

		var order []int
		if sampler != nil {
			order = sampler.Sample()
		} else {
			order = dataset.Shuffled(train.Len(), rng)
		}

		var lossSum float64
		drawn := 0
		for b, batch := range dataset.Batches(order, cfg.BatchSize) {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrapf(err, "training interrupted in epoch %d", epoch)
			}

			done := t.profiler.StartOperation("load_batch")
			data, labels, err := train.LoadBatch(batch)
			done()
			if err != nil {
				return nil, err
			}

			done = t.profiler.StartOperation("train_step")
			batchLoss, err := t.step(vm, solver, net, loss, data, labels)
			done()
			if err != nil {
				return nil, errors.Wrapf(err, "epoch %d batch %d", epoch, b)
			}
			t.profiler.RecordMetric("loss", batchLoss)

			lossSum += batchLoss * float64(len(labels))
			drawn += len(labels)
			if cfg.LogEvery > 0 && (b+1)%cfg.LogEvery == 0 {
				t.logger.Printf("   epoch %d batch %d running_loss=%.4f", epoch, b+1, lossSum/float64(drawn))
			}
		}

		if err := evalNet.LoadParams(net.ExportParams()); err != nil {
			return nil, err
		}
		done := t.profiler.StartOperation("evaluate")
		trainRes, err := Evaluate(ctx, evalNet, trainEval)
		if err != nil {
			return nil, err
		}
		valRes, err := Evaluate(ctx, evalNet, val)
		done()
		if err != nil {
			return nil, err
		}

		stats := EpochStats{
			Epoch:         epoch,
			Loss:          lossSum / float64(max(drawn, 1)),
			TrainAccuracy: trainRes.Accuracy,
			ValAccuracy:   valRes.Accuracy,
			Duration:      time.Since(start),
		}
		report.Epochs = append(report.Epochs, stats)
		t.profiler.RecordMetric("train_acc", stats.TrainAccuracy)
		t.profiler.RecordMetric("val_acc", stats.ValAccuracy)
		t.logger.Printf("📈 epoch %d/%d loss=%.4f train_acc=%.4f val_acc=%.4f (%v)",
			epoch, cfg.Epochs, stats.Loss, stats.TrainAccuracy, stats.ValAccuracy, stats.Duration.Truncate(time.Millisecond))
		if t.onEpoch != nil {
			t.onEpoch(stats)
		}
	}

	ckpt := models.NewCheckpoint(report.RunID, arch, train.Classes, net.ExportParams())
	if err := ckpt.Save(cfg.CheckpointPath); err != nil {
		return nil, err
	}
	t.logger.Printf("✅ saved to %s", cfg.CheckpointPath)
	t.profiler.Log()
	return report, nil
}

// initialParams initializes the network and, when configured, copies the
// backbone of an existing checkpoint into it.
func (t *Trainer) initialParams(arch models.Arch, numClasses int, rng *rand.Rand) (models.Params, error) {
	params := models.InitParams(arch, numClasses, rng)
	if t.cfg.Backbone == "" {
		return params, nil
	}
	src, err := models.LoadCheckpoint(t.cfg.Backbone)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load backbone")
	}
	if src.Arch != arch.Name {
		return nil, errors.Errorf("backbone is %s, training %s", src.Arch, arch.Name)
	}
	n, err := params.LoadBackbone(src.ToParams())
	if err != nil {
		return nil, err
	}
	t.logger.Printf("🔁 backbone: %d tensors from %s (run %s)", n, t.cfg.Backbone, src.RunID)
	return params, nil
}

// step runs forward and backward on one batch and applies an Adam update.
func (t *Trainer) step(vm G.VM, solver G.Solver, net *models.Network, loss *weightedLoss, data []float32, labels []int) (float64, error) {
	defer vm.Reset()

	if _, err := net.SetInput(data); err != nil {
		return 0, err
	}
	if err := loss.bind(labels); err != nil {
		return 0, err
	}
	if err := vm.RunAll(); err != nil {
		return 0, errors.Wrap(err, "forward/backward failed")
	}
	value, err := loss.value()
	if err != nil {
		return 0, err
	}
	if err := solver.Step(G.NodesToValueGrads(net.Learnables())); err != nil {
		return 0, errors.Wrap(err, "optimizer step failed")
	}
	return value, nil
}
