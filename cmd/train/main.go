// Command train fine-tunes the program sheet classifier on an image folder
// dataset and writes the checkpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nvr-ai/doc-classifier/config"
	"github.com/nvr-ai/doc-classifier/models"
	"github.com/nvr-ai/doc-classifier/profiler"
	"github.com/nvr-ai/doc-classifier/training"
)

func main() {
	var (
		configPath     string
		envFile        string
		trainDir       string
		valDir         string
		out            string
		arch           string
		backbone       string
		epochs         int
		batchSize      int
		learningRate   float64
		seed           int64
		noAugment      bool
		noBalance      bool
		reportInterval time.Duration
		reportPath     string
	)
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.StringVar(&envFile, "env", ".env", "Optional .env file with DOCCLASS_* overrides")
	flag.StringVar(&trainDir, "train", "", "Training split, one folder per class")
	flag.StringVar(&valDir, "val", "", "Validation split, same classes as -train")
	flag.StringVar(&out, "out", "", "Checkpoint output path")
	flag.StringVar(&arch, "arch", "", "Architecture ("+strings.Join(models.ArchNames(), ", ")+")")
	flag.StringVar(&backbone, "backbone", "", "Checkpoint whose feature extractor seeds the network")
	flag.IntVar(&epochs, "epochs", 0, "Number of epochs")
	flag.IntVar(&batchSize, "batch-size", 0, "Batch size")
	flag.Float64Var(&learningRate, "lr", 0, "Adam learning rate")
	flag.Int64Var(&seed, "seed", 0, "Random seed")
	flag.BoolVar(&noAugment, "no-augment", false, "Disable training augmentation")
	flag.BoolVar(&noBalance, "no-balance-loss", false, "Use an unweighted loss (the sampler still balances)")
	flag.DurationVar(&reportInterval, "report-interval", 0, "Runtime profiler report interval (0 disables it)")
	flag.StringVar(&reportPath, "report", "", "Write the run report as JSON to this path")
	flag.Parse()

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	t := &cfg.Training
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "train":
			t.TrainDir = trainDir
		case "val":
			t.ValDir = valDir
		case "out":
			t.CheckpointPath = out
		case "arch":
			t.Arch = arch
		case "backbone":
			t.Backbone = backbone
		case "epochs":
			t.Epochs = epochs
		case "batch-size":
			t.BatchSize = batchSize
		case "lr":
			t.LearningRate = learningRate
		case "seed":
			t.Seed = seed
		case "no-augment":
			t.Augment = !noAugment
		case "no-balance-loss":
			t.BalanceLoss = !noBalance
		case "report-interval":
			t.ReportInterval = reportInterval
		}
	})

	fmt.Printf("⚙️ %s: train=%s val=%s epochs=%d batch=%d lr=%g\n",
		t.Arch, t.TrainDir, t.ValDir, t.Epochs, t.BatchSize, t.LearningRate)

	prof := profiler.New(profiler.Options{ReportInterval: t.ReportInterval})
	trainer, err := training.NewTrainer(*t, training.WithProfiler(prof))
	if err != nil {
		log.Fatalf("Failed to create trainer: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := trainer.Run(ctx)
	if err != nil {
		log.Fatalf("Training failed: %v", err)
	}

	fmt.Printf("📊 run %s classes=%v counts=%v\n", report.RunID, report.Classes, report.Counts)

	if reportPath != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatalf("Failed to encode report: %v", err)
		}
		if err := os.WriteFile(reportPath, data, 0o644); err != nil {
			log.Fatalf("Failed to write report: %v", err)
		}
	}
}
