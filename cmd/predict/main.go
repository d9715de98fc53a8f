// Command predict classifies one page image and prints its label and
// confidence as JSON. Without an image argument the first demo image is used.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/nvr-ai/doc-classifier/benchmark"
	"github.com/nvr-ai/doc-classifier/config"
	"github.com/nvr-ai/doc-classifier/inference"
)

func main() {
	var (
		configPath   string
		envFile      string
		checkpoint   string
		backend      string
		device       string
		onnxModel    string
		onnxMetadata string
		demoDir      string
		verbose      bool
		bench        int
		benchOut     string
	)
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.StringVar(&envFile, "env", ".env", "Optional .env file with DOCCLASS_* overrides")
	flag.StringVar(&checkpoint, "checkpoint", "", "Checkpoint written by train (gorgonia backend)")
	flag.StringVar(&backend, "backend", "", "Classifier backend: gorgonia or onnx")
	flag.StringVar(&device, "device", "", "Device: cpu, cuda or auto")
	flag.StringVar(&onnxModel, "onnx-model", "", "Exported .onnx model (onnx backend)")
	flag.StringVar(&onnxMetadata, "onnx-metadata", "", "Model metadata JSON (onnx backend)")
	flag.StringVar(&demoDir, "demo-dir", "", "Directory of the demo images")
	flag.BoolVar(&verbose, "v", false, "Also print the full probability distribution")
	flag.IntVar(&bench, "bench", 0, "After predicting, time this many predictions over the image (or the demo directory)")
	flag.StringVar(&benchOut, "bench-out", "", "Directory for the benchmark results JSON")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [image]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	in := &cfg.Inference
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "checkpoint":
			in.Checkpoint = checkpoint
		case "backend":
			in.Backend = backend
		case "device":
			in.Device = device
		case "onnx-model":
			in.ONNXModel = onnxModel
		case "onnx-metadata":
			in.ONNXMetadata = onnxMetadata
		case "demo-dir":
			in.DemoDir = demoDir
		}
	})

	path := flag.Arg(0)
	corpus := path
	if path == "" {
		corpus = in.DemoDir
		path = inference.DemoImage(in.DemoDir)
		log.Printf("no image given, using demo image %s", path)
	}

	builder, err := in.Builder()
	if err != nil {
		log.Fatalf("Invalid inference config: %v", err)
	}
	clf, err := builder.Build()
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	defer clf.Close()

	pred, err := clf.Predict(context.Background(), path)
	if err != nil {
		log.Fatalf("Failed to classify %s: %v", path, err)
	}

	data, err := json.Marshal(pred)
	if err != nil {
		log.Fatalf("Failed to encode prediction: %v", err)
	}
	fmt.Println(string(data))

	if verbose {
		for i, name := range clf.Classes() {
			fmt.Printf("  %-12s %.4f\n", name, pred.Probabilities[i])
		}
	}

	if bench > 0 {
		runBenchmark(clf, corpus, bench, benchOut)
	}
}

func runBenchmark(clf inference.Classifier, corpus string, iterations int, outDir string) {
	suite := benchmark.NewSuite(clf, outDir)
	if err := suite.LoadCorpus(corpus); err != nil {
		log.Fatalf("Failed to load benchmark corpus: %v", err)
	}
	scenario := benchmark.NewScenarioBuilder("predict").WithIterations(iterations).Build()
	m, err := suite.RunScenario(context.Background(), scenario)
	if err != nil {
		log.Fatalf("Benchmark failed: %v", err)
	}
	fmt.Printf("⏱️ %d predictions: mean=%v p50=%v p95=%v max=%v (%.1f img/s, errors %.1f%%)\n",
		iterations, m.MeanLatency, m.P50Latency, m.P95Latency, m.MaxLatency, m.ImagesPerSecond, m.ErrorRate*100)
	if outDir != "" {
		path, err := suite.SaveResults()
		if err != nil {
			log.Fatalf("Failed to save benchmark results: %v", err)
		}
		fmt.Printf("✅ results saved to %s\n", path)
	}
}
