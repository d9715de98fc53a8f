package benchmark

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nvr-ai/doc-classifier/images"
	"github.com/nvr-ai/doc-classifier/inference"
	"github.com/pkg/errors"
)

// ImageFile is one corpus entry.
type ImageFile struct {
	Path  string
	Image image.Image
}

// Suite manages and executes benchmark scenarios against one classifier.
type Suite struct {
	classifier inference.Classifier
	outputDir  string
	corpus     []ImageFile
	mu         sync.RWMutex
	results    []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - classifier: The classifier under test. The suite does not close it.
//   - outputDir: Where SaveResults writes; empty disables saving.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(classifier inference.Classifier, outputDir string) *Suite {
	return &Suite{classifier: classifier, outputDir: outputDir}
}

// LoadCorpus decodes the image at path, or every image directly inside it
// when path is a directory, in name order.
func (s *Suite) LoadCorpus(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "failed to stat corpus")
	}
	paths := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return errors.Wrap(err, "failed to read corpus directory")
		}
		paths = paths[:0]
		for _, e := range entries {
			if !e.IsDir() && images.IsImageFile(e.Name()) {
				paths = append(paths, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(paths)
	}

	corpus := make([]ImageFile, 0, len(paths))
	for _, p := range paths {
		_, img, err := images.Load(p)
		if err != nil {
			return err
		}
		corpus = append(corpus, ImageFile{Path: p, Image: img})
	}
	if len(corpus) == 0 {
		return errors.Errorf("no images found in %s", path)
	}

	s.mu.Lock()
	s.corpus = corpus
	s.mu.Unlock()
	return nil
}

// RunScenario executes a single benchmark scenario over the corpus.
func (s *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	s.mu.RLock()
	corpus := s.corpus
	s.mu.RUnlock()
	if len(corpus) == 0 {
		return nil, errors.New("empty corpus, call LoadCorpus first")
	}
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("iterations must be positive, got %d", scenario.Iterations)
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if _, err := s.predict(ctx, corpus[i%len(corpus)], scenario); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	metrics := &PerformanceMetrics{Scenario: scenario, Timestamp: time.Now(), Labels: make(map[string]int)}
	latencies := make([]time.Duration, 0, scenario.Iterations)
	failures := 0
	start := time.Now()
	for i := 0; i < scenario.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t0 := time.Now()
		pred, err := s.predict(ctx, corpus[i%len(corpus)], scenario)
		if err != nil {
			failures++
			continue
		}
		latencies = append(latencies, time.Since(t0))
		metrics.Labels[pred.Label]++
	}
	metrics.TotalDuration = time.Since(start)

	var endMem runtime.MemStats
	runtime.ReadMemStats(&endMem)
	metrics.MemoryStats = MemoryMetrics{
		AllocBytes:      endMem.Alloc,
		TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
		SysBytes:        endMem.Sys,
		NumGC:           endMem.NumGC - startMem.NumGC,
		HeapAllocBytes:  endMem.HeapAlloc,
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	if n := len(latencies); n > 0 {
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		metrics.MeanLatency = sum / time.Duration(n)
		metrics.P50Latency = percentile(latencies, 0.50)
		metrics.P95Latency = percentile(latencies, 0.95)
		metrics.MaxLatency = latencies[n-1]
	}
	if secs := metrics.TotalDuration.Seconds(); secs > 0 {
		metrics.ImagesPerSecond = float64(len(latencies)) / secs
	}
	metrics.ErrorRate = float64(failures) / float64(scenario.Iterations)

	s.mu.Lock()
	s.results = append(s.results, *metrics)
	s.mu.Unlock()
	return metrics, nil
}

func (s *Suite) predict(ctx context.Context, f ImageFile, scenario Scenario) (inference.Prediction, error) {
	if scenario.Decode {
		return s.classifier.Predict(ctx, f.Path)
	}
	return s.classifier.PredictImage(ctx, f.Image)
}

// Results returns the metrics of every scenario run so far.
func (s *Suite) Results() []PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]PerformanceMetrics(nil), s.results...)
}

// resultsStamp is the local-time layout in result file names.
const resultsStamp = "20060102_150405"

// SaveResults writes the results as indented JSON to
// <outputDir>/benchmark_YYYYMMDD_HHMMSS.json, stamped with the local time,
// and returns the path.
func (s *Suite) SaveResults() (string, error) {
	if s.outputDir == "" {
		return "", errors.New("no output directory configured")
	}
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create output directory")
	}
	data, err := json.MarshalIndent(s.Results(), "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal results")
	}
	path := filepath.Join(s.outputDir, "benchmark_"+time.Now().Format(resultsStamp)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write results")
	}
	return path, nil
}
