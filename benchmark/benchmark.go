// Package benchmark - Latency and throughput measurement for classifiers.
package benchmark

import (
	"time"
)

// Scenario defines one benchmark configuration.
type Scenario struct {
	Name       string `json:"name"`
	Iterations int    `json:"iterations"`
	WarmupRuns int    `json:"warmup_runs"`
	// Decode re-reads and decodes the image file on every iteration instead
	// of classifying pre-decoded images.
	Decode bool `json:"decode"`
}

// PerformanceMetrics captures the outcome of a scenario.
type PerformanceMetrics struct {
	Scenario        Scenario      `json:"scenario"`
	Timestamp       time.Time     `json:"timestamp"`
	TotalDuration   time.Duration `json:"total_duration"`
	MeanLatency     time.Duration `json:"mean_latency"`
	P50Latency      time.Duration `json:"p50_latency"`
	P95Latency      time.Duration `json:"p95_latency"`
	MaxLatency      time.Duration `json:"max_latency"`
	ImagesPerSecond float64       `json:"images_per_second"`
	MemoryStats     MemoryMetrics `json:"memory_stats"`
	// Labels counts the predicted labels over the measured iterations.
	Labels    map[string]int `json:"labels"`
	ErrorRate float64        `json:"error_rate"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
}

// ScenarioBuilder builds scenarios fluently.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder starts a scenario with 100 iterations and 5 warmup runs.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{scenario: Scenario{Name: name, Iterations: 100, WarmupRuns: 5}}
}

// WithIterations sets the number of measured runs.
func (b *ScenarioBuilder) WithIterations(n int) *ScenarioBuilder {
	b.scenario.Iterations = n
	return b
}

// WithWarmupRuns sets the number of unmeasured runs.
func (b *ScenarioBuilder) WithWarmupRuns(n int) *ScenarioBuilder {
	b.scenario.WarmupRuns = n
	return b
}

// WithDecode includes file decoding in every measured run.
func (b *ScenarioBuilder) WithDecode(decode bool) *ScenarioBuilder {
	b.scenario.Decode = decode
	return b
}

// Build returns the scenario.
func (b *ScenarioBuilder) Build() Scenario {
	return b.scenario
}

// percentile returns the p-th percentile of sorted durations.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted)-1) + 0.5)
	return sorted[idx]
}
