// Package profiler tracks operation timings, scalar training metrics and
// process memory while a long job runs, and reports them periodically.
package profiler

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"
)

// MetricsCollector is polled on every sample tick for extra metrics.
type MetricsCollector interface {
	CollectMetrics() map[string]float64
}

// Options configures a Profiler.
type Options struct {
	// ReportInterval specifies how often to emit status reports (default: 30s).
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`
	// SampleInterval specifies how often to sample memory and collectors (default: 1s).
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`
	// MaxSamples bounds the window kept per metric and operation (default: 600).
	MaxSamples int `json:"max_samples" yaml:"max_samples"`
	// Logger receives the periodic reports (default: log.Default()).
	Logger *log.Logger `json:"-" yaml:"-"`
}

// Profiler tracks runtime statistics. It is safe for concurrent use.
type Profiler struct {
	opts Options

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	startTime time.Time
	running   bool

	memStats   runtime.MemStats
	collectors []MetricsCollector
	metrics    map[string]*window[float64]
	operations map[string]*window[time.Duration]
}

// window keeps the last size values plus running extremes and count.
type window[T float64 | time.Duration] struct {
	values []T
	sum    T
	min    T
	max    T
	count  int64
	size   int
}

func newWindow[T float64 | time.Duration](first T, size int) *window[T] {
	return &window[T]{min: first, max: first, size: size, values: make([]T, 0, min(size, 64))}
}

func (w *window[T]) add(v T) {
	w.values = append(w.values, v)
	if len(w.values) > w.size {
		w.sum -= w.values[0]
		w.values = w.values[1:]
	}
	w.sum += v
	w.count++
	if v < w.min {
		w.min = v
	}
	if v > w.max {
		w.max = v
	}
}

func (w *window[T]) avg() T {
	if len(w.values) == 0 {
		return 0
	}
	return w.sum / T(len(w.values))
}

// New creates a profiler with defaults filled in.
//
// Arguments:
// - opts: Configuration options for the profiler.
//
// Returns:
// - A configured, stopped Profiler.
func New(opts Options) *Profiler {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 30 * time.Second
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 600
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Profiler{
		opts:       opts,
		startTime:  time.Now(),
		metrics:    make(map[string]*window[float64]),
		operations: make(map[string]*window[time.Duration]),
	}
}

// Start begins sampling and periodic reporting. Calling Start on a running
// profiler does nothing.
func (p *Profiler) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.startTime = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(2)
	go p.loop(ctx, p.opts.SampleInterval, p.sample)
	go p.loop(ctx, p.opts.ReportInterval, p.Log)
}

func (p *Profiler) loop(ctx context.Context, every time.Duration, fn func()) {
	defer p.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Stop halts the background goroutines and waits for them.
func (p *Profiler) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// AddMetricsCollector registers a collector polled on every sample tick.
func (p *Profiler) AddMetricsCollector(c MetricsCollector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collectors = append(p.collectors, c)
}

// RecordMetric records one value of a named scalar, such as a batch loss.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordMetricLocked(name, value)
}

func (p *Profiler) recordMetricLocked(name string, value float64) {
	w, ok := p.metrics[name]
	if !ok {
		w = newWindow(value, p.opts.MaxSamples)
		p.metrics[name] = w
	}
	w.add(value)
}

// StartOperation begins timing an operation and returns the function that
// ends it.
//
// @example
// done := prof.StartOperation("train_step")
// defer done()
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordDuration(name, time.Since(start))
	}
}

// RecordDuration records one completed operation.
func (p *Profiler) RecordDuration(name string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.operations[name]
	if !ok {
		w = newWindow(d, p.opts.MaxSamples)
		p.operations[name] = w
	}
	w.add(d)
}

func (p *Profiler) sample() {
	p.mu.Lock()
	defer p.mu.Unlock()

	runtime.ReadMemStats(&p.memStats)
	for _, c := range p.collectors {
		for name, v := range c.CollectMetrics() {
			p.recordMetricLocked(name, v)
		}
	}
}

// MetricStats summarizes a scalar metric over its window.
type MetricStats struct {
	Name  string  `json:"name"`
	Avg   float64 `json:"avg"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Last  float64 `json:"last"`
	Count int64   `json:"count"`
}

// OperationStats summarizes the timings of an operation over its window.
type OperationStats struct {
	Name  string        `json:"name"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Total time.Duration `json:"total"`
	Count int64         `json:"count"`
}

// Snapshot is a point-in-time copy of all statistics, sorted by name.
type Snapshot struct {
	Uptime     time.Duration    `json:"uptime"`
	Goroutines int              `json:"goroutines"`
	HeapAlloc  uint64           `json:"heap_alloc"`
	NumGC      uint32           `json:"num_gc"`
	Metrics    []MetricStats    `json:"metrics"`
	Operations []OperationStats `json:"operations"`
}

// Snapshot returns the current statistics.
func (p *Profiler) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	runtime.ReadMemStats(&p.memStats)
	s := Snapshot{
		Uptime:     time.Since(p.startTime),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  p.memStats.HeapAlloc,
		NumGC:      p.memStats.NumGC,
	}
	for name, w := range p.metrics {
		s.Metrics = append(s.Metrics, MetricStats{
			Name: name, Avg: w.avg(), Min: w.min, Max: w.max,
			Last: w.values[len(w.values)-1], Count: w.count,
		})
	}
	for name, w := range p.operations {
		s.Operations = append(s.Operations, OperationStats{
			Name: name, Avg: w.avg(), Min: w.min, Max: w.max,
			Total: w.sum, Count: w.count,
		})
	}
	sort.Slice(s.Metrics, func(i, j int) bool { return s.Metrics[i].Name < s.Metrics[j].Name })
	sort.Slice(s.Operations, func(i, j int) bool { return s.Operations[i].Name < s.Operations[j].Name })
	return s
}

// Log writes a status report to the logger.
func (p *Profiler) Log() {
	s := p.Snapshot()
	l := p.opts.Logger

	l.Printf("📊 uptime=%v goroutines=%d heap=%s gc=%d",
		s.Uptime.Truncate(time.Millisecond), s.Goroutines, formatBytes(s.HeapAlloc), s.NumGC)
	for _, m := range s.Metrics {
		l.Printf("📊   %s: last=%.4f avg=%.4f min=%.4f max=%.4f samples=%d",
			m.Name, m.Last, m.Avg, m.Min, m.Max, m.Count)
	}
	for _, o := range s.Operations {
		l.Printf("⏱️   %s: avg=%v min=%v max=%v count=%d",
			o.Name, o.Avg.Truncate(time.Microsecond), o.Min.Truncate(time.Microsecond),
			o.Max.Truncate(time.Microsecond), o.Count)
	}
}

// formatBytes formats byte counts in human-readable format.
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
