// Package benchmark - Measures recognition throughput and latency over a frame corpus.
package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/nvr-ai/go-recognize/images"
	"github.com/nvr-ai/go-recognize/models/postprocess"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Recognizer classifies frames. inference.Pipeline and inference.Pool implement it.
type Recognizer interface {
	Classify(px *images.Pixels) ([]postprocess.Result, error)
}

// Scenario defines a specific test configuration.
type Scenario struct {
	Name string `json:"name" yaml:"name"`
	// Iterations is the number of measured recognitions.
	Iterations int `json:"iterations" yaml:"iterations"`
	// WarmupRuns are recognized sequentially before measuring.
	WarmupRuns int `json:"warmup_runs" yaml:"warmup_runs"`
	// Concurrency is the number of goroutines recognizing at once. Zero means one.
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// LatencyMetrics summarizes per frame latency in milliseconds.
type LatencyMetrics struct {
	Mean float64 `json:"mean_ms"`
	P50  float64 `json:"p50_ms"`
	P95  float64 `json:"p95_ms"`
	Max  float64 `json:"max_ms"`
}

// PerformanceMetrics captures detailed performance data
type PerformanceMetrics struct {
	Scenario        Scenario       `json:"scenario"`
	Timestamp       time.Time      `json:"timestamp"`
	TotalDuration   time.Duration  `json:"total_duration"`
	FramesPerSecond float64        `json:"frames_per_second"`
	Latency         LatencyMetrics `json:"latency"`
	MemoryStats     MemoryMetrics  `json:"memory_stats"`
	CPUStats        CPUMetrics     `json:"cpu_stats"`
	ResultCount     int            `json:"result_count"`
	ErrorRate       float64        `json:"error_rate"`
}

// MemoryMetrics captures memory usage statistics
type MemoryMetrics struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapSysBytes    uint64 `json:"heap_sys_bytes"`
}

// CPUMetrics captures CPU usage statistics
type CPUMetrics struct {
	NumCPU     int `json:"num_cpu"`
	GOMAXPROCS int `json:"gomaxprocs"`
}

// Suite manages and executes benchmark scenarios against one recognizer.
type Suite struct {
	recognizer Recognizer
	frames     []*images.Pixels
	outputDir  string

	mu        sync.RWMutex
	scenarios []Scenario
	results   []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - recognizer: The recognizer under test.
//   - frames: The corpus, cycled through in order. Frames are only read.
//   - outputDir: Where SaveResults writes reports.
//
// Returns:
//   - *Suite: The benchmark suite.
//   - error: When the corpus is empty.
func NewSuite(recognizer Recognizer, frames []*images.Pixels, outputDir string) (*Suite, error) {
	if recognizer == nil {
		return nil, errors.New("recognizer is required")
	}
	if len(frames) == 0 {
		return nil, errors.New("benchmark corpus is empty")
	}
	return &Suite{
		recognizer: recognizer,
		frames:     frames,
		outputDir:  outputDir,
	}, nil
}

// AddScenario adds a test scenario to the benchmark suite
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// RunScenario executes a single benchmark scenario.
//
// Failed recognitions count towards ErrorRate and are left out of the latency summary.
//
// Arguments:
//   - ctx: Stops the run early.
//   - scenario: The scenario to run.
//
// Returns:
//   - *PerformanceMetrics: The measurements.
//   - error: When the scenario is invalid or ctx is done.
func (bs *Suite) RunScenario(ctx context.Context, scenario Scenario) (*PerformanceMetrics, error) {
	if scenario.Iterations <= 0 {
		return nil, errors.Errorf("scenario %q needs at least one iteration", scenario.Name)
	}
	workers := scenario.Concurrency
	if workers <= 0 {
		workers = 1
	}

	for i := 0; i < scenario.WarmupRuns; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, _ = bs.recognizer.Classify(bs.frames[i%len(bs.frames)])
	}

	var startMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	// Failed iterations keep a negative latency.
	latencies := make([]float64, scenario.Iterations)
	var next, failures, results atomic.Int64

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= scenario.Iterations {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				t := time.Now()
				found, err := bs.recognizer.Classify(bs.frames[i%len(bs.frames)])
				if err != nil {
					latencies[i] = -1
					failures.Add(1)
					continue
				}
				latencies[i] = float64(time.Since(t).Microseconds()) / 1000
				results.Add(int64(len(found)))
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	total := time.Since(start)

	var endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&endMem)

	metrics := &PerformanceMetrics{
		Scenario:        scenario,
		Timestamp:       start,
		TotalDuration:   total,
		FramesPerSecond: float64(scenario.Iterations) / total.Seconds(),
		ResultCount:     int(results.Load()),
		ErrorRate:       float64(failures.Load()) / float64(scenario.Iterations),
		MemoryStats: MemoryMetrics{
			AllocBytes:      endMem.Alloc,
			TotalAllocBytes: endMem.TotalAlloc - startMem.TotalAlloc,
			SysBytes:        endMem.Sys,
			NumGC:           endMem.NumGC - startMem.NumGC,
			HeapAllocBytes:  endMem.HeapAlloc,
			HeapSysBytes:    endMem.HeapSys,
		},
		CPUStats: CPUMetrics{
			NumCPU:     runtime.NumCPU(),
			GOMAXPROCS: runtime.GOMAXPROCS(0),
		},
	}
	if lat, ok := summarize(latencies); ok {
		metrics.Latency = lat
	}
	return metrics, nil
}

// summarize reports the latency of the successful iterations.
func summarize(latencies []float64) (LatencyMetrics, bool) {
	data := make(stats.Float64Data, 0, len(latencies))
	for _, l := range latencies {
		if l >= 0 {
			data = append(data, l)
		}
	}
	if len(data) == 0 {
		return LatencyMetrics{}, false
	}
	// Errors are impossible on non-empty data with percentiles in (0, 100].
	mean, _ := data.Mean()
	p50, _ := data.PercentileNearestRank(50)
	p95, _ := data.PercentileNearestRank(95)
	maximum, _ := data.Max()
	return LatencyMetrics{Mean: mean, P50: p50, P95: p95, Max: maximum}, true
}

// RunAllScenarios executes all configured benchmark scenarios in order.
//
// Returns:
//   - error: The first scenario error. Results of the scenarios before it are kept.
func (bs *Suite) RunAllScenarios(ctx context.Context) error {
	bs.mu.RLock()
	scenarios := append([]Scenario(nil), bs.scenarios...)
	bs.mu.RUnlock()

	for _, scenario := range scenarios {
		metrics, err := bs.RunScenario(ctx, scenario)
		if err != nil {
			return errors.Wrapf(err, "scenario %s", scenario.Name)
		}
		bs.mu.Lock()
		bs.results = append(bs.results, *metrics)
		bs.mu.Unlock()
	}
	return nil
}

// GetResults returns all benchmark results
func (bs *Suite) GetResults() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return append([]PerformanceMetrics(nil), bs.results...)
}

// SaveResults writes the results as indented JSON and as a CSV summary.
//
// Returns:
//   - []string: The paths of the JSON and CSV files.
//   - error: When the files cannot be written.
func (bs *Suite) SaveResults() ([]string, error) {
	results := bs.GetResults()

	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating output directory")
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	resultsFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_results_%s.json", timestamp))
	summaryFile := filepath.Join(bs.outputDir, fmt.Sprintf("benchmark_summary_%s.csv", timestamp))

	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding results")
	}
	if err := os.WriteFile(resultsFile, data, 0o644); err != nil {
		return nil, errors.Wrap(err, "writing results")
	}
	if err := writeSummaryCSV(summaryFile, results); err != nil {
		return nil, errors.Wrap(err, "writing summary")
	}
	return []string{resultsFile, summaryFile}, nil
}

func writeSummaryCSV(filename string, results []PerformanceMetrics) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"scenario", "concurrency", "fps", "total_ms", "mean_ms", "p95_ms", "max_ms", "alloc_mb", "results", "error_rate"})
	for _, r := range results {
		_ = w.Write([]string{
			r.Scenario.Name,
			strconv.Itoa(max(r.Scenario.Concurrency, 1)),
			strconv.FormatFloat(r.FramesPerSecond, 'f', 2, 64),
			strconv.FormatFloat(float64(r.TotalDuration.Microseconds())/1000, 'f', 2, 64),
			strconv.FormatFloat(r.Latency.Mean, 'f', 2, 64),
			strconv.FormatFloat(r.Latency.P95, 'f', 2, 64),
			strconv.FormatFloat(r.Latency.Max, 'f', 2, 64),
			strconv.FormatFloat(float64(r.MemoryStats.AllocBytes)/(1024*1024), 'f', 2, 64),
			strconv.Itoa(r.ResultCount),
			strconv.FormatFloat(r.ErrorRate, 'f', 4, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
