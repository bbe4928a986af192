package inference

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
)

// DefaultStatWindow is the number of recent frames the timing statistics cover.
const DefaultStatWindow = 256

// Stage is one step of a recognition call.
type Stage int

const (
	// StagePreprocess covers writing the frame into the input tensor.
	StagePreprocess Stage = iota
	// StageInference covers the single engine run.
	StageInference
	// StageDecode covers turning the output tensors into results.
	StageDecode

	stageCount
)

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StagePreprocess:
		return "preprocess"
	case StageInference:
		return "inference"
	case StageDecode:
		return "decode"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// StageSummary holds the latency figures of one stage in milliseconds.
type StageSummary struct {
	Mean float64 `json:"mean_ms"`
	P95  float64 `json:"p95_ms"`
	Max  float64 `json:"max_ms"`
}

// Stats records per stage timings over a bounded window of recent frames.
type Stats struct {
	mu      sync.Mutex
	window  int
	frames  int64
	next    int
	samples [stageCount][]float64
}

// NewStats creates an empty statistics window.
//
// Arguments:
//   - window: The number of frames kept. Non-positive means DefaultStatWindow.
//
// Returns:
//   - *Stats: The statistics.
func NewStats(window int) *Stats {
	if window <= 0 {
		window = DefaultStatWindow
	}
	s := &Stats{window: window}
	for i := range s.samples {
		s.samples[i] = make([]float64, 0, window)
	}
	return s
}

// Record adds the timings of one frame, evicting the oldest frame when the window is full.
func (s *Stats) Record(pre, inf, dec time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	for stage, d := range [stageCount]time.Duration{pre, inf, dec} {
		ms := float64(d) / float64(time.Millisecond)
		if len(s.samples[stage]) < s.window {
			s.samples[stage] = append(s.samples[stage], ms)
		} else {
			s.samples[stage][s.next] = ms
		}
	}
	s.next = (s.next + 1) % s.window
}

// Frames returns the number of frames recorded since creation or the last Reset.
func (s *Stats) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Reset drops every recorded frame.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = 0
	s.next = 0
	for i := range s.samples {
		s.samples[i] = s.samples[i][:0]
	}
}

// Summary computes the figures of one stage over the current window.
//
// Arguments:
//   - stage: The stage to summarise.
//
// Returns:
//   - StageSummary: Mean, 95th percentile and maximum in milliseconds.
//   - error: When no frame has been recorded.
func (s *Stats) Summary(stage Stage) (StageSummary, error) {
	s.mu.Lock()
	data := stats.Float64Data(append([]float64(nil), s.samples[stage]...))
	s.mu.Unlock()

	mean, err := stats.Mean(data)
	if err != nil {
		return StageSummary{}, err
	}
	p95, err := stats.PercentileNearestRank(data, 95)
	if err != nil {
		return StageSummary{}, err
	}
	maximum, err := stats.Max(data)
	if err != nil {
		return StageSummary{}, err
	}
	return StageSummary{Mean: mean, P95: p95, Max: maximum}, nil
}

// String renders the frame count followed by one line per stage.
func (s *Stats) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "frames: %d", s.Frames())
	for stage := Stage(0); stage < stageCount; stage++ {
		sum, err := s.Summary(stage)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "\n%s: mean %.2fms p95 %.2fms max %.2fms", stage, sum.Mean, sum.P95, sum.Max)
	}
	return sb.String()
}
