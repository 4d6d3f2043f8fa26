package objectsegmentation

import (
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Result is everything one pipeline invocation produces. On failure the
// rasters are blank, the detected map is empty, and Err carries the cause;
// a failed frame never halts the pipeline.
type Result struct {
	Original      image.Image
	Mask          *image.NRGBA
	Composite     *image.NRGBA
	DetectedItems map[string]color.NRGBA
	Timing        Timing
	Err           error
}

// Timing records how long each stage of one invocation took.
type Timing struct {
	Preprocess time.Duration
	Inference  time.Duration
	Decode     time.Duration
	Total      time.Duration
}

// Report renders the stage timings as a human-readable execution log.
func (tm Timing) Report() string {
	return fmt.Sprintf(
		"preprocess: %v\ninference: %v\nmask decode: %v\ntotal: %v",
		tm.Preprocess, tm.Inference, tm.Decode, tm.Total,
	)
}

// TimingStats aggregates stage timings across frames. Safe for concurrent use.
type TimingStats struct {
	mu         sync.Mutex
	preprocess []float64
	inference  []float64
	decode     []float64
	total      []float64
}

// Add records the timings of one frame.
func (s *TimingStats) Add(tm Timing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preprocess = append(s.preprocess, float64(tm.Preprocess)/float64(time.Millisecond))
	s.inference = append(s.inference, float64(tm.Inference)/float64(time.Millisecond))
	s.decode = append(s.decode, float64(tm.Decode)/float64(time.Millisecond))
	s.total = append(s.total, float64(tm.Total)/float64(time.Millisecond))
}

// Count returns how many frames have been recorded.
func (s *TimingStats) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.total)
}

// Report renders mean/median/p90 per stage, in milliseconds.
func (s *TimingStats) Report() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.total) == 0 {
		return "", errors.New("no frames recorded yet")
	}
	out := ""
	for _, stage := range []struct {
		name    string
		samples []float64
	}{
		{"preprocess", s.preprocess},
		{"inference", s.inference},
		{"mask decode", s.decode},
		{"total", s.total},
	} {
		mean, err := stats.Mean(stage.samples)
		if err != nil {
			return "", err
		}
		median, err := stats.Median(stage.samples)
		if err != nil {
			return "", err
		}
		p90, err := stats.Percentile(stage.samples, 90)
		if err != nil {
			return "", err
		}
		out += fmt.Sprintf("%s: mean %.2fms median %.2fms p90 %.2fms\n", stage.name, mean, median, p90)
	}
	return out, nil
}
