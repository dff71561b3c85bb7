package testsuite

import (
	"fmt"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
)

// Evaluator checks the latency distribution of a run against a threshold. Evaluators are
// sticky: once Eval returned false it keeps returning false.
type Evaluator interface {
	Name() string
	// Record evaluates the distribution, in microseconds.
	Record(histogram *hdrhistogram.Histogram)
	Eval() bool
	// Err describes the violation, or is nil when Eval is true.
	Err() error
}

type latencyEvaluator struct {
	name      string
	threshold time.Duration
	value     func(histogram *hdrhistogram.Histogram) int64

	mu     sync.Mutex
	failed bool
	actual int64
}

func (e *latencyEvaluator) Name() string {
	return e.name
}

func (e *latencyEvaluator) Record(histogram *hdrhistogram.Histogram) {
	if histogram == nil || histogram.TotalCount() == 0 {
		return
	}
	value := e.value(histogram)
	threshold := e.threshold.Microseconds()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed {
		return
	}
	e.actual = value
	// Values are reported at the top of their bucket; one sharing the threshold's bucket is within it.
	if value > threshold && !histogram.ValuesAreEquivalent(value, threshold) {
		e.failed = true
	}
}

func (e *latencyEvaluator) Eval() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.failed
}

func (e *latencyEvaluator) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.failed {
		return nil
	}
	return errors.WithStack(&maestroerrors.ErrSlaViolation{
		Evaluator: e.name,
		Threshold: e.threshold.Microseconds(),
		Actual:    e.actual,
	})
}

// NewHardLatencyEvaluator fails when any recorded latency exceeds threshold.
func NewHardLatencyEvaluator(threshold time.Duration) Evaluator {
	return &latencyEvaluator{
		name:      "max latency",
		threshold: threshold,
		value:     func(h *hdrhistogram.Histogram) int64 { return h.Max() },
	}
}

// NewSoftLatencyEvaluator fails when the latency at percentile exceeds threshold.
func NewSoftLatencyEvaluator(percentile float64, threshold time.Duration) Evaluator {
	return &latencyEvaluator{
		name:      fmt.Sprintf("p%g latency", percentile),
		threshold: threshold,
		value:     func(h *hdrhistogram.Histogram) int64 { return h.ValueAtQuantile(percentile) },
	}
}
