// Package dispatch selects the thread-group shape used to dispatch the
// ray-marching kernel.
//
// The first request for a pipeline benchmarks a small candidate set and
// caches the shape with the lowest device time. Later requests for the same
// pipeline return the cached shape without benchmarking, whatever the
// output resolution.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"volumerender/pkg/logging"
	"volumerender/pkg/profiling"
)

// Shape is a 2D thread-group size.
type Shape struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Threads returns Width*Height.
func (s Shape) Threads() int {
	return s.Width * s.Height
}

// String formats the shape as WxH.
func (s Shape) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// CommonShapes are benchmarked alongside the device default.
var CommonShapes = []Shape{{8, 8}, {16, 8}, {16, 16}, {32, 4}}

// PipelineInfo is what the optimizer needs to know about a pipeline.
type PipelineInfo interface {
	ID() uint64
	ThreadExecutionWidth() int
	MaxTotalThreadsPerThreadgroup() int
}

// Benchmark runs one trial dispatch with shape. It returns false when no
// timing could be obtained.
type Benchmark func(Shape) (profiling.Timing, bool)

// DefaultShape is the device-recommended shape: one execution width wide
// and as tall as the thread budget allows.
func DefaultShape(p PipelineInfo) Shape {
	w := max(p.ThreadExecutionWidth(), 1)
	maxThreads := max(p.MaxTotalThreadsPerThreadgroup(), 1)
	return Clamp(Shape{Width: w, Height: maxThreads / w}, w, maxThreads)
}

// Clamp fits s into maxThreads: the width is capped first and the height
// is derived from the remaining budget. A width wider than execWidth is
// rounded down to a whole number of execution widths; narrower widths are
// kept so small square groups stay available. Both sides stay at least 1.
func Clamp(s Shape, execWidth, maxThreads int) Shape {
	maxThreads = max(maxThreads, 1)
	w := min(max(s.Width, 1), maxThreads)
	if execWidth > 0 && w > execWidth {
		w -= w % execWidth
	}
	h := min(max(s.Height, 1), max(maxThreads/w, 1))
	return Shape{Width: w, Height: h}
}

// Candidates returns the default shape followed by the common shapes, each
// clamped to the pipeline limit, without duplicates.
func Candidates(p PipelineInfo, common []Shape) []Shape {
	maxThreads := p.MaxTotalThreadsPerThreadgroup()
	out := []Shape{DefaultShape(p)}
	seen := map[Shape]bool{out[0]: true}
	for _, s := range common {
		c := Clamp(s, p.ThreadExecutionWidth(), maxThreads)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// Optimizer caches the best shape per pipeline identity.
//
// Thread safety: Optimizer is safe for concurrent use. Benchmarking runs
// under the lock so a pipeline is benchmarked at most once.
type Optimizer struct {
	mu     sync.Mutex
	common []Shape
	cache  map[uint64]Shape

	benchmarks int
}

// NewOptimizer creates an optimizer. A nil common list uses CommonShapes.
func NewOptimizer(common []Shape) *Optimizer {
	if common == nil {
		common = CommonShapes
	}
	return &Optimizer{
		common: append([]Shape(nil), common...),
		cache:  make(map[uint64]Shape),
	}
}

// Configuration returns the cached shape for p, benchmarking every candidate
// on the first call. The lowest GPU time wins and ties keep the earlier
// candidate. When no candidate produces a timing nothing is cached and
// false is returned; callers then use DefaultShape.
//
// Benchmarking stops at the first candidate after ctx is done and nothing
// is cached, so the next call benchmarks again.
func (o *Optimizer) Configuration(ctx context.Context, p PipelineInfo, bench Benchmark) (Shape, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.cache[p.ID()]; ok {
		return s, true
	}

	var (
		best     Shape
		bestTime profiling.Timing
		found    bool
	)
	for _, c := range Candidates(p, o.common) {
		if ctx.Err() != nil {
			break
		}
		o.benchmarks++
		t, ok := bench(c)
		if !ok {
			logging.Logger().Debug("dispatch candidate failed", "shape", c.String())
			continue
		}
		logging.Logger().Debug("dispatch candidate", "shape", c.String(), "gpu", t.GPU)
		if !found || t.GPU < bestTime.GPU {
			best, bestTime, found = c, t, true
		}
	}

	if err := ctx.Err(); err != nil {
		logging.Logger().Debug("dispatch benchmark cancelled", "pipeline", p.ID(), "error", err)
		return DefaultShape(p), false
	}
	if !found {
		logging.Logger().Warn("dispatch benchmark produced no timing", "pipeline", p.ID())
		return DefaultShape(p), false
	}

	o.cache[p.ID()] = best
	logging.Logger().Info("dispatch shape selected", "pipeline", p.ID(), "shape", best.String(), "gpu", bestTime.GPU)
	return best, true
}

// Cached returns the cached shape for a pipeline identity.
func (o *Optimizer) Cached(id uint64) (Shape, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.cache[id]
	return s, ok
}

// Forget drops the cached shape of a pipeline.
func (o *Optimizer) Forget(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, id)
}

// Benchmarks returns how many trial dispatches have been run.
func (o *Optimizer) Benchmarks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.benchmarks
}
