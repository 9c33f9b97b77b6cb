package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"volumerender/pkg/profiling"
)

type fakePipeline struct {
	id         uint64
	width      int
	maxThreads int
}

func (p fakePipeline) ID() uint64                         { return p.id }
func (p fakePipeline) ThreadExecutionWidth() int          { return p.width }
func (p fakePipeline) MaxTotalThreadsPerThreadgroup() int { return p.maxThreads }

func timed(d time.Duration) (profiling.Timing, bool) {
	return profiling.Timing{GPU: d, GPUAvailable: true}, true
}

func TestDefaultShape(t *testing.T) {
	tests := []struct {
		width, max int
		want       Shape
	}{
		{32, 256, Shape{32, 8}},
		{32, 1024, Shape{32, 32}},
		{64, 32, Shape{32, 1}},
		{0, 0, Shape{1, 1}},
	}
	for _, tt := range tests {
		got := DefaultShape(fakePipeline{width: tt.width, maxThreads: tt.max})
		if got != tt.want {
			t.Errorf("DefaultShape(%d, %d): expected %v, got %v", tt.width, tt.max, tt.want, got)
		}
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in        Shape
		execWidth int
		max       int
		want      Shape
	}{
		{Shape{16, 16}, 32, 256, Shape{16, 16}},
		{Shape{16, 16}, 32, 128, Shape{16, 8}},
		{Shape{32, 4}, 32, 16, Shape{16, 1}},
		{Shape{0, -3}, 32, 64, Shape{1, 1}},
		{Shape{8, 8}, 32, 0, Shape{1, 1}},
		{Shape{48, 4}, 32, 256, Shape{32, 4}},
		{Shape{100, 1}, 32, 256, Shape{96, 1}},
		{Shape{24, 8}, 16, 256, Shape{16, 8}},
		{Shape{300, 2}, 32, 256, Shape{256, 1}},
	}
	for _, tt := range tests {
		got := Clamp(tt.in, tt.execWidth, tt.max)
		if got != tt.want {
			t.Errorf("Clamp(%v, %d, %d): expected %v, got %v", tt.in, tt.execWidth, tt.max, tt.want, got)
		}
		if tt.execWidth > 0 && got.Width > tt.execWidth && got.Width%tt.execWidth != 0 {
			t.Errorf("Clamp(%v, %d, %d): width %d is not a multiple of the execution width",
				tt.in, tt.execWidth, tt.max, got.Width)
		}
		if got.Threads() > max(tt.max, 1) {
			t.Errorf("Clamp(%v, %d) = %v exceeds the thread budget", tt.in, tt.max, got)
		}
	}
}

func TestCandidatesDeduplicated(t *testing.T) {
	// With 64 threads 16x8 and 16x16 both clamp to 16x4 and 32x4 clamps to 32x2
	p := fakePipeline{width: 8, maxThreads: 64}
	got := Candidates(p, CommonShapes)
	want := []Shape{{8, 8}, {16, 4}, {32, 2}}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Candidate %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestConfigurationPicksFastest(t *testing.T) {
	o := NewOptimizer(nil)
	p := fakePipeline{id: 1, width: 32, maxThreads: 256}

	times := map[Shape]time.Duration{
		{32, 8}:  4 * time.Millisecond,
		{8, 8}:   3 * time.Millisecond,
		{16, 8}:  2 * time.Millisecond,
		{16, 16}: 2 * time.Millisecond, // tie, later candidate
		{32, 4}:  5 * time.Millisecond,
	}
	shape, ok := o.Configuration(t.Context(), p, func(s Shape) (profiling.Timing, bool) {
		return timed(times[s])
	})
	if !ok {
		t.Fatal("Expected a configuration")
	}
	if shape != (Shape{16, 8}) {
		t.Errorf("Expected first fastest 16x8, got %v", shape)
	}
	if o.Benchmarks() != 5 {
		t.Errorf("Expected 5 benchmarks, got %d", o.Benchmarks())
	}
}

// TestConfigurationIdempotent verifies the second request is served from cache
func TestConfigurationIdempotent(t *testing.T) {
	o := NewOptimizer(nil)
	p := fakePipeline{id: 7, width: 32, maxThreads: 256}

	calls := 0
	bench := func(s Shape) (profiling.Timing, bool) {
		calls++
		return timed(time.Duration(s.Threads()) * time.Microsecond)
	}

	first, _ := o.Configuration(t.Context(), p, bench)
	n := calls
	second, ok := o.Configuration(t.Context(), p, bench)
	if !ok || first != second {
		t.Errorf("Expected identical configurations, got %v and %v", first, second)
	}
	if calls != n {
		t.Errorf("Expected no re-benchmarking, got %d extra calls", calls-n)
	}

	other := fakePipeline{id: 8, width: 32, maxThreads: 256}
	_, _ = o.Configuration(t.Context(), other, bench)
	if calls == n {
		t.Error("Expected a new pipeline identity to be benchmarked")
	}
}

func TestConfigurationAllFail(t *testing.T) {
	o := NewOptimizer(nil)
	p := fakePipeline{id: 3, width: 32, maxThreads: 256}

	shape, ok := o.Configuration(t.Context(), p, func(Shape) (profiling.Timing, bool) {
		return profiling.Timing{}, false
	})
	if ok {
		t.Error("Expected no configuration")
	}
	if shape != DefaultShape(p) {
		t.Errorf("Expected default shape, got %v", shape)
	}
	if _, cached := o.Cached(p.ID()); cached {
		t.Error("Expected nothing cached when every benchmark failed")
	}

	// A later successful benchmark populates the cache
	if _, ok := o.Configuration(t.Context(), p, func(Shape) (profiling.Timing, bool) { return timed(time.Millisecond) }); !ok {
		t.Error("Expected a configuration after benchmarks succeed")
	}
}

func TestConfigurationSkipsFailures(t *testing.T) {
	o := NewOptimizer([]Shape{{8, 8}, {16, 16}})
	p := fakePipeline{id: 4, width: 32, maxThreads: 256}

	shape, ok := o.Configuration(t.Context(), p, func(s Shape) (profiling.Timing, bool) {
		if s == (Shape{8, 8}) {
			return profiling.Timing{}, false
		}
		return timed(time.Duration(s.Threads()) * time.Microsecond)
	})
	if !ok || shape != (Shape{32, 8}) {
		t.Errorf("Expected 32x8, got %v (%v)", shape, ok)
	}

	o.Forget(p.ID())
	if _, cached := o.Cached(p.ID()); cached {
		t.Error("Expected Forget to drop the cached shape")
	}
}

func TestConfigurationCancelled(t *testing.T) {
	o := NewOptimizer(nil)
	p := fakePipeline{id: 5, width: 32, maxThreads: 256}

	ctx, cancel := context.WithCancel(t.Context())
	calls := 0
	shape, ok := o.Configuration(ctx, p, func(s Shape) (profiling.Timing, bool) {
		calls++
		cancel()
		return timed(time.Millisecond)
	})
	if ok {
		t.Error("Expected no configuration after cancellation")
	}
	if shape != DefaultShape(p) {
		t.Errorf("Expected default shape, got %v", shape)
	}
	if calls != 1 || o.Benchmarks() != 1 {
		t.Errorf("Expected benchmarking to stop after 1 trial, got %d calls and %d trials", calls, o.Benchmarks())
	}
	if _, cached := o.Cached(p.ID()); cached {
		t.Error("Expected nothing cached for a cancelled benchmark")
	}

	if _, ok := o.Configuration(t.Context(), p, func(Shape) (profiling.Timing, bool) { return timed(time.Millisecond) }); !ok {
		t.Error("Expected the next call to benchmark again")
	}
}

func TestConfigurationConcurrent(t *testing.T) {
	o := NewOptimizer(nil)
	p := fakePipeline{id: 9, width: 32, maxThreads: 256}

	var wg sync.WaitGroup
	results := make([]Shape, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = o.Configuration(t.Context(), p, func(s Shape) (profiling.Timing, bool) {
				return timed(time.Duration(s.Width) * time.Microsecond)
			})
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r != results[0] {
			t.Fatalf("Expected one configuration, got %v", results)
		}
	}
	if o.Benchmarks() != 5 {
		t.Errorf("Expected a single benchmark round, got %d trials", o.Benchmarks())
	}
}
