// Package profiling wraps command buffer submission with timing capture.
//
// A Timing records the CPU wall time from commit to completion and the
// device-reported start/end span. Failed command buffers are returned as
// errors with their timing, so callers can tell a slow dispatch from a
// broken one. The profiler never changes what a command buffer computes.
package profiling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"volumerender/pkg/device"
	"volumerender/pkg/logging"
)

// DefaultHistory is the number of timings kept when New is given zero.
const DefaultHistory = 128

// Timing is the measured cost of one command buffer.
type Timing struct {
	// Label is the command buffer label
	Label string

	// CPU is the wall time from commit until completion was observed
	CPU time.Duration

	// GPU is the span between the device start and end timestamps
	GPU time.Duration

	// Kernel is the time spent inside kernel invocations
	Kernel time.Duration

	// GPUAvailable reports whether device timestamps were recorded
	GPUAvailable bool
}

// String formats the timing for logs.
func (t Timing) String() string {
	if !t.GPUAvailable {
		return fmt.Sprintf("%s: cpu=%v gpu=n/a", t.Label, t.CPU)
	}
	return fmt.Sprintf("%s: cpu=%v gpu=%v kernel=%v", t.Label, t.CPU, t.GPU, t.Kernel)
}

// Summary aggregates the recorded history.
type Summary struct {
	Count    int
	Failures int

	MeanCPU time.Duration
	StdCPU  time.Duration
	MeanGPU time.Duration
	StdGPU  time.Duration
	MinGPU  time.Duration
	MaxGPU  time.Duration
}

// Profiler submits command buffers and records their timings.
//
// Thread safety: Profiler is safe for concurrent use.
type Profiler struct {
	mu       sync.Mutex
	history  []Timing
	capacity int
	failures int
}

// New creates a profiler keeping up to capacity timings.
func New(capacity int) *Profiler {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Profiler{capacity: capacity}
}

func measure(cb *device.CommandBuffer, committed time.Time) Timing {
	t := Timing{
		Label:  cb.Label(),
		CPU:    time.Since(committed),
		Kernel: cb.KernelTime(),
	}
	start, end := cb.GPUStartTime(), cb.GPUEndTime()
	if !start.IsZero() && !end.IsZero() {
		t.GPU = end.Sub(start)
		t.GPUAvailable = true
	}
	return t
}

// Submit commits cb, waits for its completion handler and returns the
// timing. An execution failure is returned as an error wrapping
// device.ErrExecution together with the timing of the failed work.
//
// A ctx that is already done keeps cb from being committed. Once committed,
// cb runs to completion and Submit waits for it even when ctx is cancelled,
// then returns ctx.Err(): the work still reads and writes the caller's
// resources until it has finished.
func (p *Profiler) Submit(ctx context.Context, cb *device.CommandBuffer) (Timing, error) {
	if err := ctx.Err(); err != nil {
		return Timing{Label: cb.Label()}, err
	}

	completed := make(chan Timing, 1)
	var committed time.Time
	cb.AddCompletedHandler(func(cb *device.CommandBuffer) {
		completed <- measure(cb, committed)
	})

	committed = time.Now()
	if err := cb.Commit(); err != nil {
		return Timing{Label: cb.Label()}, err
	}

	select {
	case t := <-completed:
		return t, p.record(t, cb.Error())
	case <-ctx.Done():
		t := <-completed
		if err := p.record(t, cb.Error()); err != nil {
			return t, err
		}
		return t, ctx.Err()
	}
}

// SubmitAsync commits cb and calls fn from the device queue once it has
// completed. Only commit errors are returned directly.
func (p *Profiler) SubmitAsync(cb *device.CommandBuffer, fn func(Timing, error)) error {
	var committed time.Time
	cb.AddCompletedHandler(func(cb *device.CommandBuffer) {
		t := measure(cb, committed)
		err := p.record(t, cb.Error())
		if fn != nil {
			fn(t, err)
		}
	})
	committed = time.Now()
	return cb.Commit()
}

func (p *Profiler) record(t Timing, err error) error {
	p.mu.Lock()
	if err != nil {
		p.failures++
	}
	p.history = append(p.history, t)
	if len(p.history) > p.capacity {
		p.history = p.history[len(p.history)-p.capacity:]
	}
	p.mu.Unlock()

	if err != nil {
		logging.Logger().Warn("command buffer failed", "label", t.Label, "cpu", t.CPU, "error", err)
		return err
	}
	logging.Logger().Debug("command buffer completed", "label", t.Label,
		"cpu", t.CPU, "gpu", t.GPU, "kernel", t.Kernel)
	return nil
}

// History returns a copy of the recorded timings, oldest first.
func (p *Profiler) History() []Timing {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Timing(nil), p.history...)
}

// Reset clears the history and failure count.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = nil
	p.failures = 0
}

// Summary computes mean and standard deviation of the recorded CPU and GPU
// times. Timings without GPU timestamps are left out of the GPU figures.
func (p *Profiler) Summary() Summary {
	p.mu.Lock()
	history := append([]Timing(nil), p.history...)
	failures := p.failures
	p.mu.Unlock()

	s := Summary{Count: len(history), Failures: failures}
	if len(history) == 0 {
		return s
	}

	cpu := make([]float64, 0, len(history))
	gpu := make([]float64, 0, len(history))
	for _, t := range history {
		cpu = append(cpu, float64(t.CPU))
		if t.GPUAvailable {
			gpu = append(gpu, float64(t.GPU))
		}
	}

	s.MeanCPU, s.StdCPU = meanStd(cpu)
	if len(gpu) > 0 {
		s.MeanGPU, s.StdGPU = meanStd(gpu)
		s.MinGPU = time.Duration(floats.Min(gpu))
		s.MaxGPU = time.Duration(floats.Max(gpu))
	}
	return s
}

func meanStd(x []float64) (time.Duration, time.Duration) {
	if len(x) == 1 {
		return time.Duration(x[0]), 0
	}
	mean, std := stat.MeanStdDev(x, nil)
	return time.Duration(mean), time.Duration(std)
}
