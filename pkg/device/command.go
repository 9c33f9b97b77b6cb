package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"volumerender/pkg/logging"
)

// CommandStatus is the lifecycle state of a command buffer. A buffer moves
// from not-enqueued through committed and scheduled to completed or error.
type CommandStatus int32

const (
	StatusNotEnqueued CommandStatus = iota
	StatusCommitted
	StatusScheduled
	StatusCompleted
	StatusError
)

// String returns the status name.
func (s CommandStatus) String() string {
	switch s {
	case StatusNotEnqueued:
		return "not-enqueued"
	case StatusCommitted:
		return "committed"
	case StatusScheduled:
		return "scheduled"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

type dispatchCommand struct {
	pipeline *ComputePipeline
	args     ArgumentTable
	width    int
	height   int
	groupW   int
	groupH   int
}

// CommandBuffer records dispatches and executes them on the device queue.
type CommandBuffer struct {
	device *Device
	id     uint64
	label  string

	mu       sync.Mutex
	encoding bool
	commands []dispatchCommand
	handlers []func(*CommandBuffer)

	status atomic.Int32
	err    error
	done   chan struct{}

	gpuStart   time.Time
	gpuEnd     time.Time
	kernelTime time.Duration
}

// NewCommandBuffer creates an empty command buffer.
func (d *Device) NewCommandBuffer(label string) (*CommandBuffer, error) {
	if d.isClosed() {
		return nil, fmt.Errorf("%w: cannot create command buffer %q", ErrDeviceUnavailable, label)
	}
	return &CommandBuffer{
		device: d,
		id:     d.nextResourceID(),
		label:  label,
		done:   make(chan struct{}),
	}, nil
}

// Label returns the command buffer label.
func (cb *CommandBuffer) Label() string { return cb.label }

// Status returns the current lifecycle state.
func (cb *CommandBuffer) Status() CommandStatus {
	return CommandStatus(cb.status.Load())
}

// Error returns the execution error once the buffer has completed.
func (cb *CommandBuffer) Error() error {
	select {
	case <-cb.done:
		return cb.err
	default:
		return nil
	}
}

// GPUStartTime returns when the queue began executing the buffer. It is the
// zero time until the buffer has completed.
func (cb *CommandBuffer) GPUStartTime() time.Time {
	select {
	case <-cb.done:
		return cb.gpuStart
	default:
		return time.Time{}
	}
}

// GPUEndTime returns when the queue finished executing the buffer.
func (cb *CommandBuffer) GPUEndTime() time.Time {
	select {
	case <-cb.done:
		return cb.gpuEnd
	default:
		return time.Time{}
	}
}

// KernelTime returns the time spent inside kernel invocations, excluding
// argument binding.
func (cb *CommandBuffer) KernelTime() time.Duration {
	select {
	case <-cb.done:
		return cb.kernelTime
	default:
		return 0
	}
}

// Done returns a channel closed when execution has finished, just before
// the completion handlers run.
func (cb *CommandBuffer) Done() <-chan struct{} {
	return cb.done
}

// AddCompletedHandler registers fn to run on the queue goroutine after the
// buffer finishes, successfully or not. Handlers must be added before Commit.
func (cb *CommandBuffer) AddCompletedHandler(fn func(*CommandBuffer)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.handlers = append(cb.handlers, fn)
}

// ComputeEncoder begins encoding compute commands. Only one encoder may be
// open at a time, and none after Commit.
func (cb *CommandBuffer) ComputeEncoder() (*ComputeEncoder, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.Status() != StatusNotEnqueued {
		return nil, fmt.Errorf("%w: command buffer %q already committed", ErrEncoding, cb.label)
	}
	if cb.encoding {
		return nil, fmt.Errorf("%w: command buffer %q has an open encoder", ErrEncoding, cb.label)
	}
	cb.encoding = true
	return &ComputeEncoder{cb: cb}, nil
}

// Commit submits the buffer to the device queue.
func (cb *CommandBuffer) Commit() error {
	cb.mu.Lock()
	if cb.encoding {
		cb.mu.Unlock()
		return fmt.Errorf("%w: command buffer %q committed with an open encoder", ErrEncoding, cb.label)
	}
	if !cb.status.CompareAndSwap(int32(StatusNotEnqueued), int32(StatusCommitted)) {
		cb.mu.Unlock()
		return fmt.Errorf("%w: command buffer %q committed twice", ErrEncoding, cb.label)
	}
	cb.mu.Unlock()

	if err := cb.device.enqueue(cb); err != nil {
		cb.status.Store(int32(StatusNotEnqueued))
		return err
	}
	return nil
}

// WaitUntilCompleted blocks until the buffer has executed or ctx is done.
// Cancelling ctx stops the wait, not the work.
func (cb *CommandBuffer) WaitUntilCompleted(ctx context.Context) error {
	select {
	case <-cb.done:
		return cb.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute runs on the device queue goroutine.
func (cb *CommandBuffer) execute() {
	cb.status.Store(int32(StatusScheduled))
	cb.gpuStart = time.Now()

	for i := range cb.commands {
		elapsed, err := cb.device.dispatch(&cb.commands[i])
		cb.kernelTime += elapsed
		if err != nil {
			cb.err = fmt.Errorf("%w: %s: %v", ErrExecution, cb.label, err)
			break
		}
	}

	cb.gpuEnd = time.Now()
	if cb.err != nil {
		cb.status.Store(int32(StatusError))
		logging.Logger().Warn("command buffer failed", "label", cb.label, "error", cb.err)
	} else {
		cb.status.Store(int32(StatusCompleted))
	}

	cb.mu.Lock()
	handlers := cb.handlers
	cb.mu.Unlock()

	// Timing accessors read through done, so close it before the handlers
	// observe the buffer.
	close(cb.done)
	for _, h := range handlers {
		h(cb)
	}
}

// dispatch splits one command into thread groups and runs them on the pool.
func (d *Device) dispatch(cmd *dispatchCommand) (time.Duration, error) {
	run, err := cmd.pipeline.kernel.Bind(&cmd.args)
	if err != nil {
		return 0, fmt.Errorf("bind %s: %w", cmd.pipeline.kernel.Name(), err)
	}

	groupsX := (cmd.width + cmd.groupW - 1) / cmd.groupW
	groupsY := (cmd.height + cmd.groupH - 1) / cmd.groupH

	var (
		faultOnce sync.Once
		fault     error
	)
	groups := make([]func(), 0, groupsX*groupsY)
	for gy := 0; gy < groupsY; gy++ {
		for gx := 0; gx < groupsX; gx++ {
			x0, y0 := gx*cmd.groupW, gy*cmd.groupH
			x1, y1 := min(x0+cmd.groupW, cmd.width), min(y0+cmd.groupH, cmd.height)
			groups = append(groups, func() {
				defer func() {
					if r := recover(); r != nil {
						faultOnce.Do(func() {
							fault = fmt.Errorf("kernel %s panicked at group (%d,%d): %v",
								cmd.pipeline.kernel.Name(), gx, gy, r)
						})
					}
				}()
				for y := y0; y < y1; y++ {
					for x := x0; x < x1; x++ {
						run(x, y)
					}
				}
			})
		}
	}

	start := time.Now()
	d.pool.run(groups)
	elapsed := time.Since(start)

	return elapsed, fault
}

// ComputeEncoder records compute dispatches into a command buffer.
type ComputeEncoder struct {
	cb       *CommandBuffer
	pipeline *ComputePipeline
	ended    bool
}

// SetComputePipeline selects the pipeline used by subsequent dispatches.
func (e *ComputeEncoder) SetComputePipeline(p *ComputePipeline) {
	e.pipeline = p
}

// Pipeline returns the selected pipeline, or nil.
func (e *ComputeEncoder) Pipeline() *ComputePipeline {
	return e.pipeline
}

// Arguments returns the argument table of the selected pipeline, or nil.
func (e *ComputeEncoder) Arguments() *ArgumentTable {
	if e.pipeline == nil {
		return nil
	}
	return &e.pipeline.args
}

// DispatchThreads records a dispatch of width×height threads in groups of
// groupW×groupH. The pipeline's current bindings are captured at this point.
func (e *ComputeEncoder) DispatchThreads(width, height, groupW, groupH int) error {
	if e.ended {
		return fmt.Errorf("%w: dispatch on an ended encoder", ErrEncoding)
	}
	if e.pipeline == nil {
		return fmt.Errorf("%w: dispatch without a pipeline", ErrEncoding)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty grid %dx%d", ErrEncoding, width, height)
	}
	if groupW <= 0 || groupH <= 0 || groupW*groupH > e.pipeline.maxThreads {
		return fmt.Errorf("%w: thread group %dx%d exceeds %d threads",
			ErrEncoding, groupW, groupH, e.pipeline.maxThreads)
	}

	e.cb.mu.Lock()
	defer e.cb.mu.Unlock()
	e.cb.commands = append(e.cb.commands, dispatchCommand{
		pipeline: e.pipeline,
		args:     e.pipeline.args,
		width:    width,
		height:   height,
		groupW:   groupW,
		groupH:   groupH,
	})
	return nil
}

// EndEncoding closes the encoder.
func (e *ComputeEncoder) EndEncoding() {
	if e.ended {
		return
	}
	e.ended = true
	e.cb.mu.Lock()
	e.cb.encoding = false
	e.cb.mu.Unlock()
}
