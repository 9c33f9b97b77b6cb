// Package device implements an in-process compute accelerator.
//
// A Device exposes the same object model a GPU compute API does: resource
// limits, textures, buffers and samplers created from gputypes descriptors,
// a library of named kernel functions, compute pipelines with a persistent
// argument table, and command buffers that are committed to a single
// in-order queue. Each dispatch is split into thread groups which run on a
// work-stealing worker pool; completion handlers fire once the whole command
// buffer has executed.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"volumerender/pkg/logging"
)

var (
	// ErrDeviceUnavailable is returned when no device can be created or the
	// device has been closed.
	ErrDeviceUnavailable = errors.New("device: no compute device available")

	// ErrMissingFunction is returned when a library has no kernel of the
	// requested name.
	ErrMissingFunction = errors.New("device: kernel function not found")

	// ErrAllocation is returned when a texture or buffer cannot be allocated
	// within the device limits.
	ErrAllocation = errors.New("device: resource allocation failed")

	// ErrEncoding is returned when a command sequence cannot be encoded.
	ErrEncoding = errors.New("device: command encoding failed")

	// ErrExecution is reported by a command buffer whose work failed.
	ErrExecution = errors.New("device: command execution failed")
)

// Options configures a Device.
type Options struct {
	// Name is reported in the adapter info
	Name string

	// Workers is the number of worker goroutines (0 = GOMAXPROCS)
	Workers int

	// ExecutionWidth is the preferred SIMD width of a thread group
	ExecutionWidth int

	// MaxThreadsPerGroup caps the number of threads in one thread group
	MaxThreadsPerGroup int

	// MaxTextureDimension3D overrides the default 3D texture limit when > 0
	MaxTextureDimension3D int

	// MaxBufferSize overrides the default buffer size limit when > 0
	MaxBufferSize uint64

	// Disabled makes New fail with ErrDeviceUnavailable
	Disabled bool
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Name:               "cpu-compute",
		ExecutionWidth:     32,
		MaxThreadsPerGroup: 256,
	}
}

var deviceIDs atomic.Uint64

// Device is an in-process compute accelerator.
//
// Thread safety: Device is safe for concurrent use. Command buffers execute
// one at a time in commit order.
type Device struct {
	id             uint64
	info           gputypes.AdapterInfo
	limits         gputypes.Limits
	executionWidth int

	pool  *workerPool
	queue chan *CommandBuffer
	done  chan struct{}
	wg    sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	resourceIDs atomic.Uint64
	allocated   atomic.Uint64
}

// New creates a device and starts its queue.
func New(opts Options) (*Device, error) {
	if opts.Disabled {
		return nil, ErrDeviceUnavailable
	}
	def := DefaultOptions()
	if opts.Name == "" {
		opts.Name = def.Name
	}
	if opts.ExecutionWidth <= 0 {
		opts.ExecutionWidth = def.ExecutionWidth
	}
	if opts.MaxThreadsPerGroup <= 0 {
		opts.MaxThreadsPerGroup = def.MaxThreadsPerGroup
	}
	if opts.ExecutionWidth > opts.MaxThreadsPerGroup {
		return nil, fmt.Errorf("%w: execution width %d exceeds %d threads per group",
			ErrDeviceUnavailable, opts.ExecutionWidth, opts.MaxThreadsPerGroup)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	limits := gputypes.DefaultLimits()
	limits.MaxComputeInvocationsPerWorkgroup = uint32(opts.MaxThreadsPerGroup)
	limits.MaxComputeWorkgroupSizeX = uint32(opts.MaxThreadsPerGroup)
	limits.MaxComputeWorkgroupSizeY = uint32(opts.MaxThreadsPerGroup)
	if opts.MaxTextureDimension3D > 0 {
		limits.MaxTextureDimension3D = uint32(opts.MaxTextureDimension3D)
	}
	if opts.MaxBufferSize > 0 {
		limits.MaxBufferSize = opts.MaxBufferSize
	}

	d := &Device{
		id: deviceIDs.Add(1),
		info: gputypes.AdapterInfo{
			Name:       opts.Name,
			Vendor:     "volumerender",
			DeviceType: gputypes.DeviceTypeCPU,
			Driver:     runtime.Version(),
		},
		limits:         limits,
		executionWidth: opts.ExecutionWidth,
		pool:           newWorkerPool(opts.Workers),
		queue:          make(chan *CommandBuffer, 16),
		done:           make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	logging.Logger().Info("compute device created",
		"device", d.id,
		"name", opts.Name,
		"workers", opts.Workers,
		"executionWidth", opts.ExecutionWidth,
		"maxThreadsPerGroup", opts.MaxThreadsPerGroup)

	return d, nil
}

// ID returns the device identity. Caches holding device resources key on it.
func (d *Device) ID() uint64 {
	return d.id
}

// Info returns the adapter description.
func (d *Device) Info() gputypes.AdapterInfo {
	return d.info
}

// Limits returns the device resource limits.
func (d *Device) Limits() gputypes.Limits {
	return d.limits
}

// ExecutionWidth returns the preferred thread-group width.
func (d *Device) ExecutionWidth() int {
	return d.executionWidth
}

// MaxThreadsPerGroup returns the maximum number of threads in a group.
func (d *Device) MaxThreadsPerGroup() int {
	return int(d.limits.MaxComputeInvocationsPerWorkgroup)
}

// AllocatedBytes returns the total size of resources created on the device.
func (d *Device) AllocatedBytes() uint64 {
	return d.allocated.Load()
}

// Close drains the queue and stops the workers. Command buffers committed
// after Close fail with ErrDeviceUnavailable. Close is safe to call more
// than once.
func (d *Device) Close() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	d.closeMu.Unlock()

	d.wg.Wait()
	d.pool.close()
}

func (d *Device) isClosed() bool {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	return d.closed
}

// enqueue hands a committed command buffer to the queue goroutine.
func (d *Device) enqueue(cb *CommandBuffer) error {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		return ErrDeviceUnavailable
	}
	d.queue <- cb
	return nil
}

// run executes command buffers in commit order.
func (d *Device) run() {
	defer d.wg.Done()
	for {
		select {
		case cb := <-d.queue:
			cb.execute()
		case <-d.done:
			for {
				select {
				case cb := <-d.queue:
					cb.execute()
				default:
					return
				}
			}
		}
	}
}

func (d *Device) nextResourceID() uint64 {
	return d.resourceIDs.Add(1)
}
