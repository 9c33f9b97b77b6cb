package device

import (
	"fmt"
	"sort"
)

// MaxBindings is the number of texture, buffer and sampler indices an
// argument table holds.
const MaxBindings = 16

// Invocation computes one thread of a dispatch at grid position (x, y).
type Invocation func(x, y int)

// Kernel is a compiled compute function.
//
// Bind is called once per dispatch, on the queue, with a snapshot of the
// pipeline's argument table. It validates and decodes the arguments and
// returns the per-thread invocation. A Bind error fails the command buffer
// with ErrExecution.
type Kernel interface {
	Name() string
	Bind(args *ArgumentTable) (Invocation, error)
}

// Library is a named set of kernels.
type Library struct {
	kernels map[string]Kernel
}

// NewLibrary creates a library from kernels. Later kernels replace earlier
// ones with the same name.
func NewLibrary(kernels ...Kernel) *Library {
	l := &Library{kernels: make(map[string]Kernel, len(kernels))}
	for _, k := range kernels {
		l.kernels[k.Name()] = k
	}
	return l
}

// Function looks up a kernel by name.
func (l *Library) Function(name string) (Kernel, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: %q (no library)", ErrMissingFunction, name)
	}
	k, ok := l.kernels[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingFunction, name)
	}
	return k, nil
}

// FunctionNames returns the kernel names in sorted order.
func (l *Library) FunctionNames() []string {
	names := make([]string, 0, len(l.kernels))
	for name := range l.kernels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ArgumentTable holds the resources bound to a pipeline by index.
type ArgumentTable struct {
	textures [MaxBindings]*Texture
	buffers  [MaxBindings]*Buffer
	samplers [MaxBindings]*Sampler

	// writes counts every Set call that stored a resource
	writes uint64
}

// SetTexture binds t at index.
func (a *ArgumentTable) SetTexture(index int, t *Texture) error {
	if index < 0 || index >= MaxBindings {
		return fmt.Errorf("%w: texture index %d out of range", ErrEncoding, index)
	}
	a.textures[index] = t
	a.writes++
	return nil
}

// SetBuffer binds b at index.
func (a *ArgumentTable) SetBuffer(index int, b *Buffer) error {
	if index < 0 || index >= MaxBindings {
		return fmt.Errorf("%w: buffer index %d out of range", ErrEncoding, index)
	}
	a.buffers[index] = b
	a.writes++
	return nil
}

// SetSampler binds s at index.
func (a *ArgumentTable) SetSampler(index int, s *Sampler) error {
	if index < 0 || index >= MaxBindings {
		return fmt.Errorf("%w: sampler index %d out of range", ErrEncoding, index)
	}
	a.samplers[index] = s
	a.writes++
	return nil
}

// Texture returns the texture at index, or nil.
func (a *ArgumentTable) Texture(index int) *Texture {
	if index < 0 || index >= MaxBindings {
		return nil
	}
	return a.textures[index]
}

// Buffer returns the buffer at index, or nil.
func (a *ArgumentTable) Buffer(index int) *Buffer {
	if index < 0 || index >= MaxBindings {
		return nil
	}
	return a.buffers[index]
}

// Sampler returns the sampler at index, or nil.
func (a *ArgumentTable) Sampler(index int) *Sampler {
	if index < 0 || index >= MaxBindings {
		return nil
	}
	return a.samplers[index]
}

// Writes returns how many bindings have been stored in the table.
func (a *ArgumentTable) Writes() uint64 {
	return a.writes
}

// ComputePipeline couples a kernel with its execution limits and the
// argument table bindings persist in between dispatches.
type ComputePipeline struct {
	id             uint64
	label          string
	kernel         Kernel
	executionWidth int
	maxThreads     int
	args           ArgumentTable
}

// NewComputePipeline creates a pipeline for kernel.
func (d *Device) NewComputePipeline(label string, kernel Kernel) (*ComputePipeline, error) {
	if d.isClosed() {
		return nil, ErrDeviceUnavailable
	}
	if kernel == nil {
		return nil, fmt.Errorf("%w: pipeline %q has no kernel", ErrMissingFunction, label)
	}
	return &ComputePipeline{
		id:             d.nextResourceID(),
		label:          label,
		kernel:         kernel,
		executionWidth: d.executionWidth,
		maxThreads:     d.MaxThreadsPerGroup(),
	}, nil
}

// ID returns the pipeline identity.
func (p *ComputePipeline) ID() uint64 { return p.id }

// Label returns the pipeline label.
func (p *ComputePipeline) Label() string { return p.label }

// Kernel returns the pipeline's kernel.
func (p *ComputePipeline) Kernel() Kernel { return p.kernel }

// ThreadExecutionWidth returns the preferred thread-group width.
func (p *ComputePipeline) ThreadExecutionWidth() int { return p.executionWidth }

// MaxTotalThreadsPerThreadgroup returns the maximum thread-group size.
func (p *ComputePipeline) MaxTotalThreadsPerThreadgroup() int { return p.maxThreads }

// Arguments returns the pipeline's persistent argument table.
func (p *ComputePipeline) Arguments() *ArgumentTable { return &p.args }
