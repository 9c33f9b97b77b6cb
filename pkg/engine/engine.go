// Package engine is the host-facing volume rendering engine.
//
// An Engine owns one session: the dataset, the rendering parameters built
// up by commands, the per-channel transfer functions and tone curves, and
// the device state derived from them. Render turns a camera into an image
// by binding resources, choosing a dispatch shape and running the
// ray-marching kernel. When the compute path is unavailable the engine
// falls back to a CPU single-slice preview.
package engine

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"volumerender/internal/models"
	"volumerender/pkg/binding"
	"volumerender/pkg/config"
	"volumerender/pkg/device"
	"volumerender/pkg/dispatch"
	"volumerender/pkg/logging"
	"volumerender/pkg/profiling"
	"volumerender/pkg/raymarch"
	"volumerender/pkg/transfer"
)

// ErrNoDataset is returned by renders and queries before SetDataset.
var ErrNoDataset = errors.New("engine: no dataset loaded")

// Options configures a new Engine.
type Options struct {
	// Device configures the compute device
	Device device.Options

	// Library provides the ray-marching kernel; nil uses raymarch.Library()
	Library *device.Library

	// Cache holds transfer lookup tables; nil creates a private cache
	Cache *transfer.Cache

	// Resolution is the lookup-table resolution (0 = transfer.DefaultResolution)
	Resolution int

	// Shapes are the common dispatch shapes benchmarked alongside the
	// device default (nil = dispatch.CommonShapes)
	Shapes []dispatch.Shape

	// Params seeds the session parameters
	Params raymarch.Params

	// Preset is the transfer-function preset of channel 0
	Preset string
}

// DefaultOptions returns options for a DVR session on a default device.
func DefaultOptions() Options {
	return Options{
		Device:     device.DefaultOptions(),
		Resolution: transfer.DefaultResolution,
		Params:     raymarch.DefaultParams(),
		Preset:     "grayscale",
	}
}

// OptionsFromConfig maps a loaded configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := DefaultOptions()

	opts.Device.Workers = cfg.Device.Workers
	opts.Device.ExecutionWidth = cfg.Device.ExecutionWidth
	opts.Device.MaxThreadsPerGroup = cfg.Device.MaxThreadsPerGroup
	opts.Device.Disabled = cfg.Device.Disabled

	method, err := raymarch.ParseMethod(cfg.Rendering.Method)
	if err != nil {
		return Options{}, err
	}
	p := &opts.Params
	p.Method = method
	p.Quality = int32(cfg.Rendering.Quality)
	p.EarlyTermination = float32(cfg.Rendering.EarlyTermination)
	p.Jitter = float32(cfg.Rendering.Jitter)
	p.Lighting = cfg.Rendering.Lighting
	p.Adaptive = cfg.Rendering.Adaptive
	p.AdaptiveThreshold = float32(cfg.Rendering.AdaptiveThreshold)
	for i, c := range cfg.Rendering.Background {
		p.Background[i] = float32(c)
	}

	opts.Resolution = cfg.Transfer.Resolution
	if cfg.Transfer.PresetFile != "" {
		if _, err := transfer.LoadPresets(cfg.Transfer.PresetFile); err != nil {
			return Options{}, err
		}
	}
	if cfg.Transfer.Preset != "" {
		opts.Preset = cfg.Transfer.Preset
	}

	if len(cfg.Dispatch.Shapes) > 0 {
		opts.Shapes = make([]dispatch.Shape, len(cfg.Dispatch.Shapes))
		for i, s := range cfg.Dispatch.Shapes {
			opts.Shapes[i] = dispatch.Shape{Width: s[0], Height: s[1]}
		}
	}
	return opts, nil
}

// channel is the per-channel transfer and tone state.
type channel struct {
	// tf is nil for an unused channel
	tf   *transfer.TransferFunction
	tone transfer.ToneCurve

	// texture is the lookup table resampled over the dataset range and key
	// identifies what it was built from
	texture *device.Texture
	key     tableKey
}

type tableKey struct {
	hash       uint64
	min, max   int32
	resolution int
}

// Engine renders one dataset for one host session.
//
// Thread safety: all methods are safe for concurrent use. Commands and
// renders are serialized; a render holds the engine for its whole
// bind, dispatch and completion sequence.
type Engine struct {
	mu sync.Mutex

	// dev is nil when no compute device could be created
	dev      *device.Device
	library  *device.Library
	pipeline *device.ComputePipeline
	bindings *binding.Manager
	sampler  *device.Sampler

	cache      *transfer.Cache
	resolution int
	optimizer  *dispatch.Optimizer
	profiler   *profiling.Profiler

	dataset *models.VolumeDataset
	volume  *device.Texture

	params   raymarch.Params
	channels [binding.MaxChannels]channel
	frame    uint32
}

// New creates an engine. A device that cannot be created is not an error:
// the engine then renders through the CPU preview.
func New(opts Options) (*Engine, error) {
	if opts.Library == nil {
		opts.Library = raymarch.Library()
	}
	if opts.Cache == nil {
		opts.Cache = transfer.NewCache()
	}
	if opts.Resolution < 2 {
		opts.Resolution = transfer.DefaultResolution
	}
	if opts.Params.Quality == 0 && opts.Params.Trim == ([6]float32{}) {
		opts.Params = raymarch.DefaultParams()
	}

	e := &Engine{
		library:    opts.Library,
		cache:      opts.Cache,
		resolution: opts.Resolution,
		optimizer:  dispatch.NewOptimizer(opts.Shapes),
		profiler:   profiling.New(0),
		params:     opts.Params,
	}
	for i := range e.channels {
		e.channels[i].tone = transfer.DefaultToneCurve()
	}

	preset := opts.Preset
	if preset == "" {
		preset = "grayscale"
	}
	tf, err := transfer.Preset(preset)
	if err != nil {
		return nil, err
	}
	e.channels[0].tf = &tf

	dev, err := device.New(opts.Device)
	if err != nil {
		logging.Logger().Warn("compute device unavailable, using preview fallback", "error", err)
		return e, nil
	}
	e.dev = dev
	e.bindings = binding.NewManager(dev)
	return e, nil
}

// Close releases the device.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dev != nil {
		e.dev.Close()
	}
}

// Device returns the compute device, or nil when rendering falls back to
// the preview.
func (e *Engine) Device() *device.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dev
}

// Profiler returns the profiler recording render timings.
func (e *Engine) Profiler() *profiling.Profiler {
	return e.profiler
}

// Optimizer returns the dispatch shape optimizer.
func (e *Engine) Optimizer() *dispatch.Optimizer {
	return e.optimizer
}

// BindingStats returns the binding counters, or zero without a device.
func (e *Engine) BindingStats() binding.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bindings == nil {
		return binding.Stats{}
	}
	return e.bindings.Stats()
}

// Params returns a copy of the session parameters.
func (e *Engine) Params() raymarch.Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// SetDataset replaces the dataset. The session window is reset to the
// dataset range and the volume binding is invalidated.
func (e *Engine) SetDataset(ds *models.VolumeDataset) error {
	if ds == nil {
		return fmt.Errorf("nil dataset")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.dataset = ds
	e.volume = nil
	e.params.DataMin = float32(ds.Range.Min)
	e.params.DataMax = float32(ds.Range.Max)
	e.params.WindowMin = e.params.DataMin
	e.params.WindowMax = e.params.DataMax
	for i := range e.channels {
		e.channels[i].texture = nil
		e.channels[i].key = tableKey{}
	}
	if e.bindings != nil {
		e.bindings.Invalidate(binding.SlotVolume, binding.SlotTransfer0, binding.SlotTransfer1,
			binding.SlotTransfer2, binding.SlotTransfer3)
	}

	logging.Logger().Info("dataset loaded",
		"dims", fmt.Sprintf("%dx%dx%d", ds.Dimensions[0], ds.Dimensions[1], ds.Dimensions[2]),
		"format", ds.Format.String(), "min", ds.Range.Min, "max", ds.Range.Max)
	return nil
}

// Dataset returns the current dataset, or nil.
func (e *Engine) Dataset() *models.VolumeDataset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dataset
}

// invalidateDevice drops every cached device resource after an execution
// failure so the next render re-resolves them.
func (e *Engine) invalidateDevice() {
	if e.bindings != nil {
		e.bindings.Reset()
	}
	if e.pipeline != nil {
		e.optimizer.Forget(e.pipeline.ID())
	}
	e.pipeline = nil
	e.sampler = nil
	e.volume = nil
	for i := range e.channels {
		e.channels[i].texture = nil
		e.channels[i].key = tableKey{}
	}
	if e.dev != nil {
		e.cache.Purge(e.dev.ID())
	}
}

func samplerDescriptor() gputypes.SamplerDescriptor {
	desc := gputypes.LinearSamplerDescriptor()
	desc.Label = "volume"
	return desc
}
