package engine

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/gogpu/gputypes"

	"volumerender/internal/models"
	"volumerender/pkg/binding"
	"volumerender/pkg/device"
	"volumerender/pkg/dispatch"
	"volumerender/pkg/logging"
	"volumerender/pkg/preview"
	"volumerender/pkg/profiling"
	"volumerender/pkg/raymarch"
)

// Overrides replace session parameters for a single render. Nil fields keep
// the session value.
type Overrides struct {
	Method           *raymarch.Method
	Quality          *int
	Window           *[2]float32
	Lighting         *bool
	EarlyTermination *float32
	Jitter           *float32
	Backward         *bool
	Background       *[4]float32
}

func (o Overrides) apply(p *raymarch.Params) {
	if o.Method != nil {
		p.Method = *o.Method
	}
	if o.Quality != nil {
		p.Quality = int32(max(*o.Quality, 1))
	}
	if o.Window != nil {
		p.WindowMin, p.WindowMax = o.Window[0], o.Window[1]
		if p.WindowMin > p.WindowMax {
			p.WindowMin, p.WindowMax = p.WindowMax, p.WindowMin
		}
	}
	if o.Lighting != nil {
		p.Lighting = *o.Lighting
	}
	if o.EarlyTermination != nil {
		p.EarlyTermination = *o.EarlyTermination
	}
	if o.Jitter != nil {
		p.Jitter = clamp01(*o.Jitter)
	}
	if o.Backward != nil {
		p.Backward = *o.Backward
	}
	if o.Background != nil {
		p.Background = *o.Background
	}
}

// RenderRequest is the per-frame input of Render.
type RenderRequest struct {
	Camera    models.Camera
	Overrides Overrides
}

// Output is the result of one render.
type Output struct {
	// Image is the rendered frame composited over the background
	Image *image.RGBA

	// Texture is the premultiplied RGBA32Float output, nil for a fallback
	Texture *device.Texture

	// Compat is a copy of the output as 8-bit BGRA, nil for a fallback
	Compat []byte

	Viewport models.Size

	// SamplingDistance is the base step length in mm
	SamplingDistance float64

	Method  raymarch.Method
	Quality int

	// Fallback is set when the image came from the CPU slice preview
	Fallback bool

	Timing profiling.Timing
}

// resourceError reports whether err means the compute path cannot run and
// the preview should be used instead.
func resourceError(err error) bool {
	return errors.Is(err, device.ErrDeviceUnavailable) ||
		errors.Is(err, device.ErrMissingFunction) ||
		errors.Is(err, device.ErrAllocation) ||
		errors.Is(err, device.ErrEncoding)
}

// Render draws the dataset as seen by req.Camera.
//
// Resource and encoding failures are logged and answered with a preview
// image. An execution failure is returned as an error wrapping
// device.ErrExecution; every cached device resource is dropped so the next
// render rebuilds them.
//
// Cancelling ctx stops the render between dispatches. Render still waits
// for committed work to finish, so the output and uniform buffers are never
// written after it returns.
func (e *Engine) Render(ctx context.Context, req RenderRequest) (*Output, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dataset == nil {
		return nil, ErrNoDataset
	}
	viewport := req.Camera.Viewport
	if viewport.Empty() {
		return nil, fmt.Errorf("empty viewport %dx%d", viewport.Width, viewport.Height)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := e.params
	req.Overrides.apply(&params)

	if e.dev == nil {
		return e.fallback(params, viewport, device.ErrDeviceUnavailable)
	}

	out, err := e.render(ctx, req.Camera, params)
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, device.ErrExecution):
		logging.Logger().Warn("ray march failed, dropping device state", "error", err)
		e.invalidateDevice()
		return nil, err
	case resourceError(err):
		return e.fallback(params, viewport, err)
	default:
		return nil, err
	}
}

// RenderAsync runs Render on a new goroutine and passes the result to fn.
func (e *Engine) RenderAsync(ctx context.Context, req RenderRequest, fn func(*Output, error)) {
	go func() {
		out, err := e.Render(ctx, req)
		if fn != nil {
			fn(out, err)
		}
	}()
}

func (e *Engine) render(ctx context.Context, camera models.Camera, params raymarch.Params) (*Output, error) {
	pipeline, err := e.preparePipeline()
	if err != nil {
		return nil, err
	}
	if err := e.bindVolume(); err != nil {
		return nil, err
	}
	if err := e.bindChannels(); err != nil {
		return nil, err
	}

	viewport := camera.Viewport
	output, _, err := e.bindings.EnsureOutput(viewport)
	if err != nil {
		return nil, err
	}

	data, err := params.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrEncoding, err)
	}
	if _, err := e.bindings.SetUniform(binding.SlotParameters, data); err != nil {
		return nil, err
	}

	// A still camera without jitter produces identical camera bytes.
	if params.Jitter > 0 {
		e.frame++
	}
	cam := raymarch.NewCameraUniform(camera, raymarch.ModelMatrix(e.dataset.PhysicalExtent()), e.frame)
	data, err = cam.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrEncoding, err)
	}
	if _, err := e.bindings.SetUniform(binding.SlotCamera, data); err != nil {
		return nil, err
	}

	var benchErr error
	shape, _ := e.optimizer.Configuration(ctx, pipeline, func(s dispatch.Shape) (profiling.Timing, bool) {
		t, err := e.submit(ctx, pipeline, viewport, s, "raymarch-benchmark")
		if err != nil {
			benchErr = err
			return profiling.Timing{}, false
		}
		return t, true
	})
	if benchErr != nil && errors.Is(benchErr, device.ErrExecution) {
		return nil, benchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	timing, err := e.submit(ctx, pipeline, viewport, shape, "raymarch")
	if err != nil {
		return nil, err
	}
	if err := e.bindings.SyncCompat(); err != nil {
		return nil, err
	}

	return &Output{
		Image:            composite(output, params.Background),
		Texture:          output,
		Compat:           append([]byte(nil), e.bindings.Compat().Contents()...),
		Viewport:         viewport,
		SamplingDistance: e.samplingDistance(params),
		Method:           params.Method,
		Quality:          params.Steps(),
		Timing:           timing,
	}, nil
}

// submit encodes the dirty bindings and one full-frame dispatch, then waits
// for completion.
func (e *Engine) submit(ctx context.Context, pipeline *device.ComputePipeline, size models.Size, shape dispatch.Shape, label string) (profiling.Timing, error) {
	cb, err := e.dev.NewCommandBuffer(label)
	if err != nil {
		return profiling.Timing{}, err
	}
	enc, err := cb.ComputeEncoder()
	if err != nil {
		return profiling.Timing{}, err
	}
	enc.SetComputePipeline(pipeline)
	if _, err := e.bindings.Encode(enc); err != nil {
		enc.EndEncoding()
		return profiling.Timing{}, err
	}
	if err := enc.DispatchThreads(size.Width, size.Height, shape.Width, shape.Height); err != nil {
		enc.EndEncoding()
		return profiling.Timing{}, err
	}
	enc.EndEncoding()
	return e.profiler.Submit(ctx, cb)
}

func (e *Engine) preparePipeline() (*device.ComputePipeline, error) {
	if e.pipeline != nil {
		return e.pipeline, nil
	}
	kernel, err := e.library.Function(raymarch.FunctionName)
	if err != nil {
		return nil, err
	}
	p, err := e.dev.NewComputePipeline("raymarch", kernel)
	if err != nil {
		return nil, err
	}
	e.pipeline = p
	logging.Logger().Info("pipeline created", "function", raymarch.FunctionName,
		"executionWidth", p.ThreadExecutionWidth(), "maxThreads", p.MaxTotalThreadsPerThreadgroup())
	return p, nil
}

// bindVolume uploads the dataset as a single-channel float 3D texture and
// binds it with the linear sampler.
func (e *Engine) bindVolume() error {
	if e.volume == nil {
		ds := e.dataset
		tex, err := e.dev.NewTexture(gputypes.TextureDescriptor{
			Label: "volume",
			Size: gputypes.NewExtent3D(uint32(ds.Dimensions[0]), uint32(ds.Dimensions[1]),
				uint32(ds.Dimensions[2])),
			MipLevelCount: 1,
			SampleCount:   1,
			Dimension:     gputypes.TextureDimension3D,
			Format:        gputypes.TextureFormatR32Float,
			Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("upload volume: %w", err)
		}
		values := make([]float32, ds.VoxelCount())
		for i := range values {
			values[i] = float32(ds.VoxelAt(i))
		}
		if err := tex.Replace(values); err != nil {
			return fmt.Errorf("%w: upload volume: %v", device.ErrAllocation, err)
		}
		e.volume = tex
	}
	if err := e.bindings.SetTexture(binding.SlotVolume, e.volume); err != nil {
		return err
	}

	if e.sampler == nil {
		s, err := e.dev.NewSampler(samplerDescriptor())
		if err != nil {
			return err
		}
		e.sampler = s
	}
	return e.bindings.SetSampler(binding.SlotSampler, e.sampler)
}

// bindChannels binds one lookup table and tone curve per enabled channel.
// Tables are resampled over the dataset intensity range and rebuilt only
// when the transfer function, the range or the resolution change.
func (e *Engine) bindChannels() error {
	r := e.dataset.Range
	for ch := range e.channels {
		c := &e.channels[ch]
		if c.tf == nil {
			if err := e.bindings.SetTexture(binding.TransferSlot(ch), nil); err != nil {
				return err
			}
			if err := e.bindings.SetBuffer(binding.ToneSlot(ch), nil); err != nil {
				return err
			}
			continue
		}

		table, _ := e.cache.Table(e.dev.ID(), *c.tf, e.resolution)
		key := tableKey{hash: table.Hash, min: r.Min, max: r.Max, resolution: e.resolution}
		if c.texture == nil || c.key != key {
			tex, err := e.dev.NewTexture(gputypes.TextureDescriptor{
				Label:         fmt.Sprintf("transfer-%d", ch),
				Size:          gputypes.NewExtent2D(uint32(e.resolution), 1),
				MipLevelCount: 1,
				SampleCount:   1,
				Dimension:     gputypes.TextureDimension1D,
				Format:        gputypes.TextureFormatRGBA32Float,
				Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
			})
			if err != nil {
				return fmt.Errorf("upload transfer table %d: %w", ch, err)
			}
			texels := make([]float32, 0, e.resolution*4)
			for i := 0; i < e.resolution; i++ {
				v := float64(r.Min)
				if e.resolution > 1 {
					v += float64(i) * r.Span() / float64(e.resolution-1)
				}
				texel := table.SampleIntensity(v)
				texels = append(texels, texel[:]...)
			}
			if err := tex.Replace(texels); err != nil {
				return fmt.Errorf("%w: upload transfer table %d: %v", device.ErrAllocation, ch, err)
			}
			c.texture, c.key = tex, key
			logging.Logger().Debug("transfer table uploaded", "channel", ch, "tf", c.tf.Name)
		}
		if err := e.bindings.SetTexture(binding.TransferSlot(ch), c.texture); err != nil {
			return err
		}

		lut := c.tone.LUT()
		data := make([]byte, 4*len(lut))
		for i, v := range lut {
			binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
		}
		if _, err := e.bindings.SetUniform(binding.ToneSlot(ch), data); err != nil {
			return err
		}
	}
	return nil
}

// fallback renders the CPU slice preview.
func (e *Engine) fallback(params raymarch.Params, viewport models.Size, cause error) (*Output, error) {
	logging.Logger().Warn("compute path unavailable, rendering slice preview", "error", cause)

	s, err := preview.NewSlicer(e.dataset, params)
	if err != nil {
		return nil, err
	}
	img, err := s.Render(viewport)
	if err != nil {
		return nil, err
	}
	return &Output{
		Image:            img,
		Viewport:         viewport,
		SamplingDistance: e.samplingDistance(params),
		Method:           params.Method,
		Quality:          params.Steps(),
		Fallback:         true,
	}, nil
}

// samplingDistance converts the base step from unit-cube to physical units.
func (e *Engine) samplingDistance(params raymarch.Params) float64 {
	extent := e.dataset.PhysicalExtent()
	longest := math.Max(extent[0], math.Max(extent[1], extent[2]))
	return float64(params.BaseStep()) * longest
}

// composite blends the premultiplied output over the background colour.
func composite(out *device.Texture, bg [4]float32) *image.RGBA {
	w, h := out.Width(), out.Height()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := out.Texel(x, y)
			rest := bg[3] * (1 - c[3])
			a := c[3] + rest
			px := color.RGBA{A: unorm8(a)}
			px.R = min(unorm8(c[0]+bg[0]*rest), px.A)
			px.G = min(unorm8(c[1]+bg[1]*rest), px.A)
			px.B = min(unorm8(c[2]+bg[2]*rest), px.A)
			img.SetRGBA(x, y, px)
		}
	}
	return img
}

func unorm8(v float32) uint8 {
	return uint8(math.Round(float64(clamp01(v)) * 255))
}
