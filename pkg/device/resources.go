package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
)

// Texture is a 1D, 2D or 3D image of float32 texels.
//
// Supported formats are R32Float (one channel) and RGBA32Float (four
// channels). Kernels read and write the backing store directly; the host
// must not touch a texture while a command buffer using it is in flight.
type Texture struct {
	id       uint64
	desc     gputypes.TextureDescriptor
	channels int
	data     []float32
}

// NewTexture allocates a zeroed texture.
func (d *Device) NewTexture(desc gputypes.TextureDescriptor) (*Texture, error) {
	if d.isClosed() {
		return nil, ErrDeviceUnavailable
	}

	var channels int
	switch desc.Format {
	case gputypes.TextureFormatR32Float:
		channels = 1
	case gputypes.TextureFormatRGBA32Float:
		channels = 4
	default:
		return nil, fmt.Errorf("%w: unsupported texture format %v", ErrAllocation, desc.Format)
	}

	size := desc.Size
	if size.Width == 0 || size.Height == 0 || size.DepthOrArrayLayers == 0 {
		return nil, fmt.Errorf("%w: texture %q has an empty extent", ErrAllocation, desc.Label)
	}

	var limit uint32
	switch desc.Dimension {
	case gputypes.TextureDimension1D:
		limit = d.limits.MaxTextureDimension1D
		if size.Height != 1 || size.DepthOrArrayLayers != 1 {
			return nil, fmt.Errorf("%w: 1D texture %q with height or depth", ErrAllocation, desc.Label)
		}
	case gputypes.TextureDimension2D:
		limit = d.limits.MaxTextureDimension2D
		if size.DepthOrArrayLayers != 1 {
			return nil, fmt.Errorf("%w: 2D texture %q with depth", ErrAllocation, desc.Label)
		}
	case gputypes.TextureDimension3D:
		limit = d.limits.MaxTextureDimension3D
	default:
		return nil, fmt.Errorf("%w: unknown texture dimension %v", ErrAllocation, desc.Dimension)
	}
	if size.Width > limit || size.Height > limit || size.DepthOrArrayLayers > limit {
		return nil, fmt.Errorf("%w: texture %q %dx%dx%d exceeds dimension limit %d",
			ErrAllocation, desc.Label, size.Width, size.Height, size.DepthOrArrayLayers, limit)
	}

	texels := uint64(size.Width) * uint64(size.Height) * uint64(size.DepthOrArrayLayers)
	bytes := texels * uint64(channels) * 4
	if bytes > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: texture %q needs %d bytes, limit %d",
			ErrAllocation, desc.Label, bytes, d.limits.MaxBufferSize)
	}

	d.allocated.Add(bytes)
	return &Texture{
		id:       d.nextResourceID(),
		desc:     desc,
		channels: channels,
		data:     make([]float32, texels*uint64(channels)),
	}, nil
}

// ID returns the resource identity.
func (t *Texture) ID() uint64 { return t.id }

// Descriptor returns the descriptor the texture was created with.
func (t *Texture) Descriptor() gputypes.TextureDescriptor { return t.desc }

// Width returns the texture width.
func (t *Texture) Width() int { return int(t.desc.Size.Width) }

// Height returns the texture height.
func (t *Texture) Height() int { return int(t.desc.Size.Height) }

// Depth returns the texture depth.
func (t *Texture) Depth() int { return int(t.desc.Size.DepthOrArrayLayers) }

// Channels returns the number of float32 values per texel.
func (t *Texture) Channels() int { return t.channels }

// Data returns the backing store, row-major with x fastest.
func (t *Texture) Data() []float32 { return t.data }

// Replace copies data into the texture. The length must match exactly.
func (t *Texture) Replace(data []float32) error {
	if len(data) != len(t.data) {
		return fmt.Errorf("texture %q: got %d values, want %d", t.desc.Label, len(data), len(t.data))
	}
	copy(t.data, data)
	return nil
}

func (t *Texture) offset(x, y, z int) int {
	w, h := t.Width(), t.Height()
	return ((z*h+y)*w + x) * t.channels
}

// Fetch reads the first channel at integer coordinates, clamped to the edge.
func (t *Texture) Fetch(x, y, z int) float32 {
	x = clampInt(x, 0, t.Width()-1)
	y = clampInt(y, 0, t.Height()-1)
	z = clampInt(z, 0, t.Depth()-1)
	return t.data[t.offset(x, y, z)]
}

// Texel reads an RGBA texel of a 2D texture. Single-channel textures return
// the value in the red component.
func (t *Texture) Texel(x, y int) [4]float32 {
	o := t.offset(x, y, 0)
	if t.channels == 1 {
		return [4]float32{t.data[o], 0, 0, 1}
	}
	return [4]float32{t.data[o], t.data[o+1], t.data[o+2], t.data[o+3]}
}

// Store writes an RGBA texel of a 2D texture.
func (t *Texture) Store(x, y int, c [4]float32) {
	o := t.offset(x, y, 0)
	if t.channels == 1 {
		t.data[o] = c[0]
		return
	}
	t.data[o], t.data[o+1], t.data[o+2], t.data[o+3] = c[0], c[1], c[2], c[3]
}

// Sample3D samples the first channel at normalized coordinates in [0,1]³
// using texel-centre addressing and edge clamping. The sampler selects
// nearest or trilinear filtering; a nil sampler filters linearly.
func (t *Texture) Sample3D(s *Sampler, u, v, w float32) float32 {
	fx := u*float32(t.Width()) - 0.5
	fy := v*float32(t.Height()) - 0.5
	fz := w*float32(t.Depth()) - 0.5

	if s != nil && !s.Linear() {
		return t.Fetch(roundInt(fx), roundInt(fy), roundInt(fz))
	}

	x0, y0, z0 := floorInt(fx), floorInt(fy), floorInt(fz)
	tx, ty, tz := fx-float32(x0), fy-float32(y0), fz-float32(z0)

	c000 := t.Fetch(x0, y0, z0)
	c100 := t.Fetch(x0+1, y0, z0)
	c010 := t.Fetch(x0, y0+1, z0)
	c110 := t.Fetch(x0+1, y0+1, z0)
	c001 := t.Fetch(x0, y0, z0+1)
	c101 := t.Fetch(x0+1, y0, z0+1)
	c011 := t.Fetch(x0, y0+1, z0+1)
	c111 := t.Fetch(x0+1, y0+1, z0+1)

	c00 := lerp(c000, c100, tx)
	c10 := lerp(c010, c110, tx)
	c01 := lerp(c001, c101, tx)
	c11 := lerp(c011, c111, tx)
	return lerp(lerp(c00, c10, ty), lerp(c01, c11, ty), tz)
}

// Sample1D samples an RGBA 1D texture at u in [0,1] with linear filtering
// between texel centres spanning the first and last texel.
func (t *Texture) Sample1D(u float32) [4]float32 {
	n := t.Width()
	if u != u || u <= 0 || n == 1 {
		return t.Texel(0, 0)
	}
	x := u * float32(n-1)
	if x >= float32(n-1) {
		return t.Texel(n-1, 0)
	}
	i := int(x)
	f := x - float32(i)
	a, b := t.Texel(i, 0), t.Texel(i+1, 0)
	return [4]float32{lerp(a[0], b[0], f), lerp(a[1], b[1], f), lerp(a[2], b[2], f), lerp(a[3], b[3], f)}
}

// Buffer is a linear block of device memory.
type Buffer struct {
	id   uint64
	desc gputypes.BufferDescriptor
	data []byte
}

// NewBuffer allocates a zeroed buffer.
func (d *Device) NewBuffer(desc gputypes.BufferDescriptor) (*Buffer, error) {
	if d.isClosed() {
		return nil, ErrDeviceUnavailable
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrAllocation, desc.Label)
	}
	if desc.Size > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer %q needs %d bytes, limit %d",
			ErrAllocation, desc.Label, desc.Size, d.limits.MaxBufferSize)
	}
	if desc.Usage&gputypes.BufferUsageUniform != 0 && desc.Size > d.limits.MaxUniformBufferBindingSize {
		return nil, fmt.Errorf("%w: uniform buffer %q exceeds binding size %d",
			ErrAllocation, desc.Label, d.limits.MaxUniformBufferBindingSize)
	}
	d.allocated.Add(desc.Size)
	return &Buffer{id: d.nextResourceID(), desc: desc, data: make([]byte, desc.Size)}, nil
}

// NewBufferWithBytes allocates a buffer holding a copy of data.
func (d *Device) NewBufferWithBytes(label string, data []byte, usage gputypes.BufferUsage) (*Buffer, error) {
	b, err := d.NewBuffer(gputypes.BufferDescriptor{Label: label, Size: uint64(len(data)), Usage: usage})
	if err != nil {
		return nil, err
	}
	copy(b.data, data)
	return b, nil
}

// ID returns the resource identity.
func (b *Buffer) ID() uint64 { return b.id }

// Descriptor returns the descriptor the buffer was created with.
func (b *Buffer) Descriptor() gputypes.BufferDescriptor { return b.desc }

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Contents returns the buffer memory.
func (b *Buffer) Contents() []byte { return b.data }

// Write copies data into the buffer at offset.
func (b *Buffer) Write(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("buffer %q: write of %d bytes at %d overflows %d", b.desc.Label, len(data), offset, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

// Float32s decodes the buffer as little-endian float32 values.
func (b *Buffer) Float32s() []float32 {
	out := make([]float32, len(b.data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b.data[i*4:]))
	}
	return out
}

// Sampler describes how a texture is filtered.
type Sampler struct {
	id   uint64
	desc gputypes.SamplerDescriptor
}

// NewSampler creates a sampler.
func (d *Device) NewSampler(desc gputypes.SamplerDescriptor) (*Sampler, error) {
	if d.isClosed() {
		return nil, ErrDeviceUnavailable
	}
	return &Sampler{id: d.nextResourceID(), desc: desc}, nil
}

// ID returns the resource identity.
func (s *Sampler) ID() uint64 { return s.id }

// Descriptor returns the descriptor the sampler was created with.
func (s *Sampler) Descriptor() gputypes.SamplerDescriptor { return s.desc }

// Linear reports whether the sampler filters linearly when magnifying.
func (s *Sampler) Linear() bool {
	return s.desc.MagFilter == gputypes.FilterModeLinear
}

func lerp(a, b, t float32) float32 {
	return a + (b-a)*t
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func floorInt(v float32) int {
	return int(math.Floor(float64(v)))
}

func roundInt(v float32) int {
	return int(math.Floor(float64(v) + 0.5))
}
