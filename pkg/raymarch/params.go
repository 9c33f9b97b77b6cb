package raymarch

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// Method is the compositing method applied along a ray.
type Method int32

const (
	// MethodDVR composites colour and opacity front to back through the
	// transfer functions
	MethodDVR Method = iota

	// MethodMIP reports the maximum windowed intensity along the ray
	MethodMIP

	// MethodMinIP reports the minimum windowed intensity along the ray
	MethodMinIP

	// MethodAverage reports the mean windowed intensity along the ray
	MethodAverage
)

var methodNames = map[Method]string{
	MethodDVR:     "dvr",
	MethodMIP:     "mip",
	MethodMinIP:   "minip",
	MethodAverage: "average",
}

// String returns the method name.
func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", int32(m))
}

// Projection reports whether m is an intensity projection. Density and HU
// gates only apply to projections.
func (m Method) Projection() bool {
	return m == MethodMIP || m == MethodMinIP || m == MethodAverage
}

// ParseMethod parses a method name.
func ParseMethod(s string) (Method, error) {
	for m, name := range methodNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown compositing method %q", s)
}

// ClipPlane is a plane equation in clip-box local space centred on the
// volume. Samples with dot(Normal, p) + Offset > 0 are removed. A zero
// normal disables the plane.
type ClipPlane struct {
	Normal mgl32.Vec3
	Offset float32
}

// Enabled reports whether the plane has a non-zero normal.
func (c ClipPlane) Enabled() bool {
	return c.Normal.Dot(c.Normal) > 0
}

// MaxClipPlanes is the number of clip planes in Params.
const MaxClipPlanes = 3

// spanEpsilon floors window and threshold denominators.
const spanEpsilon = 1e-5

// Params is the per-frame uniform block read by every invocation.
type Params struct {
	Method Method

	// WindowMin and WindowMax are the windowed intensity bounds (raw units)
	WindowMin float32
	WindowMax float32

	// DataMin and DataMax are the dataset intensity bounds (raw units)
	DataMin float32
	DataMax float32

	// ChannelIntensity weights each transfer-function channel
	ChannelIntensity [4]float32

	// DensityFloor and DensityCeil bound the dataset-normalized density.
	// DVR gives zero opacity at or below the floor; projections reject
	// samples outside [floor, ceil].
	DensityFloor float32
	DensityCeil  float32

	// HUGate rejects projection samples whose raw intensity lies outside
	// [HUMin, HUMax]
	HUGate bool
	HUMin  float32
	HUMax  float32

	// Trim holds the normalized per-axis bounds xmin, xmax, ymin, ymax,
	// zmin, zmax in clip-box local space
	Trim [6]float32

	ClipPlanes [MaxClipPlanes]ClipPlane

	// ClipOrientation rotates the clip box about the volume centre
	ClipOrientation mgl32.Quat

	Lighting bool

	// Backward marches from exit to entry
	Backward bool

	// Quality is the nominal number of steps across the unit cube diagonal
	Quality int32

	// EarlyTermination stops forward marching once accumulated opacity
	// reaches it; clamped to [0, 0.99]
	EarlyTermination float32

	Adaptive          bool
	AdaptiveThreshold float32

	// Jitter scales the per-pixel start offset, in base steps
	Jitter float32

	Background [4]float32
}

// DefaultParams returns parameters for a single-channel DVR render over a
// [0,1] intensity range.
func DefaultParams() Params {
	return Params{
		Method:            MethodDVR,
		WindowMin:         0,
		WindowMax:         1,
		DataMin:           0,
		DataMax:           1,
		ChannelIntensity:  [4]float32{1, 0, 0, 0},
		DensityFloor:      0,
		DensityCeil:       1,
		Trim:              FullTrim(),
		ClipOrientation:   mgl32.QuatIdent(),
		Lighting:          true,
		Quality:           256,
		EarlyTermination:  0.95,
		AdaptiveThreshold: 0.1,
	}
}

// FullTrim returns trim bounds covering the whole volume.
func FullTrim() [6]float32 {
	return [6]float32{0, 1, 0, 1, 0, 1}
}

// Steps returns Quality floored at 1.
func (p Params) Steps() int {
	if p.Quality < 1 {
		return 1
	}
	return int(p.Quality)
}

// BaseStep returns the unit-cube step length √3 / Steps.
func (p Params) BaseStep() float32 {
	return sqrt3 / float32(p.Steps())
}

// TerminationThreshold returns EarlyTermination clamped to [0, 0.99].
func (p Params) TerminationThreshold() float32 {
	return clampf(p.EarlyTermination, 0, 0.99)
}

// Normalize maps a raw intensity against the window and against the
// dataset range. Both results are clamped to [0,1]; zero spans are floored
// to a small epsilon.
func (p Params) Normalize(raw float32) (windowed, density float32) {
	wspan := maxf(p.WindowMax-p.WindowMin, spanEpsilon)
	dspan := maxf(p.DataMax-p.DataMin, spanEpsilon)
	return clampf((raw-p.WindowMin)/wspan, 0, 1), clampf((raw-p.DataMin)/dspan, 0, 1)
}

// Clipped reports whether the unit-cube position pos is removed by the
// rotated clip box trim bounds or an enabled clip plane.
func (p Params) Clipped(pos mgl32.Vec3) bool {
	centered := pos.Sub(mgl32.Vec3{0.5, 0.5, 0.5})
	q := p.ClipOrientation
	if q.Len() > 0 && q != mgl32.QuatIdent() {
		centered = q.Normalize().Inverse().Rotate(centered)
	}

	local := centered.Add(mgl32.Vec3{0.5, 0.5, 0.5})
	for axis := 0; axis < 3; axis++ {
		if local[axis] < p.Trim[axis*2] || local[axis] > p.Trim[axis*2+1] {
			return true
		}
	}

	for _, plane := range p.ClipPlanes {
		if plane.Enabled() && plane.Normal.Dot(centered)+plane.Offset > 0 {
			return true
		}
	}
	return false
}

// gated reports whether a projection sample is rejected by the density or
// HU gate.
func (p Params) gated(raw, density float32) bool {
	if !p.Method.Projection() {
		return false
	}
	if density < p.DensityFloor || density > p.DensityCeil {
		return true
	}
	return p.HUGate && (raw < p.HUMin || raw > p.HUMax)
}

const (
	flagLighting uint32 = 1 << iota
	flagBackward
	flagAdaptive
	flagHUGate
)

// paramsBlock is the byte layout of Params in the uniform buffer.
type paramsBlock struct {
	Method            int32
	Quality           int32
	Flags             uint32
	Pad               uint32
	Window            [2]float32
	Data              [2]float32
	ChannelIntensity  [4]float32
	Density           [2]float32
	HU                [2]float32
	Trim              [6]float32
	ClipPlanes        [MaxClipPlanes][4]float32
	ClipOrientation   [4]float32
	EarlyTermination  float32
	AdaptiveThreshold float32
	Jitter            float32
	Pad2              float32
	Background        [4]float32
}

// ParamsSize is the encoded size of Params.
var ParamsSize = binary.Size(paramsBlock{})

// MarshalBinary encodes the parameters as a little-endian uniform block.
func (p Params) MarshalBinary() ([]byte, error) {
	b := paramsBlock{
		Method:            int32(p.Method),
		Quality:           p.Quality,
		Window:            [2]float32{p.WindowMin, p.WindowMax},
		Data:              [2]float32{p.DataMin, p.DataMax},
		ChannelIntensity:  p.ChannelIntensity,
		Density:           [2]float32{p.DensityFloor, p.DensityCeil},
		HU:                [2]float32{p.HUMin, p.HUMax},
		Trim:              p.Trim,
		ClipOrientation:   [4]float32{p.ClipOrientation.V[0], p.ClipOrientation.V[1], p.ClipOrientation.V[2], p.ClipOrientation.W},
		EarlyTermination:  p.EarlyTermination,
		AdaptiveThreshold: p.AdaptiveThreshold,
		Jitter:            p.Jitter,
		Background:        p.Background,
	}
	if p.Lighting {
		b.Flags |= flagLighting
	}
	if p.Backward {
		b.Flags |= flagBackward
	}
	if p.Adaptive {
		b.Flags |= flagAdaptive
	}
	if p.HUGate {
		b.Flags |= flagHUGate
	}
	for i, c := range p.ClipPlanes {
		b.ClipPlanes[i] = [4]float32{c.Normal[0], c.Normal[1], c.Normal[2], c.Offset}
	}

	var buf bytes.Buffer
	buf.Grow(ParamsSize)
	if err := binary.Write(&buf, binary.LittleEndian, &b); err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a uniform block written by MarshalBinary.
func (p *Params) UnmarshalBinary(data []byte) error {
	if len(data) != ParamsSize {
		return fmt.Errorf("params block is %d bytes, want %d", len(data), ParamsSize)
	}
	var b paramsBlock
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &b); err != nil {
		return fmt.Errorf("decode params: %w", err)
	}

	*p = Params{
		Method:            Method(b.Method),
		WindowMin:         b.Window[0],
		WindowMax:         b.Window[1],
		DataMin:           b.Data[0],
		DataMax:           b.Data[1],
		ChannelIntensity:  b.ChannelIntensity,
		DensityFloor:      b.Density[0],
		DensityCeil:       b.Density[1],
		HUGate:            b.Flags&flagHUGate != 0,
		HUMin:             b.HU[0],
		HUMax:             b.HU[1],
		Trim:              b.Trim,
		ClipOrientation:   mgl32.Quat{W: b.ClipOrientation[3], V: mgl32.Vec3{b.ClipOrientation[0], b.ClipOrientation[1], b.ClipOrientation[2]}},
		Lighting:          b.Flags&flagLighting != 0,
		Backward:          b.Flags&flagBackward != 0,
		Quality:           b.Quality,
		EarlyTermination:  b.EarlyTermination,
		Adaptive:          b.Flags&flagAdaptive != 0,
		AdaptiveThreshold: b.AdaptiveThreshold,
		Jitter:            b.Jitter,
		Background:        b.Background,
	}
	for i, c := range b.ClipPlanes {
		p.ClipPlanes[i] = ClipPlane{Normal: mgl32.Vec3{c[0], c[1], c[2]}, Offset: c[3]}
	}
	return nil
}
