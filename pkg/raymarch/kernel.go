// Package raymarch implements the per-pixel volume ray-marching kernel and
// the uniform blocks it reads.
//
// Each invocation is independent: it builds a ray from the camera uniform,
// intersects it with the unit cube, marches through the volume and writes
// one premultiplied RGBA texel. Nothing is shared between invocations
// except the read-only bindings.
package raymarch

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"volumerender/pkg/binding"
	"volumerender/pkg/device"
)

// FunctionName is the library name of the ray-marching kernel.
const FunctionName = "raymarch_volume"

const (
	ambient   = 0.3
	diffuse   = 0.7
	specular  = 0.2
	shininess = 16

	// skipAlpha is the opacity below which a sample counts as empty
	skipAlpha = 1e-3

	// skipRun consecutive empty samples trigger an extra advance of
	// skipSteps base steps
	skipRun   = 4
	skipSteps = 4

	channelEpsilon = 1e-4
)

// Kernel is the ray-marching compute function.
type Kernel struct{}

// Library returns a library holding the ray-marching kernel.
func Library() *device.Library {
	return device.NewLibrary(Kernel{})
}

// Name implements device.Kernel.
func (Kernel) Name() string { return FunctionName }

// Bind implements device.Kernel.
func (Kernel) Bind(args *device.ArgumentTable) (device.Invocation, error) {
	s, err := NewScene(args)
	if err != nil {
		return nil, err
	}
	return func(x, y int) {
		if x >= s.output.Width() || y >= s.output.Height() {
			return
		}
		s.output.Store(x, y, s.Trace(x, y, nil))
	}, nil
}

// Scene is the decoded state of one dispatch.
type Scene struct {
	Params Params
	Camera CameraUniform

	volume  *device.Texture
	sampler *device.Sampler
	tables  [binding.MaxChannels]*device.Texture
	tones   [binding.MaxChannels][]float32
	output  *device.Texture
	dims    mgl32.Vec3
}

// NewScene decodes the bindings of the ray-marching pipeline. The volume,
// the first transfer table, the output, the parameter and camera buffers
// are required; other channels, tone curves and the sampler are optional.
func NewScene(args *device.ArgumentTable) (*Scene, error) {
	s := &Scene{
		volume:  args.Texture(binding.SlotVolume.Index()),
		output:  args.Texture(binding.SlotOutput.Index()),
		sampler: args.Sampler(binding.SlotSampler.Index()),
	}
	if s.volume == nil {
		return nil, errors.New("volume texture not bound")
	}
	if s.output == nil {
		return nil, errors.New("output texture not bound")
	}
	if s.output.Channels() != 4 {
		return nil, fmt.Errorf("output texture has %d channels, want 4", s.output.Channels())
	}

	for ch := 0; ch < binding.MaxChannels; ch++ {
		s.tables[ch] = args.Texture(binding.TransferSlot(ch).Index())
		if tone := args.Buffer(binding.ToneSlot(ch).Index()); tone != nil {
			s.tones[ch] = tone.Float32s()
		}
	}
	if s.tables[0] == nil {
		return nil, errors.New("transfer table 0 not bound")
	}

	params := args.Buffer(binding.SlotParameters.Index())
	if params == nil {
		return nil, errors.New("parameter buffer not bound")
	}
	if err := s.Params.UnmarshalBinary(params.Contents()); err != nil {
		return nil, err
	}
	camera := args.Buffer(binding.SlotCamera.Index())
	if camera == nil {
		return nil, errors.New("camera buffer not bound")
	}
	if err := s.Camera.UnmarshalBinary(camera.Contents()); err != nil {
		return nil, err
	}

	s.dims = mgl32.Vec3{float32(s.volume.Width()), float32(s.volume.Height()), float32(s.volume.Depth())}
	return s, nil
}

// Trace marches the ray through pixel (x, y) and returns the clamped
// premultiplied RGBA result. When fn is not nil it is called with the
// accumulated alpha after every blended sample.
func (s *Scene) Trace(x, y int, fn func(accumAlpha float32)) [4]float32 {
	p := &s.Params

	dir := s.Camera.Ray(x, y)
	if !finite(dir) {
		return [4]float32{}
	}
	tNear, tFar, hit := IntersectBox(s.Camera.Position, dir)
	if !hit {
		return [4]float32{}
	}
	entry := s.Camera.Position.Add(dir.Mul(tNear))
	exit := s.Camera.Position.Add(dir.Mul(tFar))
	length := tFar - tNear

	baseStep := p.BaseStep()
	maxIter := 4 * p.Steps()

	// Backward rays start at the exit and walk towards the camera.
	origin, march := entry, dir
	if p.Backward {
		origin, march = exit, dir.Mul(-1)
	}

	var travel float32
	if p.Jitter > 0 {
		travel = minf(JitterOffset(x, y, s.Camera.Frame)*p.Jitter*baseStep, length)
	}

	threshold := p.TerminationThreshold()
	terminate := !p.Backward && p.EarlyTermination > 0

	var (
		acc       [4]float32
		projected float32
		samples   int
		skipped   int
	)
	if p.Method == MethodMinIP {
		projected = 1
	}

	for iter := 0; iter < maxIter && travel <= length; iter++ {
		pos := origin.Add(march.Mul(travel))
		if !insideCube(pos) {
			break
		}
		pos = clampCube(pos)

		step := baseStep
		if p.Clipped(pos) {
			travel += step
			continue
		}

		raw := s.volume.Sample3D(s.sampler, pos[0], pos[1], pos[2])
		windowed, density := p.Normalize(raw)
		if p.gated(raw, density) {
			travel += step
			continue
		}

		var grad mgl32.Vec3
		needGrad := p.Adaptive && p.AdaptiveThreshold > 0
		if needGrad || (p.Lighting && p.Method == MethodDVR) {
			grad = s.gradient(pos)
		}
		if needGrad {
			t := clampf(grad.Len()/maxf(p.AdaptiveThreshold, spanEpsilon), 0, 1)
			step = baseStep * mix(2.0, 0.5, t)
		}

		switch p.Method {
		case MethodMIP:
			projected = maxf(projected, windowed)
			samples++
		case MethodMinIP:
			projected = minf(projected, windowed)
			samples++
		case MethodAverage:
			projected += windowed
			samples++
		default:
			c := s.classify(density)
			if density <= p.DensityFloor {
				c[3] = 0
			}
			c[3] *= windowed

			if c[3] < skipAlpha {
				skipped++
				if skipped >= skipRun {
					travel += skipSteps * baseStep
					skipped = 0
				}
				travel += step
				continue
			}
			skipped = 0

			if p.Lighting {
				c = s.shade(c, grad, pos, march)
			}

			if p.Backward {
				for k := 0; k < 3; k++ {
					acc[k] = c[k]*c[3] + acc[k]*(1-c[3])
				}
				acc[3] = c[3] + acc[3]*(1-c[3])
			} else {
				contrib := c[3] * (1 - acc[3])
				if terminate && acc[3]+contrib > threshold {
					contrib = maxf(threshold-acc[3], 0)
				}
				for k := 0; k < 3; k++ {
					acc[k] += c[k] * contrib
				}
				acc[3] += contrib
			}
			if fn != nil {
				fn(acc[3])
			}
			if terminate && acc[3] >= threshold {
				return clampColor(acc)
			}
		}

		travel += step
	}

	if p.Method.Projection() {
		if samples == 0 {
			return [4]float32{}
		}
		if p.Method == MethodAverage {
			projected /= float32(samples)
		}
		acc = s.project(projected)
		if fn != nil {
			fn(acc[3])
		}
	}
	return clampColor(acc)
}

// classify merges the enabled channels at normalized value u. Colour and
// opacity are both alpha-weighted averages over the channels, so identical
// channels give the same sample as one of them alone.
func (s *Scene) classify(u float32) [4]float32 {
	var rgb mgl32.Vec3
	var sumA, sumA2 float32
	for ch, table := range s.tables {
		w := s.Params.ChannelIntensity[ch]
		if table == nil || w < channelEpsilon {
			continue
		}
		c := table.Sample1D(u)
		a := c[3] * s.tone(ch, u) * w
		if a <= 0 {
			continue
		}
		rgb = rgb.Add(mgl32.Vec3{c[0], c[1], c[2]}.Mul(a))
		sumA += a
		sumA2 += a * a
	}
	if sumA <= 0 {
		return [4]float32{}
	}
	rgb = rgb.Mul(1 / sumA)
	return [4]float32{clampf(rgb[0], 0, 1), clampf(rgb[1], 0, 1), clampf(rgb[2], 0, 1), clampf(sumA2/sumA, 0, 1)}
}

// project turns a projected windowed intensity into premultiplied RGBA:
// colour from the channel tables, opacity from the intensity itself.
func (s *Scene) project(v float32) [4]float32 {
	c := s.classify(v)
	if c[3] == 0 {
		c = [4]float32{1, 1, 1, 0}
	}
	return [4]float32{c[0] * v, c[1] * v, c[2] * v, v}
}

func (s *Scene) tone(ch int, u float32) float32 {
	lut := s.tones[ch]
	if len(lut) == 0 {
		return 1
	}
	i := int(math.Round(float64(clampf(u, 0, 1) * float32(len(lut)-1))))
	return lut[i]
}

func (s *Scene) density(pos mgl32.Vec3) float32 {
	raw := s.volume.Sample3D(s.sampler, pos[0], pos[1], pos[2])
	_, d := s.Params.Normalize(raw)
	return d
}

// gradient is the central difference of the normalized density, one voxel
// either side, expressed per unit cube length.
func (s *Scene) gradient(pos mgl32.Vec3) mgl32.Vec3 {
	var g mgl32.Vec3
	for axis := 0; axis < 3; axis++ {
		h := 1 / maxf(s.dims[axis], 1)
		lo, hi := pos, pos
		lo[axis] = clampf(lo[axis]-h, 0, 1)
		hi[axis] = clampf(hi[axis]+h, 0, 1)
		g[axis] = (s.density(hi) - s.density(lo)) * s.dims[axis] / 2
	}
	return g
}

// shade applies Blinn-Phong lighting with the light at the camera.
func (s *Scene) shade(c [4]float32, grad, pos, march mgl32.Vec3) [4]float32 {
	var n mgl32.Vec3
	if l := grad.Len(); l > spanEpsilon {
		n = grad.Mul(-1 / l)
	}
	light := s.Camera.Position.Sub(pos)
	if light.Len() > 0 {
		light = light.Normalize()
	}
	view := march.Mul(-1)

	ndotl := float32(math.Abs(float64(n.Dot(light))))
	var spec float32
	if half := light.Add(view); half.Len() > 0 {
		spec = float32(math.Pow(float64(maxf(n.Dot(half.Normalize()), 0)), shininess))
	}

	lit := ambient + diffuse*ndotl
	for k := 0; k < 3; k++ {
		c[k] = clampf(c[k]*lit+specular*spec, 0, 1)
	}
	return c
}

func clampColor(c [4]float32) [4]float32 {
	for k := range c {
		c[k] = clampf(c[k], 0, 1)
	}
	return c
}
