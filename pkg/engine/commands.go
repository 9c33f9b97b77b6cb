package engine

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"volumerender/pkg/binding"
	"volumerender/pkg/raymarch"
	"volumerender/pkg/transfer"
)

// ClipPlanePreset selects an anatomical cut for clip plane 0.
type ClipPlanePreset int

const (
	// ClipPlaneNone disables every clip plane
	ClipPlaneNone ClipPlanePreset = iota

	// ClipPlaneAxial cuts along z
	ClipPlaneAxial

	// ClipPlaneSagittal cuts along x
	ClipPlaneSagittal

	// ClipPlaneCoronal cuts along y
	ClipPlaneCoronal
)

var clipPlaneNormals = map[ClipPlanePreset]mgl32.Vec3{
	ClipPlaneNone:     {},
	ClipPlaneAxial:    {0, 0, 1},
	ClipPlaneSagittal: {1, 0, 0},
	ClipPlaneCoronal:  {0, 1, 0},
}

// String returns the preset name.
func (p ClipPlanePreset) String() string {
	switch p {
	case ClipPlaneNone:
		return "none"
	case ClipPlaneAxial:
		return "axial"
	case ClipPlaneSagittal:
		return "sagittal"
	case ClipPlaneCoronal:
		return "coronal"
	default:
		return fmt.Sprintf("preset(%d)", int(p))
	}
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= binding.MaxChannels {
		return fmt.Errorf("channel %d out of range [0,%d)", ch, binding.MaxChannels)
	}
	return nil
}

func (e *Engine) update(fn func(p *raymarch.Params)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.params)
}

// SetCompositing selects the compositing method.
func (e *Engine) SetCompositing(m raymarch.Method) {
	e.update(func(p *raymarch.Params) { p.Method = m })
}

// SetWindow sets the windowed intensity bounds in raw units.
func (e *Engine) SetWindow(lo, hi float32) {
	if lo > hi {
		lo, hi = hi, lo
	}
	e.update(func(p *raymarch.Params) { p.WindowMin, p.WindowMax = lo, hi })
}

// SetHUWindow sets the window from a level and width.
func (e *Engine) SetHUWindow(level, width float32) {
	if width < 0 {
		width = -width
	}
	e.SetWindow(level-width/2, level+width/2)
}

// SetSamplingStep sets the nominal number of steps across the volume
// diagonal. Values below 1 are raised to 1.
func (e *Engine) SetSamplingStep(steps int) {
	e.update(func(p *raymarch.Params) { p.Quality = int32(max(steps, 1)) })
}

// SetLighting enables or disables shading.
func (e *Engine) SetLighting(enabled bool) {
	e.update(func(p *raymarch.Params) { p.Lighting = enabled })
}

// SetEarlyTermination sets the opacity at which forward rays stop; 0
// disables early termination.
func (e *Engine) SetEarlyTermination(threshold float32) {
	e.update(func(p *raymarch.Params) { p.EarlyTermination = threshold })
}

// SetDensityGate sets the normalized density floor and ceiling. Inverted
// bounds are swapped.
func (e *Engine) SetDensityGate(floor, ceil float32) {
	if floor > ceil {
		floor, ceil = ceil, floor
	}
	e.update(func(p *raymarch.Params) { p.DensityFloor, p.DensityCeil = floor, ceil })
}

// SetHUGate sets the raw intensity gate applied to projections. Inverted
// bounds are swapped.
func (e *Engine) SetHUGate(enabled bool, lo, hi float32) {
	if lo > hi {
		lo, hi = hi, lo
	}
	e.update(func(p *raymarch.Params) { p.HUGate, p.HUMin, p.HUMax = enabled, lo, hi })
}

// SetChannelIntensities sets the per-channel weights. Missing entries are
// left unchanged.
func (e *Engine) SetChannelIntensities(weights []float32) error {
	if len(weights) > binding.MaxChannels {
		return fmt.Errorf("%d channel weights, at most %d", len(weights), binding.MaxChannels)
	}
	e.update(func(p *raymarch.Params) {
		for i, w := range weights {
			p.ChannelIntensity[i] = max(w, 0)
		}
	})
	return nil
}

// SetToneCurvePoints replaces the tone curve of a channel with custom
// control points.
func (e *Engine) SetToneCurvePoints(ch int, points []transfer.CurvePoint) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[ch].tone = e.channels[ch].tone.WithPoints(points)
	return nil
}

// SetToneCurvePreset applies a named tone curve to a channel, keeping its
// gain.
func (e *Engine) SetToneCurvePreset(ch int, name string) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	curve, err := transfer.ToneCurvePreset(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	curve.Gain = e.channels[ch].tone.Gain
	e.channels[ch].tone = curve
	return nil
}

// SetToneCurveGain sets the tone curve gain of a channel.
func (e *Engine) SetToneCurveGain(ch int, gain float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if gain < 0 {
		return fmt.Errorf("negative tone curve gain %g", gain)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[ch].tone.Gain = gain
	return nil
}

// SetAdaptive enables gradient-driven step sizes.
func (e *Engine) SetAdaptive(enabled bool, threshold float32) {
	e.update(func(p *raymarch.Params) { p.Adaptive, p.AdaptiveThreshold = enabled, threshold })
}

// SetJitter sets the ray start jitter as a fraction of one step.
func (e *Engine) SetJitter(amount float32) {
	e.update(func(p *raymarch.Params) { p.Jitter = clamp01(amount) })
}

// UpdateClipBounds sets the trim bounds xmin, xmax, ymin, ymax, zmin,
// zmax. Values are clamped to [0,1] and inverted pairs swapped.
func (e *Engine) UpdateClipBounds(trim [6]float32) {
	for axis := 0; axis < 3; axis++ {
		lo, hi := clamp01(trim[axis*2]), clamp01(trim[axis*2+1])
		if lo > hi {
			lo, hi = hi, lo
		}
		trim[axis*2], trim[axis*2+1] = lo, hi
	}
	e.update(func(p *raymarch.Params) { p.Trim = trim })
}

// ResetClipBounds restores the full trim box, disables the clip planes and
// clears the clip box rotation.
func (e *Engine) ResetClipBounds() {
	e.update(func(p *raymarch.Params) {
		p.Trim = raymarch.FullTrim()
		p.ClipPlanes = [raymarch.MaxClipPlanes]raymarch.ClipPlane{}
		p.ClipOrientation = mgl32.QuatIdent()
	})
}

// SetClipPlanePreset points clip plane 0 along an anatomical axis, keeping
// its offset. ClipPlaneNone disables every plane.
func (e *Engine) SetClipPlanePreset(preset ClipPlanePreset) error {
	normal, ok := clipPlaneNormals[preset]
	if !ok {
		return fmt.Errorf("unknown clip plane preset %v", preset)
	}
	e.update(func(p *raymarch.Params) {
		if preset == ClipPlaneNone {
			p.ClipPlanes = [raymarch.MaxClipPlanes]raymarch.ClipPlane{}
			return
		}
		p.ClipPlanes[0].Normal = normal
	})
	return nil
}

// SetClipPlaneOffset sets the offset of a clip plane in volume units
// measured from the centre.
func (e *Engine) SetClipPlaneOffset(plane int, offset float32) error {
	if plane < 0 || plane >= raymarch.MaxClipPlanes {
		return fmt.Errorf("clip plane %d out of range [0,%d)", plane, raymarch.MaxClipPlanes)
	}
	e.update(func(p *raymarch.Params) { p.ClipPlanes[plane].Offset = offset })
	return nil
}

// SetClipPlane sets a clip plane equation directly.
func (e *Engine) SetClipPlane(plane int, c raymarch.ClipPlane) error {
	if plane < 0 || plane >= raymarch.MaxClipPlanes {
		return fmt.Errorf("clip plane %d out of range [0,%d)", plane, raymarch.MaxClipPlanes)
	}
	if c.Enabled() {
		c.Normal = c.Normal.Normalize()
	}
	e.update(func(p *raymarch.Params) { p.ClipPlanes[plane] = c })
	return nil
}

// SetClipOrientation rotates the clip box about the volume centre.
func (e *Engine) SetClipOrientation(q mgl32.Quat) {
	if q.Len() == 0 {
		q = mgl32.QuatIdent()
	}
	q = q.Normalize()
	e.update(func(p *raymarch.Params) { p.ClipOrientation = q })
}

// SetRayDirection selects front-to-back (false) or back-to-front (true)
// marching.
func (e *Engine) SetRayDirection(backward bool) {
	e.update(func(p *raymarch.Params) { p.Backward = backward })
}

// SetBackground sets the colour composited behind the volume.
func (e *Engine) SetBackground(rgba [4]float32) {
	for i := range rgba {
		rgba[i] = clamp01(rgba[i])
	}
	e.update(func(p *raymarch.Params) { p.Background = rgba })
}

// SetTransferFunction assigns a transfer function to a channel. The
// channel's lookup table is rebuilt on the next render.
func (e *Engine) SetTransferFunction(ch int, tf transfer.TransferFunction) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[ch].tf = &tf
	if e.bindings != nil {
		e.bindings.Invalidate(binding.TransferSlot(ch))
	}
	return nil
}

// ClearTransferFunction disables a channel.
func (e *Engine) ClearTransferFunction(ch int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	if ch == 0 {
		return fmt.Errorf("channel 0 always has a transfer function")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[ch] = channel{tone: e.channels[ch].tone}
	if e.bindings != nil {
		e.bindings.Invalidate(binding.TransferSlot(ch))
	}
	return nil
}

// SetPreset assigns a named transfer-function preset to a channel.
func (e *Engine) SetPreset(ch int, name string) error {
	tf, err := transfer.Preset(name)
	if err != nil {
		return err
	}
	return e.SetTransferFunction(ch, tf)
}

func clamp01(v float32) float32 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
