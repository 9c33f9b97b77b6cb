package transfer

import (
	"fmt"
	"sort"
)

// ToneCurveResolution is the number of entries in a tone-curve lookup buffer.
const ToneCurveResolution = 256

// CurvePoint is a tone-curve control point; both coordinates are normalized
// to [0,1].
type CurvePoint struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// ToneCurve is a per-channel opacity curve. The ray marcher multiplies a
// channel's transfer-function alpha by the curve value at the sample
// density, scaled by Gain.
type ToneCurve struct {
	// Preset is the name of the preset the points came from, or "custom"
	Preset string

	// Points are the control points, sorted by X after sanitization
	Points []CurvePoint

	// Gain multiplies the curve output
	Gain float64
}

var toneCurvePresets = map[string][]CurvePoint{
	"linear":   {{0, 0}, {1, 1}},
	"ease-in":  {{0, 0}, {0.5, 0.25}, {0.75, 0.5625}, {1, 1}},
	"ease-out": {{0, 0}, {0.25, 0.4375}, {0.5, 0.75}, {1, 1}},
	"s-curve":  {{0, 0}, {0.25, 0.1}, {0.5, 0.5}, {0.75, 0.9}, {1, 1}},
	"flat":     {{0, 1}, {1, 1}},
}

// ToneCurvePresetNames returns the preset names in sorted order.
func ToneCurvePresetNames() []string {
	names := make([]string, 0, len(toneCurvePresets))
	for name := range toneCurvePresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultToneCurve returns the identity ("flat") curve with unit gain.
func DefaultToneCurve() ToneCurve {
	c, _ := ToneCurvePreset("flat")
	return c
}

// ToneCurvePreset returns the named tone curve with unit gain.
func ToneCurvePreset(name string) (ToneCurve, error) {
	pts, ok := toneCurvePresets[name]
	if !ok {
		return ToneCurve{}, fmt.Errorf("unknown tone curve preset %q", name)
	}
	return ToneCurve{Preset: name, Points: append([]CurvePoint(nil), pts...), Gain: 1}, nil
}

// WithPoints returns a copy of the curve using custom control points.
func (c ToneCurve) WithPoints(points []CurvePoint) ToneCurve {
	c.Preset = "custom"
	c.Points = append([]CurvePoint(nil), points...)
	return c
}

// sanitized sorts, deduplicates and clamps the control points to [0,1] and
// pads the ends so the curve covers the whole unit interval.
func (c ToneCurve) sanitized() []CurvePoint {
	if len(c.Points) == 0 {
		return []CurvePoint{{0, 1}, {1, 1}}
	}
	pts := make([]CurvePoint, len(c.Points))
	for i, p := range c.Points {
		pts[i] = CurvePoint{X: clamp01(p.X), Y: clamp01(p.Y)}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].X < pts[j].X })

	dedup := pts[:0]
	for i, p := range pts {
		if i+1 < len(pts) && pts[i+1].X == p.X {
			continue
		}
		dedup = append(dedup, p)
	}
	if dedup[0].X != 0 {
		dedup = append([]CurvePoint{{0, dedup[0].Y}}, dedup...)
	}
	if last := dedup[len(dedup)-1]; last.X != 1 {
		dedup = append(dedup, CurvePoint{1, last.Y})
	}
	return dedup
}

// Evaluate returns the gain-scaled curve value at x, clamped to [0,1].
func (c ToneCurve) Evaluate(x float64) float64 {
	return evaluateCurve(c.sanitized(), x, c.Gain)
}

func evaluateCurve(pts []CurvePoint, x, gain float64) float64 {
	x = clamp01(x)
	y := pts[len(pts)-1].Y
	for i := 1; i < len(pts); i++ {
		if x <= pts[i].X {
			a, b := pts[i-1], pts[i]
			t := 0.0
			if b.X > a.X {
				t = (x - a.X) / (b.X - a.X)
			}
			y = a.Y + (b.Y-a.Y)*t
			break
		}
	}
	return clamp01(y * gain)
}

// LUT samples the curve into a ToneCurveResolution-entry buffer.
func (c ToneCurve) LUT() []float32 {
	pts := c.sanitized()
	out := make([]float32, ToneCurveResolution)
	for i := range out {
		x := float64(i) / float64(ToneCurveResolution-1)
		out[i] = float32(evaluateCurve(pts, x, c.Gain))
	}
	return out
}
