package transfer

import (
	"math"
)

// DefaultResolution is the number of samples in a lookup table.
const DefaultResolution = 1024

// Table is a 1D RGBA lookup table spanning a transfer function's domain.
// Texels are stored interleaved (r, g, b, a) as float32, matching an
// RGBA32Float 1D texture.
type Table struct {
	// Resolution is the number of texels
	Resolution int

	// Domain is the intensity range the first and last texel map to
	Domain Domain

	// Hash is the content hash of the transfer function the table was built from
	Hash uint64

	// Texels holds Resolution*4 floats
	Texels []float32
}

// Build samples the sanitized transfer function into a lookup table. Texel i
// corresponds to intensity Domain.Min + i*(Domain.Span())/(resolution-1).
// Shift is added to every control point intensity before interpolation and
// sRGB colours are linearized.
func Build(tf TransferFunction, resolution int) *Table {
	if resolution < 2 {
		resolution = DefaultResolution
	}
	s := tf.Sanitized()

	colors := make([]ColorPoint, len(s.ColorPoints))
	for i, p := range s.ColorPoints {
		c := p.Color
		if s.ColorSpace == ColorSpaceSRGB {
			for k := 0; k < 3; k++ {
				c[k] = SRGBToLinear(c[k])
			}
		}
		colors[i] = ColorPoint{Intensity: p.Intensity + s.Shift, Color: c}
	}
	alphas := make([]AlphaPoint, len(s.AlphaPoints))
	for i, p := range s.AlphaPoints {
		alphas[i] = AlphaPoint{Intensity: p.Intensity + s.Shift, Alpha: p.Alpha}
	}

	table := &Table{
		Resolution: resolution,
		Domain:     s.Domain,
		Hash:       tf.ContentHash(),
		Texels:     make([]float32, resolution*4),
	}

	step := s.Domain.Span() / float64(resolution-1)
	for i := 0; i < resolution; i++ {
		v := s.Domain.Min + float64(i)*step
		if i == resolution-1 {
			v = s.Domain.Max
		}
		c := interpolateColor(colors, v)
		a := interpolateAlpha(alphas, v)
		table.Texels[i*4+0] = float32(clamp01(c[0]))
		table.Texels[i*4+1] = float32(clamp01(c[1]))
		table.Texels[i*4+2] = float32(clamp01(c[2]))
		table.Texels[i*4+3] = float32(clamp01(a * c[3]))
	}

	return table
}

// interpolateColor evaluates the piecewise-linear colour curve at v,
// clamping outside the first/last point.
func interpolateColor(pts []ColorPoint, v float64) [4]float64 {
	if v <= pts[0].Intensity {
		return pts[0].Color
	}
	last := pts[len(pts)-1]
	if v >= last.Intensity {
		return last.Color
	}
	for i := 1; i < len(pts); i++ {
		if v <= pts[i].Intensity {
			a, b := pts[i-1], pts[i]
			t := (v - a.Intensity) / (b.Intensity - a.Intensity)
			var out [4]float64
			for k := range out {
				out[k] = a.Color[k] + (b.Color[k]-a.Color[k])*t
			}
			return out
		}
	}
	return last.Color
}

func interpolateAlpha(pts []AlphaPoint, v float64) float64 {
	if v <= pts[0].Intensity {
		return pts[0].Alpha
	}
	last := pts[len(pts)-1]
	if v >= last.Intensity {
		return last.Alpha
	}
	for i := 1; i < len(pts); i++ {
		if v <= pts[i].Intensity {
			a, b := pts[i-1], pts[i]
			t := (v - a.Intensity) / (b.Intensity - a.Intensity)
			return a.Alpha + (b.Alpha-a.Alpha)*t
		}
	}
	return last.Alpha
}

// Sample returns the linearly filtered RGBA value at a normalized position
// in [0,1] across the table's domain. Positions outside are clamped.
func (t *Table) Sample(normalized float32) [4]float32 {
	if normalized != normalized { // NaN
		normalized = 0
	}
	x := normalized * float32(t.Resolution-1)
	if x <= 0 {
		return t.texel(0)
	}
	maxIdx := float32(t.Resolution - 1)
	if x >= maxIdx {
		return t.texel(t.Resolution - 1)
	}
	i := int(x)
	f := x - float32(i)
	a, b := t.texel(i), t.texel(i+1)
	return [4]float32{
		a[0] + (b[0]-a[0])*f,
		a[1] + (b[1]-a[1])*f,
		a[2] + (b[2]-a[2])*f,
		a[3] + (b[3]-a[3])*f,
	}
}

// SampleIntensity looks up a raw intensity by normalizing it against the
// table's domain.
func (t *Table) SampleIntensity(v float64) [4]float32 {
	span := t.Domain.Span()
	if span <= 0 {
		return t.texel(0)
	}
	return t.Sample(float32((v - t.Domain.Min) / span))
}

func (t *Table) texel(i int) [4]float32 {
	o := i * 4
	return [4]float32{t.Texels[o], t.Texels[o+1], t.Texels[o+2], t.Texels[o+3]}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
