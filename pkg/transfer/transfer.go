// Package transfer builds colour/opacity lookup tables from sparse transfer
// function control points.
//
// A TransferFunction is a value type. Before a table is built the control
// points are sanitized: sorted by intensity, deduplicated (last write wins),
// clamped to the domain and padded so the first and last point always sit on
// the domain bounds. The content hash of the sanitized points keys the
// lookup-table cache.
package transfer

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
)

// ColorSpace tags the colour space control-point colours are authored in.
type ColorSpace int

const (
	// ColorSpaceLinear colours are used as-is
	ColorSpaceLinear ColorSpace = iota

	// ColorSpaceSRGB colours are gamma encoded and linearized before use
	ColorSpaceSRGB
)

// String returns the colour space name.
func (c ColorSpace) String() string {
	if c == ColorSpaceSRGB {
		return "srgb"
	}
	return "linear"
}

// ColorPoint is an RGBA control point at a raw intensity.
type ColorPoint struct {
	Intensity float64    `yaml:"intensity"`
	Color     [4]float64 `yaml:"color"`
}

// AlphaPoint is an opacity control point at a raw intensity.
type AlphaPoint struct {
	Intensity float64 `yaml:"intensity"`
	Alpha     float64 `yaml:"alpha"`
}

// Domain is the intensity span a lookup table covers.
type Domain struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Span returns Max-Min.
func (d Domain) Span() float64 {
	return d.Max - d.Min
}

func (d Domain) clamp(v float64) float64 {
	return math.Max(d.Min, math.Min(d.Max, v))
}

// TransferFunction maps intensity to colour and opacity.
type TransferFunction struct {
	// Name is informational (preset name)
	Name string

	// ColorPoints are the colour control points
	ColorPoints []ColorPoint

	// AlphaPoints are the opacity control points
	AlphaPoints []AlphaPoint

	// Domain is the intensity range covered by the lookup table
	Domain Domain

	// Shift is added to every control point's intensity before interpolation
	Shift float64

	// ColorSpace of the colour control points
	ColorSpace ColorSpace
}

// Sanitized returns a copy of tf with sorted, deduplicated, domain-clamped
// control points whose first and last entries coincide with the domain
// bounds. An inverted domain is swapped; an empty point list gets a white
// colour ramp or a linear 0→1 opacity ramp.
func (tf TransferFunction) Sanitized() TransferFunction {
	out := tf
	if out.Domain.Min > out.Domain.Max {
		out.Domain.Min, out.Domain.Max = out.Domain.Max, out.Domain.Min
	}
	out.ColorPoints = sanitizeColors(tf.ColorPoints, out.Domain)
	out.AlphaPoints = sanitizeAlphas(tf.AlphaPoints, out.Domain)
	return out
}

func sanitizeColors(points []ColorPoint, d Domain) []ColorPoint {
	if len(points) == 0 {
		white := [4]float64{1, 1, 1, 1}
		return []ColorPoint{{Intensity: d.Min, Color: white}, {Intensity: d.Max, Color: white}}
	}

	pts := make([]ColorPoint, len(points))
	for i, p := range points {
		pts[i] = ColorPoint{Intensity: d.clamp(p.Intensity), Color: p.Color}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Intensity < pts[j].Intensity })

	// Stable sort keeps insertion order within equal intensities, so the
	// last element of each run is the last write.
	dedup := pts[:0]
	for i, p := range pts {
		if i+1 < len(pts) && pts[i+1].Intensity == p.Intensity {
			continue
		}
		dedup = append(dedup, p)
	}

	if dedup[0].Intensity != d.Min {
		dedup = append([]ColorPoint{{Intensity: d.Min, Color: dedup[0].Color}}, dedup...)
	}
	if last := dedup[len(dedup)-1]; last.Intensity != d.Max {
		dedup = append(dedup, ColorPoint{Intensity: d.Max, Color: last.Color})
	}
	return dedup
}

func sanitizeAlphas(points []AlphaPoint, d Domain) []AlphaPoint {
	if len(points) == 0 {
		return []AlphaPoint{{Intensity: d.Min, Alpha: 0}, {Intensity: d.Max, Alpha: 1}}
	}

	pts := make([]AlphaPoint, len(points))
	for i, p := range points {
		pts[i] = AlphaPoint{Intensity: d.clamp(p.Intensity), Alpha: p.Alpha}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Intensity < pts[j].Intensity })

	dedup := pts[:0]
	for i, p := range pts {
		if i+1 < len(pts) && pts[i+1].Intensity == p.Intensity {
			continue
		}
		dedup = append(dedup, p)
	}

	if dedup[0].Intensity != d.Min {
		dedup = append([]AlphaPoint{{Intensity: d.Min, Alpha: dedup[0].Alpha}}, dedup...)
	}
	if last := dedup[len(dedup)-1]; last.Intensity != d.Max {
		dedup = append(dedup, AlphaPoint{Intensity: d.Max, Alpha: last.Alpha})
	}
	return dedup
}

// ContentHash returns an FNV-1a hash of the sanitized control points, the
// domain, the shift and the colour space. Two transfer functions with the
// same hash produce identical lookup tables.
func (tf TransferFunction) ContentHash() uint64 {
	s := tf.Sanitized()
	h := fnv.New64a()

	var buf [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = h.Write(buf[:]) // fnv.Write never returns an error
	}

	put(s.Domain.Min)
	put(s.Domain.Max)
	put(s.Shift)
	put(float64(s.ColorSpace))
	put(float64(len(s.ColorPoints)))
	for _, p := range s.ColorPoints {
		put(p.Intensity)
		for _, c := range p.Color {
			put(c)
		}
	}
	put(float64(len(s.AlphaPoints)))
	for _, p := range s.AlphaPoints {
		put(p.Intensity)
		put(p.Alpha)
	}
	return h.Sum64()
}

// SRGBToLinear converts a gamma-encoded sRGB component to linear light using
// the standard piecewise transform.
func SRGBToLinear(c float64) float64 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return math.Pow((c+0.055)/1.055, 2.4)
}
