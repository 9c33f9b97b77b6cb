package engine

import (
	"context"

	"github.com/go-gl/mathgl/mgl32"

	"volumerender/pkg/histogram"
	"volumerender/pkg/raymarch"
	"volumerender/pkg/transfer"
)

// WindowSnapshot is the intensity mapping of the session.
type WindowSnapshot struct {
	Method raymarch.Method

	// Min and Max are the window bounds in raw units
	Min, Max float32

	// Level and Width describe the same window as a centre and span
	Level, Width float32

	// DataMin and DataMax are the dataset range
	DataMin, DataMax float32

	DensityFloor, DensityCeil float32

	HUGate       bool
	HUMin, HUMax float32
}

// ClipSnapshot is the clipping state of the session.
type ClipSnapshot struct {
	// Trim holds xmin, xmax, ymin, ymax, zmin, zmax in [0,1]
	Trim        [6]float32
	Planes      [raymarch.MaxClipPlanes]raymarch.ClipPlane
	Orientation mgl32.Quat
}

// ChannelSnapshot describes one transfer channel.
type ChannelSnapshot struct {
	Index     int
	Enabled   bool
	Intensity float32

	// TransferFunction is the name of the channel's transfer function
	TransferFunction string

	ToneCurve transfer.ToneCurve
}

// WindowSnapshot returns the current intensity mapping.
func (e *Engine) WindowSnapshot() WindowSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.params
	return WindowSnapshot{
		Method:       p.Method,
		Min:          p.WindowMin,
		Max:          p.WindowMax,
		Level:        (p.WindowMin + p.WindowMax) / 2,
		Width:        p.WindowMax - p.WindowMin,
		DataMin:      p.DataMin,
		DataMax:      p.DataMax,
		DensityFloor: p.DensityFloor,
		DensityCeil:  p.DensityCeil,
		HUGate:       p.HUGate,
		HUMin:        p.HUMin,
		HUMax:        p.HUMax,
	}
}

// ClipSnapshot returns the current clipping state.
func (e *Engine) ClipSnapshot() ClipSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ClipSnapshot{
		Trim:        e.params.Trim,
		Planes:      e.params.ClipPlanes,
		Orientation: e.params.ClipOrientation,
	}
}

// ChannelSnapshots returns every channel, enabled or not.
func (e *Engine) ChannelSnapshots() []ChannelSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ChannelSnapshot, len(e.channels))
	for i, c := range e.channels {
		tone := c.tone
		tone.Points = append([]transfer.CurvePoint(nil), c.tone.Points...)
		out[i] = ChannelSnapshot{
			Index:     i,
			Enabled:   c.tf != nil,
			Intensity: e.params.ChannelIntensity[i],
			ToneCurve: tone,
		}
		if c.tf != nil {
			out[i].TransferFunction = c.tf.Name
		}
	}
	return out
}

// Histogram bins the dataset intensities. An invalid descriptor fails
// before any voxel is read.
func (e *Engine) Histogram(ctx context.Context, d histogram.Descriptor) ([]float64, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	ds := e.dataset
	e.mu.Unlock()
	if ds == nil {
		return nil, ErrNoDataset
	}
	return histogram.Compute(ctx, ds.Intensities(), d)
}
