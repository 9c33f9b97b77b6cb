package models

import (
	"encoding/binary"
	"fmt"
)

// PixelFormat describes how each voxel is stored in a VolumeDataset buffer.
type PixelFormat int

const (
	// PixelFormatInt16 stores voxels as little-endian signed 16-bit integers
	// (typical for CT data in Hounsfield units).
	PixelFormatInt16 PixelFormat = iota

	// PixelFormatUint16 stores voxels as little-endian unsigned 16-bit integers
	// (typical for MR data).
	PixelFormatUint16
)

// String returns the format name.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatInt16:
		return "int16"
	case PixelFormatUint16:
		return "uint16"
	default:
		return "unknown"
	}
}

// BytesPerVoxel returns the storage size of a single voxel.
func (f PixelFormat) BytesPerVoxel() int {
	return 2
}

// IntensityRange is an inclusive [Min, Max] span of raw intensities.
type IntensityRange struct {
	Min int32
	Max int32
}

// Span returns Max-Min as a float.
func (r IntensityRange) Span() float64 {
	return float64(r.Max) - float64(r.Min)
}

// VolumeDataset represents a 3D scalar intensity volume (CT or MR scan).
//
// The dataset is immutable once constructed. The engine borrows it read-only
// for the duration of a render; the host owns it.
type VolumeDataset struct {
	// Data is the raw voxel buffer in x-fastest order:
	// offset = (z*Height*Width + y*Width + x) * BytesPerVoxel
	Data []byte

	// Dimensions holds the voxel counts along x, y and z
	Dimensions [3]int

	// Spacing is the physical size of each voxel in mm along x, y and z
	Spacing [3]float64

	// Format is the voxel storage format
	Format PixelFormat

	// Range is the intensity range of the dataset
	Range IntensityRange
}

// NewVolumeDataset validates and wraps a voxel buffer.
func NewVolumeDataset(data []byte, dims [3]int, spacing [3]float64, format PixelFormat, r IntensityRange) (*VolumeDataset, error) {
	for axis, d := range dims {
		if d <= 0 {
			return nil, fmt.Errorf("dimension %d must be positive, got %d", axis, d)
		}
	}
	for axis, s := range spacing {
		if s <= 0 {
			return nil, fmt.Errorf("spacing %d must be positive, got %f", axis, s)
		}
	}
	if format != PixelFormatInt16 && format != PixelFormatUint16 {
		return nil, fmt.Errorf("unsupported pixel format %d", format)
	}
	want := dims[0] * dims[1] * dims[2] * format.BytesPerVoxel()
	if len(data) != want {
		return nil, fmt.Errorf("voxel buffer has %d bytes, expected %d", len(data), want)
	}
	if r.Min > r.Max {
		r.Min, r.Max = r.Max, r.Min
	}

	return &VolumeDataset{
		Data:       data,
		Dimensions: dims,
		Spacing:    spacing,
		Format:     format,
		Range:      r,
	}, nil
}

// VoxelCount returns the total number of voxels.
func (v *VolumeDataset) VoxelCount() int {
	return v.Dimensions[0] * v.Dimensions[1] * v.Dimensions[2]
}

// Index returns the voxel index of (x, y, z).
func (v *VolumeDataset) Index(x, y, z int) int {
	return z*v.Dimensions[0]*v.Dimensions[1] + y*v.Dimensions[0] + x
}

// VoxelAt returns the raw intensity at a linear voxel index.
func (v *VolumeDataset) VoxelAt(idx int) int32 {
	raw := binary.LittleEndian.Uint16(v.Data[idx*2:])
	if v.Format == PixelFormatInt16 {
		return int32(int16(raw))
	}
	return int32(raw)
}

// Voxel returns the raw intensity at (x, y, z). Coordinates are clamped to
// the volume bounds.
func (v *VolumeDataset) Voxel(x, y, z int) int32 {
	x = clampInt(x, 0, v.Dimensions[0]-1)
	y = clampInt(y, 0, v.Dimensions[1]-1)
	z = clampInt(z, 0, v.Dimensions[2]-1)
	return v.VoxelAt(v.Index(x, y, z))
}

// Intensities decodes every voxel into a float slice in storage order.
func (v *VolumeDataset) Intensities() []float64 {
	out := make([]float64, v.VoxelCount())
	for i := range out {
		out[i] = float64(v.VoxelAt(i))
	}
	return out
}

// PhysicalExtent returns the size of the volume in mm along each axis.
func (v *VolumeDataset) PhysicalExtent() [3]float64 {
	return [3]float64{
		float64(v.Dimensions[0]) * v.Spacing[0],
		float64(v.Dimensions[1]) * v.Spacing[1],
		float64(v.Dimensions[2]) * v.Spacing[2],
	}
}

// EncodeVoxels packs raw intensities into a little-endian voxel buffer in the
// given format. Values are saturated to the format's range.
func EncodeVoxels(values []int32, format PixelFormat) []byte {
	out := make([]byte, len(values)*2)
	for i, val := range values {
		var raw uint16
		if format == PixelFormatInt16 {
			raw = uint16(int16(clampInt32(val, -32768, 32767)))
		} else {
			raw = uint16(clampInt32(val, 0, 65535))
		}
		binary.LittleEndian.PutUint16(out[i*2:], raw)
	}
	return out
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

func clampInt32(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
