package models

import (
	"testing"
)

// TestNewVolumeDataset verifies buffer validation and voxel decoding
func TestNewVolumeDataset(t *testing.T) {
	values := []int32{-1000, 0, 400, 3000, 1, 2, 3, 4}
	data := EncodeVoxels(values, PixelFormatInt16)

	ds, err := NewVolumeDataset(data, [3]int{2, 2, 2}, [3]float64{1, 1, 2.5}, PixelFormatInt16, IntensityRange{Min: 3000, Max: -1000})
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}

	if ds.Range.Min != -1000 || ds.Range.Max != 3000 {
		t.Errorf("Expected swapped range [-1000,3000], got [%d,%d]", ds.Range.Min, ds.Range.Max)
	}

	for i, want := range values {
		if got := ds.VoxelAt(i); got != want {
			t.Errorf("Voxel %d: expected %d, got %d", i, want, got)
		}
	}

	if got := ds.Voxel(1, 1, 0); got != 3000 {
		t.Errorf("Expected voxel (1,1,0) = 3000, got %d", got)
	}

	// Out of range coordinates clamp to the border
	if got := ds.Voxel(5, -3, 9); got != ds.Voxel(1, 0, 1) {
		t.Errorf("Expected clamped voxel %d, got %d", ds.Voxel(1, 0, 1), got)
	}

	extent := ds.PhysicalExtent()
	if extent[2] != 5 {
		t.Errorf("Expected z extent 5mm, got %f", extent[2])
	}
}

func TestNewVolumeDatasetErrors(t *testing.T) {
	good := EncodeVoxels(make([]int32, 8), PixelFormatUint16)

	tests := []struct {
		name    string
		data    []byte
		dims    [3]int
		spacing [3]float64
	}{
		{"short buffer", good[:10], [3]int{2, 2, 2}, [3]float64{1, 1, 1}},
		{"zero dimension", good, [3]int{2, 0, 2}, [3]float64{1, 1, 1}},
		{"negative spacing", good, [3]int{2, 2, 2}, [3]float64{1, -1, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewVolumeDataset(tt.data, tt.dims, tt.spacing, PixelFormatUint16, IntensityRange{}); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

// TestEncodeVoxelsSaturates verifies out-of-range values are clamped
func TestEncodeVoxelsSaturates(t *testing.T) {
	data := EncodeVoxels([]int32{-5, 70000}, PixelFormatUint16)
	ds, err := NewVolumeDataset(data, [3]int{2, 1, 1}, [3]float64{1, 1, 1}, PixelFormatUint16, IntensityRange{0, 65535})
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	if ds.VoxelAt(0) != 0 || ds.VoxelAt(1) != 65535 {
		t.Errorf("Expected [0 65535], got [%d %d]", ds.VoxelAt(0), ds.VoxelAt(1))
	}
}

func TestCameraMatrices(t *testing.T) {
	cam := DefaultCamera(Size{Width: 200, Height: 100}, 3)
	vp := cam.ViewProjection()
	inv := vp.Inv()

	// The camera target projects to the viewport centre
	clip := vp.Mul4x1(cam.Target.Vec4(1))
	if clip.W() == 0 {
		t.Fatal("Expected non-zero clip w")
	}
	ndc := clip.Vec3().Mul(1 / clip.W())
	if abs32(ndc.X()) > 1e-5 || abs32(ndc.Y()) > 1e-5 {
		t.Errorf("Expected target at NDC origin, got %v", ndc)
	}

	round := inv.Mul4(vp)
	for i := 0; i < 16; i++ {
		want := float32(0)
		if i%5 == 0 {
			want = 1
		}
		if abs32(round[i]-want) > 1e-4 {
			t.Fatalf("Expected identity from inverse * vp, element %d = %f", i, round[i])
		}
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
