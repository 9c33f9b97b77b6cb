package main

import "testing"

func TestHeadPhantom(t *testing.T) {
	ds, err := headPhantom(32, 0.5)
	if err != nil {
		t.Fatalf("Failed to build phantom: %v", err)
	}
	if ds.VoxelCount() != 32*32*32 {
		t.Errorf("Expected %d voxels, got %d", 32*32*32, ds.VoxelCount())
	}
	if v := ds.Voxel(0, 0, 0); v != huAir {
		t.Errorf("Expected air in the corner, got %d", v)
	}
	if v := ds.Voxel(16, 16, 16); v != huInner {
		t.Errorf("Expected inner tissue at the centre, got %d", v)
	}
	if ext := ds.PhysicalExtent(); ext[0] != 16 {
		t.Errorf("Expected 16mm extent, got %v", ext[0])
	}
}
