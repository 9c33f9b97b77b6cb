package preview

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"volumerender/internal/models"
	"volumerender/pkg/raymarch"
)

// gradientVolume holds x*100 + z at every voxel
func gradientVolume(t *testing.T, width, height, depth int) *models.VolumeDataset {
	t.Helper()
	values := make([]int32, width*height*depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				values[z*width*height+y*width+x] = int32(x*100 + z)
			}
		}
	}
	ds, err := models.NewVolumeDataset(models.EncodeVoxels(values, models.PixelFormatUint16),
		[3]int{width, height, depth}, [3]float64{1, 1, 1}, models.PixelFormatUint16,
		models.IntensityRange{Min: 0, Max: int32((width-1)*100 + depth - 1)})
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	return ds
}

func windowParams(min, max float32) raymarch.Params {
	p := raymarch.DefaultParams()
	p.WindowMin, p.WindowMax = min, max
	return p
}

func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	s, err := NewSlicer(gradientVolume(t, width, height, depth), windowParams(0, 900))
	if err != nil {
		t.Fatalf("Failed to create slicer: %v", err)
	}

	tests := []struct {
		axis       string
		cols, rows int
	}{
		{"x", depth, height},
		{"y", width, depth},
		{"z", width, height},
	}
	for _, tt := range tests {
		t.Run(tt.axis, func(t *testing.T) {
			img, err := s.ExtractSlice(tt.axis, 2)
			if err != nil {
				t.Fatalf("Failed to extract slice: %v", err)
			}
			b := img.Bounds()
			if b.Dx() != tt.cols || b.Dy() != tt.rows {
				t.Errorf("Expected %dx%d, got %dx%d", tt.cols, tt.rows, b.Dx(), b.Dy())
			}
		})
	}

	// x = 9 maps to 900 + z, which saturates the window
	img, _ := s.ExtractSlice("z", 0)
	if got := img.Gray16At(9, 0).Y; got != 65535 {
		t.Errorf("Expected a saturated pixel, got %d", got)
	}
	if got := img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("Expected black at the window floor, got %d", got)
	}
	if got := img.Gray16At(3, 0).Y; got < 21800 || got > 21900 {
		t.Errorf("Expected about a third of full scale, got %d", got)
	}

	if _, err := s.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := s.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := s.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

func TestTrim(t *testing.T) {
	p := windowParams(0, 900)
	p.Trim[0] = 0.5
	p.Trim[4], p.Trim[5] = 0.2, 0.6
	s, err := NewSlicer(gradientVolume(t, 10, 4, 10), p)
	if err != nil {
		t.Fatalf("Failed to create slicer: %v", err)
	}

	if s.Kept(4, 0, 3) || !s.Kept(5, 0, 3) {
		t.Error("Expected the x trim to start at voxel 5")
	}
	if s.Kept(5, 0, 1) || s.Kept(5, 0, 6) {
		t.Error("Expected z voxels outside [2, 6) to be trimmed")
	}

	mid, err := s.MidSlice("z")
	if err != nil || mid != 3 {
		t.Errorf("Expected mid slice 3, got %d (%v)", mid, err)
	}

	img, _ := s.ExtractSlice("z", mid)
	if got := img.Gray16At(2, 0).Y; got != 0 {
		t.Errorf("Expected trimmed voxel to be black, got %d", got)
	}
	if got := img.Gray16At(9, 0).Y; got != 65535 {
		t.Errorf("Expected kept voxel to be bright, got %d", got)
	}
}

func TestRender(t *testing.T) {
	p := windowParams(0, 900)
	p.Trim[0] = 0.5
	p.Background = [4]float32{0, 0, 1, 1}
	s, err := NewSlicer(gradientVolume(t, 10, 10, 4), p)
	if err != nil {
		t.Fatalf("Failed to create slicer: %v", err)
	}

	img, err := s.Render(models.Size{Width: 20, Height: 20})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if img.Bounds().Dx() != 20 || img.Bounds().Dy() != 20 {
		t.Fatalf("Expected 20x20, got %v", img.Bounds())
	}

	if got := img.RGBAAt(1, 10); got != (color.RGBA{0, 0, 255, 255}) {
		t.Errorf("Expected the background in the trimmed half, got %v", got)
	}
	if got := img.RGBAAt(19, 10); got.R != 255 || got.A != 255 {
		t.Errorf("Expected a bright opaque pixel in the kept half, got %v", got)
	}

	if _, err := s.Render(models.Size{}); err == nil {
		t.Error("Expected error for an empty viewport")
	}
}

// TestSaveSlice verifies that slices can be saved to disk
func TestSaveSlice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	s, err := NewSlicer(gradientVolume(t, 10, 10, 5), windowParams(0, 900))
	if err != nil {
		t.Fatalf("Failed to create slicer: %v", err)
	}
	img, err := s.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	filename := filepath.Join(t.TempDir(), "test_slice.jpg")
	if err := SaveSlice(img, filename); err != nil {
		t.Fatalf("Failed to save slice: %v", err)
	}
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		t.Errorf("Saved file does not exist: %s", filename)
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	depth := 3
	s, err := NewSlicer(gradientVolume(t, 5, 5, depth), windowParams(0, 500))
	if err != nil {
		t.Fatalf("Failed to create slicer: %v", err)
	}

	outputDir := filepath.Join(t.TempDir(), "slices")
	if err := s.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.jpg", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := s.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
