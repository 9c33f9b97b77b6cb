// Package preview renders a CPU-only single-slice image of a volume.
//
// It is the fallback when the compute path cannot run. It reads the same
// parameter model as the ray marcher but only honours the intensity window
// and the axis-aligned trim bounds; clip planes and the clip-box rotation
// are ignored.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"volumerender/internal/models"
	"volumerender/pkg/raymarch"
)

// trimEpsilon absorbs float32 rounding of the trim bounds.
const trimEpsilon = 1e-4

// Slicer extracts windowed slices from a dataset.
type Slicer struct {
	volume *models.VolumeDataset
	params raymarch.Params

	// lo and hi are the voxel bounds kept by the trim, hi exclusive
	lo [3]int
	hi [3]int
}

// NewSlicer creates a slicer for a dataset and the current parameters.
func NewSlicer(volume *models.VolumeDataset, params raymarch.Params) (*Slicer, error) {
	if volume == nil {
		return nil, fmt.Errorf("no dataset")
	}
	s := &Slicer{volume: volume, params: params}
	for axis := 0; axis < 3; axis++ {
		n := volume.Dimensions[axis]
		lo := clamp01(float64(params.Trim[axis*2]))
		hi := clamp01(float64(params.Trim[axis*2+1]))
		if hi < lo {
			lo, hi = hi, lo
		}
		s.lo[axis] = int(math.Floor(lo*float64(n) + trimEpsilon))
		s.hi[axis] = int(math.Ceil(hi*float64(n) - trimEpsilon))
		if s.hi[axis] > n {
			s.hi[axis] = n
		}
	}
	return s, nil
}

func axisIndex(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return 0, nil
	case "y", "Y":
		return 1, nil
	case "z", "Z":
		return 2, nil
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// Kept reports whether voxel (x, y, z) lies inside the trim bounds.
func (s *Slicer) Kept(x, y, z int) bool {
	p := [3]int{x, y, z}
	for axis := range p {
		if p[axis] < s.lo[axis] || p[axis] >= s.hi[axis] {
			return false
		}
	}
	return true
}

// MidSlice returns the slice position halfway through the trimmed range of
// an axis.
func (s *Slicer) MidSlice(axis string) (int, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return 0, err
	}
	if s.hi[a] <= s.lo[a] {
		return s.volume.Dimensions[a] / 2, nil
	}
	return (s.lo[a] + s.hi[a] - 1) / 2, nil
}

// window maps a raw voxel to [0,1] through the intensity window.
func (s *Slicer) window(raw int32) float64 {
	w, _ := s.params.Normalize(float32(raw))
	return float64(w)
}

// ExtractSlice extracts a windowed 2D slice along the given axis. Trimmed
// voxels are black.
func (s *Slicer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	dims := s.volume.Dimensions
	if position >= dims[a] {
		return nil, fmt.Errorf("position %d exceeds %s size %d", position, axis, dims[a])
	}

	// Image axes: x slices show (z, y), y slices show (x, z), z slices (x, y)
	var cols, rows int
	switch a {
	case 0:
		cols, rows = dims[2], dims[1]
	case 1:
		cols, rows = dims[0], dims[2]
	default:
		cols, rows = dims[0], dims[1]
	}

	img := image.NewGray16(image.Rect(0, 0, cols, rows))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var x, y, z int
			switch a {
			case 0:
				x, y, z = position, r, c
			case 1:
				x, y, z = c, position, r
			default:
				x, y, z = c, r, position
			}
			if !s.Kept(x, y, z) {
				continue
			}
			value := uint16(math.Round(s.window(s.volume.Voxel(x, y, z)) * 65535))
			img.SetGray16(c, r, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// Render draws the middle z slice scaled to size over the background
// colour. Trimmed voxels show the background.
func (s *Slicer) Render(size models.Size) (*image.RGBA, error) {
	if size.Empty() {
		return nil, fmt.Errorf("empty viewport %dx%d", size.Width, size.Height)
	}
	pos, err := s.MidSlice("z")
	if err != nil {
		return nil, err
	}
	dims := s.volume.Dimensions

	slice := image.NewNRGBA(image.Rect(0, 0, dims[0], dims[1]))
	for y := 0; y < dims[1]; y++ {
		for x := 0; x < dims[0]; x++ {
			if !s.Kept(x, y, pos) {
				continue
			}
			v := uint8(math.Round(s.window(s.volume.Voxel(x, y, pos)) * 255))
			slice.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}

	bg := s.params.Background
	out := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(out, out.Bounds(), image.NewUniform(color.NRGBA{
		R: unorm8(bg[0]), G: unorm8(bg[1]), B: unorm8(bg[2]), A: unorm8(bg[3]),
	}), image.Point{}, draw.Src)
	draw.NearestNeighbor.Scale(out, out.Bounds(), slice, slice.Bounds(), draw.Over, nil)
	return out, nil
}

// SaveSlice saves an image as a JPEG file.
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence writes every slice along axis into outputDir.
func (s *Slicer) SaveSliceSequence(axis string, outputDir string) error {
	a, err := axisIndex(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < s.volume.Dimensions[a]; pos++ {
		img, err := s.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func unorm8(v float32) uint8 {
	return uint8(math.Round(clamp01(float64(v)) * 255))
}
