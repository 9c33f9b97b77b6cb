package main

import (
	"math"

	"volumerender/internal/models"
)

// Phantom intensities in Hounsfield units.
const (
	huAir    = -1000
	huTissue = 40
	huBone   = 1000
	huInner  = 20
)

// headPhantom builds a size³ CT-like head: soft tissue inside a bone shell,
// surrounded by air. A small dense insert sits off centre so rotations are
// visible.
func headPhantom(size int, spacing float64) (*models.VolumeDataset, error) {
	values := make([]int32, size*size*size)
	c := float64(size-1) / 2
	scale := 1 / float64(size)
	for z := 0; z < size; z++ {
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				dx := (float64(x) - c) * scale
				dy := (float64(y) - c) * scale
				dz := (float64(z) - c) * scale * 1.2
				r := math.Sqrt(dx*dx + dy*dy + dz*dz)

				v := int32(huAir)
				switch {
				case r < 0.30:
					v = huInner
				case r < 0.36:
					v = huBone
				case r < 0.42:
					v = huTissue
				}
				ix, iy, iz := dx-0.12, dy+0.08, dz
				if math.Sqrt(ix*ix+iy*iy+iz*iz) < 0.06 {
					v = huBone / 2
				}
				values[(z*size+y)*size+x] = v
			}
		}
	}
	return models.NewVolumeDataset(models.EncodeVoxels(values, models.PixelFormatInt16),
		[3]int{size, size, size}, [3]float64{spacing, spacing, spacing},
		models.PixelFormatInt16, models.IntensityRange{Min: huAir, Max: huBone})
}
