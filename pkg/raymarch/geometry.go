package raymarch

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const sqrt3 = float32(1.7320508075688772)

// boundsTolerance absorbs rounding when a sample sits on a cube face.
const boundsTolerance = 1e-4

// IntersectBox intersects the ray origin + t*dir with the unit cube [0,1]³
// using the slab method. tNear is clamped to zero so a ray starting inside
// the cube enters at its origin. A ray that exits at or before it enters
// misses.
func IntersectBox(origin, dir mgl32.Vec3) (tNear, tFar float32, hit bool) {
	tNear = float32(math.Inf(-1))
	tFar = float32(math.Inf(1))

	for axis := 0; axis < 3; axis++ {
		if dir[axis] == 0 {
			if origin[axis] < 0 || origin[axis] > 1 {
				return 0, 0, false
			}
			continue
		}
		inv := 1 / dir[axis]
		t0 := (0 - origin[axis]) * inv
		t1 := (1 - origin[axis]) * inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tNear = maxf(tNear, t0)
		tFar = minf(tFar, t1)
	}

	tNear = maxf(tNear, 0)
	if !(tNear < tFar) {
		return 0, 0, false
	}
	return tNear, tFar, true
}

// JitterOffset returns a deterministic pseudo-random value in [0,1) for a
// pixel and frame.
func JitterOffset(x, y int, frame uint32) float32 {
	h := uint32(x)*0x8da6b343 ^ uint32(y)*0xd8163841 ^ frame*0xcb1ab31f
	h ^= h >> 16
	h *= 0x7feb352d
	h ^= h >> 15
	h *= 0x846ca68b
	h ^= h >> 16
	return float32(h>>8) / float32(1<<24)
}

// insideCube reports whether p lies in [0,1]³ within boundsTolerance.
func insideCube(p mgl32.Vec3) bool {
	for axis := 0; axis < 3; axis++ {
		if p[axis] < -boundsTolerance || p[axis] > 1+boundsTolerance {
			return false
		}
	}
	return true
}

func clampCube(p mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{clampf(p[0], 0, 1), clampf(p[1], 0, 1), clampf(p[2], 0, 1)}
}

func clampf(v, lo, hi float32) float32 {
	if v != v {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func mix(a, b, t float32) float32 {
	return a + (b-a)*t
}

func finite(v mgl32.Vec3) bool {
	for _, c := range v {
		if c != c || math.IsInf(float64(c), 0) {
			return false
		}
	}
	return true
}
